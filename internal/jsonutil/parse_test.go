package jsonutil

import "testing"

type testPayload struct {
	PostID   string   `json:"post_id"`
	Variants []string `json:"variants"`
}

func TestParseJSONPlain(t *testing.T) {
	got, err := ParseJSON[testPayload](`{"post_id": "p1", "variants": ["a", "b"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PostID != "p1" || len(got.Variants) != 2 {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestParseJSONFenced(t *testing.T) {
	raw := "```json\n{\"post_id\": \"p1\", \"variants\": []}\n```"
	got, err := ParseJSON[testPayload](raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PostID != "p1" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestParseJSONWithProse(t *testing.T) {
	raw := "Here are the suggestions you asked for:\n{\"post_id\": \"p1\", \"variants\": [\"x\"]}\nLet me know if you need more."
	got, err := ParseJSON[testPayload](raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Variants) != 1 || got.Variants[0] != "x" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestParseJSONNoContent(t *testing.T) {
	if _, err := ParseJSON[testPayload]("the model refused to answer"); err == nil {
		t.Fatal("expected error for non-JSON text")
	}
}

func TestStripMarkdownFencesPassthrough(t *testing.T) {
	if got := StripMarkdownFences(`{"a": 1}`); got != `{"a": 1}` {
		t.Errorf("unfenced text should pass through, got %q", got)
	}
}

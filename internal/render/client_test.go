package render

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avasquez/carousel-studio/internal/config"
)

// fakeTransport records calls and replays scripted job API responses.
type fakeTransport struct {
	uploads   map[string][]byte
	dirs      []string
	responses map[string]json.RawMessage // keyed by "METHOD url"
	downloads map[string][]byte
	err       error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		uploads:   make(map[string][]byte),
		responses: make(map[string]json.RawMessage),
		downloads: make(map[string][]byte),
	}
}

func (f *fakeTransport) Upload(ctx context.Context, data []byte, remotePath string) error {
	f.uploads[remotePath] = data
	return f.err
}

func (f *fakeTransport) EnsureDir(ctx context.Context, remotePath string) error {
	f.dirs = append(f.dirs, remotePath)
	return f.err
}

func (f *fakeTransport) Download(ctx context.Context, remotePath string) ([]byte, error) {
	data, ok := f.downloads[remotePath]
	if !ok {
		return nil, &TransportError{Op: "download " + remotePath, Err: errors.New("no such file")}
	}
	return data, nil
}

func (f *fakeTransport) Run(ctx context.Context, command string) ([]byte, error) {
	return nil, f.err
}

func (f *fakeTransport) InvokeJSON(ctx context.Context, method, url string, body any) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[method+" "+url]
	if !ok {
		return nil, &TransportError{Op: "invoke " + url, Err: errors.New("unexpected call")}
	}
	return resp, nil
}

func testHostConfig() config.RenderHostConfig {
	return config.RenderHostConfig{
		InputDir:  "/workspace/input",
		OutputDir: "/workspace/output",
		JobAPIURL: "http://127.0.0.1:8188",
	}
}

func TestUploadInputPaths(t *testing.T) {
	transport := newFakeTransport()
	c := NewClient(transport, testHostConfig())

	if err := c.UploadInput(context.Background(), []byte("model"), "", "model_ab12cd34.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := transport.uploads["/workspace/input/model_ab12cd34.jpg"]; !ok {
		t.Errorf("model upload path wrong: %v", transport.uploads)
	}

	if err := c.UploadInput(context.Background(), []byte("pose"), "pose_ab12cd34", "pose1.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := transport.uploads["/workspace/input/pose_ab12cd34/pose1.jpg"]; !ok {
		t.Errorf("pose upload path wrong: %v", transport.uploads)
	}
}

func TestEnsureInputFolder(t *testing.T) {
	transport := newFakeTransport()
	c := NewClient(transport, testHostConfig())

	if err := c.EnsureInputFolder(context.Background(), "pose_ab12cd34"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transport.dirs) != 1 || transport.dirs[0] != "/workspace/input/pose_ab12cd34" {
		t.Errorf("unexpected dirs %v", transport.dirs)
	}
}

func TestSubmitPrompt(t *testing.T) {
	transport := newFakeTransport()
	transport.responses["POST http://127.0.0.1:8188/prompt"] = json.RawMessage(`{"prompt_id": "abc-123", "number": 4}`)
	c := NewClient(transport, testHostConfig())

	id, err := c.SubmitPrompt(context.Background(), Graph{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("unexpected prompt id %q", id)
	}
}

func TestSubmitPromptMissingID(t *testing.T) {
	transport := newFakeTransport()
	transport.responses["POST http://127.0.0.1:8188/prompt"] = json.RawMessage(`{"number": 4}`)
	c := NewClient(transport, testHostConfig())

	if _, err := c.SubmitPrompt(context.Background(), Graph{}); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestHistoryFoundAndNotFound(t *testing.T) {
	transport := newFakeTransport()
	transport.responses["GET http://127.0.0.1:8188/history/abc-123"] = json.RawMessage(`{
		"abc-123": {
			"status": {"completed": true, "status_str": "success"},
			"outputs": {"94": {"images": [{"filename": "b_pose1_00001_.png", "subfolder": "", "type": "output"}]}}
		}
	}`)
	transport.responses["GET http://127.0.0.1:8188/history/zzz"] = json.RawMessage(`{}`)
	c := NewClient(transport, testHostConfig())

	entry, found, err := c.History(context.Background(), "abc-123")
	if err != nil || !found {
		t.Fatalf("expected found entry, got found=%v err=%v", found, err)
	}
	if !entry.Status.Completed {
		t.Error("entry should be completed")
	}
	if name, ok := entry.FirstOutputFilename(); !ok || name != "b_pose1_00001_.png" {
		t.Errorf("unexpected output filename %q (ok=%v)", name, ok)
	}

	_, found, err = c.History(context.Background(), "zzz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("unknown prompt should not be found")
	}
}

func TestFetchOutputViaViewEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/view" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("filename"); got != "b_pose1_00001_.png" {
			t.Errorf("unexpected filename %q", got)
		}
		if got := r.URL.Query().Get("type"); got != "output" {
			t.Errorf("unexpected type %q", got)
		}
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	cfg := testHostConfig()
	cfg.ViewURL = server.URL
	c := NewClient(newFakeTransport(), cfg)

	data, err := c.FetchOutput(context.Background(), "b_pose1_00001_.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("unexpected data %q", data)
	}
}

func TestFetchOutputFallsBackToTransport(t *testing.T) {
	transport := newFakeTransport()
	transport.downloads["/workspace/output/b_pose1_00001_.png"] = []byte("png-bytes")
	c := NewClient(transport, testHostConfig())

	data, err := c.FetchOutput(context.Background(), "b_pose1_00001_.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("unexpected data %q", data)
	}
}

package assets

import (
	"strings"
	"testing"

	"github.com/avasquez/carousel-studio/internal/render"
)

func TestPoseTransferWorkflowHasAllSlots(t *testing.T) {
	if _, err := render.LoadTemplate(PoseTransferWorkflow, render.DefaultSlots); err != nil {
		t.Fatalf("embedded workflow rejected: %v", err)
	}
}

func TestBuildSuggestionPrompt(t *testing.T) {
	prompt, err := BuildSuggestionPrompt(SuggestionPromptData{
		PostID:  "3412786",
		Caption: "golden hour in the city",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(prompt, "3412786") {
		t.Error("prompt should contain the post id")
	}
	if !strings.Contains(prompt, "golden hour in the city") {
		t.Error("prompt should contain the caption")
	}
}

func TestSuggestionSystemPromptNotEmpty(t *testing.T) {
	if strings.TrimSpace(SuggestionSystemPrompt) == "" {
		t.Fatal("system prompt is empty")
	}
}

// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and job graph
// templates as JSON under workflows/, both embedded at compile time.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// PoseTransferWorkflow is the reusable pose-transfer job graph template
// submitted to the render host. The orchestrator rewrites its parameter
// slots (model image, pose image, seed, filename prefix) per item.
//
//go:embed workflows/pose-transfer.json
var PoseTransferWorkflow []byte

// PoseTransferWorkflowName labels batches produced from this template.
const PoseTransferWorkflowName = "OpenPose Workflow 2 (Batch)"

// SuggestionSystemPrompt constrains the vision model to subtle,
// believable outfit/background variations only.
//
//go:embed prompts/suggestion-system.txt
var SuggestionSystemPrompt string

//go:embed prompts/suggestion-user.txt
var suggestionUserTemplate string

// SuggestionPromptData is the dynamic data for the suggestion user prompt.
type SuggestionPromptData struct {
	PostID  string
	Caption string
}

// BuildSuggestionPrompt renders the per-carousel user prompt.
func BuildSuggestionPrompt(data SuggestionPromptData) (string, error) {
	tmpl, err := template.New("suggestion-user").Parse(suggestionUserTemplate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

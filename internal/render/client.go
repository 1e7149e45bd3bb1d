package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avasquez/carousel-studio/internal/config"
)

// viewTimeout bounds direct HTTP downloads of produced outputs.
const viewTimeout = 60 * time.Second

// Client is the typed job API surface of the render host: input uploads,
// graph submission, history queries, and output retrieval. All job API
// calls go through the Transport because the API is bound to the host's
// loopback interface; output downloads use the externally exposed view
// endpoint when one is configured.
type Client struct {
	transport  Transport
	cfg        config.RenderHostConfig
	httpClient *http.Client
}

// NewClient wraps a Transport with the job API operations.
func NewClient(t Transport, cfg config.RenderHostConfig) *Client {
	return &Client{
		transport:  t,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: viewTimeout},
	}
}

// EnsureInputFolder creates a subfolder in the host's input area. Idempotent.
func (c *Client) EnsureInputFolder(ctx context.Context, name string) error {
	return c.transport.EnsureDir(ctx, path.Join(c.cfg.InputDir, name))
}

// UploadInput places a file in the host's input area. subfolder may be empty.
func (c *Client) UploadInput(ctx context.Context, data []byte, subfolder, filename string) error {
	return c.transport.Upload(ctx, data, path.Join(c.cfg.InputDir, subfolder, filename))
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
}

// SubmitPrompt submits a concrete job graph and returns the job identifier.
func (c *Client) SubmitPrompt(ctx context.Context, g Graph) (string, error) {
	raw, err := c.transport.InvokeJSON(ctx, http.MethodPost, c.cfg.JobAPIURL+"/prompt", map[string]any{"prompt": g})
	if err != nil {
		return "", err
	}

	var resp promptResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &DecodeError{Op: "submit prompt", Err: err}
	}
	if resp.PromptID == "" {
		return "", &DecodeError{Op: "submit prompt", Err: fmt.Errorf("response has no prompt_id")}
	}

	log.Debug().Str("promptId", resp.PromptID).Msg("Job graph submitted")
	return resp.PromptID, nil
}

// HistoryEntry is one job's record in the host's history response.
type HistoryEntry struct {
	Status  HistoryStatus         `json:"status"`
	Outputs map[string]NodeOutput `json:"outputs"`
}

// HistoryStatus carries the completion flag for a job.
type HistoryStatus struct {
	Completed bool   `json:"completed"`
	StatusStr string `json:"status_str"`
}

// NodeOutput lists the files one graph node produced.
type NodeOutput struct {
	Images []OutputImage `json:"images"`
}

// OutputImage identifies one produced file in the host's output area.
type OutputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// FirstOutputFilename returns the first produced filename, walking output
// nodes in stable key order.
func (e *HistoryEntry) FirstOutputFilename() (string, bool) {
	keys := make([]string, 0, len(e.Outputs))
	for k := range e.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if imgs := e.Outputs[k].Images; len(imgs) > 0 {
			return imgs[0].Filename, true
		}
	}
	return "", false
}

// History queries job status by identifier. The second return value is
// false when the host does not know the identifier yet.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, bool, error) {
	raw, err := c.transport.InvokeJSON(ctx, http.MethodGet, c.cfg.JobAPIURL+"/history/"+promptID, nil)
	if err != nil {
		return nil, false, err
	}

	var entries map[string]HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, &DecodeError{Op: "history " + promptID, Err: err}
	}

	entry, ok := entries[promptID]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// FetchOutput retrieves a produced file, preferring the host's HTTP view
// endpoint when it is exposed and falling back to remote copy otherwise.
func (c *Client) FetchOutput(ctx context.Context, filename string) ([]byte, error) {
	if c.cfg.ViewURL == "" {
		return c.transport.Download(ctx, path.Join(c.cfg.OutputDir, filename))
	}

	viewURL := fmt.Sprintf("%s/api/view?filename=%s&type=output&subfolder=", c.cfg.ViewURL, url.QueryEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, viewURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "view " + filename, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "view " + filename, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "view " + filename, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "view " + filename, Err: err}
	}
	return data, nil
}

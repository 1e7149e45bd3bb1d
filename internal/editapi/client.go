// Package editapi calls the hosted image-editing model used for single-image
// edit tests. The API runs in synchronous mode, so one call covers submit,
// generation, and result delivery.
package editapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Sync generation regularly takes over a minute for 1k outputs.
const requestTimeout = 120 * time.Second

// Client talks to the edit endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client for the given endpoint URL.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type editRequest struct {
	Prompt             string   `json:"prompt"`
	Images             []string `json:"images"`
	AspectRatio        string   `json:"aspect_ratio"`
	Resolution         string   `json:"resolution"`
	OutputFormat       string   `json:"output_format"`
	EnableSyncMode     bool     `json:"enable_sync_mode"`
	EnableBase64Output bool     `json:"enable_base64_output"`
}

type editResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Outputs []string `json:"outputs"`
	} `json:"data"`
}

// Edit applies an instruction to a source image and returns the URL of the
// edited result.
func (c *Client) Edit(ctx context.Context, prompt, imageURL string) (string, error) {
	body, err := json.Marshal(editRequest{
		Prompt:         prompt,
		Images:         []string{imageURL},
		AspectRatio:    "1:1",
		Resolution:     "1k",
		OutputFormat:   "jpeg",
		EnableSyncMode: true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal edit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build edit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("edit request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read edit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("edit API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed editResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse edit response: %w", err)
	}
	if parsed.Code != 200 {
		return "", fmt.Errorf("edit API error %d: %s", parsed.Code, parsed.Message)
	}
	if len(parsed.Data.Outputs) == 0 {
		return "", fmt.Errorf("edit API returned no outputs")
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("Edit generated")
	return parsed.Data.Outputs[0], nil
}

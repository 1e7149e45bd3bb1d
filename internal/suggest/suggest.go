// Package suggest asks a vision model for edit-prompt ideas for a carousel.
// The model sees up to three of the carousel's images plus the caption and
// returns structured persona variants an operator can try as edit tests.
package suggest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/avasquez/carousel-studio/internal/assets"
	"github.com/avasquez/carousel-studio/internal/jsonutil"
	"github.com/avasquez/carousel-studio/internal/store"
)

// DefaultModelName can be overridden via the GEMINI_MODEL environment
// variable.
const DefaultModelName = "gemini-2.5-flash"

// maxImages caps how many carousel images are sent with one request.
const maxImages = 3

// PersonaVariant is one suggested edit direction.
type PersonaVariant struct {
	Persona          string   `json:"persona"`
	BackgroundChange string   `json:"background_change"`
	OutfitChange     string   `json:"outfit_change"`
	Why              string   `json:"why"`
	CaptionOptions   []string `json:"caption_options"`
}

// CarouselSuggestion is the model's full answer for one carousel.
type CarouselSuggestion struct {
	PostID          string           `json:"post_id"`
	OriginalCaption string           `json:"original_caption"`
	PersonaVariants []PersonaVariant `json:"persona_variants"`
}

// Suggester generates edit suggestions through the Gemini API.
type Suggester struct {
	client     *genai.Client
	httpClient *http.Client
}

// NewSuggester builds a Suggester from an API key.
func NewSuggester(ctx context.Context, apiKey string) (*Suggester, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Suggester{
		client:     client,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func modelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}

// Suggest downloads up to three of the carousel's images, sends them with
// the caption to the model, and parses the structured suggestion out of
// the response.
func (s *Suggester) Suggest(ctx context.Context, carousel *store.Carousel, images []store.CarouselImage) (*CarouselSuggestion, error) {
	prompt, err := assets.BuildSuggestionPrompt(assets.SuggestionPromptData{
		PostID:  carousel.PostID,
		Caption: carousel.Caption,
	})
	if err != nil {
		return nil, fmt.Errorf("build suggestion prompt: %w", err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.SuggestionSystemPrompt}},
		},
	}

	var parts []*genai.Part
	for i, img := range images {
		if i >= maxImages {
			break
		}
		data, mimeType, err := s.download(ctx, img.SourceURL())
		if err != nil {
			log.Warn().Err(err).Str("imageId", img.ID.String()).Msg("Skipping image for suggestion")
			continue
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: mimeType,
				Data:     data,
			},
		})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no carousel image could be downloaded")
	}
	parts = append(parts, &genai.Part{Text: prompt})

	log.Info().
		Str("postId", carousel.PostID).
		Int("images", len(parts)-1).
		Str("model", modelName()).
		Msg("Requesting edit suggestions")

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := s.client.Models.GenerateContent(ctx, modelName(), contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate suggestions: %w", err)
	}
	responseText := resp.Text()
	if responseText == "" {
		return nil, fmt.Errorf("model returned an empty response")
	}

	suggestion, err := jsonutil.ParseJSON[CarouselSuggestion](responseText)
	if err != nil {
		return nil, fmt.Errorf("parse suggestion response: %w", err)
	}
	if suggestion.PostID == "" {
		suggestion.PostID = carousel.PostID
	}
	return &suggestion, nil
}

func (s *Suggester) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/") {
		mimeType = "image/jpeg"
	}
	return data, mimeType, nil
}

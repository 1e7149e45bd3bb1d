// Package scrape pulls profile posts from the hosted scraper actor. One
// call runs the actor synchronously and returns the dataset, filtered to
// posts actually owned by the requested profile.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// Comprehensive runs with comment scraping routinely take minutes.
const runTimeout = 10 * time.Minute

// Post is one scraped profile post. Only the fields the importer consumes
// are modeled; the full payload is preserved separately as raw JSON.
type Post struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	OwnerUsername string      `json:"ownerUsername"`
	Caption       string      `json:"caption"`
	LikesCount    int         `json:"likesCount"`
	CommentsCount int         `json:"commentsCount"`
	Timestamp     string      `json:"timestamp"`
	ChildPosts    []ChildPost `json:"childPosts"`

	// Raw is the unmodified actor payload for this post.
	Raw json.RawMessage `json:"-"`
}

// ChildPost is one item inside a multi-image post.
type ChildPost struct {
	Type       string `json:"type"`
	DisplayURL string `json:"displayUrl"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// IsCarousel reports whether the post is a multi-image post.
func (p *Post) IsCarousel() bool {
	return p.Type == "Sidecar"
}

// Client runs the scraper actor.
type Client struct {
	actorURL   string
	token      string
	httpClient *http.Client
}

// NewClient builds a client for the actor's run-sync endpoint.
func NewClient(actorURL, token string) *Client {
	return &Client{
		actorURL:   actorURL,
		token:      token,
		httpClient: &http.Client{Timeout: runTimeout},
	}
}

// runInput mirrors the actor's input schema. The comment and metadata
// switches are all on so one run captures everything worth keeping in
// the raw payload.
type runInput struct {
	DirectURLs []string `json:"directUrls"`

	ResultsType  string `json:"resultsType"`
	ResultsLimit int    `json:"resultsLimit"`
	SearchType   string `json:"searchType"`
	SearchLimit  int    `json:"searchLimit"`

	AddParentData bool `json:"addParentData"`

	ScrapePostComments   bool `json:"scrapePostComments"`
	MaxComments          int  `json:"maxComments"`
	ScrapeCommentLikes   bool `json:"scrapeCommentLikes"`
	ScrapeCommentReplies bool `json:"scrapeCommentReplies"`

	ScrapeTaggedUsers bool `json:"scrapeTaggedUsers"`
	ScrapeHashtags    bool `json:"scrapeHashtags"`
	ScrapeMentions    bool `json:"scrapeMentions"`

	IncludeVideoDetails bool `json:"includeVideoDetails"`
	ScrapeReels         bool `json:"scrapeReels"`
	ScrapeVideos        bool `json:"scrapeVideos"`

	MaxRequestRetries int `json:"maxRequestRetries"`
}

// FetchProfile runs the actor against one profile and returns its owned
// posts. Tagged and co-authored posts that the actor sweeps in are dropped.
func (c *Client) FetchProfile(ctx context.Context, username string, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 300
	}
	input := runInput{
		DirectURLs:           []string{fmt.Sprintf("https://www.instagram.com/%s/", username)},
		ResultsType:          "posts",
		ResultsLimit:         limit,
		SearchType:           "user",
		SearchLimit:          1,
		AddParentData:        true,
		ScrapePostComments:   true,
		MaxComments:          1000,
		ScrapeCommentLikes:   true,
		ScrapeCommentReplies: true,
		ScrapeTaggedUsers:    true,
		ScrapeHashtags:       true,
		ScrapeMentions:       true,
		IncludeVideoDetails:  true,
		ScrapeReels:          true,
		ScrapeVideos:         true,
		MaxRequestRetries:    5,
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal actor input: %w", err)
	}

	runURL := c.actorURL + "?token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, runURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build actor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Info().Str("username", username).Int("limit", limit).Msg("Starting scraper run")
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("actor run failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read actor response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("actor returned status %d: %s", resp.StatusCode, truncate(respBody, 500))
	}

	// Decode twice: once into typed posts, once into raw messages so each
	// post keeps its full payload.
	var rawItems []json.RawMessage
	if err := json.Unmarshal(respBody, &rawItems); err != nil {
		return nil, fmt.Errorf("parse actor response: %w", err)
	}

	posts := make([]Post, 0, len(rawItems))
	dropped := 0
	for _, raw := range rawItems {
		var p Post
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Warn().Err(err).Msg("Skipping unparseable dataset item")
			continue
		}
		if p.OwnerUsername != username {
			dropped++
			continue
		}
		p.Raw = raw
		posts = append(posts, p)
	}

	log.Info().
		Str("username", username).
		Int("posts", len(posts)).
		Int("filtered", dropped).
		Dur("elapsed", time.Since(start)).
		Msg("Scraper run finished")
	return posts, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

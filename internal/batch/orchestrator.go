// Package batch fans an approved edit out across the sibling images of its
// carousel: stage inputs on the render host, submit one pose-transfer job
// per sibling, wait for the results, and publish whatever succeeded. The
// batch record in the store is the single source of truth for progress;
// individual job failures degrade the batch, only shared steps abort it.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avasquez/carousel-studio/internal/render"
	"github.com/avasquez/carousel-studio/internal/store"
)

// Renderer is the render-host surface the orchestrator drives.
// Satisfied by *render.Client.
type Renderer interface {
	EnsureInputFolder(ctx context.Context, name string) error
	UploadInput(ctx context.Context, data []byte, subfolder, filename string) error
	SubmitPrompt(ctx context.Context, g render.Graph) (string, error)
	History(ctx context.Context, promptID string) (*render.HistoryEntry, bool, error)
	FetchOutput(ctx context.Context, filename string) ([]byte, error)
}

// BatchStore persists batch records. Satisfied by *store.BatchRepository.
type BatchStore interface {
	Create(ctx context.Context, batch *store.PoseBatch) error
	Update(ctx context.Context, batch *store.PoseBatch) error
}

// AssetStore publishes generated outputs. Satisfied by *storage.Bucket.
type AssetStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
}

// Fetcher downloads source images by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is the default Fetcher.
type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Item is one sibling image to run the pose transfer against. Order is the
// image's position within the carousel, recorded in the batch snapshot.
// Output naming follows the item's 1-based position in the submitted list.
type Item struct {
	ID    uuid.UUID
	URL   string
	Order int
}

// Options tunes batch pacing. Zero values are replaced with defaults that
// match the render host's typical job duration.
type Options struct {
	SubmitDelay     time.Duration
	PollInterval    time.Duration
	MaxPollAttempts int
	WorkflowName    string
}

// Result summarizes one finished batch run.
type Result struct {
	BatchID         uuid.UUID
	Total           int
	Generated       int
	CompletedImages []string
	Message         string
}

// Orchestrator runs approved edits through the pose-transfer pipeline.
type Orchestrator struct {
	renderer Renderer
	template *render.Template
	batches  BatchStore
	assets   AssetStore
	fetcher  Fetcher
	opts     Options
}

// NewOrchestrator wires the pipeline. fetcher may be nil, in which case
// plain HTTP with a 60s timeout is used.
func NewOrchestrator(renderer Renderer, template *render.Template, batches BatchStore, assets AssetStore, fetcher Fetcher, opts Options) *Orchestrator {
	if fetcher == nil {
		fetcher = &HTTPFetcher{Client: &http.Client{Timeout: 60 * time.Second}}
	}
	if opts.SubmitDelay <= 0 {
		opts.SubmitDelay = time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 60
	}
	return &Orchestrator{
		renderer: renderer,
		template: template,
		batches:  batches,
		assets:   assets,
		fetcher:  fetcher,
		opts:     opts,
	}
}

// submission tracks one sibling from staging through polling.
type submission struct {
	item     Item
	pos      int
	poseFile string
	promptID string
}

// RunBatch executes the pose-transfer fan-out for an approved edit. The
// approved result image is the model input shared by every job; each item
// contributes the pose. Per-item failures are logged and skipped; failures
// of the shared steps (model image staging, folder creation, template
// instantiation) fail the whole batch.
//
// With no items there is nothing to do: no batch record is created and the
// Result carries a zero BatchID. When every job fails or times out the
// batch is marked failed and an error is returned alongside the Result so
// the caller still sees the batch ID.
func (o *Orchestrator) RunBatch(ctx context.Context, edit *store.EditTest, items []Item) (*Result, error) {
	if len(items) == 0 {
		return &Result{Message: "Edit approved! No other images to process."}, nil
	}

	snapshot := make([]store.BatchItem, len(items))
	for i, it := range items {
		snapshot[i] = store.BatchItem{ID: it.ID, URL: it.URL, Order: it.Order}
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal batch items: %w", err)
	}

	now := time.Now()
	batch := &store.PoseBatch{
		ID:              uuid.New(),
		EditTestID:      edit.ID,
		CarouselID:      edit.CarouselID,
		Status:          store.BatchStatusProcessing,
		ImagesToProcess: snapshotJSON,
		WorkflowName:    o.opts.WorkflowName,
		StartedAt:       &now,
	}
	if err := o.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch record: %w", err)
	}

	log.Info().
		Str("batchId", batch.ID.String()).
		Str("editTestId", edit.ID.String()).
		Int("items", len(items)).
		Msg("Starting pose transfer batch")

	// Stage the shared model image. Without it no job can run.
	modelData, err := o.fetcher.Fetch(ctx, edit.ResultURL)
	if err != nil {
		o.failBatch(ctx, batch, "download approved edit image: "+err.Error())
		return nil, fmt.Errorf("download approved edit image: %w", err)
	}
	modelFilename := "model_" + shortID() + ".jpg"
	if err := o.renderer.UploadInput(ctx, modelData, "", modelFilename); err != nil {
		o.failBatch(ctx, batch, "stage model image: "+err.Error())
		return nil, fmt.Errorf("stage model image: %w", err)
	}

	poseFolder := "pose_" + shortID()
	if err := o.renderer.EnsureInputFolder(ctx, poseFolder); err != nil {
		o.failBatch(ctx, batch, "create pose folder: "+err.Error())
		return nil, fmt.Errorf("create pose folder: %w", err)
	}

	// Stage pose images. A failed item drops out here and is not submitted.
	staged := make([]*submission, 0, len(items))
	for i, item := range items {
		pos := i + 1
		data, err := o.fetcher.Fetch(ctx, item.URL)
		if err != nil {
			log.Warn().Err(err).Str("batchId", batch.ID.String()).Int("pose", pos).Msg("Skipping item, pose image download failed")
			continue
		}
		poseFile := fmt.Sprintf("pose%d%s", pos, imageExt(item.URL))
		if err := o.renderer.UploadInput(ctx, data, poseFolder, poseFile); err != nil {
			log.Warn().Err(err).Str("batchId", batch.ID.String()).Int("pose", pos).Msg("Skipping item, pose image upload failed")
			continue
		}
		staged = append(staged, &submission{item: item, pos: pos, poseFile: poseFile})
	}

	// Submit one job per staged item, pacing submissions so the host's
	// queue fills gradually.
	submitted := make([]*submission, 0, len(staged))
	for i, s := range staged {
		if i > 0 {
			select {
			case <-ctx.Done():
				o.failBatch(ctx, batch, "cancelled during submission: "+ctx.Err().Error())
				return nil, ctx.Err()
			case <-time.After(o.opts.SubmitDelay):
			}
		}

		graph, err := o.template.Instantiate(render.Bindings{
			ModelImage:     modelFilename,
			PoseImage:      poseFolder + "/" + s.poseFile,
			Seed:           render.NewSeed(),
			FilenamePrefix: fmt.Sprintf("%s_pose%d", batch.ID, s.pos),
		})
		if err != nil {
			// A template that cannot bind will not bind for any item.
			o.failBatch(ctx, batch, "instantiate workflow: "+err.Error())
			return nil, fmt.Errorf("instantiate workflow: %w", err)
		}

		promptID, err := o.renderer.SubmitPrompt(ctx, graph)
		if err != nil {
			log.Warn().Err(err).Str("batchId", batch.ID.String()).Int("pose", s.pos).Msg("Skipping item, job submission failed")
			continue
		}
		s.promptID = promptID
		submitted = append(submitted, s)
		log.Info().Str("batchId", batch.ID.String()).Int("pose", s.pos).Str("promptId", promptID).Msg("Job submitted")
	}

	// Wait for each job in turn and publish its output. Sequential on
	// purpose: the host renders one job at a time anyway, and attempts
	// spent waiting on job N double as head start for job N+1.
	poller := &Poller{Source: o.renderer, Interval: o.opts.PollInterval, MaxAttempts: o.opts.MaxPollAttempts}
	completed := make([]string, 0, len(submitted))
	for _, s := range submitted {
		filename, err := poller.Wait(ctx, s.promptID)
		if err != nil {
			if ctx.Err() != nil {
				o.failBatch(ctx, batch, "cancelled while polling: "+ctx.Err().Error())
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("batchId", batch.ID.String()).Int("pose", s.pos).Msg("Job produced no output")
			continue
		}

		data, err := o.renderer.FetchOutput(ctx, filename)
		if err != nil {
			log.Warn().Err(err).Str("batchId", batch.ID.String()).Int("pose", s.pos).Str("filename", filename).Msg("Output download failed")
			continue
		}

		objectPath := fmt.Sprintf("pose_transfers/%s_pose%d.png", batch.ID, s.pos)
		if err := o.assets.Upload(ctx, objectPath, data, "image/png"); err != nil {
			log.Warn().Err(err).Str("batchId", batch.ID.String()).Int("pose", s.pos).Msg("Output publish failed")
			continue
		}
		completed = append(completed, o.assets.PublicURL(objectPath))
		log.Info().Str("batchId", batch.ID.String()).Int("pose", s.pos).Msg("Pose transfer complete")
	}

	done := time.Now()
	batch.CompletedAt = &done
	completedJSON, err := json.Marshal(completed)
	if err == nil {
		batch.CompletedImages = completedJSON
	}

	result := &Result{
		BatchID:         batch.ID,
		Total:           len(items),
		Generated:       len(completed),
		CompletedImages: completed,
		Message:         fmt.Sprintf("Edit approved! Generated %d/%d pose transfers.", len(completed), len(items)),
	}

	if len(completed) == 0 {
		batch.Status = store.BatchStatusFailed
		batch.ErrorMessage = "all pose transfer jobs timed out or failed"
		if err := o.batches.Update(ctx, batch); err != nil {
			log.Error().Err(err).Str("batchId", batch.ID.String()).Msg("Failed to record batch failure")
		}
		return result, fmt.Errorf("batch %s: all pose transfer jobs timed out or failed", batch.ID)
	}

	batch.Status = store.BatchStatusCompleted
	if err := o.batches.Update(ctx, batch); err != nil {
		log.Error().Err(err).Str("batchId", batch.ID.String()).Msg("Failed to record batch completion")
	}

	log.Info().
		Str("batchId", batch.ID.String()).
		Int("generated", len(completed)).
		Int("total", len(items)).
		Msg("Pose transfer batch finished")
	return result, nil
}

// failBatch records a terminal failure of a shared pipeline step.
func (o *Orchestrator) failBatch(ctx context.Context, batch *store.PoseBatch, msg string) {
	now := time.Now()
	batch.Status = store.BatchStatusFailed
	batch.ErrorMessage = msg
	batch.CompletedAt = &now
	if err := o.batches.Update(ctx, batch); err != nil {
		log.Error().Err(err).Str("batchId", batch.ID.String()).Msg("Failed to record batch failure")
	}
}

// shortID returns the 8-hex-character prefix of a fresh UUID, used to keep
// staged filenames unique across batches without being unwieldy.
func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// imageExt extracts a usable file extension from an image URL, defaulting
// to .jpg when the URL path has none.
func imageExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	p := u.Path
	if i := strings.LastIndex(p, "."); i >= 0 && i > strings.LastIndex(p, "/") {
		ext := strings.ToLower(p[i:])
		switch ext {
		case ".jpg", ".jpeg", ".png", ".webp":
			return ext
		}
	}
	return ".jpg"
}

package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avasquez/carousel-studio/internal/render"
	"github.com/avasquez/carousel-studio/internal/store"
)

const orchestratorTestTemplate = `{
	"78": {"inputs": {"image": "placeholder_model.jpg"}, "class_type": "LoadImage"},
	"179": {"inputs": {"image": "placeholder_pose.jpg"}, "class_type": "LoadImage"},
	"74": {"inputs": {"seed": 1}, "class_type": "KSampler"},
	"94": {"inputs": {"filename_prefix": "out"}, "class_type": "SaveImage"}
}`

// fakeRenderer simulates the render host in memory. Submitted jobs
// complete immediately with an output named after their filename prefix,
// unless the prefix is listed in stuckPrefixes.
type fakeRenderer struct {
	uploads       map[string][]byte
	folders       []string
	submitted     []render.Graph
	stuckPrefixes map[string]bool
	history       map[string]*render.HistoryEntry
	fetched       []string
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		uploads:       make(map[string][]byte),
		stuckPrefixes: make(map[string]bool),
		history:       make(map[string]*render.HistoryEntry),
	}
}

func (f *fakeRenderer) EnsureInputFolder(ctx context.Context, name string) error {
	f.folders = append(f.folders, name)
	return nil
}

func (f *fakeRenderer) UploadInput(ctx context.Context, data []byte, subfolder, filename string) error {
	key := filename
	if subfolder != "" {
		key = subfolder + "/" + filename
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeRenderer) SubmitPrompt(ctx context.Context, g render.Graph) (string, error) {
	f.submitted = append(f.submitted, g)
	prefix, _ := g["94"].Inputs["filename_prefix"].(string)
	promptID := fmt.Sprintf("prompt-%d", len(f.submitted))
	if !f.stuckPrefixes[prefix] {
		f.history[promptID] = &render.HistoryEntry{
			Status: render.HistoryStatus{Completed: true, StatusStr: "success"},
			Outputs: map[string]render.NodeOutput{
				"94": {Images: []render.OutputImage{{Filename: prefix + "_00001_.png", Type: "output"}}},
			},
		}
	}
	return promptID, nil
}

func (f *fakeRenderer) History(ctx context.Context, promptID string) (*render.HistoryEntry, bool, error) {
	entry, ok := f.history[promptID]
	return entry, ok, nil
}

func (f *fakeRenderer) FetchOutput(ctx context.Context, filename string) ([]byte, error) {
	f.fetched = append(f.fetched, filename)
	return []byte("png-bytes:" + filename), nil
}

type fakeBatchStore struct {
	created *store.PoseBatch
	updates []store.PoseBatch
}

func (f *fakeBatchStore) Create(ctx context.Context, batch *store.PoseBatch) error {
	f.created = batch
	return nil
}

func (f *fakeBatchStore) Update(ctx context.Context, batch *store.PoseBatch) error {
	f.updates = append(f.updates, *batch)
	return nil
}

func (f *fakeBatchStore) lastStatus() string {
	if len(f.updates) == 0 {
		return ""
	}
	return f.updates[len(f.updates)-1].Status
}

type fakeAssets struct {
	objects map[string][]byte
}

func (f *fakeAssets) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[path] = data
	return nil
}

func (f *fakeAssets) PublicURL(path string) string {
	return "https://cdn.test/bucket/" + path
}

type fakeFetcher struct {
	failURLs map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.failURLs[url] {
		return nil, errors.New("fetch failed")
	}
	return []byte("image-bytes:" + url), nil
}

func testOrchestrator(t *testing.T, renderer Renderer, batches BatchStore, assets AssetStore, fetcher Fetcher) *Orchestrator {
	t.Helper()
	tmpl, err := render.LoadTemplate([]byte(orchestratorTestTemplate), render.DefaultSlots)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	return NewOrchestrator(renderer, tmpl, batches, assets, fetcher, Options{
		SubmitDelay:     time.Millisecond,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 3,
		WorkflowName:    "test-workflow",
	})
}

func testEdit() *store.EditTest {
	return &store.EditTest{
		ID:         uuid.New(),
		CarouselID: uuid.New(),
		ImageID:    uuid.New(),
		Status:     store.EditStatusApproved,
		ResultURL:  "https://edits.test/approved.jpg",
	}
}

func testItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			ID:    uuid.New(),
			URL:   fmt.Sprintf("https://cdn.test/source/%d.jpg", i+2),
			Order: i + 2,
		}
	}
	return items
}

func TestRunBatchAllSucceed(t *testing.T) {
	renderer := newFakeRenderer()
	batches := &fakeBatchStore{}
	assets := &fakeAssets{}
	o := testOrchestrator(t, renderer, batches, assets, &fakeFetcher{})

	result, err := o.RunBatch(context.Background(), testEdit(), testItems(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Generated != 3 || result.Total != 3 {
		t.Errorf("expected 3/3, got %d/%d", result.Generated, result.Total)
	}
	if result.Message != "Edit approved! Generated 3/3 pose transfers." {
		t.Errorf("unexpected message %q", result.Message)
	}
	if batches.created == nil {
		t.Fatal("expected a batch record")
	}
	if batches.lastStatus() != store.BatchStatusCompleted {
		t.Errorf("expected completed batch, got %q", batches.lastStatus())
	}
	if len(renderer.submitted) != 3 {
		t.Errorf("expected 3 submissions, got %d", len(renderer.submitted))
	}

	// Each published output lands under pose_transfers/ with the batch ID
	// and 1-based position in its name.
	for n := 1; n <= 3; n++ {
		path := fmt.Sprintf("pose_transfers/%s_pose%d.png", batches.created.ID, n)
		if _, ok := assets.objects[path]; !ok {
			t.Errorf("missing published object %s", path)
		}
		url := assets.PublicURL(path)
		found := false
		for _, u := range result.CompletedImages {
			if u == url {
				found = true
			}
		}
		if !found {
			t.Errorf("result missing URL %s", url)
		}
	}

	// Seeds must differ across submissions.
	seeds := map[any]bool{}
	for _, g := range renderer.submitted {
		seeds[g["74"].Inputs["seed"]] = true
	}
	if len(seeds) != 3 {
		t.Errorf("expected 3 distinct seeds, got %d", len(seeds))
	}
}

func TestRunBatchPartialSuccess(t *testing.T) {
	batches := &fakeBatchStore{}
	assets := &fakeAssets{}
	// The job for the last item never completes.
	stick := &stickySubmitRenderer{fakeRenderer: newFakeRenderer(), stickSuffix: "_pose3"}
	o := testOrchestrator(t, stick, batches, assets, &fakeFetcher{})

	result, err := o.RunBatch(context.Background(), testEdit(), testItems(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Generated != 2 || result.Total != 3 {
		t.Errorf("expected 2/3, got %d/%d", result.Generated, result.Total)
	}
	if batches.lastStatus() != store.BatchStatusCompleted {
		t.Errorf("partial success should still complete the batch, got %q", batches.lastStatus())
	}
	if len(result.CompletedImages) != 2 {
		t.Errorf("expected 2 completed images, got %d", len(result.CompletedImages))
	}
}

// stickySubmitRenderer marks jobs whose filename prefix carries a suffix as
// never completing.
type stickySubmitRenderer struct {
	*fakeRenderer
	stickSuffix string
}

func (s *stickySubmitRenderer) SubmitPrompt(ctx context.Context, g render.Graph) (string, error) {
	prefix, _ := g["94"].Inputs["filename_prefix"].(string)
	if strings.HasSuffix(prefix, s.stickSuffix) {
		s.stuckPrefixes[prefix] = true
	}
	return s.fakeRenderer.SubmitPrompt(ctx, g)
}

func TestRunBatchNoItems(t *testing.T) {
	renderer := newFakeRenderer()
	batches := &fakeBatchStore{}
	o := testOrchestrator(t, renderer, batches, &fakeAssets{}, &fakeFetcher{})

	result, err := o.RunBatch(context.Background(), testEdit(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Message != "Edit approved! No other images to process." {
		t.Errorf("unexpected message %q", result.Message)
	}
	if result.BatchID != uuid.Nil {
		t.Error("expected no batch ID for an empty batch")
	}
	if batches.created != nil {
		t.Error("no batch record should be created for zero items")
	}
}

func TestRunBatchModelDownloadFailureFailsBatch(t *testing.T) {
	renderer := newFakeRenderer()
	batches := &fakeBatchStore{}
	edit := testEdit()
	fetcher := &fakeFetcher{failURLs: map[string]bool{edit.ResultURL: true}}
	o := testOrchestrator(t, renderer, batches, &fakeAssets{}, fetcher)

	_, err := o.RunBatch(context.Background(), edit, testItems(2))
	if err == nil {
		t.Fatal("expected error when the model image cannot be downloaded")
	}
	if batches.lastStatus() != store.BatchStatusFailed {
		t.Errorf("expected failed batch, got %q", batches.lastStatus())
	}
	if len(renderer.submitted) != 0 {
		t.Errorf("no jobs should be submitted, got %d", len(renderer.submitted))
	}
}

func TestRunBatchItemDownloadFailureSkipsItem(t *testing.T) {
	renderer := newFakeRenderer()
	batches := &fakeBatchStore{}
	items := testItems(3)
	fetcher := &fakeFetcher{failURLs: map[string]bool{items[1].URL: true}}
	o := testOrchestrator(t, renderer, batches, &fakeAssets{}, fetcher)

	result, err := o.RunBatch(context.Background(), testEdit(), items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Generated != 2 {
		t.Errorf("expected 2 generated, got %d", result.Generated)
	}
	if len(renderer.submitted) != 2 {
		t.Errorf("expected 2 submissions, got %d", len(renderer.submitted))
	}
	if batches.lastStatus() != store.BatchStatusCompleted {
		t.Errorf("expected completed batch, got %q", batches.lastStatus())
	}
}

func TestRunBatchAllJobsStuckFailsBatch(t *testing.T) {
	renderer := newFakeRenderer()
	stick := &stickySubmitRenderer{fakeRenderer: renderer, stickSuffix: ""}
	batches := &fakeBatchStore{}
	o := testOrchestrator(t, stick, batches, &fakeAssets{}, &fakeFetcher{})

	result, err := o.RunBatch(context.Background(), testEdit(), testItems(2))
	if err == nil {
		t.Fatal("expected error when every job times out")
	}
	if result == nil || result.BatchID == uuid.Nil {
		t.Fatal("result should still carry the batch ID")
	}
	if batches.lastStatus() != store.BatchStatusFailed {
		t.Errorf("expected failed batch, got %q", batches.lastStatus())
	}
	if batches.updates[len(batches.updates)-1].ErrorMessage == "" {
		t.Error("expected an error message on the failed batch")
	}
}

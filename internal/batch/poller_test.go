package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avasquez/carousel-studio/internal/render"
)

// scriptedSource returns one scripted response per History call.
type scriptedSource struct {
	calls     int
	responses []historyResponse
}

type historyResponse struct {
	entry *render.HistoryEntry
	found bool
	err   error
}

func (s *scriptedSource) History(ctx context.Context, promptID string) (*render.HistoryEntry, bool, error) {
	if s.calls >= len(s.responses) {
		// Past the script, keep reporting the last response.
		r := s.responses[len(s.responses)-1]
		s.calls++
		return r.entry, r.found, r.err
	}
	r := s.responses[s.calls]
	s.calls++
	return r.entry, r.found, r.err
}

func completedEntry(filename string) *render.HistoryEntry {
	return &render.HistoryEntry{
		Status: render.HistoryStatus{Completed: true, StatusStr: "success"},
		Outputs: map[string]render.NodeOutput{
			"94": {Images: []render.OutputImage{{Filename: filename, Type: "output"}}},
		},
	}
}

func TestPollerWaitCompletes(t *testing.T) {
	source := &scriptedSource{responses: []historyResponse{
		{found: false},
		{entry: &render.HistoryEntry{Status: render.HistoryStatus{Completed: false}}, found: true},
		{entry: completedEntry("b_pose1_00001_.png"), found: true},
	}}
	p := &Poller{Source: source, Interval: time.Millisecond, MaxAttempts: 10}

	filename, err := p.Wait(context.Background(), "prompt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filename != "b_pose1_00001_.png" {
		t.Errorf("unexpected filename %q", filename)
	}
	if source.calls != 3 {
		t.Errorf("expected 3 history calls, got %d", source.calls)
	}
}

func TestPollerWaitTimesOut(t *testing.T) {
	source := &scriptedSource{responses: []historyResponse{{found: false}}}
	p := &Poller{Source: source, Interval: time.Millisecond, MaxAttempts: 4}

	_, err := p.Wait(context.Background(), "prompt-1")
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if source.calls != 4 {
		t.Errorf("expected exactly 4 attempts, got %d", source.calls)
	}
}

func TestPollerTransportErrorsConsumeAttempts(t *testing.T) {
	// Every attempt fails at the transport; the attempt budget must still
	// bound the total wait.
	source := &scriptedSource{responses: []historyResponse{
		{err: errors.New("connection reset")},
	}}
	p := &Poller{Source: source, Interval: time.Millisecond, MaxAttempts: 3}

	_, err := p.Wait(context.Background(), "prompt-1")
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if source.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", source.calls)
	}
}

func TestPollerCompletedWithoutOutputsKeepsWaiting(t *testing.T) {
	noOutputs := &render.HistoryEntry{
		Status:  render.HistoryStatus{Completed: true},
		Outputs: map[string]render.NodeOutput{},
	}
	source := &scriptedSource{responses: []historyResponse{
		{entry: noOutputs, found: true},
	}}
	p := &Poller{Source: source, Interval: time.Millisecond, MaxAttempts: 2}

	if _, err := p.Wait(context.Background(), "prompt-1"); !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
}

func TestPollerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &scriptedSource{responses: []historyResponse{{found: false}}}
	p := &Poller{Source: source, Interval: time.Hour, MaxAttempts: 5}

	if _, err := p.Wait(ctx, "prompt-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if source.calls != 0 {
		t.Errorf("expected no history calls after cancellation, got %d", source.calls)
	}
}

package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avasquez/carousel-studio/internal/render"
)

// ErrPollTimeout is returned when a job's attempt budget is exhausted
// without the history reporting completion.
var ErrPollTimeout = errors.New("poll attempts exhausted")

// StatusSource answers job-history queries. Satisfied by *render.Client;
// tests inject a fake.
type StatusSource interface {
	History(ctx context.Context, promptID string) (*render.HistoryEntry, bool, error)
}

// Poller supervises one submitted job at a time: sleep a fixed interval,
// query history, and repeat up to MaxAttempts. Transport errors during an
// attempt are swallowed and still consume the attempt, so the worst-case
// wall-clock time is always Interval * MaxAttempts regardless of how flaky
// the connection is.
type Poller struct {
	Source      StatusSource
	Interval    time.Duration
	MaxAttempts int
}

// Wait blocks until the job completes or the attempt budget runs out, and
// returns the filename the history reports for the job's first output.
func (p *Poller) Wait(ctx context.Context, promptID string) (string, error) {
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.Interval):
		}

		entry, found, err := p.Source.History(ctx, promptID)
		if err != nil {
			log.Warn().Err(err).Str("promptId", promptID).Int("attempt", attempt).Msg("Status poll failed, retrying")
			continue
		}
		if !found || !entry.Status.Completed {
			if attempt%6 == 0 {
				log.Debug().Str("promptId", promptID).Int("attempt", attempt).Int("max", p.MaxAttempts).Msg("Job still running")
			}
			continue
		}

		filename, ok := entry.FirstOutputFilename()
		if !ok {
			// Completed without a recorded output; nothing to download.
			log.Warn().Str("promptId", promptID).Msg("Job completed but reported no outputs")
			continue
		}
		return filename, nil
	}

	return "", fmt.Errorf("%w: job %s after %d attempts", ErrPollTimeout, promptID, p.MaxAttempts)
}

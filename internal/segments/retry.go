package segments

import (
	"context"
	"fmt"
	"time"

	"stitch/internal/logging"
	"stitch/internal/services"
)

// RetryPolicy bounds the per-segment retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultRetryPolicy matches the pipeline defaults: three attempts with
// delays of 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffCap:  5 * time.Second,
	}
}

// Backoff returns the delay before the attempt following a failed attempt n
// (1-based): base doubled per attempt, capped.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BackoffBase << (attempt - 1)
	if delay > p.BackoffCap || delay <= 0 {
		delay = p.BackoffCap
	}
	return delay
}

// ExhaustedError is the terminal failure for one segment, carrying the full
// per-attempt error history.
type ExhaustedError struct {
	SegmentIndex int
	Attempts     []AttemptError
	cause        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("segment %d failed after %d attempts: %v", e.SegmentIndex, len(e.Attempts), e.cause)
}

func (e *ExhaustedError) Unwrap() error { return e.cause }

// sleepContext waits for the delay unless the context ends first.
var sleepContext = func(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ProcessWithRetry runs the per-segment pipeline under the retry policy.
// Only failures classified retryable (network, timeout, transient) get
// another attempt with exponential backoff; validation and deterministic
// transcode failures stop the loop immediately, as does context
// cancellation. The terminal ExhaustedError carries the whole history.
func (p *Processor) ProcessWithRetry(ctx context.Context, segment Segment, index int, policy RetryPolicy) (*Processed, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var history []AttemptError
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		processed, err := p.Process(ctx, segment, index)
		if err == nil {
			return processed, nil
		}
		lastErr = err

		history = append(history, AttemptError{
			SegmentIndex: index,
			Attempt:      attempt,
			Phase:        PhaseOf(err),
			Message:      err.Error(),
			OccurredAt:   time.Now().UTC(),
		})
		p.logger.Warn("segment attempt failed",
			logging.Int("segment_index", index),
			logging.Int("attempt", attempt),
			logging.String(logging.FieldPhase, PhaseOf(err)),
			logging.Error(err),
		)

		if ctx.Err() != nil || !services.IsRetryable(err) {
			break
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if err := sleepContext(ctx, policy.Backoff(attempt)); err != nil {
			break
		}
	}

	return nil, &ExhaustedError{SegmentIndex: index, Attempts: history, cause: lastErr}
}

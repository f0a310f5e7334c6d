package errclass

import (
	"context"
	"time"

	"github.com/harun/kosmo/internal/observability"
	"github.com/rs/zerolog"
)

// Policy holds the retry parameters shared by every step
type Policy struct {
	// MaxTransientAttempts is the number of transient failures absorbed by
	// retries within one step. The next transient failure is downgraded to
	// recoverable.
	MaxTransientAttempts int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
}

// DefaultPolicy returns the default retry policy
func DefaultPolicy() Policy {
	return Policy{
		MaxTransientAttempts: 3,
		BackoffBase:          time.Second,
		BackoffMax:           8 * time.Second,
	}
}

// Backoff returns the delay before the retry that follows the given attempt:
// base, 2*base, 4*base... capped at BackoffMax.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BackoffBase <= 0 {
		return 0
	}
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.BackoffMax > 0 && delay >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && delay > p.BackoffMax {
		return p.BackoffMax
	}
	return delay
}

// Next decides whether a transient record is retried. Exceeding the attempt
// budget downgrades the record to recoverable. Non-transient records are never
// retried.
func (p Policy) Next(rec *Record) (bool, time.Duration) {
	if rec.Kind != KindTransient {
		return false, 0
	}
	if rec.Attempts > p.MaxTransientAttempts {
		rec.Kind = KindRecoverable
		rec.Downgraded = true
		return false, 0
	}
	delay := p.Backoff(rec.Attempts)
	if rec.RetryAfter > delay {
		delay = rec.RetryAfter
	}
	return true, delay
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier runs one step operation under the classifier and the retry policy.
type Retrier struct {
	Classifier *Classifier
	Policy     Policy
	Sleep      SleepFunc
	Logger     zerolog.Logger
}

// NewRetrier creates a retrier with the default classifier
func NewRetrier(policy Policy, logger zerolog.Logger) *Retrier {
	return &Retrier{
		Classifier: NewClassifier(),
		Policy:     policy,
		Sleep:      Sleep,
		Logger:     logger,
	}
}

// Do calls op until it succeeds, fails with a non-transient kind, or exhausts
// the transient budget. It returns nil on success and the final record otherwise.
func (r *Retrier) Do(ctx context.Context, origin Origin, step int, op func(ctx context.Context) error) *Record {
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var rec *Record
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}

		next := r.Classifier.Classify(err, origin, step)
		if rec != nil {
			next.Attempts = rec.Attempts + 1
		}
		rec = &next

		retry, delay := r.Policy.Next(rec)
		observability.RecordClassifiedError(string(rec.Kind), string(rec.Category), rec.Origin)
		if !retry {
			if rec.Downgraded {
				r.Logger.Warn().
					Str("origin", rec.Origin).
					Int("step", step).
					Int("attempts", rec.Attempts).
					Msg("Transient retries exhausted, downgrading to recoverable")
			}
			return rec
		}

		r.Logger.Info().
			Str("origin", rec.Origin).
			Str("category", string(rec.Category)).
			Int("step", step).
			Int("attempt", rec.Attempts).
			Dur("delay", delay).
			Msg("Retrying after transient error")
		observability.RecordRetry(rec.Origin)

		if err := sleep(ctx, delay); err != nil {
			// The step context ended while waiting; the last failure stands.
			rec.Kind = KindRecoverable
			rec.Downgraded = true
			return rec
		}
	}
}

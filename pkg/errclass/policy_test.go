package errclass

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetrier(maxAttempts int) (*Retrier, *[]time.Duration) {
	var delays []time.Duration
	r := NewRetrier(Policy{
		MaxTransientAttempts: maxAttempts,
		BackoffBase:          time.Second,
		BackoffMax:           8 * time.Second,
	}, zerolog.Nop())
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return r, &delays
}

func TestBackoff(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 8*time.Second, p.Backoff(10))

	assert.Equal(t, time.Duration(0), Policy{}.Backoff(3))
}

func TestRetrierSuccessAfterTransient(t *testing.T) {
	r, delays := newTestRetrier(3)

	calls := 0
	rec := r.Do(context.Background(), ToolOrigin("web_search", true), 1, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return New(CategoryRateLimit, "429")
		}
		return nil
	})

	assert.Nil(t, rec)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
}

func TestRetrierDowngradesAfterExhaustion(t *testing.T) {
	// Times out twice with max attempts 2, then fails a third time.
	r, delays := newTestRetrier(2)

	calls := 0
	rec := r.Do(context.Background(), ToolOrigin("execute_code", true), 4, func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})

	require.NotNil(t, rec)
	assert.Equal(t, 3, calls)
	assert.Equal(t, KindRecoverable, rec.Kind)
	assert.Equal(t, CategoryTimeout, rec.Category)
	assert.True(t, rec.Downgraded)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, 4, rec.Step)
	assert.Len(t, *delays, 2)
}

func TestRetrierStopsOnNonTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"critical", New(CategoryAuthentication, "bad key"), KindCritical},
		{"recoverable", New(CategoryNotFound, "no results"), KindRecoverable},
		{"unknown", errors.New("mystery"), KindRecoverable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, delays := newTestRetrier(3)
			calls := 0
			rec := r.Do(context.Background(), ToolOrigin("web_search", true), 1, func(ctx context.Context) error {
				calls++
				return tt.err
			})

			require.NotNil(t, rec)
			assert.Equal(t, 1, calls)
			assert.Equal(t, tt.want, rec.Kind)
			assert.False(t, rec.Downgraded)
			assert.Empty(t, *delays)
		})
	}
}

func TestRetrierHonorsRetryAfter(t *testing.T) {
	r, delays := newTestRetrier(1)

	calls := 0
	r.Do(context.Background(), ReasoningOrigin(), 1, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &Error{Category: CategoryRateLimit, Message: "slow down", RetryAfter: 5 * time.Second}
		}
		return nil
	})

	assert.Equal(t, []time.Duration{5 * time.Second}, *delays)
}

func TestRetrierNonRetryableToolNeverRetries(t *testing.T) {
	r, delays := newTestRetrier(3)

	calls := 0
	rec := r.Do(context.Background(), ToolOrigin("create_plot", false), 1, func(ctx context.Context) error {
		calls++
		return New(CategoryTimeout, "slow")
	})

	require.NotNil(t, rec)
	assert.Equal(t, 1, calls)
	assert.Equal(t, KindRecoverable, rec.Kind)
	assert.Empty(t, *delays)
}

func TestRetrierSleepInterrupted(t *testing.T) {
	r, _ := newTestRetrier(3)
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	rec := r.Do(context.Background(), ToolOrigin("web_search", true), 1, func(ctx context.Context) error {
		return New(CategoryNetwork, "reset")
	})

	require.NotNil(t, rec)
	assert.Equal(t, KindRecoverable, rec.Kind)
	assert.True(t, rec.Downgraded)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return "result", nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	}, nil)

	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_TaskPanic(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	// lane still serves later tasks
	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return 1, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result)
}

func TestCommandQueue_SameLaneNeverOverlaps(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), SessionLane("abc"), func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			}, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestCommandQueue_FIFO(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	var order []int
	var mu sync.Mutex

	go func() {
		_, _ = cq.Enqueue(context.Background(), "fifo", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "fifo", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, nil)
		}()
		require.Eventually(t, func() bool { return queued(cq, "fifo") == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	blockA := make(chan struct{})
	startedA := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "a", func(ctx context.Context) (interface{}, error) {
			close(startedA)
			<-blockA
			return nil, nil
		}, nil)
	}()
	<-startedA

	// lane b is not held up by lane a
	done := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "b", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lane b blocked by lane a")
	}
	close(blockA)
}

func TestCommandQueue_ClearLane(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "x", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	errCh := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "x", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return queued(cq, "x") == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, cq.ClearLane("x"))
	assert.ErrorIs(t, <-errCh, ErrLaneCleared)
	assert.Equal(t, 0, cq.ClearLane("unknown"))
	close(release)

	// the lane keeps working after a clear
	value, err := cq.Enqueue(context.Background(), "x", func(ctx context.Context) (interface{}, error) {
		return "after", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "after", value)
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := New(Config{})
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "w", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	warned := make(chan int, 1)
	go func() {
		_, _ = cq.Enqueue(context.Background(), "w", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, &TaskOptions{
			WarnAfter: 10 * time.Millisecond,
			OnWait:    func(wait time.Duration, pos int) { warned <- pos },
		})
	}()

	select {
	case pos := <-warned:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("expected wait warning")
	}
	close(release)
}

func TestCommandQueue_CloseCancelsRunning(t *testing.T) {
	cq := New(Config{})

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "c", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		errCh <- err
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-errCh, context.Canceled)

	_, err := cq.Enqueue(context.Background(), "c", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSessionLane(t *testing.T) {
	assert.Equal(t, "session-abc", SessionLane("abc"))
	assert.NotEqual(t, SessionLane("a"), SessionLane("b"))
}

// queued returns the number of tasks waiting on a lane
func queued(cq *CommandQueue, lane string) int {
	ls, exists := cq.existingLane(lane)
	if !exists {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	d := New(cfg)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDispatcher_SubmitReturnsValue(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	value, err := d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", value)

	_, err = d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
		return nil, errors.New("task broke")
	})
	assert.ErrorContains(t, err, "task broke")
}

func TestDispatcher_LaneSerializesTasks(t *testing.T) {
	d := newTestDispatcher(t, Config{Concurrency: 1})

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
				now := inFlight.Add(1)
				for {
					current := peak.Load()
					if now <= current || peak.CompareAndSwap(current, now) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load(), "one lane must never overlap its tasks")
}

func TestDispatcher_LanesRunConcurrently(t *testing.T) {
	d := newTestDispatcher(t, Config{Concurrency: 1})

	var inFlight, peak atomic.Int32
	task := func(ctx context.Context) (any, error) {
		now := inFlight.Add(1)
		for {
			current := peak.Load()
			if now <= current || peak.CompareAndSwap(current, now) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for _, laneName := range []string{"session-a", "session-b", "session-c"} {
		wg.Add(1)
		go func(laneName string) {
			defer wg.Done()
			_, err := d.Submit(context.Background(), laneName, task)
			assert.NoError(t, err)
		}(laneName)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, peak.Load(), int32(2), "separate lanes should overlap")
}

func TestDispatcher_QueueBound(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxQueue: 1})

	gate := make(chan struct{})
	go func() {
		_, _ = d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
			<-gate
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return d.Running("session-1") == 1 }, time.Second, 5*time.Millisecond)

	go func() {
		_, _ = d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return d.QueueSize("session-1") == 1 }, time.Second, 5*time.Millisecond)

	_, err := d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(gate)
}

func TestDispatcher_ResetDropsQueuedTasks(t *testing.T) {
	d := newTestDispatcher(t, Config{MaxQueue: 4})

	gate := make(chan struct{})
	go func() {
		_, _ = d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
			<-gate
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return d.Running("session-1") == 1 }, time.Second, 5*time.Millisecond)

	queuedErr := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		queuedErr <- err
	}()
	require.Eventually(t, func() bool { return d.QueueSize("session-1") == 1 }, time.Second, 5*time.Millisecond)

	dropped := d.Reset("session-1")
	assert.Equal(t, 1, dropped)

	select {
	case err := <-queuedErr:
		assert.ErrorIs(t, err, ErrLaneReset)
	case <-time.After(time.Second):
		t.Fatal("queued task was not released by the reset")
	}

	close(gate)
}

func TestDispatcher_SetConcurrency(t *testing.T) {
	d := newTestDispatcher(t, Config{Concurrency: 1})
	d.SetConcurrency("background", 3)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Submit(context.Background(), "background", func(ctx context.Context) (any, error) {
				now := inFlight.Add(1)
				for {
					current := peak.Load()
					if now <= current || peak.CompareAndSwap(current, now) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				inFlight.Add(-1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, peak.Load(), int32(2))

	stats := d.Stats()
	require.Contains(t, stats, "background")
	assert.Equal(t, 3, stats["background"].Concurrency)
}

func TestDispatcher_CloseCancelsRunningTasks(t *testing.T) {
	d := New(Config{Logger: zerolog.Nop()})

	result := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		result <- err
	}()
	require.Eventually(t, func() bool { return d.Running("session-1") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("running task was not cancelled by Close")
	}

	_, err := d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_CallerStopsWaiting(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, err := d.Submit(ctx, "session-1", func(taskCtx context.Context) (any, error) {
		close(started)
		<-taskCtx.Done()
		return nil, taskCtx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_Drain(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	go func() {
		_, _ = d.Submit(context.Background(), "session-1", func(ctx context.Context) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return d.Running("session-1") == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, d.Drain(2*time.Second))
	assert.Zero(t, d.Running("session-1"))
}

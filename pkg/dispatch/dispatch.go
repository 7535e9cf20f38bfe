// Package dispatch serializes work through named lanes. Each session gets
// its own lane so one user's requests execute in order, while different
// sessions proceed concurrently. Lanes are created on first use and carry
// a bounded queue; a generation counter lets a lane be reset without
// tearing down the dispatcher.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/metrics"
)

// Task is one unit of work. The context is cancelled when the dispatcher
// closes.
type Task func(ctx context.Context) (any, error)

// Submit errors.
var (
	ErrQueueFull = errors.New("lane queue is full")
	ErrClosed    = errors.New("dispatcher is closed")
	ErrLaneReset = errors.New("task dropped by lane reset")
)

const (
	defaultConcurrency = 1
	defaultMaxQueue    = 64
)

// Config holds dispatcher settings.
type Config struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Concurrency is the per-lane worker limit. Sessions keep the
	// default of 1 so their requests stay ordered.
	Concurrency int
	// MaxQueue bounds how many tasks may wait per lane.
	MaxQueue int
}

// LaneStats is a point-in-time snapshot of one lane.
type LaneStats struct {
	Queued      int `json:"queued"`
	Running     int `json:"running"`
	Concurrency int `json:"concurrency"`
}

type taskResult struct {
	value any
	err   error
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	result     chan taskResult
}

type lane struct {
	mu          sync.Mutex
	name        string
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
}

// Dispatcher routes tasks into lanes and runs them under per-lane
// concurrency limits.
type Dispatcher struct {
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	maxQueue int
	defConc  int

	mu      sync.RWMutex
	lanes   map[string]*lane
	taskSeq int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = defaultMaxQueue
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger:   cfg.Logger.With().Str("component", "dispatch").Logger(),
		metrics:  cfg.Metrics,
		maxQueue: cfg.MaxQueue,
		defConc:  cfg.Concurrency,
		lanes:    make(map[string]*lane),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (d *Dispatcher) laneFor(name string) *lane {
	d.mu.RLock()
	l, ok := d.lanes[name]
	d.mu.RUnlock()
	if ok {
		return l
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lanes[name]; ok {
		return l
	}
	l = &lane{name: name, concurrency: d.defConc}
	d.lanes[name] = l
	d.logger.Debug().Str("lane", name).Int("concurrency", l.concurrency).Msg("Lane created")
	return l
}

// Submit enqueues the task on the named lane and blocks until it finishes.
// It returns ErrQueueFull when the lane's queue is at capacity and
// ErrClosed after Close.
func (d *Dispatcher) Submit(ctx context.Context, laneName string, task Task) (any, error) {
	if d.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l := d.laneFor(laneName)

	d.mu.Lock()
	d.taskSeq++
	id := fmt.Sprintf("%s-%d", laneName, d.taskSeq)
	d.mu.Unlock()

	record := &taskRecord{
		id:     id,
		task:   task,
		ctx:    ctx,
		result: make(chan taskResult, 1),
	}

	l.mu.Lock()
	if len(l.queue) >= d.maxQueue {
		l.mu.Unlock()
		if d.metrics != nil {
			d.metrics.DispatchTasksTotal.WithLabelValues(laneName, "rejected").Inc()
		}
		return nil, fmt.Errorf("lane %s: %w", laneName, ErrQueueFull)
	}
	record.generation = l.generation
	l.queue = append(l.queue, record)
	depth := len(l.queue)
	l.mu.Unlock()

	d.gaugeDepth(laneName, depth)
	d.logger.Debug().Str("lane", laneName).Str("task", id).Int("depth", depth).Msg("Task enqueued")

	go d.pump(l)

	select {
	case res := <-record.result:
		return res.value, res.err
	case <-ctx.Done():
		// The task may still run; the caller just stopped waiting.
		return nil, ctx.Err()
	}
}

// pump starts queued tasks while the lane has capacity.
func (d *Dispatcher) pump(l *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.running < l.concurrency && len(l.queue) > 0 {
		record := l.queue[0]
		l.queue = l.queue[1:]

		if record.generation != l.generation {
			record.result <- taskResult{err: ErrLaneReset}
			close(record.result)
			continue
		}

		l.running++
		d.wg.Add(1)
		go d.execute(l, record)
	}
	d.gaugeDepth(l.name, len(l.queue))
}

func (d *Dispatcher) execute(l *lane, record *taskRecord) {
	defer d.wg.Done()

	runCtx, cancel := context.WithCancel(record.ctx)
	stop := context.AfterFunc(d.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	started := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(started)

	l.mu.Lock()
	l.running--
	l.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	status := "ok"
	if err != nil {
		status = "error"
		d.logger.Warn().Str("lane", l.name).Str("task", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		d.logger.Debug().Str("lane", l.name).Str("task", record.id).Dur("duration", duration).Msg("Task completed")
	}
	if d.metrics != nil {
		d.metrics.DispatchTasksTotal.WithLabelValues(l.name, status).Inc()
	}

	go d.pump(l)
}

func (d *Dispatcher) gaugeDepth(laneName string, depth int) {
	if d.metrics != nil {
		d.metrics.DispatchQueueDepth.WithLabelValues(laneName).Set(float64(depth))
	}
}

// QueueSize reports how many tasks wait in the lane.
func (d *Dispatcher) QueueSize(laneName string) int {
	d.mu.RLock()
	l, ok := d.lanes[laneName]
	d.mu.RUnlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Running reports how many tasks the lane is executing.
func (d *Dispatcher) Running(laneName string) int {
	d.mu.RLock()
	l, ok := d.lanes[laneName]
	d.mu.RUnlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Stats snapshots every lane.
func (d *Dispatcher) Stats() map[string]LaneStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := make(map[string]LaneStats, len(d.lanes))
	for name, l := range d.lanes {
		l.mu.Lock()
		stats[name] = LaneStats{
			Queued:      len(l.queue),
			Running:     l.running,
			Concurrency: l.concurrency,
		}
		l.mu.Unlock()
	}
	return stats
}

// SetConcurrency changes the lane's worker limit, creating the lane if
// needed.
func (d *Dispatcher) SetConcurrency(laneName string, n int) {
	if n <= 0 {
		n = 1
	}
	l := d.laneFor(laneName)

	l.mu.Lock()
	old := l.concurrency
	l.concurrency = n
	l.mu.Unlock()

	d.logger.Info().Str("lane", laneName).Int("from", old).Int("to", n).Msg("Lane concurrency changed")
	if n > old {
		go d.pump(l)
	}
}

// Reset drops every queued task in the lane with ErrLaneReset and bumps
// the generation so in-flight enqueues from before the reset are dropped
// too.
func (d *Dispatcher) Reset(laneName string) int {
	d.mu.RLock()
	l, ok := d.lanes[laneName]
	d.mu.RUnlock()
	if !ok {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.generation++
	dropped := len(l.queue)
	for _, record := range l.queue {
		record.result <- taskResult{err: ErrLaneReset}
		close(record.result)
	}
	l.queue = nil

	d.gaugeDepth(laneName, 0)
	d.logger.Info().Str("lane", laneName).Int("dropped", dropped).Msg("Lane reset")
	return dropped
}

// Drain waits until no lane is executing, up to the timeout.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		idle := true
		d.mu.RLock()
		for _, l := range d.lanes {
			l.mu.Lock()
			if l.running > 0 || len(l.queue) > 0 {
				idle = false
			}
			l.mu.Unlock()
		}
		d.mu.RUnlock()

		if idle {
			return true
		}
		if time.Now().After(deadline) {
			d.logger.Warn().Dur("timeout", timeout).Msg("Drain timed out with tasks still active")
			return false
		}
		<-ticker.C
	}
}

// Close cancels running task contexts and waits for them to return.
func (d *Dispatcher) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}

package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Func is the work a job performs. The context is cancelled when the
// scheduler stops.
type Func func(ctx context.Context) error

// JobInfo is a snapshot of one job's state.
type JobInfo struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Spec              Spec          `json:"spec"`
	NextRun           time.Time     `json:"next_run"`
	LastRun           time.Time     `json:"last_run,omitempty"`
	LastStatus        string        `json:"last_status,omitempty"` // ok, error or skipped
	LastError         string        `json:"last_error,omitempty"`
	LastDuration      time.Duration `json:"last_duration,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors,omitempty"`
	Runs              int           `json:"runs"`
}

type job struct {
	id      string
	name    string
	spec    Spec
	fn      Func
	running bool
	info    JobInfo
}

// Scheduler fires registered jobs on their schedules. One job never
// overlaps itself; a fire that lands while the previous run is still
// going is recorded as skipped.
type Scheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	timers  map[string]*time.Timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger.With().Str("component", "schedule").Logger(),
		jobs:   make(map[string]*job),
		timers: make(map[string]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job and schedules its first run. It returns the job ID.
func (s *Scheduler) Add(name string, spec Spec, fn Func) (string, error) {
	if name == "" {
		return "", fmt.Errorf("job name is required")
	}
	if fn == nil {
		return "", fmt.Errorf("job func is required")
	}
	next, err := NextRun(spec, time.Now())
	if err != nil {
		return "", fmt.Errorf("invalid schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", fmt.Errorf("scheduler is stopped")
	}

	id := uuid.New().String()
	j := &job{
		id:   id,
		name: name,
		spec: spec,
		fn:   fn,
		info: JobInfo{ID: id, Name: name, Spec: spec, NextRun: next},
	}
	s.jobs[id] = j
	s.arm(j, next)

	s.logger.Info().Str("job", name).Str("id", id).Time("next_run", next).Msg("Job scheduled")
	return id, nil
}

// arm sets the timer for the job's next fire. Caller holds s.mu.
func (s *Scheduler) arm(j *job, at time.Time) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	if t, ok := s.timers[j.id]; ok {
		t.Stop()
	}
	s.timers[j.id] = time.AfterFunc(delay, func() { s.fire(j.id) })
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}
	if j.running {
		j.info.LastStatus = "skipped"
		s.reschedule(j)
		s.mu.Unlock()
		s.logger.Warn().Str("job", j.name).Msg("Previous run still going, skipped")
		return
	}
	j.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(j)
}

func (s *Scheduler) execute(j *job) {
	defer s.wg.Done()

	started := time.Now()
	err := j.fn(s.ctx)
	duration := time.Since(started)

	s.mu.Lock()
	defer s.mu.Unlock()

	j.running = false
	j.info.LastRun = started
	j.info.LastDuration = duration
	j.info.Runs++
	if err != nil {
		j.info.LastStatus = "error"
		j.info.LastError = err.Error()
		j.info.ConsecutiveErrors++
		s.logger.Error().Str("job", j.name).Dur("duration", duration).Err(err).Msg("Job failed")
	} else {
		j.info.LastStatus = "ok"
		j.info.LastError = ""
		j.info.ConsecutiveErrors = 0
		s.logger.Debug().Str("job", j.name).Dur("duration", duration).Msg("Job finished")
	}

	if s.stopped {
		return
	}
	if _, ok := s.jobs[j.id]; !ok {
		// Removed while running
		return
	}
	if !recurs(j.spec) {
		delete(s.jobs, j.id)
		delete(s.timers, j.id)
		s.logger.Info().Str("job", j.name).Msg("One-shot job done, removed")
		return
	}
	s.reschedule(j)
}

// reschedule arms the next fire. Caller holds s.mu.
func (s *Scheduler) reschedule(j *job) {
	next, err := NextRun(j.spec, time.Now())
	if err != nil {
		s.logger.Error().Str("job", j.name).Err(err).Msg("Cannot compute next run, job parked")
		return
	}
	j.info.NextRun = next
	s.arm(j, next)
}

// RunNow fires the job immediately, regardless of its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is stopped")
	}
	if j.running {
		s.mu.Unlock()
		return fmt.Errorf("job %s is already running", id)
	}
	j.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.execute(j)
	return nil
}

// Remove unregisters the job and stops its timer.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	delete(s.jobs, id)
	return true
}

// Jobs snapshots every registered job.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, j.info)
	}
	return infos
}

// Stop cancels running jobs' contexts, stops all timers and waits for
// in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

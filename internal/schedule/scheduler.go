package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mordilloSan/go-logger/logger"

	"github.com/gwest/autoupdate-report/internal/storage"
)

// Weekly is the interval of the weekly report job.
const Weekly = 7 * 24 * time.Hour

// RunFunc does one run of a job. The returned outcome is recorded as-is.
type RunFunc func(ctx context.Context) (outcome string, err error)

// Errors
var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job already running")
)

// Scheduler runs registered jobs at a fixed interval. Next-run times are
// kept in the state store, so registering a job that is already scheduled
// keeps its existing slot.
type Scheduler struct {
	state   *storage.StateStore
	jobs    map[string]*job
	tick    time.Duration
	timeout time.Duration
	now     func() time.Time
	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type job struct {
	name     string
	interval time.Duration
	run      RunFunc
	next     time.Time
	running  bool
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name     string             `json:"name"`
	Interval time.Duration      `json:"interval"`
	Running  bool               `json:"running"`
	NextRun  time.Time          `json:"next_run"`
	LastRun  *storage.RunRecord `json:"last_run,omitempty"`
}

// NewScheduler creates a scheduler. A run longer than timeout is
// cancelled; zero means one hour.
func NewScheduler(state *storage.StateStore, timeout time.Duration) *Scheduler {
	if timeout == 0 {
		timeout = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		state:   state,
		jobs:    make(map[string]*job),
		tick:    time.Minute,
		timeout: timeout,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a job. If the job already has a persisted next run, that
// time is kept; otherwise the first run is due immediately. Registering
// a name twice keeps the first registration.
func (s *Scheduler) Register(name string, interval time.Duration, run RunFunc) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[name]; ok {
		return j.next, nil
	}

	next, created, err := s.state.EnsureNextRun(name, s.now())
	if err != nil {
		return time.Time{}, err
	}
	if created {
		logger.Infof("scheduled %s every %v, first run now", name, interval)
	} else {
		logger.Infof("%s already scheduled, next run at %s", name, next.Format(time.RFC3339))
	}

	s.jobs[name] = &job{name: name, interval: interval, run: run, next: next}
	return next, nil
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop stops the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.checkJobs()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkJobs()
		}
	}
}

func (s *Scheduler) checkJobs() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.running || now.Before(j.next) {
			continue
		}
		s.start(j, false)
	}
}

// start launches j. Caller holds s.mu.
func (s *Scheduler) start(j *job, manual bool) {
	j.running = true
	s.wg.Add(1)
	go s.runJob(j, manual)
}

func (s *Scheduler) runJob(j *job, manual bool) {
	defer s.wg.Done()

	started := s.now()
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	outcome, err := j.run(ctx)
	rec := storage.RunRecord{
		StartedAt: started,
		Duration:  s.now().Sub(started),
		Outcome:   outcome,
		Manual:    manual,
	}
	if err != nil {
		rec.Error = err.Error()
		logger.Warnf("job %s failed: %v", j.name, err)
	} else {
		logger.Debugf("job %s finished: %s", j.name, outcome)
	}
	if serr := s.state.SetLastRun(j.name, rec); serr != nil {
		logger.Errorf("saving last run of %s: %v", j.name, serr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j.running = false
	if manual {
		return
	}

	// A failed run is not retried early; the next slot picks up whatever
	// is still pending.
	j.next = nextSlot(j.next, j.interval, s.now())
	if serr := s.state.SetNextRun(j.name, j.next); serr != nil {
		logger.Errorf("saving next run of %s: %v", j.name, serr)
	}
}

// nextSlot advances from prev by whole intervals until it is after now.
func nextSlot(prev time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now
	}
	next := prev.Add(interval)
	if !next.After(now) {
		missed := now.Sub(next)/interval + 1
		next = next.Add(missed * interval)
	}
	return next
}

// Trigger runs a job now without moving its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return ErrJobNotFound
	}
	if j.running {
		return ErrJobRunning
	}
	s.start(j, true)
	return nil
}

// Status returns the status of a job
func (s *Scheduler) Status(name string) (*JobStatus, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return nil, ErrJobNotFound
	}
	status := &JobStatus{
		Name:     j.name,
		Interval: j.interval,
		Running:  j.running,
		NextRun:  j.next,
	}
	s.mu.Unlock()

	last, err := s.state.LastRun(name)
	if err == nil {
		status.LastRun = last
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return status, nil
}

// Package scheduler runs the vault's background jobs on cron schedules.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus is a snapshot of a job's most recent execution.
type JobStatus struct {
	Name         string        `json:"name"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	LastRunAt    time.Time     `json:"last_run_at"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// runner wraps a job with status bookkeeping and an overlap guard: a tick
// that fires while the previous run is still going is skipped, not queued.
type runner struct {
	job Job
	log zerolog.Logger

	mu       sync.Mutex
	inFlight bool
	status   JobStatus
}

func (r *runner) run() error {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		r.log.Warn().Str("job", r.job.Name()).Msg("Previous run still in progress, skipping")
		return nil
	}
	r.inFlight = true
	r.mu.Unlock()

	start := time.Now()
	err := r.job.Run()
	elapsed := time.Since(start)

	r.mu.Lock()
	r.inFlight = false
	r.status.Runs++
	r.status.LastRunAt = start
	r.status.LastDuration = elapsed
	if err != nil {
		r.status.Failures++
		r.status.LastError = err.Error()
	} else {
		r.status.LastError = ""
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Error().
			Err(err).
			Str("job", r.job.Name()).
			Dur("duration", elapsed).
			Msg("Job failed")
		return err
	}
	r.log.Debug().
		Str("job", r.job.Name()).
		Dur("duration", elapsed).
		Msg("Job completed")
	return nil
}

func (r *runner) snapshot() JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	runners map[string]*runner
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With().Str("component", "scheduler").Logger(),
		runners: make(map[string]*runner),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	if _, ok := s.runners[job.Name()]; ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q is already registered", job.Name())
	}
	r := &runner{job: job, log: s.log, status: JobStatus{Name: job.Name()}}
	s.runners[job.Name()] = r
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(schedule, func() { _ = r.run() }); err != nil {
		s.mu.Lock()
		delete(s.runners, job.Name())
		s.mu.Unlock()
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a job immediately, outside its schedule. A registered job
// runs through the same bookkeeping as its scheduled ticks, so manual
// triggers show up in Statuses and respect the overlap guard.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	s.mu.Lock()
	r, ok := s.runners[job.Name()]
	s.mu.Unlock()
	if ok {
		return r.run()
	}
	return job.Run()
}

// Statuses reports the last-run outcome of every registered job.
func (s *Scheduler) Statuses() []JobStatus {
	s.mu.Lock()
	runners := make([]*runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.snapshot())
	}
	return out
}

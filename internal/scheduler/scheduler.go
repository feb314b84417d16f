package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

var ErrUnknownJob = errors.New("unknown_job")

// Job is a periodic task. Run gets a context bounded by Timeout.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	lastRun time.Time
	lastErr string
	runs    int64
}

// Scheduler runs jobs on cron specs. An overrunning job skips its next
// tick instead of stacking.
type Scheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	base    context.Context
	entries map[string]*entry
	now     func() time.Time
}

func New() *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		base:    context.Background(),
		entries: map[string]*entry{},
		now:     time.Now,
	}
}

// Add registers a job. Empty specs disable the job.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a func")
	}
	if job.Spec == "" {
		log.Info().Str("job", job.Name).Msg("scheduled job disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[job.Name]; ok {
		return fmt.Errorf("scheduler: duplicate job %q", job.Name)
	}
	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Spec, func() {
		_ = s.run(s.baseContext(), e)
	})
	if err != nil {
		return fmt.Errorf("scheduler: job %q spec %q: %w", job.Name, job.Spec, err)
	}
	e.id = id
	s.entries[job.Name] = e
	return nil
}

// Start begins ticking. Jobs inherit ctx; Stop must still be called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	n := len(s.entries)
	s.mu.Unlock()
	s.cron.Start()
	log.Info().Int("jobs", n).Msg("scheduler started")
}

// Stop halts ticking and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("scheduler stop timed out with jobs still running")
	}
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	return s.run(ctx, e)
}

func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, JobStatus{
			Name:      e.job.Name,
			Spec:      e.job.Spec,
			Next:      s.cron.Entry(e.id).Next,
			LastRun:   e.lastRun,
			LastError: e.lastErr,
			Runs:      e.runs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}
	start := s.now()
	err := e.job.Run(ctx)
	metricRunSeconds.WithLabelValues(e.job.Name).Observe(time.Since(start).Seconds())

	s.mu.Lock()
	e.lastRun = start
	e.runs++
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		metricRunsTotal.WithLabelValues(e.job.Name, "error").Inc()
		log.Warn().Err(err).Str("job", e.job.Name).Msg("scheduled job failed")
		return err
	}
	metricRunsTotal.WithLabelValues(e.job.Name, "ok").Inc()
	return nil
}

// cronLogger routes cron's internal logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

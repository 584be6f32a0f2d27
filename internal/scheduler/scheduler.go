// Package scheduler runs the periodic jobs: fixed intervals, no overlap
// of the same job, failures logged and retried on the next tick.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymercado/internal/metrics"
)

// JobStore persists run bookkeeping. Persistence failures only log; they
// never fail the job itself.
type JobStore interface {
	RecordJobStart(ctx context.Context, jobName string, startedAt time.Time) error
	RecordJobSuccess(ctx context.Context, jobName string, finishedAt time.Time, duration time.Duration) error
	RecordJobFailure(ctx context.Context, jobName string, failedAt time.Time, duration time.Duration, jobErr error) error
}

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type jobState struct {
	running     bool
	lastSuccess *time.Time
	lastFailure *time.Time
	lastError   string
}

// Scheduler drives registered jobs on their intervals. Each job gets its
// own ticker goroutine; a tick that arrives while the previous run is
// still going is skipped, so a slow upstream lengthens the effective
// period instead of queueing work.
type Scheduler struct {
	store  JobStore
	logger *slog.Logger

	mu     sync.Mutex
	jobs   []Job
	states map[string]*jobState

	wg sync.WaitGroup
}

// New creates an empty scheduler.
func New(store JobStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		logger: logger.With("component", "scheduler"),
		states: make(map[string]*jobState),
	}
}

// Register adds a job. Jobs with a non-positive interval are ignored.
func (s *Scheduler) Register(job Job) {
	if job.Interval <= 0 {
		s.logger.Warn("job disabled by non-positive interval", "job", job.Name)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.states[job.Name] = &jobState{}
}

// Start launches every registered job. Each runs once immediately, then
// on its ticker. Blocks until ctx is cancelled and all in-flight runs
// have finished.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, job := range jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.tick(ctx, job)

			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.tick(ctx, job)
				}
			}
		}(job)
	}
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	s.mu.Lock()
	state := s.states[job.Name]
	if state.running {
		s.mu.Unlock()
		s.logger.Warn("previous run still in progress, skipping tick", "job", job.Name)
		return
	}
	state.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		state.running = false
		s.mu.Unlock()
	}()

	start := time.Now().UTC()
	if s.store != nil {
		if err := s.store.RecordJobStart(ctx, job.Name, start); err != nil {
			s.logger.Warn("record job start", "job", job.Name, "error", err)
		}
	}

	err := job.Run(ctx)
	end := time.Now().UTC()
	duration := end.Sub(start)

	s.mu.Lock()
	if err != nil {
		state.lastFailure = &end
		state.lastError = err.Error()
	} else {
		state.lastSuccess = &end
		state.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.JobFailures.WithLabelValues(job.Name).Inc()
		s.logger.Error("job failed",
			"job", job.Name,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		if s.store != nil {
			if rerr := s.store.RecordJobFailure(ctx, job.Name, end, duration, err); rerr != nil {
				s.logger.Warn("record job failure", "job", job.Name, "error", rerr)
			}
		}
		return
	}

	metrics.JobLastSuccess.WithLabelValues(job.Name).Set(float64(end.Unix()))
	s.logger.Debug("job finished",
		"job", job.Name,
		"duration_ms", duration.Milliseconds(),
	)
	if s.store != nil {
		if rerr := s.store.RecordJobSuccess(ctx, job.Name, end, duration); rerr != nil {
			s.logger.Warn("record job success", "job", job.Name, "error", rerr)
		}
	}
}

// JobStatuses implements metrics.JobStatusSource for the health endpoint.
func (s *Scheduler) JobStatuses() map[string]metrics.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]metrics.JobStatus, len(s.states))
	for name, state := range s.states {
		out[name] = metrics.JobStatus{
			LastSuccess: state.lastSuccess,
			LastFailure: state.lastFailure,
			LastError:   state.lastError,
		}
	}
	return out
}

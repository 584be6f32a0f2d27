package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestTickSkipsOverlappingRun(t *testing.T) {
	t.Parallel()

	s := New(nil, slog.Default())
	var runs atomic.Int32
	block := make(chan struct{})
	job := Job{
		Name:     "slow",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			<-block
			return nil
		},
	}
	s.Register(job)

	go s.tick(context.Background(), job)
	// Wait for the first run to be marked in-flight.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		running := s.states["slow"].running
		s.mu.Unlock()
		if running || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	s.tick(context.Background(), job) // must return without running

	close(block)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1 (second tick skipped)", got)
	}
}

func TestTickRecordsOutcomes(t *testing.T) {
	t.Parallel()

	s := New(nil, slog.Default())
	okJob := Job{Name: "ok", Interval: time.Hour, Run: func(ctx context.Context) error { return nil }}
	badJob := Job{Name: "bad", Interval: time.Hour, Run: func(ctx context.Context) error {
		return errors.New("upstream down")
	}}
	s.Register(okJob)
	s.Register(badJob)

	s.tick(context.Background(), okJob)
	s.tick(context.Background(), badJob)

	statuses := s.JobStatuses()
	if statuses["ok"].LastSuccess == nil {
		t.Error("ok job missing last success")
	}
	if statuses["bad"].LastFailure == nil || statuses["bad"].LastError != "upstream down" {
		t.Errorf("bad job status = %+v", statuses["bad"])
	}

	// A later success clears the error.
	recovered := Job{Name: "bad", Interval: time.Hour, Run: func(ctx context.Context) error { return nil }}
	s.tick(context.Background(), recovered)
	if got := s.JobStatuses()["bad"]; got.LastError != "" || got.LastSuccess == nil {
		t.Errorf("recovered status = %+v", got)
	}
}

func TestRegisterIgnoresDisabledJob(t *testing.T) {
	t.Parallel()

	s := New(nil, slog.Default())
	s.Register(Job{Name: "off", Interval: 0, Run: func(ctx context.Context) error { return nil }})
	if len(s.jobs) != 0 {
		t.Errorf("jobs = %d, want 0", len(s.jobs))
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	t.Parallel()

	s := New(nil, slog.Default())
	var runs atomic.Int32
	s.Register(Job{
		Name:     "fast",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	if runs.Load() < 2 {
		t.Errorf("runs = %d, want at least the immediate run plus one tick", runs.Load())
	}
}

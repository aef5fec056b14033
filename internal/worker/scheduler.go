package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanupFunc is one maintenance pass. It returns how many rows it
// touched so repeated runs can be seen to converge to zero.
type CleanupFunc func(ctx context.Context) (int64, error)

type job struct {
	name     string
	interval time.Duration
	run      CleanupFunc
}

// Scheduler drives the periodic maintenance jobs: expired lockout and
// session sweeps, invitation expiry and failed-login retention. Every
// job is idempotent, so an overlapping or repeated run is harmless.
type Scheduler struct {
	jobs []job
	wg   sync.WaitGroup
	mu   sync.Mutex
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) AddJob(name string, interval time.Duration, run CleanupFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: run})
}

// Run starts one goroutine per job and blocks until ctx is cancelled
// and every job loop has stopped.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go func(j job) {
			defer s.wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	slog.Info("cleanup job scheduled", "job", j.name, "interval", j.interval)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			affected, err := j.run(ctx)
			if err != nil {
				slog.Error("cleanup job failed", "job", j.name, "error", err)
				continue
			}
			if affected > 0 {
				slog.Info("cleanup job completed", "job", j.name, "affected", affected, "took", time.Since(start))
			}
		case <-ctx.Done():
			slog.Info("cleanup job stopping", "job", j.name)
			return
		}
	}
}

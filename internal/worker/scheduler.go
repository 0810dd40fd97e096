// Package worker contains the periodic sync and enrichment passes and the
// scheduler that drives them.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/p2p-trade-sync/internal/logging"
)

// Job is one periodic task driven by the scheduler.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// JobStatus is a point-in-time snapshot of one scheduled job.
type JobStatus struct {
	Name            string    `json:"name"`
	IntervalSeconds int       `json:"intervalSeconds"`
	Runs            int       `json:"runs"`
	LastRunAt       time.Time `json:"lastRunAt"`
	LastDurationMs  int64     `json:"lastDurationMs"`
	LastError       string    `json:"lastError,omitempty"`
}

type scheduledJob struct {
	job    Job
	status JobStatus
}

// Scheduler drives the registered jobs on independent tickers while holding
// one shared mutex for the duration of every cycle, so the sync pass and the
// enrichment pass can never interleave even when a cycle overruns its
// interval.
type Scheduler struct {
	logger *logging.Logger

	cycleMu sync.Mutex // held for the whole of any job cycle
	mu      sync.RWMutex
	jobs    []*scheduledJob
	running bool
	stopCh  chan struct{}
	doneWg  sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *logging.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.WithField("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &scheduledJob{
		job: job,
		status: JobStatus{
			Name:            job.Name,
			IntervalSeconds: int(job.Interval.Seconds()),
		},
	})
}

// Start launches one goroutine per registered job. Each job runs once
// immediately, then on its interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	jobs := s.jobs
	s.mu.Unlock()

	for _, sj := range jobs {
		s.doneWg.Add(1)
		go s.runLoop(ctx, sj)
	}

	s.logger.WithField("jobs", len(jobs)).Info("scheduler started")
	return nil
}

// Stop signals all job loops and waits for in-flight cycles to finish.
// There is no mid-cycle cancellation beyond the context handed to I/O; a
// running cycle is allowed to complete.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.doneWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
		return ctx.Err()
	}
}

// Status returns a snapshot of all jobs.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, len(s.jobs))
	for i, sj := range s.jobs {
		statuses[i] = sj.status
	}
	return statuses
}

func (s *Scheduler) runLoop(ctx context.Context, sj *scheduledJob) {
	defer s.doneWg.Done()

	ticker := time.NewTicker(sj.job.Interval)
	defer ticker.Stop()

	s.runCycle(ctx, sj)

	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("job", sj.job.Name).Info("context cancelled")
			return
		case <-s.stopCh:
			s.logger.WithField("job", sj.job.Name).Info("stop signal received")
			return
		case <-ticker.C:
			s.runCycle(ctx, sj)
		}
	}
}

// runCycle executes one job cycle under the shared cycle mutex and records
// its outcome. A failing cycle is logged and the loop continues; the service
// never crashes from a single cycle's failure.
func (s *Scheduler) runCycle(ctx context.Context, sj *scheduledJob) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()
	err := sj.job.Run(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	sj.status.Runs++
	sj.status.LastRunAt = start
	sj.status.LastDurationMs = elapsed.Milliseconds()
	if err != nil {
		sj.status.LastError = err.Error()
	} else {
		sj.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).WithField("job", sj.job.Name).Error("job cycle failed")
	} else {
		s.logger.WithFields(map[string]interface{}{
			"job":      sj.job.Name,
			"duration": elapsed.String(),
		}).Debug("job cycle finished")
	}
}

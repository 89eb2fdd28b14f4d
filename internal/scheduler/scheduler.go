package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one pipeline run on its own cron schedule.
type Job struct {
	Name     string
	CronSpec string
	Run      func(ctx context.Context) error
}

// ErrAlreadyRunning is returned by a run that found the same job in flight.
var ErrAlreadyRunning = errors.New("scheduler: job already running")

const (
	// the first round waits so startup (migrations, the API listener) is not
	// competing with two scrapes at once
	defaultStartupDelay = 15 * time.Second
	jobTimeout          = 10 * time.Minute
)

type Scheduler struct {
	cron         *cron.Cron
	jobs         []Job
	running      map[string]*sync.Mutex
	startupDelay time.Duration
}

// New registers every job with its cron spec. A job never runs twice at once:
// a cron tick, the startup round or RunOnce that finds it in flight skips it.
func New(jobs []Job) (*Scheduler, error) {
	logger := cron.PrintfLogger(zap.NewStdLog(zap.L()))
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)

	s := &Scheduler{
		cron:         c,
		jobs:         jobs,
		running:      make(map[string]*sync.Mutex, len(jobs)),
		startupDelay: defaultStartupDelay,
	}
	for _, j := range jobs {
		job := j
		if job.Run == nil {
			return nil, fmt.Errorf("scheduler: job %q has no run func", job.Name)
		}
		if _, ok := s.running[job.Name]; !ok {
			s.running[job.Name] = &sync.Mutex{}
		}
		if _, err := c.AddFunc(job.CronSpec, func() { _ = s.run(context.Background(), job) }); err != nil {
			return nil, fmt.Errorf("scheduler: add %s (%q): %w", job.Name, job.CronSpec, err)
		}
		zap.S().Infof("scheduler: %s scheduled at %q", job.Name, job.CronSpec)
	}
	return s, nil
}

// Start begins the cron loop and kicks off one delayed round of every job.
func (s *Scheduler) Start() {
	s.cron.Start()
	time.AfterFunc(s.startupDelay, func() {
		_ = s.RunOnce(context.Background())
	})
}

// Stop halts the cron loop; the returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Cron exposes the underlying cron so callers can add extra entries.
func (s *Scheduler) Cron() *cron.Cron {
	return s.cron
}

// RunOnce runs every job once, one after another, and returns their joined
// errors. Jobs already in flight are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	zap.S().Info("scheduler: start run of all jobs")
	var errs []error
	for _, job := range s.jobs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.run(ctx, job); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			errs = append(errs, err)
		}
	}
	zap.S().Info("scheduler: run done (all jobs)")
	return errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	mu := s.running[job.Name]
	if !mu.TryLock() {
		zap.S().Infof("scheduler: %s still running, skipped", job.Name)
		return ErrAlreadyRunning
	}
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	zap.S().Infof("scheduler: run %s...", job.Name)
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		zap.S().Errorf("scheduler: %s failed after %s: %v", job.Name, time.Since(start), err)
		return fmt.Errorf("%s: %w", job.Name, err)
	}
	zap.S().Infof("scheduler: %s done in %s", job.Name, time.Since(start))
	return nil
}

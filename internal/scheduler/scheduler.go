// Package scheduler runs named maintenance jobs on fixed intervals.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobFunc is one run of a job. Errors are logged; the job keeps its schedule.
type JobFunc func(ctx context.Context) error

type Scheduler struct {
	jobs   map[string]*Job // job name -> job
	mu     sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type Job struct {
	name     string
	interval time.Duration
	run      JobFunc
	ticker   *time.Ticker
	cancel   context.CancelFunc

	mu      sync.Mutex
	runs    int
	lastRun time.Time
	lastErr error
}

// NewScheduler initializes a scheduler whose jobs stop when parent is done.
func NewScheduler(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Stop cancels every job and waits for in-flight runs to return
func (s *Scheduler) Stop() {
	log.Println("scheduler: stopping...")
	s.cancel()

	s.mu.Lock()
	for _, job := range s.jobs {
		job.ticker.Stop()
		job.cancel()
	}
	s.jobs = make(map[string]*Job)
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("scheduler: stopped")
}

// AddJob schedules fn every interval, running it once immediately. A job
// with the same name is replaced.
func (s *Scheduler) AddJob(name string, interval time.Duration, fn JobFunc) {
	if interval <= 0 {
		log.Printf("scheduler: job %s has no interval, not scheduling", name)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		log.Printf("scheduler: stopped, not adding job %s", name)
		return
	}

	if existing, exists := s.jobs[name]; exists {
		existing.ticker.Stop()
		existing.cancel()
	}

	jobCtx, jobCancel := context.WithCancel(s.ctx)

	job := &Job{
		name:     name,
		interval: interval,
		run:      fn,
		ticker:   time.NewTicker(interval),
		cancel:   jobCancel,
	}

	s.jobs[name] = job

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.execute(jobCtx, job)
		s.runJob(jobCtx, job)
	}()

	log.Printf("scheduler: added job %s every %v with immediate run", name, interval)
}

func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[name]; exists {
		job.ticker.Stop()
		job.cancel()
		delete(s.jobs, name)
		log.Printf("scheduler: removed job %s", name)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	defer job.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-job.ticker.C:
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				log.Printf("scheduler: job %s panicked: %v", job.name, p)
			}
		}()
		return job.run(ctx)
	}()

	job.mu.Lock()
	job.runs++
	job.lastRun = start
	job.lastErr = err
	job.mu.Unlock()

	if err != nil {
		log.Printf("scheduler: job %s failed: %v", job.name, err)
	} else {
		log.Printf("scheduler: job %s finished in %v", job.name, time.Since(start))
	}
}

type JobStatus struct {
	Name      string    `json:"name"`
	Interval  string    `json:"interval"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"lastRun"`
	LastError string    `json:"lastError,omitempty"`
}

// GetStatus returns current scheduler status
func (s *Scheduler) GetStatus() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		job.mu.Lock()
		status := JobStatus{
			Name:     job.name,
			Interval: job.interval.String(),
			Runs:     job.runs,
			LastRun:  job.lastRun,
		}
		if job.lastErr != nil {
			status.LastError = job.lastErr.Error()
		}
		job.mu.Unlock()

		statuses = append(statuses, status)
	}

	return statuses
}

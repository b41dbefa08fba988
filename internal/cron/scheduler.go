package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job represents a scheduled maintenance task.
type Job struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"` // cron expression or @every descriptor
	Enabled  bool   `json:"enabled"`

	task TaskFunc
}

// RunRecord tracks a job execution.
type RunRecord struct {
	JobID     string    `json:"jobId"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// TaskFunc is called when a job fires.
type TaskFunc func(ctx context.Context) error

const maxRuns = 1000

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs periodic jobs in the background.
type Scheduler struct {
	mu       sync.RWMutex
	cron     *cron.Cron
	jobs     map[string]*Job
	entryMap map[string]cron.EntryID // jobID → cron entry
	runs     []RunRecord
	seq      int

	// Timeout bounds a single execution.
	Timeout time.Duration
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithParser(parser)),
		jobs:     make(map[string]*Job),
		entryMap: make(map[string]cron.EntryID),
		Timeout:  5 * time.Minute,
	}
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.RLock()
	n := len(s.jobs)
	s.mu.RUnlock()
	slog.Info("cron scheduler started", "jobs", n)
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Validate reports whether schedule can be parsed.
func Validate(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Add schedules task under name.
func (s *Scheduler) Add(name, schedule string, task TaskFunc) (*Job, error) {
	if err := Validate(schedule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	job := &Job{
		ID:       fmt.Sprintf("cron_%d", s.seq),
		Name:     name,
		Schedule: schedule,
		Enabled:  true,
		task:     task,
	}
	if err := s.scheduleJob(job); err != nil {
		return nil, err
	}
	s.jobs[job.ID] = job
	return job, nil
}

// Reschedule changes the schedule of an existing job.
func (s *Scheduler) Reschedule(jobID, schedule string) error {
	if err := Validate(schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Schedule == schedule {
		return nil
	}
	if entryID, ok := s.entryMap[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, jobID)
	}
	job.Schedule = schedule
	return s.scheduleJob(job)
}

// Remove deletes a job.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if entryID, ok := s.entryMap[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, jobID)
	}
	delete(s.jobs, jobID)
	return nil
}

// List returns all jobs ordered by id.
func (s *Scheduler) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}

// Runs returns a copy of the execution history, oldest first.
func (s *Scheduler) Runs() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RunRecord(nil), s.runs...)
}

// RunNow executes a job synchronously.
func (s *Scheduler) RunNow(jobID string) error {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	return s.executeJob(job)
}

func (s *Scheduler) scheduleJob(job *Job) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		_ = s.executeJob(job)
	})
	if err != nil {
		slog.Error("failed to schedule job", "job", job.Name, "error", err)
		return err
	}
	s.entryMap[job.ID] = entryID
	return nil
}

func (s *Scheduler) executeJob(job *Job) error {
	start := time.Now()
	slog.Debug("cron job executing", "job", job.Name)

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	err := job.task(ctx)
	duration := time.Since(start)

	record := RunRecord{
		JobID:     job.ID,
		StartedAt: start,
		Duration:  duration.String(),
		Success:   err == nil,
	}
	if err != nil {
		record.Error = err.Error()
		slog.Error("cron job failed", "job", job.Name, "error", err, "duration", duration)
	} else {
		slog.Debug("cron job completed", "job", job.Name, "duration", duration)
	}

	s.mu.Lock()
	s.runs = append(s.runs, record)
	if len(s.runs) > maxRuns {
		s.runs = s.runs[len(s.runs)-maxRuns/2:]
	}
	s.mu.Unlock()
	return err
}

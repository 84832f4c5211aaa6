// Package scheduler manages the engine's job lifecycle.
//
// Crypto markets trade continuously, so unlike the teacher's NSE-hours
// scheduler there is no "is the market open" gate — jobs run on cron
// cadence alone:
//
// Nightly jobs:
//   - Check that the trading universe's symbols still return spot prices
//
// Cycle jobs (hourly, or whatever cadence the operator configures):
//   - Run the selector and feed candidates into the controller
//   - Refresh holdings, evaluate exits, admit/rotate entries
//
// Weekly jobs:
//   - Prune stale watchlist/performance-tracker rows
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// JobType categorizes when a job should run.
type JobType string

const (
	JobTypeNightly JobType = "NIGHTLY"
	JobTypeCycle   JobType = "CYCLE"
	JobTypeWeekly  JobType = "WEEKLY"
)

// Job represents a scheduled task.
type Job struct {
	Name    string
	Type    JobType
	RunFunc func(ctx context.Context) error
}

// Scheduler manages and executes jobs on a cron cadence.
type Scheduler struct {
	jobs   []Job
	logger *log.Logger
	cron   *cron.Cron
}

// New creates a new scheduler.
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Scheduler{
		logger: logger,
		cron:   cron.New(),
	}
}

// RegisterJob adds a job to the scheduler.
func (s *Scheduler) RegisterJob(job Job) {
	s.jobs = append(s.jobs, job)
	s.logger.Printf("[scheduler] registered job: %s (type: %s)", job.Name, job.Type)
}

// StartCron wires the nightly and cycle job groups onto cron expressions
// and starts the cron goroutine. Weekly jobs are scheduled separately
// since their cadence ("Sunday 02:00") differs in shape from the other
// two. ctx is the background context passed to every job invocation;
// an empty expression skips that job group entirely.
func (s *Scheduler) StartCron(ctx context.Context, nightlyExpr, cycleExpr, weeklyExpr string) error {
	if nightlyExpr != "" {
		if _, err := s.cron.AddFunc(nightlyExpr, func() {
			if err := s.RunNightlyJobs(ctx); err != nil {
				s.logger.Printf("[scheduler] nightly cron run failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduler: invalid nightly cron expression %q: %w", nightlyExpr, err)
		}
	}
	if cycleExpr != "" {
		if _, err := s.cron.AddFunc(cycleExpr, func() {
			if err := s.RunCycleJobs(ctx); err != nil {
				s.logger.Printf("[scheduler] cycle cron run failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduler: invalid cycle cron expression %q: %w", cycleExpr, err)
		}
	}
	if weeklyExpr != "" {
		if _, err := s.cron.AddFunc(weeklyExpr, func() {
			if err := s.RunWeeklyJobs(ctx); err != nil {
				s.logger.Printf("[scheduler] weekly cron run failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduler: invalid weekly cron expression %q: %w", weeklyExpr, err)
		}
	}
	s.cron.Start()
	return nil
}

// StopCron stops the cron goroutine and waits for any running job to finish.
func (s *Scheduler) StopCron() {
	<-s.cron.Stop().Done()
}

// RunNightlyJobs executes all nightly jobs in sequence. A failure aborts
// the remaining nightly jobs.
func (s *Scheduler) RunNightlyJobs(ctx context.Context) error {
	s.logger.Println("[scheduler] starting nightly job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeNightly {
			continue
		}

		s.logger.Printf("[scheduler] running nightly job: %s", job.Name)
		start := time.Now()

		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED nightly job %s: %v", job.Name, err)
			return fmt.Errorf("nightly job %s failed: %w", job.Name, err)
		}

		s.logger.Printf("[scheduler] completed nightly job %s in %v", job.Name, time.Since(start))
	}

	s.logger.Println("[scheduler] nightly job cycle complete")
	return nil
}

// RunCycleJobs executes the trading-cycle jobs (selector -> controller).
// Crypto trades 24/7, so unlike the teacher's market-hour jobs there is
// no open/closed gate; individual job failures are logged and do not
// stop the remaining jobs in the cycle.
func (s *Scheduler) RunCycleJobs(ctx context.Context) error {
	s.logger.Println("[scheduler] starting trading cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeCycle {
			continue
		}

		s.logger.Printf("[scheduler] running cycle job: %s", job.Name)
		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED cycle job %s: %v", job.Name, err)
		}
	}

	s.logger.Println("[scheduler] trading cycle complete")
	return nil
}

// RunWeeklyJobs executes weekly maintenance jobs.
func (s *Scheduler) RunWeeklyJobs(ctx context.Context) error {
	s.logger.Println("[scheduler] starting weekly job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeWeekly {
			continue
		}

		s.logger.Printf("[scheduler] running weekly job: %s", job.Name)
		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED weekly job %s: %v", job.Name, err)
			return fmt.Errorf("weekly job %s failed: %w", job.Name, err)
		}
	}

	s.logger.Println("[scheduler] weekly job cycle complete")
	return nil
}

// Status returns a human-readable summary of registered jobs and the next
// scheduled cron run, for the CLI's "status" mode.
func (s *Scheduler) Status() string {
	counts := map[JobType]int{}
	for _, j := range s.jobs {
		counts[j.Type]++
	}

	status := fmt.Sprintf("jobs: nightly=%d cycle=%d weekly=%d",
		counts[JobTypeNightly], counts[JobTypeCycle], counts[JobTypeWeekly])

	entries := s.cron.Entries()
	if len(entries) > 0 {
		status += fmt.Sprintf(", next_run=%s", entries[0].Next.Format(time.RFC3339))
	}
	return status
}

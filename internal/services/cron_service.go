package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService runs the optional background jobs: hold sweeping and stale
// payment reconciliation. Inline sweeping on every hold operation does not depend on it.
type CronService struct {
	cron           *cron.Cron
	sweeper        *ExpirySweeper
	reconciliation *ReconciliationService
	logger         *logrus.Logger
	jobTimeout     time.Duration

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewCronService creates a new CronService
func NewCronService(sweeper *ExpirySweeper, reconciliation *ReconciliationService, logger *logrus.Logger) *CronService {
	// Seconds are optional so both "0 */5 * * * *" and "@every 1m" parse
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronService{
		cron:           cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sweeper:        sweeper,
		reconciliation: reconciliation,
		logger:         logger,
		jobTimeout:     2 * time.Minute,
		jobs:           make(map[string]cron.EntryID),
	}
}

// Start schedules the jobs whose spec is non-empty and starts the scheduler
func (s *CronService) Start(sweepSchedule, pendingSchedule string) error {
	if sweepSchedule != "" {
		if err := s.schedule("sweep_holds", sweepSchedule, s.sweepHoldsJob); err != nil {
			return err
		}
	}
	if pendingSchedule != "" && s.reconciliation != nil {
		if err := s.schedule("reconcile_pending", pendingSchedule, s.reconcilePendingJob); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.WithField("job_count", len(s.jobs)).Info("Cron service started")
	return nil
}

func (s *CronService) schedule(name, spec string, job func()) error {
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("failed to schedule %s job (%q): %w", name, spec, err)
	}
	s.mu.Lock()
	s.jobs[name] = id
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("Scheduled background job")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) sweepHoldsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.WithError(err).Error("[CRON] Hold sweep failed")
	}
}

func (s *CronService) reconcilePendingJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	start := time.Now()
	summary, err := s.reconciliation.ReconcilePendingPayments(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Pending payment reconciliation failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"checked":  summary.Checked,
		"applied":  summary.Applied,
		"duration": time.Since(start).String(),
	}).Debug("[CRON] Pending payment reconciliation done")
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]map[string]interface{}, 0, len(s.jobs))
	for name, id := range s.jobs {
		entry := s.cron.Entry(id)
		jobs = append(jobs, map[string]interface{}{
			"name":     name,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(jobs) > 0,
		"job_count": len(jobs),
		"jobs":      jobs,
	}
}

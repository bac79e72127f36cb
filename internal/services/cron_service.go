package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aloy/roommate-booking/internal/config"
	"github.com/aloy/roommate-booking/internal/database"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Schedules use the seconds-precision cron format:
// second minute hour day month weekday
const (
	expirePaymentsSchedule = "0 * * * * *"
	orphanGroupsSchedule   = "30 */5 * * * *"
	jobTimeout             = 2 * time.Minute
)

// MaintenanceResult summarises one pass of the maintenance jobs
type MaintenanceResult struct {
	PaymentsExpired int `json:"payments_expired"`
	GroupsCancelled int `json:"groups_cancelled"`
}

// CronService manages scheduled background jobs
type CronService struct {
	cron        *cron.Cron
	paymentRepo *database.PaymentRepository
	coordinator *BookingCoordinatorService
	config      config.BookingConfig
	logger      *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(
	paymentRepo *database.PaymentRepository,
	coordinator *BookingCoordinatorService,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *CronService {
	return &CronService{
		cron:        cron.New(cron.WithSeconds()),
		paymentRepo: paymentRepo,
		coordinator: coordinator,
		config:      cfg,
		logger:      logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	// Job 1: expire abandoned PENDING payments, every minute
	if _, err := s.cron.AddFunc(expirePaymentsSchedule, s.expirePendingPaymentsJob); err != nil {
		return fmt.Errorf("failed to schedule payment expiry job: %w", err)
	}
	s.logger.WithField("schedule", expirePaymentsSchedule).Info("Scheduled: expire pending payments")

	// Job 2: cancel groups whose apartment is already rented, every 5 minutes
	if _, err := s.cron.AddFunc(orphanGroupsSchedule, s.cancelOrphanedGroupsJob); err != nil {
		return fmt.Errorf("failed to schedule orphaned groups job: %w", err)
	}
	s.logger.WithField("schedule", orphanGroupsSchedule).Info("Scheduled: cancel orphaned groups")

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// ExpirePendingPayments cancels PENDING payments older than the pending TTL
func (s *CronService) ExpirePendingPayments(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.config.PaymentPendingTTL)
	return s.paymentRepo.CancelStalePending(ctx, cutoff)
}

// RunOnce runs every maintenance job immediately. A failing job does not
// stop the next one; the first error is returned.
func (s *CronService) RunOnce(ctx context.Context) (*MaintenanceResult, error) {
	result := &MaintenanceResult{}
	var firstErr error

	expired, err := s.ExpirePendingPayments(ctx)
	if err != nil {
		firstErr = err
	}
	result.PaymentsExpired = expired

	cancelled, err := s.coordinator.CancelOrphanedGroups(ctx)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	result.GroupsCancelled = cancelled

	return result, firstErr
}

func (s *CronService) expirePendingPaymentsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	startTime := time.Now()
	expired, err := s.ExpirePendingPayments(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Failed to expire pending payments")
		return
	}
	if expired > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired":  expired,
			"duration": time.Since(startTime).String(),
		}).Info("[CRON] Expired pending payments")
	}
}

func (s *CronService) cancelOrphanedGroupsJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	startTime := time.Now()
	cancelled, err := s.coordinator.CancelOrphanedGroups(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("cancelled", cancelled).Error("[CRON] Failed to cancel orphaned groups")
		return
	}
	if cancelled > 0 {
		s.logger.WithFields(logrus.Fields{
			"cancelled": cancelled,
			"duration":  time.Since(startTime).String(),
		}).Info("[CRON] Cancelled orphaned groups")
	}
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}

package background

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oursfolio/oursfolio/internal/tasks"
)

// LockSweeper clears lockout windows that have already expired
type LockSweeper interface {
	SweepExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// Housekeeper runs the scheduled maintenance jobs: the nightly sweep of
// expired locks (housekeeping only; the login path unlocks lazily and never
// waits for this) and the daily report dispatch.
type Housekeeper struct {
	sweeper LockSweeper
	queue   *tasks.Queue
	cron    *cron.Cron
	logger  *slog.Logger
}

func NewHousekeeper(sweeper LockSweeper, queue *tasks.Queue, logger *slog.Logger) *Housekeeper {
	return &Housekeeper{
		sweeper: sweeper,
		queue:   queue,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Schedule registers both jobs with their cron expressions
func (h *Housekeeper) Schedule(lockSweepSpec, dailyReportSpec string) error {
	if _, err := h.cron.AddFunc(lockSweepSpec, h.runLockSweep); err != nil {
		return fmt.Errorf("invalid lock sweep schedule %q: %w", lockSweepSpec, err)
	}
	if _, err := h.cron.AddFunc(dailyReportSpec, h.enqueueDailyReport); err != nil {
		return fmt.Errorf("invalid daily report schedule %q: %w", dailyReportSpec, err)
	}
	return nil
}

// Start begins running the scheduled jobs
func (h *Housekeeper) Start() {
	h.cron.Start()
	h.logger.Info("housekeeping scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish
func (h *Housekeeper) Stop() {
	ctx := h.cron.Stop()
	<-ctx.Done()
	h.logger.Info("housekeeping scheduler stopped")
}

func (h *Housekeeper) runLockSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	swept, err := h.sweeper.SweepExpiredLocks(ctx, time.Now())
	if err != nil {
		h.logger.Error("lock sweep failed", slog.Any("error", err))
		return
	}

	if swept > 0 {
		h.logger.Info("expired locks swept", slog.Int64("accounts", swept))
	}
}

func (h *Housekeeper) enqueueDailyReport() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	since := time.Now().Add(-24 * time.Hour)
	err := h.queue.Enqueue(ctx, tasks.TypeDailyReport, tasks.DailyReportPayload{Since: since})
	if err != nil {
		h.logger.Error("failed to enqueue daily report", slog.Any("error", err))
		return
	}

	h.logger.Info("daily report enqueued")
}

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// EmailSender is the slice of the mail service the task handlers need
type EmailSender interface {
	SendWelcomeEmail(ctx context.Context, email string) error
	SendSecurityAlert(ctx context.Context, email, ipAddress string, lockedUntil time.Time) error
	SendDailyReport(ctx context.Context, since time.Time, totalAttempts, failedAttempts, accountCount, lockedAccounts int64) error
}

// AccountStats provides account-level counts for the daily report
type AccountStats interface {
	Count(ctx context.Context) (int64, error)
	CountLocked(ctx context.Context, now time.Time) (int64, error)
}

// AttemptStats provides login-attempt counts for the daily report
type AttemptStats interface {
	CountSince(ctx context.Context, since time.Time) (total int64, failed int64, err error)
}

// Handlers holds the task handler implementations and their dependencies
type Handlers struct {
	email    EmailSender
	accounts AccountStats
	attempts AttemptStats
	logger   *slog.Logger
}

func NewHandlers(email EmailSender, accounts AccountStats, attempts AttemptStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		email:    email,
		accounts: accounts,
		attempts: attempts,
		logger:   logger,
	}
}

// RegisterAll binds every handler to its task type
func (h *Handlers) RegisterAll(w *Worker) {
	w.Register(TypeWelcomeEmail, h.HandleWelcomeEmail)
	w.Register(TypeSecurityAlert, h.HandleSecurityAlert)
	w.Register(TypeDailyReport, h.HandleDailyReport)
}

// HandleWelcomeEmail greets a freshly provisioned account
func (h *Handlers) HandleWelcomeEmail(ctx context.Context, payload []byte) error {
	var welcome WelcomeEmailPayload
	if err := json.Unmarshal(payload, &welcome); err != nil {
		return fmt.Errorf("failed to unmarshal welcome email payload: %w", err)
	}

	if err := h.email.SendWelcomeEmail(ctx, welcome.Email); err != nil {
		return err
	}

	h.logger.Info("welcome email sent", slog.String("account_id", welcome.AccountID))
	return nil
}

// HandleSecurityAlert mails the account holder about a fresh lockout
func (h *Handlers) HandleSecurityAlert(ctx context.Context, payload []byte) error {
	var alert SecurityAlertPayload
	if err := json.Unmarshal(payload, &alert); err != nil {
		return fmt.Errorf("failed to unmarshal security alert payload: %w", err)
	}

	if err := h.email.SendSecurityAlert(ctx, alert.Email, alert.IPAddress, alert.LockedUntil); err != nil {
		return err
	}

	h.logger.Info("security alert sent", slog.String("account_id", alert.AccountID))
	return nil
}

// HandleDailyReport gathers attempt and lock counts and mails the summary
func (h *Handlers) HandleDailyReport(ctx context.Context, payload []byte) error {
	var report DailyReportPayload
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("failed to unmarshal daily report payload: %w", err)
	}

	total, failed, err := h.attempts.CountSince(ctx, report.Since)
	if err != nil {
		return fmt.Errorf("failed to count login attempts: %w", err)
	}

	accounts, err := h.accounts.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count accounts: %w", err)
	}

	locked, err := h.accounts.CountLocked(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to count locked accounts: %w", err)
	}

	return h.email.SendDailyReport(ctx, report.Since, total, failed, accounts, locked)
}

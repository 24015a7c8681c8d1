package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oursfolio/oursfolio/internal/auth"
	"github.com/oursfolio/oursfolio/internal/models"
	pkglogger "github.com/oursfolio/oursfolio/pkg/logger"
)

const defaultHistoryLimit = 50

// TwoFactorService manages TOTP enrollment for authenticated accounts and
// exposes the login history trail.
type TwoFactorService struct {
	accounts    AccountRepository
	history     LoginHistoryRepository
	totp        *auth.TOTPManager
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(
	accounts AccountRepository,
	history LoginHistoryRepository,
	totp *auth.TOTPManager,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *TwoFactorService {
	return &TwoFactorService{
		accounts:    accounts,
		history:     history,
		totp:        totp,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// TwoFactorSetupResponse carries the enrollment material for an authenticator app
type TwoFactorSetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

// LoginHistoryResponse represents one login attempt in HTTP responses
type LoginHistoryResponse struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	LoginTime string `json:"login_time"`
	Success   bool   `json:"success"`
}

// Setup begins (or resumes) TOTP enrollment. A secret that already exists is
// reused so the call can be retried before confirmation without invalidating
// a code the user is about to enter. The enabled flag is not touched here;
// only Confirm flips it.
func (s *TwoFactorService) Setup(ctx context.Context, accountID string) (*TwoFactorSetupResponse, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get account for 2fa setup", slog.Any("error", err))
		return nil, models.ErrInternal
	}

	var secret string
	if acct.HasTwoFactorSecret() {
		secret, err = s.totp.DecryptSecret(acct.TwoFactorSecret, acct.TwoFactorNonce)
		if err != nil {
			s.logger.Error("failed to decrypt existing totp secret", slog.String("account_id", acct.ID), slog.Any("error", err))
			return nil, models.ErrInternal
		}
	} else {
		secret, err = s.totp.GenerateSecret(acct.Email)
		if err != nil {
			s.logger.Error("failed to generate totp secret", slog.String("account_id", acct.ID), slog.Any("error", err))
			return nil, models.ErrInternal
		}

		ciphertext, nonce, err := s.totp.EncryptSecret(secret)
		if err != nil {
			s.logger.Error("failed to encrypt totp secret", slog.String("account_id", acct.ID), slog.Any("error", err))
			return nil, models.ErrInternal
		}

		acct.TwoFactorSecret = ciphertext
		acct.TwoFactorNonce = nonce
		if _, err := s.accounts.UpdateTwoFactor(ctx, acct); err != nil {
			s.logger.Error("failed to persist totp secret", slog.String("account_id", acct.ID), slog.Any("error", err))
			return nil, models.ErrInternal
		}
	}

	uri := s.totp.ProvisioningURI(secret, acct.Email)
	qr, err := s.totp.QRCodeDataURL(uri)
	if err != nil {
		s.logger.Error("failed to render qr code", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	s.logger.Info("2fa setup started", slog.String("account_id", acct.ID))
	s.auditLogger.LogAccountAction(pkglogger.EventTwoFactorSetup, acct.ID)

	return &TwoFactorSetupResponse{
		Secret:          secret,
		ProvisioningURI: uri,
		QRCode:          qr,
	}, nil
}

// Confirm verifies a code against the pending secret and enables 2FA.
// This is the only path that sets the enabled flag.
func (s *TwoFactorService) Confirm(ctx context.Context, accountID, code string) error {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to get account for 2fa confirmation", slog.Any("error", err))
		return models.ErrInternal
	}

	if !acct.HasTwoFactorSecret() {
		s.logger.Info("2fa confirmation without enrollment", slog.String("account_id", acct.ID))
		return models.ErrInvalidToken
	}

	secret, err := s.totp.DecryptSecret(acct.TwoFactorSecret, acct.TwoFactorNonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret", slog.String("account_id", acct.ID), slog.Any("error", err))
		return models.ErrInternal
	}

	valid, err := s.totp.ValidateCode(secret, code)
	if err != nil {
		s.logger.Error("totp validation error", slog.String("account_id", acct.ID), slog.Any("error", err))
		return models.ErrInternal
	}
	if !valid {
		s.logger.Info("2fa confirmation failed: invalid code", slog.String("account_id", acct.ID))
		return models.ErrInvalidToken
	}

	acct.TwoFactorEnabled = true
	if _, err := s.accounts.UpdateTwoFactor(ctx, acct); err != nil {
		s.logger.Error("failed to enable 2fa", slog.String("account_id", acct.ID), slog.Any("error", err))
		return models.ErrInternal
	}

	s.logger.Info("2fa enabled", slog.String("account_id", acct.ID))
	s.auditLogger.LogAccountAction(pkglogger.EventTwoFactorOn, acct.ID)

	return nil
}

// Disable clears the secret and turns the flag off. No code re-verification
// is required; any authenticated caller can disable their own 2FA.
func (s *TwoFactorService) Disable(ctx context.Context, accountID string) error {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to get account for 2fa disable", slog.Any("error", err))
		return models.ErrInternal
	}

	acct.TwoFactorEnabled = false
	acct.TwoFactorSecret = nil
	acct.TwoFactorNonce = nil
	if _, err := s.accounts.UpdateTwoFactor(ctx, acct); err != nil {
		s.logger.Error("failed to disable 2fa", slog.String("account_id", acct.ID), slog.Any("error", err))
		return models.ErrInternal
	}

	s.logger.Info("2fa disabled", slog.String("account_id", acct.ID))
	s.auditLogger.LogAccountAction(pkglogger.EventTwoFactorOff, acct.ID)

	return nil
}

// History returns the most recent login attempts for the calling account
func (s *TwoFactorService) History(ctx context.Context, accountID string, limit int) ([]*LoginHistoryResponse, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}

	entries, err := s.history.ListByAccount(ctx, accountID, limit)
	if err != nil {
		s.logger.Error("failed to list login history", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	responses := make([]*LoginHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, &LoginHistoryResponse{
			IPAddress: entry.IPAddress,
			UserAgent: entry.UserAgent,
			LoginTime: entry.LoginTime.UTC().Format(time.RFC3339),
			Success:   entry.Success,
		})
	}

	return responses, nil
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oursfolio/oursfolio/internal/auth"
	"github.com/oursfolio/oursfolio/internal/models"
	"github.com/oursfolio/oursfolio/internal/tasks"
	pkgauth "github.com/oursfolio/oursfolio/pkg/auth"
	pkglogger "github.com/oursfolio/oursfolio/pkg/logger"
)

// Retries for the optimistic security-state update before giving up
const maxSecurityStateRetries = 5

// AccountRepository defines the persistence interface for account security state
type AccountRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	UpdateSecurityState(ctx context.Context, acct *models.Account) (*models.Account, error)
	UpdateTwoFactor(ctx context.Context, acct *models.Account) (*models.Account, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// LoginHistoryRepository defines the append-only login trail interface
type LoginHistoryRepository interface {
	Record(ctx context.Context, entry *models.LoginHistoryEntry) (*models.LoginHistoryEntry, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.LoginHistoryEntry, error)
}

// TaskQueue defines the fire-and-forget dispatch interface for background work
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}) error
}

// AuthService drives the two-step login protocol: password check with
// lockout accounting, then an optional TOTP step for enrolled accounts.
type AuthService struct {
	accounts    AccountRepository
	history     LoginHistoryRepository
	lockout     auth.LockoutPolicy
	tm          *auth.TokenManager
	totp        *auth.TOTPManager
	queue       TaskQueue
	opDeadline  time.Duration
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	accounts AccountRepository,
	history LoginHistoryRepository,
	lockout auth.LockoutPolicy,
	tm *auth.TokenManager,
	totp *auth.TOTPManager,
	queue TaskQueue,
	opDeadline time.Duration,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		accounts:    accounts,
		history:     history,
		lockout:     lockout,
		tm:          tm,
		totp:        totp,
		queue:       queue,
		opDeadline:  opDeadline,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// LoginRequest carries one credential submission
type LoginRequest struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// TwoFactorLoginRequest completes a login left pending by a 2FA-enabled account
type TwoFactorLoginRequest struct {
	AccountID string
	Code      string
	IPAddress string
	UserAgent string
}

// AccountResponse represents an account in HTTP responses. The password hash
// and TOTP secret are never serialized outward.
type AccountResponse struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	TwoFactorEnabled bool    `json:"two_factor_enabled"`
	LastLogin        *string `json:"last_login,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// LoginResponse is the outcome of a credential submission. When the account
// has 2FA enabled, Requires2FA is set and no tokens are present; the client
// finishes the login with a TwoFactorLoginRequest.
type LoginResponse struct {
	Requires2FA  bool             `json:"requires_2fa"`
	AccountID    string           `json:"account_id,omitempty"`
	AccessToken  string           `json:"access_token,omitempty"`
	RefreshToken string           `json:"refresh_token,omitempty"`
	Account      *AccountResponse `json:"account,omitempty"`
}

// Login runs step one of the login protocol. Outcomes:
//   - unknown email or wrong password: ErrInvalidCredentials (identical either way)
//   - active lockout window: ErrAccountLocked
//   - correct password, 2FA enabled: Requires2FA response, no tokens yet
//   - correct password, no 2FA: token pair plus profile
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opDeadline)
	defer cancel()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, models.ErrInvalidCredentials
	}

	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Unknown email: same outcome as a wrong password, and no
			// history entry since there is no account to attribute it to.
			// The masked address is the only attribution available.
			s.logger.Info("login failed: invalid credentials",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     pkglogger.EventLoginFailed,
				IPAddress:     req.IPAddress,
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get account by email", slog.Any("error", err))
		return nil, models.ErrInternal
	}

	// Lockout gate. Reading the lock state is not itself an attempt, so a
	// locked outcome mutates nothing and writes no history.
	now := time.Now()
	locked, cleared, changed := s.lockout.IsLocked(*acct, now)
	if locked {
		s.logger.Info("login blocked: account locked", slog.String("account_id", acct.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginLocked,
			AccountID:     acct.ID,
			IPAddress:     req.IPAddress,
			FailureReason: "account_locked",
			Success:       false,
		})
		return nil, models.ErrAccountLocked
	}
	if changed {
		// Lock window expired: persist the lazily cleared state. A concurrent
		// attempt may have re-locked the account in the conflict window, in
		// which case the fresh snapshot wins and no write happens.
		acct, err = s.persistSecurityState(ctx, &cleared, func(fresh models.Account) (models.Account, bool) {
			freshLocked, unlocked, freshChanged := s.lockout.IsLocked(fresh, time.Now())
			if freshLocked || !freshChanged {
				return fresh, false
			}
			return unlocked, true
		})
		if err != nil {
			s.logger.Error("failed to clear expired lock", slog.String("account_id", cleared.ID), slog.Any("error", err))
			return nil, models.ErrInternal
		}
		if stillLocked, _, _ := s.lockout.IsLocked(*acct, time.Now()); stillLocked {
			s.logger.Info("login blocked: account locked", slog.String("account_id", acct.ID))
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     pkglogger.EventLoginLocked,
				AccountID:     acct.ID,
				IPAddress:     req.IPAddress,
				FailureReason: "account_locked",
				Success:       false,
			})
			return nil, models.ErrAccountLocked
		}
	}

	// Password check
	if err := pkgauth.ComparePassword(acct.PasswordHash, req.Password); err != nil {
		return nil, s.handleFailedPassword(ctx, acct, req.IPAddress, req.UserAgent)
	}

	// Correct password: reset the failure counter before anything else
	reset := s.lockout.RecordSuccess(*acct)
	acct, err = s.persistSecurityState(ctx, &reset, func(fresh models.Account) (models.Account, bool) {
		return s.lockout.RecordSuccess(fresh), true
	})
	if err != nil {
		s.logger.Error("failed to reset failure counter", slog.String("account_id", reset.ID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	// 2FA-enabled accounts stop here. The login is not complete, so no
	// tokens are issued and no success history is written yet.
	if acct.TwoFactorEnabled {
		s.logger.Info("login pending 2fa", slog.String("account_id", acct.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: pkglogger.EventLoginPending2FA,
			AccountID: acct.ID,
			IPAddress: req.IPAddress,
			Success:   true,
		})
		return &LoginResponse{
			Requires2FA: true,
			AccountID:   acct.ID,
		}, nil
	}

	return s.completeLogin(ctx, acct, req.IPAddress, req.UserAgent)
}

// VerifyTwoFactor runs step two for an account left in the pending state.
// The code is checked against the stored secret; failures do not touch the
// lockout counters.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, req TwoFactorLoginRequest) (*LoginResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opDeadline)
	defer cancel()

	acct, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get account for 2fa verification", slog.Any("error", err))
		return nil, models.ErrInternal
	}

	if !acct.TwoFactorEnabled || !acct.HasTwoFactorSecret() {
		s.logger.Warn("2fa verification against account without 2fa", slog.String("account_id", acct.ID))
		return nil, models.ErrInvalidToken
	}

	secret, err := s.totp.DecryptSecret(acct.TwoFactorSecret, acct.TwoFactorNonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	valid, err := s.totp.ValidateCode(secret, req.Code)
	if err != nil {
		s.logger.Error("totp validation error", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternal
	}
	if !valid {
		s.logger.Info("2fa verification failed", slog.String("account_id", acct.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginFailed,
			AccountID:     acct.ID,
			IPAddress:     req.IPAddress,
			FailureReason: "invalid_token",
			Success:       false,
		})
		return nil, models.ErrInvalidToken
	}

	return s.completeLogin(ctx, acct, req.IPAddress, req.UserAgent)
}

// RefreshToken exchanges a valid refresh token for a new token pair
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*LoginResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opDeadline)
	defer cancel()

	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshToken)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}
	if claims.Type != "refresh" {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("account_id", claims.AccountID))
		return nil, models.ErrUnauthorized
	}

	acct, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get account for token refresh", slog.Any("error", err))
		return nil, models.ErrInternal
	}

	if locked, _, _ := s.lockout.IsLocked(*acct, time.Now()); locked {
		s.logger.Info("token refresh blocked: account locked", slog.String("account_id", acct.ID))
		return nil, models.ErrUnauthorized
	}

	pair, err := s.tm.IssueTokenPair(acct.ID, acct.Email)
	if err != nil {
		s.logger.Error("failed to issue token pair", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	s.auditLogger.LogAccountAction(pkglogger.EventTokenRefreshed, acct.ID)

	return &LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Account:      accountModelToResponse(acct),
	}, nil
}

// handleFailedPassword records one failed attempt and, when the threshold
// trips, dispatches a security alert. Always returns ErrInvalidCredentials
// unless the security state could not be persisted.
func (s *AuthService) handleFailedPassword(ctx context.Context, acct *models.Account, ip, agent string) error {
	wasLocked := acct.LockedUntil != nil

	failed := s.lockout.RecordFailure(*acct, time.Now())
	updated, err := s.persistSecurityState(ctx, &failed, func(fresh models.Account) (models.Account, bool) {
		// A concurrent attempt may have locked the account while we raced;
		// recording another failure would stretch the lock window.
		if locked, _, _ := s.lockout.IsLocked(fresh, time.Now()); locked {
			return fresh, false
		}
		return s.lockout.RecordFailure(fresh, time.Now()), true
	})
	if err != nil {
		s.logger.Error("failed to record login failure", slog.String("account_id", acct.ID), slog.Any("error", err))
		return models.ErrInternal
	}

	// Secondary path: isolated, the attempt outcome stands regardless
	s.recordHistory(ctx, updated.ID, ip, agent, false)

	s.logger.Info("login failed: invalid credentials",
		slog.String("account_id", updated.ID),
		slog.Int("login_attempts", updated.LoginAttempts))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     pkglogger.EventLoginFailed,
		AccountID:     updated.ID,
		IPAddress:     ip,
		UserAgent:     agent,
		FailureReason: "invalid_credentials",
		Success:       false,
	})

	if !wasLocked && updated.LockedUntil != nil {
		s.notifyLocked(ctx, updated, ip)
	}

	return models.ErrInvalidCredentials
}

// completeLogin issues tokens and records the successful attempt. Shared by
// the no-2FA path and the 2FA completion path so "success" is logged exactly
// once per login.
func (s *AuthService) completeLogin(ctx context.Context, acct *models.Account, ip, agent string) (*LoginResponse, error) {
	pair, err := s.tm.IssueTokenPair(acct.ID, acct.Email)
	if err != nil {
		s.logger.Error("failed to issue token pair", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternal
	}

	// Secondary path: best effort only from here on
	s.recordHistory(ctx, acct.ID, ip, agent, true)

	now := time.Now()
	if err := s.accounts.UpdateLastLogin(ctx, acct.ID, now); err != nil {
		s.logger.Error("failed to update last login", slog.String("account_id", acct.ID), slog.Any("error", err))
	} else {
		acct.LastLogin = &now
	}

	s.logger.Info("login succeeded", slog.String("account_id", acct.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginSuccess,
		AccountID: acct.ID,
		IPAddress: ip,
		UserAgent: agent,
		Success:   true,
	})

	return &LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Account:      accountModelToResponse(acct),
	}, nil
}

// persistSecurityState writes lockout counters under the optimistic version
// check, retrying on conflict. reapply recomputes the transition against a
// freshly loaded snapshot; returning false skips the write and keeps the
// fresh snapshot as the result.
func (s *AuthService) persistSecurityState(
	ctx context.Context,
	acct *models.Account,
	reapply func(fresh models.Account) (models.Account, bool),
) (*models.Account, error) {
	pending := *acct
	for attempt := 0; attempt < maxSecurityStateRetries; attempt++ {
		updated, err := s.accounts.UpdateSecurityState(ctx, &pending)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, err
		}

		fresh, err := s.accounts.GetByID(ctx, pending.ID)
		if err != nil {
			return nil, err
		}

		next, write := reapply(*fresh)
		if !write {
			return fresh, nil
		}
		pending = next
	}

	return nil, models.ErrConflict
}

func (s *AuthService) recordHistory(ctx context.Context, accountID, ip, agent string, success bool) {
	_, err := s.history.Record(ctx, &models.LoginHistoryEntry{
		AccountID: accountID,
		IPAddress: ip,
		UserAgent: agent,
		LoginTime: time.Now(),
		Success:   success,
	})
	if err != nil {
		s.logger.Error("failed to record login history",
			slog.String("account_id", accountID),
			slog.Any("error", err))
	}
}

func (s *AuthService) notifyLocked(ctx context.Context, acct *models.Account, ip string) {
	if s.queue == nil || acct.LockedUntil == nil {
		return
	}

	err := s.queue.Enqueue(ctx, tasks.TypeSecurityAlert, tasks.SecurityAlertPayload{
		AccountID:   acct.ID,
		Email:       acct.Email,
		IPAddress:   ip,
		LockedUntil: *acct.LockedUntil,
	})
	if err != nil {
		s.logger.Error("failed to enqueue security alert",
			slog.String("account_id", acct.ID),
			slog.Any("error", err))
	}
}

func accountModelToResponse(acct *models.Account) *AccountResponse {
	resp := &AccountResponse{
		ID:               acct.ID,
		Email:            acct.Email,
		TwoFactorEnabled: acct.TwoFactorEnabled,
		CreatedAt:        acct.CreatedAt.Format(time.RFC3339),
	}
	if acct.LastLogin != nil {
		lastLogin := acct.LastLogin.Format(time.RFC3339)
		resp.LastLogin = &lastLogin
	}
	return resp
}

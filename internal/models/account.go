package models

import (
	"time"
)

// Account holds the per-user security state the login flow operates on.
// TwoFactorSecret is stored encrypted (AES-256-GCM) together with its nonce;
// it is nil until 2FA enrollment has started.
type Account struct {
	ID               string
	Email            string
	PasswordHash     string
	TwoFactorEnabled bool
	TwoFactorSecret  []byte
	TwoFactorNonce   []byte
	LoginAttempts    int
	LastLoginAttempt *time.Time
	LockedUntil      *time.Time
	LastLogin        *time.Time
	// SecurityVersion is bumped on every security-state write and used for
	// optimistic concurrency on the login_attempts/locked_until columns.
	SecurityVersion int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasTwoFactorSecret reports whether enrollment has started (secret stored).
func (a *Account) HasTwoFactorSecret() bool {
	return len(a.TwoFactorSecret) > 0
}

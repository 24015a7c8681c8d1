package auth

import (
	"time"

	"github.com/oursfolio/oursfolio/internal/models"
)

// LockoutPolicy decides lockout transitions for an account. Methods are pure:
// they take an account snapshot and return a new one, leaving persistence to
// the caller. Threshold and Duration come from SecurityConfig.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// IsLocked reports whether the account is locked at `now`. An expired lock is
// cleared lazily here (counter reset, lock removed) rather than by a sweep
// job; `changed` tells the caller the cleared snapshot must be persisted.
func (p LockoutPolicy) IsLocked(acct models.Account, now time.Time) (locked bool, updated models.Account, changed bool) {
	if acct.LockedUntil == nil {
		return false, acct, false
	}

	if now.Before(*acct.LockedUntil) {
		return true, acct, false
	}

	// Lock window has passed: unlock and reset the counter.
	acct.LockedUntil = nil
	acct.LoginAttempts = 0
	return false, acct, true
}

// RecordFailure increments the failure counter and, once the threshold is
// reached, sets the lock expiry to now + Duration.
func (p LockoutPolicy) RecordFailure(acct models.Account, now time.Time) models.Account {
	acct.LoginAttempts++
	acct.LastLoginAttempt = &now

	if acct.LoginAttempts >= p.Threshold {
		lockedUntil := now.Add(p.Duration)
		acct.LockedUntil = &lockedUntil
	}

	return acct
}

// RecordSuccess resets all failure tracking after a fully completed login.
func (p LockoutPolicy) RecordSuccess(acct models.Account) models.Account {
	acct.LoginAttempts = 0
	acct.LastLoginAttempt = nil
	acct.LockedUntil = nil
	return acct
}

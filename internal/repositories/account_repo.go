package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oursfolio/oursfolio/internal/database"
	"github.com/oursfolio/oursfolio/internal/models"
)

// AccountRepository handles persistence of per-account security state
type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, email, password_hash, two_factor_enabled, two_factor_secret, two_factor_nonce,
	login_attempts, last_login_attempt, locked_until, last_login, security_version, created_at, updated_at`

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var acct models.Account

	err := scanner.Scan(
		&acct.ID, &acct.Email, &acct.PasswordHash,
		&acct.TwoFactorEnabled, &acct.TwoFactorSecret, &acct.TwoFactorNonce,
		&acct.LoginAttempts, &acct.LastLoginAttempt, &acct.LockedUntil,
		&acct.LastLogin, &acct.SecurityVersion,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &acct, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, email))
}

func (r *AccountRepository) Create(ctx context.Context, acct *models.Account) (*models.Account, error) {
	acct.ID = uuid.New().String()

	now := time.Now()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, email, password_hash, two_factor_enabled, two_factor_secret, two_factor_nonce,
			login_attempts, last_login_attempt, locked_until, last_login, security_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		acct.ID, acct.Email, acct.PasswordHash,
		acct.TwoFactorEnabled, acct.TwoFactorSecret, acct.TwoFactorNonce,
		acct.LoginAttempts, acct.LastLoginAttempt, acct.LockedUntil,
		acct.LastLogin, acct.SecurityVersion, acct.CreatedAt, acct.UpdatedAt,
	))
}

// UpdateSecurityState persists the lockout counters of a snapshot, guarded by
// an optimistic version check. Returns ErrConflict when another request wrote
// the account first; callers reload and retry so concurrent failures against
// one account are serialized and the lock triggers exactly at the threshold.
func (r *AccountRepository) UpdateSecurityState(ctx context.Context, acct *models.Account) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET login_attempts = $1, last_login_attempt = $2, locked_until = $3,
			security_version = security_version + 1, updated_at = $4
		WHERE id = $5 AND security_version = $6
		RETURNING ` + accountColumns

	updated, err := scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		acct.LoginAttempts, acct.LastLoginAttempt, acct.LockedUntil,
		time.Now(), acct.ID, acct.SecurityVersion,
	))
	if err != nil {
		if err == models.ErrNotFound {
			// Row exists but the version moved on
			return nil, models.ErrConflict
		}
		return nil, err
	}

	return updated, nil
}

// UpdateTwoFactor persists 2FA enrollment state (secret, nonce, enabled flag)
func (r *AccountRepository) UpdateTwoFactor(ctx context.Context, acct *models.Account) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET two_factor_enabled = $1, two_factor_secret = $2, two_factor_nonce = $3, updated_at = $4
		WHERE id = $5
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query,
		acct.TwoFactorEnabled, acct.TwoFactorSecret, acct.TwoFactorNonce,
		time.Now(), acct.ID,
	))
}

// UpdateLastLogin stamps the last successful login marker
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE accounts SET last_login = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Pool.Exec(ctx, query, at, time.Now(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SweepExpiredLocks clears locks whose window has passed. Housekeeping only:
// the login path unlocks lazily and never depends on this running.
func (r *AccountRepository) SweepExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE accounts
		SET locked_until = NULL, login_attempts = 0,
			security_version = security_version + 1, updated_at = $1
		WHERE locked_until IS NOT NULL AND locked_until < $1
	`

	result, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}

	return result.RowsAffected(), nil
}

// Count returns the total number of accounts (daily report)
func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count)
	return count, err
}

// CountLocked returns the number of accounts inside an active lockout window
func (r *AccountRepository) CountLocked(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM accounts WHERE locked_until IS NOT NULL AND locked_until > $1`
	err := r.db.Pool.QueryRow(ctx, query, now).Scan(&count)
	return count, err
}

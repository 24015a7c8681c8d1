package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oursfolio/oursfolio/internal/database"
	"github.com/oursfolio/oursfolio/internal/models"
)

// LoginHistoryRepository is an append-only record of authentication outcomes.
// Entries are never updated or deleted.
type LoginHistoryRepository struct {
	db *database.DB
}

func NewLoginHistoryRepository(db *database.DB) *LoginHistoryRepository {
	return &LoginHistoryRepository{db: db}
}

func (r *LoginHistoryRepository) Record(ctx context.Context, entry *models.LoginHistoryEntry) (*models.LoginHistoryEntry, error) {
	entry.ID = uuid.New().String()
	if entry.LoginTime.IsZero() {
		entry.LoginTime = time.Now()
	}

	query := `
		INSERT INTO login_history (id, account_id, ip_address, user_agent, login_time, success)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, account_id, ip_address, user_agent, login_time, success
	`

	var recorded models.LoginHistoryEntry
	err := r.db.Pool.QueryRow(ctx, query,
		entry.ID, entry.AccountID, entry.IPAddress, entry.UserAgent,
		entry.LoginTime, entry.Success,
	).Scan(
		&recorded.ID, &recorded.AccountID, &recorded.IPAddress,
		&recorded.UserAgent, &recorded.LoginTime, &recorded.Success,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &recorded, nil
}

// ListByAccount returns the most recent entries for an account, newest first
func (r *LoginHistoryRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.LoginHistoryEntry, error) {
	query := `
		SELECT id, account_id, ip_address, user_agent, login_time, success
		FROM login_history
		WHERE account_id = $1
		ORDER BY login_time DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var entries []*models.LoginHistoryEntry
	for rows.Next() {
		var entry models.LoginHistoryEntry
		err := rows.Scan(
			&entry.ID, &entry.AccountID, &entry.IPAddress,
			&entry.UserAgent, &entry.LoginTime, &entry.Success,
		)
		if err != nil {
			return nil, database.MapPostgresError(err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return entries, nil
}

// CountSince tallies attempts and failures recorded after the cutoff (daily report)
func (r *LoginHistoryRepository) CountSince(ctx context.Context, since time.Time) (total int64, failed int64, err error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT success)
		FROM login_history
		WHERE login_time >= $1
	`

	err = r.db.Pool.QueryRow(ctx, query, since).Scan(&total, &failed)
	return total, failed, err
}

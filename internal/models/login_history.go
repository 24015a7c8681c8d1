package models

import "time"

// LoginHistoryEntry is one immutable record of a completed login attempt.
// Entries are append-only; nothing in this service updates or deletes them.
type LoginHistoryEntry struct {
	ID        string
	AccountID string
	IPAddress string
	UserAgent string
	LoginTime time.Time
	Success   bool
}

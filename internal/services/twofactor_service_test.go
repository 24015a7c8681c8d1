package services

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oursfolio/oursfolio/internal/models"
	pkglogger "github.com/oursfolio/oursfolio/pkg/logger"
)

func newTestTwoFactorService(t *testing.T, accounts AccountRepository, history LoginHistoryRepository) *TwoFactorService {
	t.Helper()
	logger := slog.Default()
	return NewTwoFactorService(accounts, history, newTestTOTPManager(t), logger, pkglogger.NewAuditLogger(logger))
}

func TestTwoFactorService_Setup_GeneratesSecret(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestTwoFactorService(t, store, &MockLoginHistoryRepository{})

	resp, err := svc.Setup(context.Background(), "acct1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.Secret)
	assert.True(t, strings.HasPrefix(resp.ProvisioningURI, "otpauth://totp/"))
	assert.Contains(t, resp.ProvisioningURI, "user%40example.com")
	assert.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))

	// The secret is persisted encrypted; the flag stays off
	stored := store.Snapshot("acct1")
	assert.True(t, stored.HasTwoFactorSecret())
	assert.False(t, stored.TwoFactorEnabled)
	assert.NotEqual(t, []byte(resp.Secret), stored.TwoFactorSecret)
}

// Retrying setup before confirmation must hand back the same secret and an
// identical provisioning URI, not a second live secret.
func TestTwoFactorService_Setup_Idempotent(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestTwoFactorService(t, store, &MockLoginHistoryRepository{})

	first, err := svc.Setup(context.Background(), "acct1")
	require.NoError(t, err)
	second, err := svc.Setup(context.Background(), "acct1")
	require.NoError(t, err)

	assert.Equal(t, first.Secret, second.Secret)
	assert.Equal(t, first.ProvisioningURI, second.ProvisioningURI)
}

func TestTwoFactorService_Setup_UnknownAccount(t *testing.T) {
	svc := newTestTwoFactorService(t, NewInMemoryAccountStore(), &MockLoginHistoryRepository{})

	resp, err := svc.Setup(context.Background(), "missing")
	assert.Nil(t, resp)
	assert.Equal(t, models.ErrNotFound, err)
}

func TestTwoFactorService_Confirm_EnablesFlag(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestTwoFactorService(t, store, &MockLoginHistoryRepository{})

	resp, err := svc.Setup(context.Background(), "acct1")
	require.NoError(t, err)
	require.False(t, store.Snapshot("acct1").TwoFactorEnabled)

	err = svc.Confirm(context.Background(), "acct1", currentCode(t, resp.Secret))
	require.NoError(t, err)
	assert.True(t, store.Snapshot("acct1").TwoFactorEnabled)
}

func TestTwoFactorService_Confirm_InvalidCode(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestTwoFactorService(t, store, &MockLoginHistoryRepository{})

	_, err := svc.Setup(context.Background(), "acct1")
	require.NoError(t, err)

	for _, code := range []string{"000000", "12345", "1234567", "abc123"} {
		err := svc.Confirm(context.Background(), "acct1", code)
		assert.Equal(t, models.ErrInvalidToken, err)
	}
	assert.False(t, store.Snapshot("acct1").TwoFactorEnabled)
}

func TestTwoFactorService_Confirm_WithoutEnrollment(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestTwoFactorService(t, store, &MockLoginHistoryRepository{})

	err := svc.Confirm(context.Background(), "acct1", "123456")
	assert.Equal(t, models.ErrInvalidToken, err)
}

func TestTwoFactorService_Disable(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	totpManager := newTestTOTPManager(t)
	enrollTwoFactor(t, totpManager, acct)
	store := NewInMemoryAccountStore(acct)
	svc := newTestTwoFactorService(t, store, &MockLoginHistoryRepository{})

	err := svc.Disable(context.Background(), "acct1")
	require.NoError(t, err)

	stored := store.Snapshot("acct1")
	assert.False(t, stored.TwoFactorEnabled)
	assert.False(t, stored.HasTwoFactorSecret())
}

func TestTwoFactorService_Disable_WhenNotEnabled(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestTwoFactorService(t, store, &MockLoginHistoryRepository{})

	// Disabling is unconditional, even with nothing enrolled
	err := svc.Disable(context.Background(), "acct1")
	assert.NoError(t, err)
}

func TestTwoFactorService_History(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	now := time.Now()
	history := &MockLoginHistoryRepository{
		ListByAccountFunc: func(ctx context.Context, accountID string, limit int) ([]*models.LoginHistoryEntry, error) {
			assert.Equal(t, "acct1", accountID)
			assert.Equal(t, defaultHistoryLimit, limit)
			return []*models.LoginHistoryEntry{
				{AccountID: accountID, IPAddress: "203.0.113.9", UserAgent: "agent", LoginTime: now, Success: true},
				{AccountID: accountID, IPAddress: "203.0.113.9", UserAgent: "agent", LoginTime: now.Add(-time.Hour), Success: false},
			}, nil
		},
	}
	svc := newTestTwoFactorService(t, store, history)

	entries, err := svc.History(context.Background(), "acct1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Success)
	assert.False(t, entries[1].Success)
	assert.Equal(t, now.UTC().Format(time.RFC3339), entries[0].LoginTime)
}

package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/oursfolio/oursfolio/internal/auth"
	"github.com/oursfolio/oursfolio/internal/models"
	"github.com/oursfolio/oursfolio/internal/tasks"
	pkglogger "github.com/oursfolio/oursfolio/pkg/logger"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

const testPassword = "CorrectHorseBattery1!"

// testHash uses the minimum bcrypt cost so tests stay fast; ComparePassword
// accepts any cost.
func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestTOTPManager(t *testing.T) *auth.TOTPManager {
	t.Helper()
	tm, err := auth.NewTOTPManager(testEncryptionKey, "Oursfolio Test")
	require.NoError(t, err)
	return tm
}

func newTestAuthService(t *testing.T, accounts AccountRepository, history LoginHistoryRepository, queue TaskQueue) *AuthService {
	t.Helper()
	logger := slog.Default()
	return NewAuthService(
		accounts,
		history,
		auth.LockoutPolicy{Threshold: 3, Duration: 30 * time.Minute},
		auth.NewTokenManager("test-secret-32-characters-long!!", 15*time.Minute, 7*24*time.Hour),
		newTestTOTPManager(t),
		queue,
		5*time.Second,
		logger,
		pkglogger.NewAuditLogger(logger),
	)
}

// enrollTwoFactor puts a confirmed TOTP enrollment on the account and returns
// the plaintext secret so tests can compute valid codes.
func enrollTwoFactor(t *testing.T, tm *auth.TOTPManager, acct *models.Account) string {
	t.Helper()
	secret, err := tm.GenerateSecret(acct.Email)
	require.NoError(t, err)
	ciphertext, nonce, err := tm.EncryptSecret(secret)
	require.NoError(t, err)
	acct.TwoFactorSecret = ciphertext
	acct.TwoFactorNonce = nonce
	acct.TwoFactorEnabled = true
	return secret
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestAuthService_Login_UnknownEmail(t *testing.T) {
	store := NewInMemoryAccountStore()
	history := &MockLoginHistoryRepository{}
	svc := newTestAuthService(t, store, history, &MockTaskQueue{})

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "nobody@example.com",
		Password: "whatever",
	})

	assert.Nil(t, resp)
	assert.Equal(t, models.ErrInvalidCredentials, err)
	assert.Empty(t, history.RecordedEntries())
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	history := &MockLoginHistoryRepository{}
	svc := newTestAuthService(t, store, history, &MockTaskQueue{})

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:     "user@example.com",
		Password:  "wrong-password",
		IPAddress: "203.0.113.9",
		UserAgent: "test-agent",
	})

	assert.Nil(t, resp)
	assert.Equal(t, models.ErrInvalidCredentials, err)

	stored := store.Snapshot("acct1")
	assert.Equal(t, 1, stored.LoginAttempts)
	assert.NotNil(t, stored.LastLoginAttempt)
	assert.Nil(t, stored.LockedUntil)

	entries := history.RecordedEntries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "203.0.113.9", entries[0].IPAddress)
}

// Wrong password on an existing account and an unknown email must be
// indistinguishable to the caller.
func TestAuthService_Login_IdenticalInvalidCredentialOutcome(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestAuthService(t, store, &MockLoginHistoryRepository{}, &MockTaskQueue{})

	_, unknownErr := svc.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "x"})
	_, wrongErr := svc.Login(context.Background(), LoginRequest{Email: "user@example.com", Password: "x"})

	assert.Equal(t, unknownErr, wrongErr)
	assert.Equal(t, models.ErrInvalidCredentials, unknownErr)
}

func TestAuthService_Login_LockoutAtThreshold(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	acct.LoginAttempts = 2
	store := NewInMemoryAccountStore(acct)
	history := &MockLoginHistoryRepository{}
	queue := &MockTaskQueue{}
	svc := newTestAuthService(t, store, history, queue)

	// Third failure trips the lock and is still reported as bad credentials
	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: "wrong-password",
	})
	assert.Nil(t, resp)
	assert.Equal(t, models.ErrInvalidCredentials, err)

	stored := store.Snapshot("acct1")
	assert.Equal(t, 3, stored.LoginAttempts)
	require.NotNil(t, stored.LockedUntil)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *stored.LockedUntil, 5*time.Second)

	// The lock transition dispatches one security alert
	assert.Equal(t, []string{tasks.TypeSecurityAlert}, queue.EnqueuedTypes())

	// Even the correct password is refused while locked, with no counter change
	resp, err = svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: testPassword,
	})
	assert.Nil(t, resp)
	assert.Equal(t, models.ErrAccountLocked, err)
	assert.Equal(t, 3, store.Snapshot("acct1").LoginAttempts)
	assert.Len(t, queue.EnqueuedTypes(), 1)
}

func TestAuthService_Login_ExpiredLockClearsLazily(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	expired := time.Now().Add(-time.Minute)
	acct.LoginAttempts = 3
	acct.LockedUntil = &expired
	store := NewInMemoryAccountStore(acct)
	svc := newTestAuthService(t, store, &MockLoginHistoryRepository{}, &MockTaskQueue{})

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: testPassword,
	})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Requires2FA)
	assert.NotEmpty(t, resp.AccessToken)

	stored := store.Snapshot("acct1")
	assert.Equal(t, 0, stored.LoginAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestAuthService_Login_RelockedDuringExpiredLockClear(t *testing.T) {
	// The lock has expired, but a concurrent attempt re-trips the threshold
	// between our read and the clear write. The conflict reload must surface
	// the fresh lock instead of overwriting it and checking the password.
	expired := time.Now().Add(-time.Minute)
	stale := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	stale.LoginAttempts = 3
	stale.LockedUntil = &expired
	stale.SecurityVersion = 1

	relockedUntil := time.Now().Add(30 * time.Minute)
	relocked := NewTestAccount("acct1", "user@example.com", stale.PasswordHash)
	relocked.LoginAttempts = 3
	relocked.LockedUntil = &relockedUntil
	relocked.SecurityVersion = 2

	writes := 0
	accounts := &MockAccountRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.Account, error) {
			copied := *stale
			return &copied, nil
		},
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			copied := *relocked
			return &copied, nil
		},
		UpdateSecurityStateFunc: func(ctx context.Context, acct *models.Account) (*models.Account, error) {
			writes++
			return nil, models.ErrConflict
		},
	}
	history := &MockLoginHistoryRepository{}
	svc := newTestAuthService(t, accounts, history, &MockTaskQueue{})

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: testPassword,
	})

	assert.Nil(t, resp)
	assert.Equal(t, models.ErrAccountLocked, err)
	assert.Equal(t, 1, writes, "the fresh lock must not be overwritten")
	assert.Empty(t, history.RecordedEntries())
}

func TestAuthService_Login_Success(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	acct.LoginAttempts = 2
	store := NewInMemoryAccountStore(acct)
	history := &MockLoginHistoryRepository{}
	svc := newTestAuthService(t, store, history, &MockTaskQueue{})

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:     "user@example.com",
		Password:  testPassword,
		IPAddress: "203.0.113.9",
		UserAgent: "test-agent",
	})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Requires2FA)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	require.NotNil(t, resp.Account)
	assert.Equal(t, "user@example.com", resp.Account.Email)

	// A completed login resets the failure counter and stamps last_login
	stored := store.Snapshot("acct1")
	assert.Equal(t, 0, stored.LoginAttempts)
	assert.NotNil(t, stored.LastLogin)

	entries := history.RecordedEntries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
}

func TestAuthService_Login_PendingTwoFactor(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	totpManager := newTestTOTPManager(t)
	secret := enrollTwoFactor(t, totpManager, acct)
	store := NewInMemoryAccountStore(acct)
	history := &MockLoginHistoryRepository{}
	svc := newTestAuthService(t, store, history, &MockTaskQueue{})

	// Step one: correct password stops short of issuing tokens
	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.Requires2FA)
	assert.Equal(t, "acct1", resp.AccountID)
	assert.Empty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)
	assert.Empty(t, history.RecordedEntries(), "password step alone must not log success")

	// Step two: a valid code completes the login
	resp, err = svc.VerifyTwoFactor(context.Background(), TwoFactorLoginRequest{
		AccountID: "acct1",
		Code:      currentCode(t, secret),
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	entries := history.RecordedEntries()
	require.Len(t, entries, 1, "success must be recorded exactly once")
	assert.True(t, entries[0].Success)
}

func TestAuthService_VerifyTwoFactor_InvalidCode(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	totpManager := newTestTOTPManager(t)
	enrollTwoFactor(t, totpManager, acct)
	store := NewInMemoryAccountStore(acct)
	svc := newTestAuthService(t, store, &MockLoginHistoryRepository{}, &MockTaskQueue{})

	for _, code := range []string{"000000", "12345", "abcdef", ""} {
		resp, err := svc.VerifyTwoFactor(context.Background(), TwoFactorLoginRequest{
			AccountID: "acct1",
			Code:      code,
		})
		assert.Nil(t, resp)
		assert.Equal(t, models.ErrInvalidToken, err)
	}

	// Code failures do not feed the lockout counter
	assert.Equal(t, 0, store.Snapshot("acct1").LoginAttempts)
}

func TestAuthService_VerifyTwoFactor_UnknownAccount(t *testing.T) {
	svc := newTestAuthService(t, NewInMemoryAccountStore(), &MockLoginHistoryRepository{}, &MockTaskQueue{})

	resp, err := svc.VerifyTwoFactor(context.Background(), TwoFactorLoginRequest{
		AccountID: "missing",
		Code:      "123456",
	})

	assert.Nil(t, resp)
	assert.Equal(t, models.ErrNotFound, err)
}

func TestAuthService_VerifyTwoFactor_NotEnrolled(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestAuthService(t, store, &MockLoginHistoryRepository{}, &MockTaskQueue{})

	resp, err := svc.VerifyTwoFactor(context.Background(), TwoFactorLoginRequest{
		AccountID: "acct1",
		Code:      "123456",
	})

	assert.Nil(t, resp)
	assert.Equal(t, models.ErrInvalidToken, err)
}

func TestAuthService_RefreshToken_Success(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestAuthService(t, store, &MockLoginHistoryRepository{}, &MockTaskQueue{})

	login, err := svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)

	resp, err := svc.RefreshToken(context.Background(), login.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
}

func TestAuthService_RefreshToken_RejectsAccessToken(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	svc := newTestAuthService(t, store, &MockLoginHistoryRepository{}, &MockTaskQueue{})

	login, err := svc.Login(context.Background(), LoginRequest{
		Email:    "user@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)

	resp, err := svc.RefreshToken(context.Background(), login.AccessToken)
	assert.Nil(t, resp)
	assert.Equal(t, models.ErrUnauthorized, err)
}

func TestAuthService_RefreshToken_Garbage(t *testing.T) {
	svc := newTestAuthService(t, NewInMemoryAccountStore(), &MockLoginHistoryRepository{}, &MockTaskQueue{})

	resp, err := svc.RefreshToken(context.Background(), "not-a-token")
	assert.Nil(t, resp)
	assert.Equal(t, models.ErrUnauthorized, err)
}

// Parallel wrong-password attempts against one account must produce exactly
// one lock transition, with every persisted counter increment accounted for.
func TestAuthService_Login_ConcurrentFailures(t *testing.T) {
	acct := NewTestAccount("acct1", "user@example.com", testHash(t, testPassword))
	store := NewInMemoryAccountStore(acct)
	queue := &MockTaskQueue{}
	svc := newTestAuthService(t, store, &MockLoginHistoryRepository{}, queue)

	const attempts = 5
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Login(context.Background(), LoginRequest{
				Email:    "user@example.com",
				Password: "wrong-password",
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.Contains(t, []error{models.ErrInvalidCredentials, models.ErrAccountLocked}, err)
	}

	stored := store.Snapshot("acct1")
	require.NotNil(t, stored.LockedUntil, "threshold must trip despite the race")
	assert.GreaterOrEqual(t, stored.LoginAttempts, 3)
	assert.LessOrEqual(t, stored.LoginAttempts, attempts)

	// Exactly one security alert for the single lock transition
	assert.Equal(t, []string{tasks.TypeSecurityAlert}, queue.EnqueuedTypes())
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oursfolio/oursfolio/internal/auth"
	"github.com/oursfolio/oursfolio/internal/models"
	"github.com/oursfolio/oursfolio/internal/services"
	pkghttp "github.com/oursfolio/oursfolio/pkg/http"
)

// NewTestRequest creates an HTTP request with a JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds account claims to the request context for testing
// authenticated endpoints
func WithAuthContext(req *http.Request, accountID, email string) *http.Request {
	claims := &models.TokenClaims{
		AccountID: accountID,
		Email:     email,
		Type:      "access",
	}
	ctx := context.WithValue(req.Context(), auth.AccountContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks the status code and decodes the JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that the response is a well-formed error
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc           func(ctx context.Context, req services.LoginRequest) (*services.LoginResponse, error)
	VerifyTwoFactorFunc func(ctx context.Context, req services.TwoFactorLoginRequest) (*services.LoginResponse, error)
	RefreshTokenFunc    func(ctx context.Context, refreshToken string) (*services.LoginResponse, error)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResponse, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, req)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) VerifyTwoFactor(ctx context.Context, req services.TwoFactorLoginRequest) (*services.LoginResponse, error) {
	if m.VerifyTwoFactorFunc != nil {
		return m.VerifyTwoFactorFunc(ctx, req)
	}
	return nil, models.ErrInvalidToken
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.LoginResponse, error) {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, refreshToken)
	}
	return nil, models.ErrUnauthorized
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	SetupFunc   func(ctx context.Context, accountID string) (*services.TwoFactorSetupResponse, error)
	ConfirmFunc func(ctx context.Context, accountID, code string) error
	DisableFunc func(ctx context.Context, accountID string) error
	HistoryFunc func(ctx context.Context, accountID string, limit int) ([]*services.LoginHistoryResponse, error)
}

func (m *MockTwoFactorService) Setup(ctx context.Context, accountID string) (*services.TwoFactorSetupResponse, error) {
	if m.SetupFunc != nil {
		return m.SetupFunc(ctx, accountID)
	}
	return nil, models.ErrInternal
}

func (m *MockTwoFactorService) Confirm(ctx context.Context, accountID, code string) error {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, accountID, code)
	}
	return models.ErrInvalidToken
}

func (m *MockTwoFactorService) Disable(ctx context.Context, accountID string) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, accountID)
	}
	return nil
}

func (m *MockTwoFactorService) History(ctx context.Context, accountID string, limit int) ([]*services.LoginHistoryResponse, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, accountID, limit)
	}
	return []*services.LoginHistoryResponse{}, nil
}

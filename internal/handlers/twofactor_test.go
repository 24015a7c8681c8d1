package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oursfolio/oursfolio/internal/handlers"
	"github.com/oursfolio/oursfolio/internal/models"
	"github.com/oursfolio/oursfolio/internal/services"
)

func TestTwoFactorSetup_Success(t *testing.T) {
	mockSvc := &handlers.MockTwoFactorService{
		SetupFunc: func(ctx context.Context, accountID string) (*services.TwoFactorSetupResponse, error) {
			assert.Equal(t, "acct1", accountID)
			return &services.TwoFactorSetupResponse{
				Secret:          "JBSWY3DPEHPK3PXP",
				ProvisioningURI: "otpauth://totp/Oursfolio:user@example.com?secret=JBSWY3DPEHPK3PXP",
				QRCode:          "data:image/png;base64,abc",
			}, nil
		},
	}

	handler := handlers.NewTwoFactorHandler(mockSvc)
	req := handlers.NewTestRequest(t, "GET", "/auth/2fa/setup", nil)
	req = handlers.WithAuthContext(req, "acct1", "user@example.com")

	w := httptest.NewRecorder()
	handler.Setup(w, req)

	var resp services.TwoFactorSetupResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.Secret)
	assert.NotEmpty(t, resp.ProvisioningURI)
	assert.NotEmpty(t, resp.QRCode)
}

func TestTwoFactorSetup_Unauthenticated(t *testing.T) {
	handler := handlers.NewTwoFactorHandler(&handlers.MockTwoFactorService{})
	req := handlers.NewTestRequest(t, "GET", "/auth/2fa/setup", nil)

	w := httptest.NewRecorder()
	handler.Setup(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestTwoFactorConfirm_Success(t *testing.T) {
	confirmed := false
	mockSvc := &handlers.MockTwoFactorService{
		ConfirmFunc: func(ctx context.Context, accountID, code string) error {
			assert.Equal(t, "acct1", accountID)
			assert.Equal(t, "123456", code)
			confirmed = true
			return nil
		},
	}

	handler := handlers.NewTwoFactorHandler(mockSvc)
	req := handlers.NewTestRequest(t, "POST", "/auth/2fa/confirm", handlers.ConfirmRequest{Code: "123456"})
	req = handlers.WithAuthContext(req, "acct1", "user@example.com")

	w := httptest.NewRecorder()
	handler.Confirm(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp["two_factor_enabled"])
	assert.True(t, confirmed)
}

func TestTwoFactorConfirm_InvalidCode(t *testing.T) {
	mockSvc := &handlers.MockTwoFactorService{
		ConfirmFunc: func(ctx context.Context, accountID, code string) error {
			return models.ErrInvalidToken
		},
	}

	handler := handlers.NewTwoFactorHandler(mockSvc)
	req := handlers.NewTestRequest(t, "POST", "/auth/2fa/confirm", handlers.ConfirmRequest{Code: "654321"})
	req = handlers.WithAuthContext(req, "acct1", "user@example.com")

	w := httptest.NewRecorder()
	handler.Confirm(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestTwoFactorConfirm_MalformedCode(t *testing.T) {
	called := false
	mockSvc := &handlers.MockTwoFactorService{
		ConfirmFunc: func(ctx context.Context, accountID, code string) error {
			called = true
			return nil
		},
	}

	handler := handlers.NewTwoFactorHandler(mockSvc)
	for _, code := range []string{"", "12345", "abcdef"} {
		req := handlers.NewTestRequest(t, "POST", "/auth/2fa/confirm", handlers.ConfirmRequest{Code: code})
		req = handlers.WithAuthContext(req, "acct1", "user@example.com")

		w := httptest.NewRecorder()
		handler.Confirm(w, req)
		handlers.AssertErrorResponse(t, w, 400, "bad_request")
	}
	assert.False(t, called)
}

func TestTwoFactorDisable_Success(t *testing.T) {
	mockSvc := &handlers.MockTwoFactorService{
		DisableFunc: func(ctx context.Context, accountID string) error {
			assert.Equal(t, "acct1", accountID)
			return nil
		},
	}

	handler := handlers.NewTwoFactorHandler(mockSvc)
	req := handlers.NewTestRequest(t, "POST", "/auth/2fa/disable", nil)
	req = handlers.WithAuthContext(req, "acct1", "user@example.com")

	w := httptest.NewRecorder()
	handler.Disable(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.False(t, resp["two_factor_enabled"])
}

func TestTwoFactorDisable_Unauthenticated(t *testing.T) {
	handler := handlers.NewTwoFactorHandler(&handlers.MockTwoFactorService{})
	req := handlers.NewTestRequest(t, "POST", "/auth/2fa/disable", nil)

	w := httptest.NewRecorder()
	handler.Disable(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestHistory_Success(t *testing.T) {
	mockSvc := &handlers.MockTwoFactorService{
		HistoryFunc: func(ctx context.Context, accountID string, limit int) ([]*services.LoginHistoryResponse, error) {
			assert.Equal(t, "acct1", accountID)
			assert.Equal(t, 10, limit)
			return []*services.LoginHistoryResponse{
				{IPAddress: "203.0.113.9", UserAgent: "agent", LoginTime: "2026-08-30T12:00:00Z", Success: true},
			}, nil
		},
	}

	handler := handlers.NewTwoFactorHandler(mockSvc)
	req := handlers.NewTestRequest(t, "GET", "/auth/history?limit=10", nil)
	req = handlers.WithAuthContext(req, "acct1", "user@example.com")

	w := httptest.NewRecorder()
	handler.History(w, req)

	var resp struct {
		History []*services.LoginHistoryResponse `json:"history"`
	}
	handlers.AssertJSONResponse(t, w, 200, &resp)
	require.Len(t, resp.History, 1)
	assert.True(t, resp.History[0].Success)
}

func TestHistory_BadLimit(t *testing.T) {
	handler := handlers.NewTwoFactorHandler(&handlers.MockTwoFactorService{})
	req := handlers.NewTestRequest(t, "GET", "/auth/history?limit=zero", nil)
	req = handlers.WithAuthContext(req, "acct1", "user@example.com")

	w := httptest.NewRecorder()
	handler.History(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{
			name:     "standard address",
			email:    "user@example.com",
			expected: "u***@*******.com",
		},
		{
			name:     "single character username",
			email:    "u@example.com",
			expected: "u@*******.com",
		},
		{
			name:     "subdomain",
			email:    "user@mail.example.com",
			expected: "u***@****.*******.com",
		},
		{
			name:     "not an email",
			email:    "not-an-email",
			expected: "[invalid-email]",
		},
		{
			name:     "empty string",
			email:    "",
			expected: "[invalid-email]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizedEmail(tt.email))
		})
	}
}

func TestSanitizeQueryString(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		redact bool
	}{
		{name: "password param", query: "password=hunter2", redact: true},
		{name: "token param", query: "refresh_token=abc", redact: true},
		{name: "totp code param", query: "code=123456", redact: true},
		{name: "mixed case", query: "Email=user%40example.com", redact: true},
		{name: "benign params", query: "limit=10&page=2", redact: false},
		{name: "empty", query: "", redact: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.redact, SanitizeQueryString(tt.query))
		})
	}
}

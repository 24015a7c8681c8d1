package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailService defines the interface for sending account notifications
type EmailService interface {
	SendWelcomeEmail(ctx context.Context, email string) error
	SendSecurityAlert(ctx context.Context, email, ipAddress string, lockedUntil time.Time) error
	SendDailyReport(ctx context.Context, since time.Time, totalAttempts, failedAttempts, accountCount, lockedAccounts int64) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient    *ses.Client
	fromAddress  string
	adminAddress string
	logger       *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, adminAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:    ses.NewFromConfig(cfg),
		fromAddress:  fromAddress,
		adminAddress: adminAddress,
		logger:       logger,
	}, nil
}

// SendWelcomeEmail greets a newly provisioned account holder
func (s *AWSSESEmailService) SendWelcomeEmail(ctx context.Context, email string) error {
	htmlBody := `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Welcome to Oursfolio</h1>
        </div>
        <div class="content">
            <p>Your account is ready. Sign in with your email address and password.</p>
            <p>For extra protection, enable two-factor authentication from your account settings once you are signed in.</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`

	textBody := `Welcome to Oursfolio

Your account is ready. Sign in with your email address and password.

For extra protection, enable two-factor authentication from your account settings once you are signed in.

This is an automated message. Please do not reply to this email.
`

	return s.send(ctx, email, "Welcome to Oursfolio", htmlBody, textBody)
}

// SendSecurityAlert notifies an account holder their account was locked after
// repeated failed sign-in attempts
func (s *AWSSESEmailService) SendSecurityAlert(ctx context.Context, email, ipAddress string, lockedUntil time.Time) error {
	lockExpiry := lockedUntil.UTC().Format("2006-01-02 15:04 UTC")

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Account Temporarily Locked</h1>
        </div>
        <div class="content">
            <p>Your account was locked after several failed sign-in attempts.</p>
            <div class="warning">
                <strong>⚠️ Details:</strong><br>
                Last attempt from IP address: <code>%s</code><br>
                Locked until: <strong>%s</strong>
            </div>
            <p>If this was you, wait for the lock to expire and try again with the correct password.</p>
            <p><strong>Didn't try to sign in?</strong><br>
            Someone else may be attempting to access your account. Consider changing your password once the lock expires.</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, ipAddress, lockExpiry)

	textBody := fmt.Sprintf(`Account Temporarily Locked

Your account was locked after several failed sign-in attempts.

Last attempt from IP address: %s
Locked until: %s

If this was you, wait for the lock to expire and try again with the correct password.

Didn't try to sign in?
Someone else may be attempting to access your account. Consider changing your password once the lock expires.

This is an automated message. Please do not reply to this email.
`, ipAddress, lockExpiry)

	return s.send(ctx, email, "Security alert: your account has been temporarily locked", htmlBody, textBody)
}

// SendDailyReport sends the authentication summary to the admin address
func (s *AWSSESEmailService) SendDailyReport(ctx context.Context, since time.Time, totalAttempts, failedAttempts, accountCount, lockedAccounts int64) error {
	day := since.UTC().Format("2006-01-02")

	textBody := fmt.Sprintf(`Authentication report for %s

Total login attempts:  %d
Failed login attempts: %d
Registered accounts:   %d
Currently locked:      %d
`, day, totalAttempts, failedAttempts, accountCount, lockedAccounts)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body>
    <h1>Authentication report for %s</h1>
    <ul>
        <li>Total login attempts: <strong>%d</strong></li>
        <li>Failed login attempts: <strong>%d</strong></li>
        <li>Registered accounts: <strong>%d</strong></li>
        <li>Currently locked accounts: <strong>%d</strong></li>
    </ul>
</body>
</html>
`, day, totalAttempts, failedAttempts, accountCount, lockedAccounts)

	subject := fmt.Sprintf("Daily authentication report for %s", day)
	return s.send(ctx, s.adminAddress, subject, htmlBody, textBody)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}

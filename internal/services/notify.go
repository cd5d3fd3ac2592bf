package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/matchwell/gatekeeper/internal/models"
)

// NotificationSink receives security events worth telling the account
// holder about. Implementations must never block or fail the login path.
type NotificationSink interface {
	BlockCreated(subject string, block *models.Block)
	NewDeviceLogin(subject, ipAddress string)
	BlockedAttempt(subject, ipAddress string)
}

// NoopSink discards all notifications. Used in tests and when email is
// not configured.
type NoopSink struct{}

func (NoopSink) BlockCreated(string, *models.Block) {}
func (NoopSink) NewDeviceLogin(string, string)      {}
func (NoopSink) BlockedAttempt(string, string)      {}

// SESClient abstracts the SES send call so tests can fake it.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailSink sends security notifications using AWS SES. Every send runs
// in its own goroutine with a hard timeout; failures are logged and
// swallowed since notification is a courtesy, not part of the decision.
type EmailSink struct {
	sesClient   SESClient
	fromAddress string
	sendTimeout time.Duration
	logger      *slog.Logger
}

// NewEmailSink creates a new AWS SES notification sink
func NewEmailSink(region, fromAddress string, logger *slog.Logger) (*EmailSink, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &EmailSink{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		sendTimeout: 10 * time.Second,
		logger:      logger,
	}, nil
}

func (s *EmailSink) BlockCreated(subject string, block *models.Block) {
	body := fmt.Sprintf(`Sign-in to your account has been temporarily disabled after repeated failed attempts.

You can try again after %s.

Didn't try to sign in?
If these attempts weren't yours, we recommend changing your password once access is restored.

This is an automated message. Please do not reply to this email.
`, block.ExpiresAt.Format(time.RFC1123))

	s.send(subject, "Sign-in temporarily disabled", body)
}

func (s *EmailSink) NewDeviceLogin(subject, ipAddress string) {
	body := fmt.Sprintf(`Your account was just signed in to from a device we haven't seen before (IP address %s).

If this was you, no action is needed.

Wasn't you?
Change your password immediately and review your trusted devices.

This is an automated message. Please do not reply to this email.
`, ipAddress)

	s.send(subject, "New device sign-in", body)
}

func (s *EmailSink) BlockedAttempt(subject, ipAddress string) {
	body := fmt.Sprintf(`A sign-in attempt was made on your account (from IP address %s) while sign-in is temporarily disabled.

The attempt was refused without checking the password.

Didn't try to sign in?
If these attempts weren't yours, we recommend changing your password once access is restored.

This is an automated message. Please do not reply to this email.
`, ipAddress)

	s.send(subject, "Sign-in attempt refused", body)
}

func (s *EmailSink) send(to, subject, textBody string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()

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
					Text: &types.Content{
						Data: aws.String(textBody),
					},
				},
			},
		}

		result, err := s.sesClient.SendEmail(ctx, input)
		if err != nil {
			s.logger.Warn("failed to send security notification",
				slog.String("email_subject", subject),
				slog.Any("error", err))
			return
		}

		s.logger.Info("security notification sent",
			slog.String("email_subject", subject),
			slog.String("message_id", aws.ToString(result.MessageId)))
	}()
}

// Package ses implements a Provider that mails undeliverable messages to a
// postmaster address via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/dmail/internal/mail"
	"github.com/shineum/dmail/internal/provider"
)

const (
	maxRetries     = 3
	baseRetryDelay = 1 * time.Second
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Sender is the verified SES identity reports are sent from.
	Sender string

	// Recipient is the postmaster receiving the reports.
	Recipient string
}

// SESProvider mails a report per undeliverable message via the SES v2 API.
type SESProvider struct {
	sender    string
	recipient string
	client    SendEmailAPI

	// retryDelay is the first backoff delay; it doubles per attempt.
	retryDelay time.Duration
}

// SendEmailAPI is the SES v2 SendEmail operation.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a SESProvider. Static credentials are used when both key
// fields are set, otherwise the default AWS credential chain.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	if cfg.Sender == "" || cfg.Recipient == "" {
		return nil, errors.New("SES dead-letter provider needs a sender and a recipient")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(cfg.Sender, cfg.Recipient, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider around client.
func NewWithClient(sender, recipient string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender:     sender,
		recipient:  recipient,
		client:     client,
		retryDelay: baseRetryDelay,
	}
}

// Send mails the report. Failures are retried with exponential backoff,
// except rejections SES attributes to the request itself.
func (s *SESProvider) Send(ctx context.Context, msg *mail.Message, reason string) error {
	input := s.input(msg, reason)

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if werr := wait(ctx, backoffDelay(s.retryDelay, attempt-1)); werr != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", werr)
			}
		}

		if _, err = s.client.SendEmail(ctx, input); err == nil {
			return nil
		}
		if permanent(err) {
			return fmt.Errorf("SES rejected dead-letter report: %w", err)
		}
		slog.Warn("SES API error", "attempt", attempt, "max_retries", maxRetries, "error", err)
	}
	return fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, err)
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

func (s *SESProvider) input(msg *mail.Message, reason string) *sesv2.SendEmailInput {
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination:      &types.Destination{ToAddresses: []string{s.recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String("[dmail] undeliverable: " + msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(provider.Report(msg, reason)),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}

// permanent reports whether err is a client fault, such as an unverified
// sender identity, that a retry cannot fix.
func permanent(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient
}

// backoffDelay returns base doubled n times.
func backoffDelay(base time.Duration, n int) time.Duration {
	return base << n
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

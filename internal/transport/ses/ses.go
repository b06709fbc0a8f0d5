// Package ses implements a transport that submits raw messages through the
// AWS SES v2 API.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mailmerge-lite/internal/message"
	"github.com/shineum/mailmerge-lite/internal/transport"
)

// Config holds the configuration for creating a Transport.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// API is the subset of the SES v2 client the transport uses.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// Transport sends messages via AWS SES v2.
type Transport struct {
	sender string
	client API
	policy transport.Policy
	logger *slog.Logger
}

// New creates a Transport from static or default AWS credentials. The SDK
// retryer is limited to one attempt so the transport policy governs retries.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg), logger), nil
}

// NewWithClient creates a Transport with a custom client, used for testing.
func NewWithClient(sender string, client API, logger *slog.Logger) *Transport {
	return &Transport{
		sender: sender,
		client: client,
		policy: transport.DefaultPolicy(),
		logger: logger.With("transport", string(transport.MethodSES), "sender", sender),
	}
}

// WithPolicy replaces the retry policy.
func (t *Transport) WithPolicy(p transport.Policy) *Transport {
	t.policy = p
	return t
}

// Method returns the transport variant.
func (t *Transport) Method() transport.Method { return transport.MethodSES }

// Sender returns the From identity.
func (t *Transport) Sender() string { return t.sender }

// Ready checks that the account can send.
func (t *Transport) Ready(ctx context.Context) error {
	if t.sender == "" {
		return errors.Join(transport.ErrNotReady, errors.New("ses sender is not configured"))
	}
	out, err := t.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		t.logger.Error("ses account check failed", "error", err)
		return errors.Join(transport.ErrNotReady, classify(err))
	}
	if !out.SendingEnabled {
		return errors.Join(transport.ErrNotReady, errors.New("ses sending is disabled for this account"))
	}
	return nil
}

// Close is a no-op.
func (t *Transport) Close() error { return nil }

// Send submits msg as a raw MIME message.
func (t *Transport) Send(ctx context.Context, msg *message.Message) (*transport.Receipt, error) {
	if msg.From == "" {
		msg.From = t.sender
	}
	raw, headers, err := message.Build(msg)
	if err != nil {
		return nil, transport.Errorf(transport.ReasonRecipientRejected, "failed to build message: %v", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}

	var out *sesv2.SendEmailOutput
	attempts, err := t.policy.Do(ctx, t.logger, func(attempt int) error {
		var err error
		out, err = t.client.SendEmail(ctx, input)
		if err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	receipt := transport.NewReceipt(msg, raw, headers)
	receipt.Attempts = attempts
	receipt.ProviderMessageID = aws.ToString(out.MessageId)
	return receipt, nil
}

// classify maps SES API error codes onto delivery failure reasons.
func classify(err error) *transport.Error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return transport.Wrap(transport.ReasonConnection, err)
	}

	e := &transport.Error{Detail: apiErr.ErrorCode() + ": " + apiErr.ErrorMessage(), Err: err}
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "Throttling", "ThrottlingException":
		e.Reason = transport.ReasonRateLimited
	case "LimitExceededException", "SendingPausedException", "AccountSuspendedException":
		e.Reason = transport.ReasonQuotaExceeded
	case "MessageRejected", "MailFromDomainNotVerifiedException", "BadRequestException", "NotFoundException":
		e.Reason = transport.ReasonRecipientRejected
	case "AccessDeniedException", "UnrecognizedClientException", "InvalidClientTokenId",
		"SignatureDoesNotMatch", "ExpiredTokenException":
		e.Reason = transport.ReasonAuthentication
	default:
		e.Reason = transport.ReasonTransient
	}
	return e
}

// Package ses implements a transport that sends raw MIME messages via AWS SES v2.
package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/oarkflow/clubmail/internal/message"
	"github.com/oarkflow/clubmail/internal/transport"
)

// Config holds the configuration for creating an SES dialer.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Dialer builds an SES client when a session is opened.
type Dialer struct {
	cfg    Config
	client SendEmailAPI
}

// New creates an SES dialer. Static credentials are used when both keys are
// set, otherwise the default AWS credential chain applies.
func New(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

// NewWithClient creates a dialer around an existing client, used for testing.
func NewWithClient(client SendEmailAPI) *Dialer {
	return &Dialer{client: client}
}

// Name returns the transport name.
func (d *Dialer) Name() string {
	return "ses"
}

// Open loads the AWS configuration and returns a session bound to it.
func (d *Dialer) Open(ctx context.Context) (transport.Session, error) {
	if d.client != nil {
		return &session{client: d.client}, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if d.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(d.cfg.Region))
	}
	if d.cfg.AccessKeyID != "" && d.cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.cfg.AccessKeyID, d.cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("failed to resolve AWS credentials: %w", err)
	}

	return &session{client: sesv2.NewFromConfig(awsCfg)}, nil
}

type session struct {
	client SendEmailAPI
}

// Send delivers the message as a raw MIME document.
func (s *session) Send(ctx context.Context, msg *message.Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to build raw message: %w", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("SES API request failed: %w", err)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no session state.
func (s *session) Close() error {
	return nil
}

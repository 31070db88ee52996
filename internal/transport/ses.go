package transport

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/domain"
)

// SESAPI is the subset of the SES v2 client used for sending.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES delivers raw MIME messages through AWS SES v2 so the
// List-Unsubscribe headers survive.
type SES struct {
	client SESAPI
	now    func() time.Time
}

// NewSES wraps an existing client.
func NewSES(client SESAPI) *SES {
	return &SES{client: client, now: time.Now}
}

// NewSESClient builds an SES v2 client. Static credentials are used when
// both keys are set; otherwise the default AWS credential chain applies.
func NewSESClient(ctx context.Context, cfg config.SESConfig) (*sesv2.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return sesv2.NewFromConfig(awsCfg), nil
}

func (s *SES) Name() string { return "ses" }

func (s *SES) Send(ctx context.Context, msg *domain.EmailMessage) error {
	data, _, err := buildMIME(msg, senderDomain(msg.FromEmail), s.now())
	if err != nil {
		return err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.FromEmail),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: data}},
	}
	if msg.CampaignID != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID),
		})
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES send: %w", err)
	}
	log.Printf("[SES] sent campaign=%s recipient=%s id=%s", msg.CampaignID, msg.RecipientID, aws.ToString(out.MessageId))
	return nil
}

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/doar-mail/doar/internal/email"
	"github.com/doar-mail/doar/internal/pkg/logger"
)

// SESSender delivers messages through AWS SES using the SDK v2.
type SESSender struct {
	region string
	client *sesv2.Client
}

// NewSESSender creates an SES sender from static credentials.
func NewSESSender(accessKey, secretKey, region string) (*SESSender, error) {
	if region == "" {
		region = "us-east-1"
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("ses credentials not configured")
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("initialize aws config: %w", err)
	}

	return &SESSender{region: region, client: sesv2.NewFromConfig(cfg)}, nil
}

// Name identifies the transport.
func (s *SESSender) Name() string { return "ses" }

// Send delivers one message through SES. Custom headers cannot be attached
// on the simple content API, so tags carry the campaign linkage instead.
func (s *SESSender) Send(ctx context.Context, e *email.Email) (*SendResult, error) {
	if s.client == nil {
		return nil, fmt.Errorf("ses client not initialized")
	}

	dest := &types.Destination{}
	for _, a := range e.To {
		dest.ToAddresses = append(dest.ToAddresses, a.Email)
	}
	for _, a := range e.Cc {
		dest.CcAddresses = append(dest.CcAddresses, a.Email)
	}
	for _, a := range e.Bcc {
		dest.BccAddresses = append(dest.BccAddresses, a.Email)
	}

	from := e.From
	if e.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.FromName, e.From)
	}

	body := &types.Body{}
	if e.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(e.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if e.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(e.TextBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      dest,
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(e.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("email_id"), Value: aws.String(e.ID)},
		},
	}
	if e.CampaignID != "" {
		input.EmailTags = append(input.EmailTags,
			types.MessageTag{Name: aws.String("campaign_id"), Value: aws.String(e.CampaignID)})
	}
	if e.ReplyTo != "" {
		input.ReplyToAddresses = []string{e.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send failed: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}

	logger.Info("email sent via ses",
		"email_id", e.ID, "recipient", e.To[0].Email, "message_id", messageID)

	return &SendResult{MessageID: messageID, SentAt: time.Now().UTC()}, nil
}

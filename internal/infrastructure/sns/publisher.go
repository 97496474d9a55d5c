package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-identity-core/internal/application/otp"
	"github.com/go-identity-core/internal/config"
	"github.com/google/uuid"
)

const (
	EventOTPIssued = "otp.issued"
	EventOTPResent = "otp.resent"
)

// PublishAPI is the subset of the SNS client the publisher uses.
type PublishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// OTPEvent is the message body published for every passcode delivery.
// A downstream mail worker subscribes to the topic and sends the email.
type OTPEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Namespace  string    `json:"namespace"`
	Email      string    `json:"email"`
	Code       string    `json:"code"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher publishes OTP events to an SNS topic.
type Publisher struct {
	client   PublishAPI
	topicARN string
	now      func() time.Time
}

func NewPublisher(client PublishAPI, topicARN string) *Publisher {
	return &Publisher{client: client, topicARN: topicARN, now: time.Now}
}

// NewClient creates an SNS client for cfg.SNSRegion, honoring the LocalStack
// endpoint override.
func NewClient(ctx context.Context, cfg *config.Config) (*sns.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.SNSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	var opts []func(*sns.Options)
	if cfg.AWSEndpointURL != "" {
		opts = append(opts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return sns.NewFromConfig(awsCfg, opts...), nil
}

func (p *Publisher) DeliverOTP(ctx context.Context, d otp.Delivery) error {
	ev := OTPEvent{
		EventID:    uuid.NewString(),
		Type:       EventOTPIssued,
		Namespace:  d.Namespace,
		Email:      d.Email,
		Code:       d.Code,
		OccurredAt: p.now().UTC(),
	}
	if d.Resend {
		ev.Type = EventOTPResent
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal otp event: %w", err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(ev.Type)},
			"namespace":  {DataType: aws.String("String"), StringValue: aws.String(ev.Namespace)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish otp event: %w", err)
	}
	return nil
}

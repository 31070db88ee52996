package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// SQSAPI is the subset of the SQS client used for event fan-out.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Publisher is a Recorder that enqueues events on SQS instead of writing
// them. The worker's Consumer drains the queue into storage.
type Publisher struct {
	client   SQSAPI
	queueURL string
	timeout  time.Duration
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL, timeout: 5 * time.Second}
}

// Record enqueues ev. Counters are updated by the consumer, so it always
// reports false.
func (p *Publisher) Record(ctx context.Context, ev *domain.TrackingEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshal tracking event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return false, fmt.Errorf("publish tracking event: %w", err)
	}
	return false, nil
}

package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
)

type fakeSQS struct {
	mu      sync.Mutex
	queue   []string
	deleted []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &sqs.ReceiveMessageOutput{}
	for i, body := range f.queue {
		out.Messages = append(out.Messages, types.Message{
			Body:          aws.String(body),
			ReceiptHandle: aws.String(string(rune('a' + i))),
		})
	}
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type recorderFunc func(ctx context.Context, ev *domain.TrackingEvent) (bool, error)

func (f recorderFunc) Record(ctx context.Context, ev *domain.TrackingEvent) (bool, error) {
	return f(ctx, ev)
}

func TestPublisherAndConsumer(t *testing.T) {
	ctx := context.Background()
	q := &fakeSQS{}
	pub := NewPublisher(q, "https://sqs.local/events")

	_, err := pub.Record(ctx, &domain.TrackingEvent{Type: domain.EventOpen, CampaignID: "c1", RecipientID: "r1"})
	require.NoError(t, err)
	_, err = pub.Record(ctx, &domain.TrackingEvent{Type: domain.EventClick, CampaignID: "c1", URL: "https://example.com"})
	require.NoError(t, err)
	require.Len(t, q.queue, 2)

	var first domain.TrackingEvent
	require.NoError(t, json.Unmarshal([]byte(q.queue[0]), &first))
	assert.NotEmpty(t, first.ID)

	var got []domain.TrackingEvent
	c := NewConsumer(q, "https://sqs.local/events", recorderFunc(func(_ context.Context, ev *domain.TrackingEvent) (bool, error) {
		got = append(got, *ev)
		return true, nil
	}))
	n, err := c.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.EventClick, got[1].Type)
	assert.Equal(t, []string{"a", "b"}, q.deleted)
}

func TestConsumer_KeepsFailedMessages(t *testing.T) {
	q := &fakeSQS{queue: []string{"not json", `{"event_type":"open","campaign_id":"c1"}`, `{"event_type":"open","campaign_id":"gone"}`}}
	c := NewConsumer(q, "u", recorderFunc(func(_ context.Context, ev *domain.TrackingEvent) (bool, error) {
		if ev.CampaignID == "gone" {
			return false, domain.ErrNotFound
		}
		return false, errors.New("db down")
	}))

	n, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	// malformed and unknown-campaign messages are dropped, the failed write stays queued
	assert.Equal(t, []string{"a", "c"}, q.deleted)
}

package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/campaign-mailer/internal/domain"
)

// Consumer drains tracking events from SQS into a Recorder.
type Consumer struct {
	client   SQSAPI
	queueURL string
	store    Recorder
	backoff  time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewConsumer(client SQSAPI, queueURL string, store Recorder) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		store:    store,
		backoff:  5 * time.Second,
		done:     make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	log.Printf("[TrackingConsumer] started (queue=%s)", c.queueURL)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poll(ctx)
	}()
}

func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	log.Println("[TrackingConsumer] stopped")
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[TrackingConsumer] receive error: %v", err)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}
}

// PollOnce receives one batch of messages and records them. Messages that
// fail to record stay on the queue for redelivery; malformed messages and
// events for unknown campaigns are dropped.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, msg := range out.Messages {
		var ev domain.TrackingEvent
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &ev); err != nil {
			log.Printf("[TrackingConsumer] bad message: %v", err)
			c.delete(ctx, msg.ReceiptHandle)
			continue
		}

		if _, err := c.store.Record(ctx, &ev); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Printf("[TrackingConsumer] record %s failed: %v", ev.Type, err)
			continue
		}
		c.delete(ctx, msg.ReceiptHandle)
		processed++
	}
	return processed, nil
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		log.Printf("[TrackingConsumer] delete failed: %v", err)
	}
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

type gcpPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type gcpPublisherAdapter struct {
	publisher *gcppubsub.Publisher
}

func (a gcpPublisherAdapter) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return a.publisher.Publish(ctx, msg)
}

// PubSubPublisher publishes jobs to a Pub/Sub topic.
type PubSubPublisher struct {
	publisher gcpPublisher
	stop      func()
	timeout   time.Duration
}

func NewPubSubPublisher(publisher *gcppubsub.Publisher) (*PubSubPublisher, error) {
	if publisher == nil {
		return nil, errors.New("pubsub publisher is required")
	}
	return &PubSubPublisher{
		publisher: gcpPublisherAdapter{publisher: publisher},
		stop:      publisher.Stop,
		timeout:   defaultPublishTimeout,
	}, nil
}

// Publish blocks until the broker acknowledges the message or the publish
// timeout elapses.
func (p *PubSubPublisher) Publish(ctx context.Context, msg JobMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.publisher.Publish(ctx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"task_id": strconv.FormatInt(msg.TaskID, 10),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task %d: %w", msg.TaskID, err)
	}
	return nil
}

func (p *PubSubPublisher) Close() error {
	if p.stop != nil {
		p.stop()
	}
	return nil
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// PubSubConsumer drains a Pub/Sub subscription.
type PubSubConsumer struct {
	subscription receiver
	logg         *logger.Logger
}

// NewPubSubConsumer bounds in-flight jobs to concurrency.
func NewPubSubConsumer(subscription *gcppubsub.Subscriber, concurrency int, logg *logger.Logger) (*PubSubConsumer, error) {
	if subscription == nil {
		return nil, errors.New("pubsub subscription is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	subscription.ReceiveSettings.MaxOutstandingMessages = concurrency
	return &PubSubConsumer{subscription: subscription, logg: logg}, nil
}

func (c *PubSubConsumer) Run(ctx context.Context, handle Handler) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		logCtx := c.logg.WithField(ctx, "message_id", msg.ID)
		job, err := DecodeJobMessage(msg.Data)
		if err != nil {
			c.logg.Error(logCtx, "dropping malformed job message", err)
			msg.Ack()
			return
		}
		if handle(ctx, job) == Nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

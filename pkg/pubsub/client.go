package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/gcp"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errClientNotInitialized = errors.New("pubsub client not initialized")

// Client wraps the Pub/Sub v2 client for the ML jobs topic and its worker
// subscription. Both resources are provisioned out of band; the client only
// verifies they exist.
type Client struct {
	client       *pubsub.Client
	topic        string
	subscription string

	mu        sync.Mutex
	publisher *pubsub.Publisher
}

// NewClient connects and checks the configured topic and subscription. Either
// may be blank when the process only publishes or only consumes.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	c := &Client{
		topic:        gcp.ResourceName(project, "topics", cfg.MLJobsTopic),
		subscription: gcp.ResourceName(project, "subscriptions", cfg.MLJobsSubscription),
	}
	if c.topic == "" && c.subscription == "" {
		return nil, errors.New("pubsub topic or subscription is required")
	}

	psClient, err := pubsub.NewClient(ctx, project, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c.client = psClient

	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"topic":        c.topic,
			"subscription": c.subscription,
		}), "pubsub client initialized")
	}
	return c, nil
}

// MLJobsPublisher returns the shared publisher for the jobs topic, or nil
// when no topic is configured.
func (c *Client) MLJobsPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil || c.topic == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publisher == nil {
		c.publisher = c.client.Publisher(c.topic)
	}
	return c.publisher
}

// MLJobsSubscription returns a subscriber for the worker subscription, or
// nil when none is configured.
func (c *Client) MLJobsSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil || c.subscription == "" {
		return nil
	}
	return c.client.Subscriber(c.subscription)
}

// Ping checks that the configured topic and subscription still exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	if c.topic != "" {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
		if err := describe("topic", c.topic, err); err != nil {
			return err
		}
	}
	if c.subscription != "" {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: c.subscription})
		if err := describe("subscription", c.subscription, err); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the publisher, if one was handed out, and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	if c.publisher != nil {
		c.publisher.Stop()
		c.publisher = nil
	}
	c.mu.Unlock()
	return c.client.Close()
}

func describe(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub %s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking pubsub %s %q: %w", kind, name, err)
}

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	pkgpubsub "github.com/angelmondragon/highlightz-backend/pkg/pubsub"
)

// Backend is the broker connection selected by HIGHLIGHTZ_QUEUE_BACKEND.
type Backend struct {
	kind   string
	pubsub *pkgpubsub.Client
	rabbit *RabbitMQ
}

// Open connects to the configured broker.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*Backend, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	switch kind := cfg.Queue.Kind(); kind {
	case config.QueueBackendPubSub:
		client, err := pkgpubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, err
		}
		return &Backend{kind: kind, pubsub: client}, nil
	case config.QueueBackendRabbitMQ:
		rabbit, err := DialRabbitMQ(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return &Backend{kind: kind, rabbit: rabbit}, nil
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Queue.Backend)
	}
}

func (b *Backend) Kind() string { return b.kind }

func (b *Backend) Publisher() (Publisher, error) {
	if b.rabbit != nil {
		return b.rabbit.Publisher()
	}
	return NewPubSubPublisher(b.pubsub.MLJobsPublisher())
}

func (b *Backend) Consumer(concurrency int, logg *logger.Logger) (Consumer, error) {
	if b.rabbit != nil {
		return b.rabbit.Consumer(concurrency, logg)
	}
	return NewPubSubConsumer(b.pubsub.MLJobsSubscription(), concurrency, logg)
}

func (b *Backend) Ping(ctx context.Context) error {
	if b.rabbit != nil {
		return b.rabbit.Ping(ctx)
	}
	return b.pubsub.Ping(ctx)
}

func (b *Backend) Close() error {
	if b.rabbit != nil {
		return b.rabbit.Close()
	}
	return b.pubsub.Close()
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/highlightz-backend/pkg/config"
	"github.com/angelmondragon/highlightz-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

const rabbitRoutingKey = "ml.jobs"

// RabbitMQ owns the AMQP connection shared by the publisher and consumer.
type RabbitMQ struct {
	conn     *amqp.Connection
	exchange string
	queue    string
	prefetch int
}

// DialRabbitMQ connects and declares the job exchange and queue.
func DialRabbitMQ(cfg config.RabbitMQConfig) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	r := &RabbitMQ{
		conn:     conn,
		exchange: cfg.Exchange,
		queue:    cfg.Queue,
		prefetch: cfg.Prefetch,
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := r.declare(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(r.exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	if _, err := ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	if err := ch.QueueBind(r.queue, rabbitRoutingKey, r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", r.queue, err)
	}
	return nil
}

// Ping reports whether the connection is still open.
func (r *RabbitMQ) Ping(context.Context) error {
	if r == nil || r.conn == nil || r.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// RabbitPublisher publishes persistent job messages.
type RabbitPublisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func (r *RabbitMQ) Publisher() (*RabbitPublisher, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	return &RabbitPublisher{channel: ch, exchange: r.exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, msg JobMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	// amqp channels are not safe for concurrent publishes
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.PublishWithContext(ctx, p.exchange, rabbitRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publish task %d: %w", msg.TaskID, err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.channel.Close()
}

// RabbitConsumer runs up to concurrency handlers at once.
type RabbitConsumer struct {
	rmq         *RabbitMQ
	concurrency int
	logg        *logger.Logger
}

func (r *RabbitMQ) Consumer(concurrency int, logg *logger.Logger) (*RabbitConsumer, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &RabbitConsumer{rmq: r, concurrency: concurrency, logg: logg}, nil
}

func (c *RabbitConsumer) Run(ctx context.Context, handle Handler) error {
	ch, err := c.rmq.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	prefetch := c.rmq.prefetch
	if prefetch < c.concurrency {
		prefetch = c.concurrency
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.rmq.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.rmq.queue, err)
	}

	return consumeDeliveries(ctx, deliveries, c.concurrency, c.logg, handle)
}

// acknowledger is the settle surface of amqp.Delivery.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func consumeDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery, concurrency int, logg *logger.Logger, handle Handler) error {
	slots := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-slots }()
				settle(ctx, logg, d, d.Body, handle)
			}(d)
		}
	}
}

func settle(ctx context.Context, logg *logger.Logger, ack acknowledger, body []byte, handle Handler) {
	job, err := DecodeJobMessage(body)
	if err != nil {
		logg.Error(ctx, "dropping malformed job message", err)
		_ = ack.Ack(false)
		return
	}
	if handle(ctx, job) == Nack {
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}

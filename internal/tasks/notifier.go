package tasks

import (
	"context"

	"github.com/angelmondragon/highlightz-backend/pkg/enums"
	goredis "github.com/redis/go-redis/v9"
)

// Notifier fans out "task reached a terminal state" signals between the API
// and worker processes.
type Notifier interface {
	NotifyDone(ctx context.Context, taskID int64, status enums.TaskStatus) error
	SubscribeDone(ctx context.Context, taskID int64) (Subscription, error)
}

// Subscription delivers at most one completion signal.
type Subscription interface {
	Done() <-chan struct{}
	Close() error
}

type doneBus interface {
	TaskDoneChannel(taskID int64) string
	Publish(ctx context.Context, channel string, payload any) error
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

type redisNotifier struct {
	bus doneBus
}

// NewRedisNotifier publishes completion signals on hl:task_done:<id>.
func NewRedisNotifier(bus doneBus) Notifier {
	return &redisNotifier{bus: bus}
}

func (n *redisNotifier) NotifyDone(ctx context.Context, taskID int64, status enums.TaskStatus) error {
	return n.bus.Publish(ctx, n.bus.TaskDoneChannel(taskID), status.String())
}

func (n *redisNotifier) SubscribeDone(ctx context.Context, taskID int64) (Subscription, error) {
	ps, err := n.bus.Subscribe(ctx, n.bus.TaskDoneChannel(taskID))
	if err != nil {
		return nil, err
	}
	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	go sub.forward(ps.Channel())
	return sub, nil
}

type redisSubscription struct {
	ps   *goredis.PubSub
	done chan struct{}
}

func (s *redisSubscription) forward(messages <-chan *goredis.Message) {
	// the channel closes when the PubSub is closed; only a real message counts.
	if _, ok := <-messages; ok {
		close(s.done)
	}
}

func (s *redisSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

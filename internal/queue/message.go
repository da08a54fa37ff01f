package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobMessage asks a worker to run one ML task.
type JobMessage struct {
	TaskID     int64     `json:"task_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

var ErrMalformedMessage = errors.New("malformed job message")

func (m JobMessage) Encode() ([]byte, error) {
	if m.TaskID <= 0 {
		return nil, fmt.Errorf("%w: task_id must be positive", ErrMalformedMessage)
	}
	return json.Marshal(m)
}

// DecodeJobMessage parses a message body. Errors wrap ErrMalformedMessage.
func DecodeJobMessage(data []byte) (JobMessage, error) {
	var msg JobMessage
	if len(data) == 0 {
		return msg, fmt.Errorf("%w: empty body", ErrMalformedMessage)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.TaskID <= 0 {
		return msg, fmt.Errorf("%w: task_id must be positive", ErrMalformedMessage)
	}
	return msg, nil
}

// Outcome tells the backend whether to settle or redeliver a message.
type Outcome int

const (
	Ack Outcome = iota
	Nack
)

// Handler processes one decoded job.
type Handler func(ctx context.Context, msg JobMessage) Outcome

// Publisher submits jobs to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg JobMessage) error
	Close() error
}

// Consumer delivers jobs to a handler until ctx is canceled.
type Consumer interface {
	Run(ctx context.Context, handle Handler) error
}

package redis

import (
	"strconv"
	"strings"
)

// Keyspace prefixes every key and channel this service writes, so several
// deployments can share one Redis.
type Keyspace string

const DefaultKeyspace Keyspace = "hl"

func (k Keyspace) key(parts ...string) string {
	b := strings.Builder{}
	b.WriteString(string(k))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// Idempotency keys stored API responses by route scope and client key.
func (k Keyspace) Idempotency(scope, id string) string {
	return k.key("idempotency", scope, id)
}

// TaskDone is the pub/sub channel signalled when a task settles.
func (k Keyspace) TaskDone(taskID int64) string {
	return k.key("task_done", strconv.FormatInt(taskID, 10))
}

// Lock keys a named distributed lease.
func (k Keyspace) Lock(name string) string {
	return k.key("lock", name)
}

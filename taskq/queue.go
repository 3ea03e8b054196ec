// Package taskq implements a small Redis-backed task queue with delayed
// delivery. Messages live in one sorted set per queue, scored by their
// execution time, so a countdown or an explicit eta is just a future score.
// Workers poll for due messages and claim them by removal: ZREM reports how
// many members were removed, so exactly one competing worker wins a message.
package taskq

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	keyPrefix        = "taskq:"
	defaultPollEvery = time.Second
	claimBatchSize   = 10
)

// Message is the unit of work stored in a queue.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueued_at"`
	// ExpiresAt is a unix timestamp after which the message is dropped
	// instead of dispatched. Zero means the message never expires.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// Options controls when an enqueued message becomes due.
type Options struct {
	// Countdown delays dispatch by a duration from now.
	Countdown time.Duration
	// ETA sets an absolute execution time. Takes precedence over Countdown.
	ETA time.Time
	// ExpiresAt drops the message if it has not been dispatched by this time.
	ExpiresAt time.Time
}

/// Handler processes one message payload. Retry policy is owned by the handler:
// a handler that wants another attempt re-enqueues itself with a future eta.
type Handler func(ctx context.Context, payload []byte) error

// Queue dispatches messages from named Redis-backed queues to registered
// handlers.
type Queue struct {
	client    *goredis.Client
	logger    *logrus.Logger
	pollEvery time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler

	seq uint64
	wg  sync.WaitGroup
}

func New(client *goredis.Client, logger *logrus.Logger) *Queue {
	return &Queue{
		client:    client,
		logger:    logger,
		pollEvery: defaultPollEvery,
		now:       time.Now,
		handlers:  make(map[string]Handler),
	}
}

// Handle registers the handler for a task type. Registering twice for the
// same type replaces the previous handler.
func (q *Queue) Handle(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Enqueue stores one message on the named queue. The message becomes due at
// opts.ETA, or now+opts.Countdown, or immediately.
func (q *Queue) Enqueue(ctx context.Context, queue, taskType string, payload interface{}, opts Options) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", taskType, err)
	}

	now := q.now()
	eta := now
	if opts.ETA.IsZero() {
		if opts.Countdown > 0 {
			eta = now.Add(opts.Countdown)
		}
	} else {
		eta = opts.ETA
	}

	msg := Message{
		ID:         fmt.Sprintf("%s-%d-%d", taskType, now.UnixNano(), atomic.AddUint64(&q.seq, 1)),
		Type:       taskType,
		Payload:    body,
		EnqueuedAt: now.Unix(),
	}
	if !opts.ExpiresAt.IsZero() {
		msg.ExpiresAt = opts.ExpiresAt.Unix()
	}

	member, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}

	err = q.client.ZAdd(ctx, keyPrefix+queue, &goredis.Z{
		Score:  float64(eta.Unix()),
		Member: string(member),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", taskType, queue, err)
	}

	q.logger.WithFields(logrus.Fields{
		"queue":   queue,
		"task":    taskType,
		"task_id": msg.ID,
		"eta":     eta.Format(time.RFC3339),
	}).Debug("Enqueued task")

	return nil
}

// Run starts one worker per queue and blocks until ctx is cancelled and all
// workers have drained their in-flight message.
func (q *Queue) Run(ctx context.Context, queues ...string) {
	for _, queue := range queues {
		q.wg.Add(1)
		go func(queue string) {
			defer q.wg.Done()
			q.worker(ctx, queue)
		}(queue)
	}
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context, queue string) {
	ticker := time.NewTicker(q.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.ProcessOnce(ctx, queue)
		}
	}
}

// ProcessOnce claims and runs every message currently due on the queue.
// It returns the number of messages handled.
func (q *Queue) ProcessOnce(ctx context.Context, queue string) int {
	key := keyPrefix + queue
	handled := 0

	for {
		now := q.now().Unix()
		members, err := q.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now, 10),
			Count: claimBatchSize,
		}).Result()
		if err != nil {
			q.logger.WithFields(logrus.Fields{
				"queue": queue,
			}).WithError(err).Error("Failed to read due tasks")
			return handled
		}
		if len(members) == 0 {
			return handled
		}

		for _, member := range members {
			removed, err := q.client.ZRem(ctx, key, member).Result()
			if err != nil {
				q.logger.WithFields(logrus.Fields{
					"queue": queue,
				}).WithError(err).Error("Failed to claim task")
				return handled
			}
			if removed == 0 {
				// Another worker claimed it first.
				continue
			}

			if q.dispatch(ctx, queue, member) {
				handled++
			}
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, queue, member string) bool {
	var msg Message
	if err := json.Unmarshal([]byte(member), &msg); err != nil {
		q.logger.WithFields(logrus.Fields{
			"queue": queue,
		}).WithError(err).Error("Dropping undecodable task")
		return false
	}

	fields := logrus.Fields{
		"queue":   queue,
		"task":    msg.Type,
		"task_id": msg.ID,
	}

	if msg.ExpiresAt > 0 && q.now().Unix() > msg.ExpiresAt {
		q.logger.WithFields(fields).WithField(
			"expired_at", time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339),
		).Warn("Dropping expired task")
		return false
	}

	q.mu.RLock()
	h, ok := q.handlers[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.WithFields(fields).Warn("No handler registered for task type")
		return false
	}

	if err := h(ctx, msg.Payload); err != nil {
		q.logger.WithFields(fields).WithError(err).Error("Task handler failed")
	}
	return true
}

// Package queue implements the per-order queue substrate of §4.2/§4.3/
// §4.6: a redis-backed FIFO per status, fed by EventPublisher
// and drained by DeliveryWorkers, plus a single-job execution queue
// drained by an ExecutionWorker. Queue naming and teardown follow
// PerOrderResourceManager's "close one scope, everything disappears"
// design.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/orderexec/engine/internal/models"
)

// Job is one unit of queued work: either a status-delivery job (§4.2) or
// an execution job (§4.6), depending on which queue it rides on.
type Job struct {
	Key        string          `json:"key"`
	OrderID    string          `json:"orderId"`
	Status     models.OrderStatus `json:"status,omitempty"`
	Priority   int             `json:"priority"`
	Payload    []byte          `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempt    int             `json:"attempt"`
}

// Substrate wraps a redis client scoped to a single orderId's queue
// namespace. Every key it touches contains the orderId so Teardown can
// find and delete the whole namespace with a SCAN over *<orderId>*.
type Substrate struct {
	rdb     *redis.Client
	orderID string
}

// NewSubstrate scopes rdb to orderID's key namespace. It does not open a
// connection of its own: PerOrderResourceManager passes the same shared
// client to every order's substrate (see internal/resources), and
// teardown leaves that client open.
func NewSubstrate(rdb *redis.Client, orderID string) *Substrate {
	return &Substrate{rdb: rdb, orderID: orderID}
}

// statusQueueKey names the per-status queue for this order, e.g.
// "status/routing:order-123".
func (s *Substrate) statusQueueKey(status models.OrderStatus) string {
	return fmt.Sprintf("status/%s:%s", status, s.orderID)
}

// executionQueueKey names the single execution queue for this order.
func (s *Substrate) executionQueueKey() string {
	return fmt.Sprintf("execute:%s", s.orderID)
}

// Enqueue pushes job onto queueKey as a durable list entry.
func (s *Substrate) Enqueue(ctx context.Context, queueKey string, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	return s.rdb.LPush(ctx, queueKey, b).Err()
}

// Dequeue blocks up to timeout for the next job on queueKey, FIFO.
func (s *Substrate) Dequeue(ctx context.Context, queueKey string, timeout time.Duration) (*Job, error) {
	res, err := s.rdb.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("queue: unexpected BRPOP reply shape")
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshal job: %w", err)
	}
	return &job, nil
}

// Teardown deletes every key belonging to this order's queue namespace,
// per §4.4 step 3 ("delete queue state from the substrate for this
// orderId: all *<orderId>* keys").
func (s *Substrate) Teardown(ctx context.Context) error {
	pattern := "*" + s.orderID + "*"
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Error().Err(err).Str("orderId", s.orderID).Msg("queue teardown: failed deleting keys")
		return err
	}
	return nil
}

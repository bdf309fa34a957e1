package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderexec/engine/internal/models"
)

// priority implements the inert ordering hint of §4.2. Each status
// queue only ever holds jobs of its own status, so this value is
// carried for observability and possible future multi-status queues but
// never changes delivery order today.
func priority(status models.OrderStatus) int {
	return status.Priority()
}

// SubstrateLookup resolves the live per-order Substrate, or reports none
// if the order's resources have not been allocated (or were already torn
// down) — mirrors the "publish observing no resource record is a no-op"
// invariant of §4.4.
type SubstrateLookup interface {
	Get(orderID string) (*Substrate, bool)
}

// Toucher resets the idle timer owned by the resource manager. It is an
// optional capability of a SubstrateLookup: EventPublisher asserts for
// it so the manager's idle-timeout clock is reset on every published
// event, per §4.4, without the publisher importing the resources
// package directly.
type Toucher interface {
	Touch(orderID string)
}

// DroppedEvent records a publish attempt that never made it onto a
// queue, either because no resource record existed for the order or
// because every retry failed.
type DroppedEvent struct {
	OrderID string
	Status  models.OrderStatus
	Reason  string
	At      time.Time
}

const dropLogCapacity = 256

// EventPublisher converts StatusEvents into durable per-status queue
// entries, per §4.2. It implements lifecycle.Publisher.
type EventPublisher struct {
	substrates SubstrateLookup

	mu      sync.Mutex
	dropped []DroppedEvent
}

// NewEventPublisher constructs an EventPublisher bound to a substrate
// lookup (normally the PerOrderResourceManager).
func NewEventPublisher(substrates SubstrateLookup) *EventPublisher {
	return &EventPublisher{substrates: substrates}
}

// DroppedEvents returns the most recent lost publish attempts, oldest
// first, for diagnostics and tests — the persisted order row remains
// canonical regardless of what this log holds.
func (p *EventPublisher) DroppedEvents() []DroppedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]DroppedEvent, len(p.dropped))
	copy(out, p.dropped)
	return out
}

func (p *EventPublisher) recordDrop(orderID string, status models.OrderStatus, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = append(p.dropped, DroppedEvent{OrderID: orderID, Status: status, Reason: reason, At: time.Now()})
	if len(p.dropped) > dropLogCapacity {
		p.dropped = p.dropped[len(p.dropped)-dropLogCapacity:]
	}
}

// Publish enqueues event onto the per-order, per-status queue. It never
// blocks the caller on queue latency: the attempt (including retries)
// runs in its own goroutine, and a failure after all retries is logged
// and dropped — the persisted order row remains the source of truth.
func (p *EventPublisher) Publish(ctx context.Context, event models.StatusEvent) {
	sub, ok := p.substrates.Get(event.OrderID)
	if !ok {
		log.Warn().Str("orderId", event.OrderID).Str("status", string(event.Status)).
			Msg("publish: no resource record for order, dropping event")
		p.recordDrop(event.OrderID, event.Status, "no resource record")
		return
	}
	if toucher, ok := p.substrates.(Toucher); ok {
		toucher.Touch(event.OrderID)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("orderId", event.OrderID).Msg("publish: failed to marshal event")
		return
	}

	job := Job{
		Key:        fmt.Sprintf("%s:%s:%d", event.OrderID, event.Status, time.Now().UnixNano()),
		OrderID:    event.OrderID,
		Status:     event.Status,
		Priority:   priority(event.Status),
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}

	go p.publishWithRetry(sub, job)
}

const (
	publishMaxAttempts  = 3
	publishInitialDelay = time.Second
)

func (p *EventPublisher) publishWithRetry(sub *Substrate, job Job) {
	ctx := context.Background()
	queueKey := sub.statusQueueKey(job.Status)

	backoff := publishInitialDelay
	var lastErr error
	for attempt := 1; attempt <= publishMaxAttempts; attempt++ {
		job.Attempt = attempt
		if err := sub.Enqueue(ctx, queueKey, job); err == nil {
			return
		} else {
			lastErr = err
		}
		if attempt < publishMaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	log.Error().Err(lastErr).Str("orderId", job.OrderID).Str("status", string(job.Status)).
		Int("attempts", publishMaxAttempts).Msg("publish: exhausted retries, dropping event")
	p.recordDrop(job.OrderID, job.Status, lastErr.Error())
}

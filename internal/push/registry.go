// Package push implements the PushRegistry of §4.5: the
// orderId → subscriber-channel fan-out table backing the push-channel
// stream endpoint.
package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderexec/engine/internal/models"
)

// Channel is anything the registry can fan an event out to: a
// websocket connection, a test double, or (in principle) any other
// transport that can accept a serialized frame and report failure.
type Channel interface {
	// Send writes frame to the peer. A non-nil error, or the channel
	// being in a non-writable state, causes the registry to unregister
	// it.
	Send(frame []byte) error
}

// Registry holds the orderId -> Set<Channel> table plus its reverse
// lookup, guarded by a single mutex per §5's shared-resource policy.
type Registry struct {
	mu       sync.Mutex
	byOrder  map[string]map[Channel]struct{}
	byChan   map[Channel]string
	// emitSeq serializes concurrent Emit calls per orderId so that
	// across calls for the same order the invocation order is
	// preserved, per §4.5's ordering guarantee.
	emitSeq map[string]*sync.Mutex
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byOrder: make(map[string]map[Channel]struct{}),
		byChan:  make(map[Channel]string),
		emitSeq: make(map[string]*sync.Mutex),
	}
}

// Register attaches channel to orderId's subscriber set. Multiple
// concurrent registrations for the same orderId are allowed.
func (r *Registry) Register(orderID string, channel Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.byOrder[orderID]
	if !ok {
		set = make(map[Channel]struct{})
		r.byOrder[orderID] = set
	}
	set[channel] = struct{}{}
	r.byChan[channel] = orderID
}

// Unregister removes channel from both maps, dropping the order's set
// if it becomes empty.
func (r *Registry) Unregister(channel Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(channel)
}

func (r *Registry) unregisterLocked(channel Channel) {
	orderID, ok := r.byChan[channel]
	if !ok {
		return
	}
	delete(r.byChan, channel)
	if set, ok := r.byOrder[orderID]; ok {
		delete(set, channel)
		if len(set) == 0 {
			delete(r.byOrder, orderID)
		}
	}
}

func (r *Registry) lockFor(orderID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.emitSeq[orderID]
	if !ok {
		m = &sync.Mutex{}
		r.emitSeq[orderID] = m
	}
	return m
}

// Emit serializes event to a wire frame and fans it out to every
// channel currently registered for orderId, in parallel. The same
// frame bytes are sent to every channel. A channel whose Send fails is
// unregistered and does not count as a delivery. It returns the number
// of successful deliveries (0 is not an error — see §4.3).
func (r *Registry) Emit(_ context.Context, orderID string, event models.StatusEvent) int {
	order := r.lockFor(orderID)
	order.Lock()
	defer order.Unlock()

	frame, err := json.Marshal(wireStatusUpdate(event))
	if err != nil {
		log.Error().Err(err).Str("orderId", orderID).Msg("push registry: failed to serialize frame")
		return 0
	}

	r.mu.Lock()
	set := r.byOrder[orderID]
	channels := make([]Channel, 0, len(set))
	for ch := range set {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	if len(channels) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0

	for _, ch := range channels {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			if err := c.Send(frame); err != nil {
				r.Unregister(c)
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(ch)
	}
	wg.Wait()
	return delivered
}

// SubscriberCount reports how many channels are currently registered
// for orderId, for diagnostics and tests.
func (r *Registry) SubscriberCount(orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byOrder[orderID])
}

// wireStatusUpdate maps a StatusEvent onto the wire frame shape of §6.
func wireStatusUpdate(e models.StatusEvent) Frame {
	return Frame{
		Type:          FrameTypeStatusUpdate,
		OrderID:       e.OrderID,
		Status:        string(e.Status),
		DexType:       e.DexType,
		ExecutedPrice: e.ExecutedPrice,
		TxHash:        e.TxHash,
		ErrorReason:   e.ErrorReason,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339),
		Fingerprint:   e.Fingerprint(),
	}
}

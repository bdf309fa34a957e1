package push

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderexec/engine/internal/models"
)

type fakeChannel struct {
	mu      sync.Mutex
	frames  [][]byte
	failing bool
}

func (c *fakeChannel) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errSendFailed
	}
	c.frames = append(c.frames, frame)
	return nil
}

type sendFailedErr struct{}

func (sendFailedErr) Error() string { return "send failed" }

var errSendFailed = sendFailedErr{}

func TestRegistry_EmitFansOutToAllSubscribers(t *testing.T) {
	r := NewRegistry()
	a := &fakeChannel{}
	b := &fakeChannel{}
	r.Register("order-1", a)
	r.Register("order-1", b)

	n := r.Emit(context.Background(), "order-1", models.StatusEvent{
		OrderID: "order-1", Status: models.StatusConfirmed, Timestamp: time.Now(),
	})
	require.Equal(t, 2, n)
	require.Len(t, a.frames, 1)
	require.Len(t, b.frames, 1)
	require.Equal(t, a.frames[0], b.frames[0])
}

func TestRegistry_EmitWithNoSubscribersReturnsZero(t *testing.T) {
	r := NewRegistry()
	n := r.Emit(context.Background(), "order-ghost", models.StatusEvent{OrderID: "order-ghost"})
	require.Equal(t, 0, n)
}

func TestRegistry_FailingChannelIsUnregistered(t *testing.T) {
	r := NewRegistry()
	bad := &fakeChannel{failing: true}
	good := &fakeChannel{}
	r.Register("order-2", bad)
	r.Register("order-2", good)

	n := r.Emit(context.Background(), "order-2", models.StatusEvent{OrderID: "order-2", Status: models.StatusRouting})
	require.Equal(t, 1, n)
	require.Equal(t, 1, r.SubscriberCount("order-2"))

	n = r.Emit(context.Background(), "order-2", models.StatusEvent{OrderID: "order-2", Status: models.StatusBuilding})
	require.Equal(t, 1, n)
}

func TestRegistry_UnregisterRemovesEmptySet(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{}
	r.Register("order-3", ch)
	require.Equal(t, 1, r.SubscriberCount("order-3"))

	r.Unregister(ch)
	require.Equal(t, 0, r.SubscriberCount("order-3"))
}

func TestRegistry_ConcurrentEmitsDeliverEveryFrameIntact(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{}
	r.Register("order-4", ch)

	var wg sync.WaitGroup
	statuses := []models.OrderStatus{
		models.StatusRouting, models.StatusBuilding, models.StatusSubmitted, models.StatusConfirmed,
	}
	for _, s := range statuses {
		wg.Add(1)
		go func(status models.OrderStatus) {
			defer wg.Done()
			r.Emit(context.Background(), "order-4", models.StatusEvent{OrderID: "order-4", Status: status})
		}(s)
	}
	wg.Wait()

	require.Len(t, ch.frames, 4)
	// Every frame must be well-formed JSON with the orderId present,
	// regardless of arrival order (concurrent emits race on status
	// order, but none may corrupt or drop a frame).
	for _, f := range ch.frames {
		var decoded Frame
		require.NoError(t, json.Unmarshal(f, &decoded))
		require.Equal(t, "order-4", decoded.OrderID)
	}
}

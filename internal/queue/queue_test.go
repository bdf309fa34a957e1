package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/orderexec/engine/internal/models"
)

func newTestSubstrate(t *testing.T, orderID string) *Substrate {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSubstrate(rdb, orderID)
}

func TestSubstrate_EnqueueDequeueRoundTrip(t *testing.T) {
	sub := newTestSubstrate(t, "order-1")
	ctx := context.Background()

	key := sub.statusQueueKey(models.StatusRouting)
	job := Job{Key: "order-1:ROUTING:1", OrderID: "order-1", Status: models.StatusRouting}
	require.NoError(t, sub.Enqueue(ctx, key, job))

	got, err := sub.Dequeue(ctx, key, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "order-1", got.OrderID)
}

func TestSubstrate_DequeueTimesOutEmpty(t *testing.T) {
	sub := newTestSubstrate(t, "order-2")
	got, err := sub.Dequeue(context.Background(), sub.statusQueueKey(models.StatusConfirmed), 50*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSubstrate_TeardownDeletesOnlyThisOrder(t *testing.T) {
	sub := newTestSubstrate(t, "order-3")
	ctx := context.Background()

	require.NoError(t, sub.Enqueue(ctx, sub.statusQueueKey(models.StatusRouting), Job{OrderID: "order-3"}))
	require.NoError(t, sub.rdb.Set(ctx, "unrelated-key", "v", 0).Err())

	require.NoError(t, sub.Teardown(ctx))

	n, err := sub.rdb.Exists(ctx, sub.statusQueueKey(models.StatusRouting)).Result()
	require.NoError(t, err)
	require.EqualValues(t, 0, n)

	n, err = sub.rdb.Exists(ctx, "unrelated-key").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

type fakeEmitter struct {
	mu    sync.Mutex
	calls []models.StatusEvent
	ret   int
}

func (f *fakeEmitter) Emit(_ context.Context, _ string, event models.StatusEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, event)
	return f.ret
}

func TestEventPublisher_PublishDeliversToQueue(t *testing.T) {
	sub := newTestSubstrate(t, "order-4")
	lookup := staticLookup{sub: sub}
	pub := NewEventPublisher(lookup)

	event := models.StatusEvent{OrderID: "order-4", Status: models.StatusRouting, Timestamp: time.Now()}
	pub.Publish(context.Background(), event)

	require.Eventually(t, func() bool {
		n, _ := sub.rdb.LLen(context.Background(), sub.statusQueueKey(models.StatusRouting)).Result()
		return n == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEventPublisher_PublishNoResourceRecordIsNoop(t *testing.T) {
	pub := NewEventPublisher(emptyLookup{})
	// Must not panic or block (this call demonstrates it by not hanging
	// the test), and the lost event must show up in the drop log.
	pub.Publish(context.Background(), models.StatusEvent{OrderID: "ghost", Status: models.StatusFailed})

	dropped := pub.DroppedEvents()
	require.Len(t, dropped, 1)
	require.Equal(t, "ghost", dropped[0].OrderID)
}

func TestDeliveryWorker_DrainsQueueAndEmits(t *testing.T) {
	sub := newTestSubstrate(t, "order-5")
	emitter := &fakeEmitter{ret: 1}
	worker := NewDeliveryWorker(sub, models.StatusConfirmed, emitter, 10, 600)

	event := models.StatusEvent{OrderID: "order-5", Status: models.StatusConfirmed, Timestamp: time.Now()}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, sub.Enqueue(context.Background(), sub.statusQueueKey(models.StatusConfirmed), Job{
		OrderID: "order-5", Status: models.StatusConfirmed, Payload: payload,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go worker.Run(ctx)

	require.Eventually(t, func() bool {
		emitter.mu.Lock()
		defer emitter.mu.Unlock()
		return len(emitter.calls) == 1
	}, time.Second, 10*time.Millisecond)
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	failN    int
	finalErr error
}

func (r *fakeRunner) Run(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failN {
		return assertErr{"transient"}
	}
	return r.finalErr
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestExecutionQueue_DuplicateEnqueueSuppressed(t *testing.T) {
	sub := newTestSubstrate(t, "order-6")
	q := NewExecutionQueue(sub, "order-6")

	require.NoError(t, q.Enqueue(context.Background()))
	require.NoError(t, q.Enqueue(context.Background()))

	n, err := sub.rdb.LLen(context.Background(), sub.executionQueueKey()).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestExecutionWorker_RunsEnqueuedJob(t *testing.T) {
	sub := newTestSubstrate(t, "order-7")
	q := NewExecutionQueue(sub, "order-7")
	require.NoError(t, q.Enqueue(context.Background()))

	runner := &fakeRunner{}
	worker := NewExecutionWorker(sub, "order-7", runner, 600)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go worker.Run(ctx)

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.calls == 1
	}, time.Second, 10*time.Millisecond)
}

type staticLookup struct{ sub *Substrate }

func (l staticLookup) Get(string) (*Substrate, bool) { return l.sub, true }

type emptyLookup struct{}

func (emptyLookup) Get(string) (*Substrate, bool) { return nil, false }

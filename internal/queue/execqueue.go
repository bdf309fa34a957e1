package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Runner is the narrow slice of OrderLifecycle the execution worker
// drives.
type Runner interface {
	Run(ctx context.Context, orderID string) error
}

// ExecutionQueue hands {orderId} jobs to a single ExecutionWorker, per
// §4.6. Job key is the orderId itself: since this queue belongs to
// exactly one order's resource scope, a pending-marker in redis is
// enough to make a second Enqueue call for the same order a no-op.
type ExecutionQueue struct {
	sub     *Substrate
	orderID string
}

// NewExecutionQueue builds the single execution queue for orderID.
func NewExecutionQueue(sub *Substrate, orderID string) *ExecutionQueue {
	return &ExecutionQueue{sub: sub, orderID: orderID}
}

func (q *ExecutionQueue) pendingKey() string {
	return "execute-pending:" + q.orderID
}

// Enqueue submits the order for execution, deduplicating against an
// already-pending job for the same orderId.
func (q *ExecutionQueue) Enqueue(ctx context.Context) error {
	set, err := q.sub.rdb.SetNX(ctx, q.pendingKey(), 1, 0).Result()
	if err != nil {
		return err
	}
	if !set {
		log.Debug().Str("orderId", q.orderID).Msg("execution queue: duplicate enqueue suppressed")
		return nil
	}
	return q.sub.Enqueue(ctx, q.sub.executionQueueKey(), Job{
		Key:        q.orderID,
		OrderID:    q.orderID,
		EnqueuedAt: time.Now(),
	})
}

// ExecutionWorker drains the execution queue for one order and drives
// the lifecycle to completion, retrying the whole lifecycle run
// according to §4.6's policy.
type ExecutionWorker struct {
	sub     *Substrate
	orderID string
	runner  Runner
	limiter *rate.Limiter

	pollWait time.Duration
	stop     chan struct{}
}

const (
	executionMaxAttempts  = 3
	executionInitialDelay = 2 * time.Second
)

// NewExecutionWorker builds the worker bound to orderID's execution
// queue. ratePerMinute bounds throughput for the (practically
// single-job) order scope.
func NewExecutionWorker(sub *Substrate, orderID string, runner Runner, ratePerMinute int) *ExecutionWorker {
	if ratePerMinute <= 0 {
		ratePerMinute = 100
	}
	return &ExecutionWorker{
		sub:      sub,
		orderID:  orderID,
		runner:   runner,
		limiter:  rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute),
		pollWait: time.Second,
		stop:     make(chan struct{}),
	}
}

// Run drains jobs until Stop is called or ctx is cancelled.
func (w *ExecutionWorker) Run(ctx context.Context) {
	queueKey := w.sub.executionQueueKey()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.sub.Dequeue(ctx, queueKey, w.pollWait)
		if err != nil {
			log.Warn().Err(err).Str("orderId", w.orderID).Msg("execution worker: dequeue error, will retry")
			continue
		}
		if job == nil {
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		w.sub.rdb.Del(ctx, w.pendingMarker())
		w.runWithRetry(ctx, job)
	}
}

func (w *ExecutionWorker) pendingMarker() string {
	return "execute-pending:" + w.orderID
}

func (w *ExecutionWorker) runWithRetry(ctx context.Context, job *Job) {
	backoff := executionInitialDelay
	var lastErr error
	for attempt := 1; attempt <= executionMaxAttempts; attempt++ {
		if err := w.runner.Run(ctx, job.OrderID); err != nil {
			lastErr = err
			// The lifecycle has already persisted FAILED for
			// unrecoverable stage errors; a transient infrastructure
			// error (store/router/chain unreachable) is the case worth
			// retrying the whole run for. Either way the state machine
			// will no-op past already-completed stages.
			if attempt < executionMaxAttempts {
				time.Sleep(backoff)
				backoff *= 2
				continue
			}
		} else {
			return
		}
	}
	if lastErr != nil {
		log.Error().Err(lastErr).Str("orderId", job.OrderID).Int("attempts", executionMaxAttempts).
			Msg("execution worker: lifecycle run failed after retries, order row already reflects terminal failure")
	}
}

// Stop signals Run to exit.
func (w *ExecutionWorker) Stop() {
	close(w.stop)
}

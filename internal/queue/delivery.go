package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/orderexec/engine/internal/models"
)

// Emitter is the narrow slice of PushRegistry a DeliveryWorker needs.
type Emitter interface {
	Emit(ctx context.Context, orderID string, event models.StatusEvent) int
}

// DeliveryWorker drains a single per-status queue and hands every job to
// the push registry, per §4.3. One of these runs per status per order
// scope — six total, owned by PerOrderResourceManager.
type DeliveryWorker struct {
	sub      *Substrate
	status   models.OrderStatus
	emitter  Emitter
	limiter  *rate.Limiter
	sem      chan struct{}
	pollWait time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDeliveryWorker builds a worker for orderId's status queue. concurrency
// bounds in-flight jobs (default 50); ratePerMinute bounds throughput
// (default 1000/min).
func NewDeliveryWorker(sub *Substrate, status models.OrderStatus, emitter Emitter, concurrency, ratePerMinute int) *DeliveryWorker {
	if concurrency <= 0 {
		concurrency = 50
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 1000
	}
	return &DeliveryWorker{
		sub:      sub,
		status:   status,
		emitter:  emitter,
		limiter:  rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute),
		sem:      make(chan struct{}, concurrency),
		pollWait: time.Second,
		stop:     make(chan struct{}),
	}
}

// Run drains the queue until Stop is called. It is meant to be launched
// in its own goroutine by the resource manager.
func (w *DeliveryWorker) Run(ctx context.Context) {
	queueKey := w.sub.statusQueueKey(w.status)
	for {
		select {
		case <-w.stop:
			w.wg.Wait()
			return
		case <-ctx.Done():
			w.wg.Wait()
			return
		default:
		}

		job, err := w.sub.Dequeue(ctx, queueKey, w.pollWait)
		if err != nil {
			log.Warn().Err(err).Str("orderId", w.sub.orderID).Str("status", string(w.status)).
				Msg("delivery worker: dequeue error, will retry")
			continue
		}
		if job == nil {
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		w.sem <- struct{}{}
		w.wg.Add(1)
		go func(j *Job) {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.handle(ctx, j)
		}(job)
	}
}

func (w *DeliveryWorker) handle(ctx context.Context, job *Job) {
	var event models.StatusEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		log.Error().Err(err).Str("orderId", job.OrderID).Msg("delivery worker: malformed job payload")
		return
	}

	delivered := w.emitter.Emit(ctx, job.OrderID, event)
	if delivered == 0 {
		// No subscribers is not an error per §4.3: the event is still
		// considered delivered.
		log.Debug().Str("orderId", job.OrderID).Str("status", string(job.Status)).
			Msg("delivery worker: no subscribers attached")
	}
}

// Stop signals Run to exit after draining in-flight handlers.
func (w *DeliveryWorker) Stop() {
	close(w.stop)
}

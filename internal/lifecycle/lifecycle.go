// Package lifecycle drives a single Order through the forward-only state
// machine of SPEC_FULL §4.1: routing → building → submitted → confirmed,
// failing into a terminal FAILED state from any stage. It is the
// orchestrator named "OrderLifecycle" (component G) — it calls Router and
// Chain, persists every transition through OrderStore, and publishes one
// StatusEvent per persisted transition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderexec/engine/internal/models"
)

var (
	// ErrNotPending is returned when the lifecycle is asked to advance an order
	// that is not sitting in its expected predecessor state — the state
	// machine refuses transitions that are not from the expected
	// predecessor, which is what makes re-running a job idempotent.
	ErrNotPending = errors.New("lifecycle: order is not in the expected predecessor state")
)

// Publisher is the narrow slice of EventPublisher the lifecycle needs.
// Keeping it narrow (rather than importing the queue package directly)
// avoids a cyclic dependency between lifecycle and queue/resources, per
// the inversion-of-ownership redesign flag in SPEC_FULL §9.
type Publisher interface {
	Publish(ctx context.Context, event models.StatusEvent)
}

// Lifecycle orchestrates Router/Chain calls and OrderStore writes for
// every order, serializing per orderId so at most one execution runs for
// a given order at a time.
type Lifecycle struct {
	store     models.OrderStore
	router    models.Router
	chain     models.Chain
	publisher Publisher

	confirmationTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex

	quotes quoteHolder
	txs    txHolder
}

// New constructs a Lifecycle bound to its collaborators.
func New(store models.OrderStore, router models.Router, chain models.Chain, publisher Publisher, confirmationTimeout time.Duration) *Lifecycle {
	return &Lifecycle{
		store:               store,
		router:              router,
		chain:                chain,
		publisher:           publisher,
		confirmationTimeout: confirmationTimeout,
		inFlight:            make(map[string]*sync.Mutex),
		quotes:              newQuoteHolder(),
		txs:                 newTxHolder(),
	}
}

// quoteHolder and txHolder hold the in-memory state a lifecycle run needs
// between stages (the quote from routing, the built tx from building).
// They are scoped by orderId and are not persisted — a process restart
// mid-flight causes build() to re-quote, which is safe because BestQuote
// is idempotent from the caller's perspective.
type quoteHolder struct {
	mu   sync.Mutex
	data map[string]models.Quote
}

func newQuoteHolder() quoteHolder { return quoteHolder{data: make(map[string]models.Quote)} }

func (h *quoteHolder) store(orderID string, q models.Quote) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[orderID] = q
}

func (h *quoteHolder) load(orderID string) (models.Quote, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.data[orderID]
	return q, ok
}

func (h *quoteHolder) delete(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.data, orderID)
}

type txHolder struct {
	mu   sync.Mutex
	data map[string]models.BuiltTx
}

func newTxHolder() txHolder { return txHolder{data: make(map[string]models.BuiltTx)} }

func (h *txHolder) store(orderID string, tx models.BuiltTx) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[orderID] = tx
}

func (h *txHolder) load(orderID string) (models.BuiltTx, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tx, ok := h.data[orderID]
	return tx, ok
}

func (h *txHolder) delete(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.data, orderID)
}

func (l *Lifecycle) lockFor(orderID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.inFlight[orderID]
	if !ok {
		m = &sync.Mutex{}
		l.inFlight[orderID] = m
	}
	return m
}

// Run drives orderID through every remaining stage of the state machine,
// persisting and publishing each transition in order. It is safe to call
// concurrently for the same orderId — the second caller blocks until the
// first completes, then observes the (now terminal, or further advanced)
// state and returns without re-running completed stages.
func (l *Lifecycle) Run(ctx context.Context, orderID string) error {
	lock := l.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := l.store.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("lifecycle: load order %s: %w", orderID, err)
	}

	for !order.Status.Terminal() {
		var stageErr error
		order, stageErr = l.step(ctx, order)
		if stageErr != nil {
			return stageErr
		}
	}
	return nil
}

// step executes the single next stage for order and returns the order as
// persisted after that stage (success or FAILED).
func (l *Lifecycle) step(ctx context.Context, order *models.Order) (*models.Order, error) {
	switch order.Status {
	case models.StatusPending:
		return l.route(ctx, order)
	case models.StatusRouting:
		return l.build(ctx, order)
	case models.StatusBuilding:
		return l.submit(ctx, order)
	case models.StatusSubmitted:
		return l.confirm(ctx, order)
	default:
		return order, fmt.Errorf("lifecycle: %w: order %s in status %s", ErrNotPending, order.OrderID, order.Status)
	}
}

func (l *Lifecycle) route(ctx context.Context, order *models.Order) (*models.Order, error) {
	quote, err := l.router.BestQuote(ctx, order)
	if err != nil {
		return l.fail(ctx, order, fmt.Sprintf("DEX routing failed: %v", err))
	}
	l.quotes.store(order.OrderID, quote)
	return l.advance(ctx, order, models.StatusRouting)
}

func (l *Lifecycle) build(ctx context.Context, order *models.Order) (*models.Order, error) {
	quote, ok := l.quotes.load(order.OrderID)
	if !ok {
		// Re-entered after a process restart with no held quote: re-quote.
		var err error
		quote, err = l.router.BestQuote(ctx, order)
		if err != nil {
			return l.fail(ctx, order, fmt.Sprintf("DEX routing failed: %v", err))
		}
		l.quotes.store(order.OrderID, quote)
	}

	tx, err := l.router.BuildTx(ctx, order, quote)
	if err != nil {
		return l.fail(ctx, order, fmt.Sprintf("Transaction building failed: %v", err))
	}
	l.txs.store(order.OrderID, tx)

	dex := quote.Dex
	order.DexType = &dex
	return l.advance(ctx, order, models.StatusBuilding)
}

func (l *Lifecycle) submit(ctx context.Context, order *models.Order) (*models.Order, error) {
	tx, ok := l.txs.load(order.OrderID)
	if !ok {
		return l.fail(ctx, order, "Transaction submission failed: no built transaction held")
	}

	txHash, err := l.chain.Submit(ctx, tx)
	if err != nil {
		return l.fail(ctx, order, fmt.Sprintf("Transaction submission failed: %v", err))
	}
	order.TxHash = &txHash
	return l.advance(ctx, order, models.StatusSubmitted)
}

func (l *Lifecycle) confirm(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.TxHash == nil {
		return l.fail(ctx, order, "Transaction confirmation timeout")
	}

	confirmCtx, cancel := context.WithTimeout(ctx, l.confirmationTimeout)
	defer cancel()

	err := l.chain.AwaitConfirmation(confirmCtx, *order.TxHash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return l.fail(ctx, order, "Transaction confirmation timeout")
		}
		return l.fail(ctx, order, fmt.Sprintf("Transaction failed: %v", err))
	}

	quote, _ := l.quotes.load(order.OrderID)
	price := executedPrice(quote, order.SlippageTolerance)
	order.ExecutedPrice = &price
	l.quotes.delete(order.OrderID)
	l.txs.delete(order.OrderID)

	return l.advance(ctx, order, models.StatusConfirmed)
}

// advance persists the transition to `to` and publishes the matching
// event, per the ordering guarantee in §4.1: the DB write happens, then
// (and only then) the event is enqueued.
func (l *Lifecycle) advance(ctx context.Context, order *models.Order, to models.OrderStatus) (*models.Order, error) {
	if !order.Status.CanAdvanceTo(to) {
		return order, fmt.Errorf("lifecycle: %w: cannot move %s from %s to %s", ErrNotPending, order.OrderID, order.Status, to)
	}
	order.Status = to
	order.UpdatedAt = time.Now()

	if err := l.store.UpdateStatus(ctx, order); err != nil {
		return order, fmt.Errorf("lifecycle: persist %s for order %s: %w", to, order.OrderID, err)
	}

	l.publisher.Publish(ctx, models.FromOrder(order))
	return order, nil
}

// fail transitions order into the terminal FAILED state with reason.
// Per §4.1, the lifecycle still attempts the DB write and the terminal
// event emission before returning the error to the caller; if the FAILED
// write itself fails, it retries the store write once directly, bypassing
// event publication, then logs and proceeds.
func (l *Lifecycle) fail(ctx context.Context, order *models.Order, reason string) (*models.Order, error) {
	order.Status = models.StatusFailed
	order.ErrorReason = &reason
	order.UpdatedAt = time.Now()

	l.quotes.delete(order.OrderID)
	l.txs.delete(order.OrderID)

	if err := l.store.UpdateStatus(ctx, order); err != nil {
		log.Error().Err(err).Str("orderId", order.OrderID).Msg("failed write for FAILED status, retrying once")
		if retryErr := l.store.UpdateStatus(ctx, order); retryErr != nil {
			log.Error().Err(retryErr).Str("orderId", order.OrderID).Msg("retry of FAILED write also failed, proceeding")
			return order, fmt.Errorf("lifecycle: %s: %w", reason, retryErr)
		}
	}

	l.publisher.Publish(ctx, models.FromOrder(order))
	return order, fmt.Errorf("lifecycle: %s", reason)
}

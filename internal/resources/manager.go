// Package resources implements the PerOrderResourceManager of SPEC_FULL
// §4.4: it owns a map of orderId -> (substrate, six delivery workers, one
// execution worker, idle timer) and is the only place that allocates or
// tears one of these scopes down.
package resources

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/orderexec/engine/internal/models"
	"github.com/orderexec/engine/internal/push"
	"github.com/orderexec/engine/internal/queue"
)

// statuses are the six queues instantiated per order, in the order the
// state machine visits them plus the terminal failure state.
var statuses = []models.OrderStatus{
	models.StatusPending,
	models.StatusRouting,
	models.StatusBuilding,
	models.StatusSubmitted,
	models.StatusConfirmed,
	models.StatusFailed,
}

// scope bundles everything PerOrderResourceManager owns for one orderId.
type scope struct {
	orderID string
	sub     *queue.Substrate

	delivery []*queue.DeliveryWorker
	execQ    *queue.ExecutionQueue
	execW    *queue.ExecutionWorker

	cancel context.CancelFunc

	idleTimer *time.Timer
}

// Manager is the PerOrderResourceManager. It implements
// queue.SubstrateLookup so EventPublisher can resolve the live substrate
// for an orderId, and push.Registry is injected so delivery workers can
// fan events out.
type Manager struct {
	rdb         *redis.Client
	registry    *push.Registry
	runner      queue.Runner
	idleTimeout time.Duration

	deliveryConcurrency int
	deliveryRateLimit   int
	execRateLimit       int

	mu     sync.Mutex
	scopes map[string]*scope
}

// NewManager constructs a Manager. runner is normally *lifecycle.Lifecycle.
func NewManager(rdb *redis.Client, registry *push.Registry, runner queue.Runner, idleTimeout time.Duration, deliveryConcurrency, deliveryRateLimit, execRateLimit int) *Manager {
	return &Manager{
		rdb:                 rdb,
		registry:            registry,
		runner:              runner,
		idleTimeout:         idleTimeout,
		deliveryConcurrency: deliveryConcurrency,
		deliveryRateLimit:   deliveryRateLimit,
		execRateLimit:       execRateLimit,
		scopes:              make(map[string]*scope),
	}
}

// Get implements queue.SubstrateLookup.
func (m *Manager) Get(orderID string) (*queue.Substrate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scopes[orderID]
	if !ok {
		return nil, false
	}
	return s.sub, true
}

// Allocate creates the full resource scope for orderID: the substrate,
// six delivery workers, one execution worker, and an armed idle timer.
// It is a no-op if a scope already exists for this orderId, preserving
// the "at most one resource record per orderId" invariant.
func (m *Manager) Allocate(orderID string) *queue.ExecutionQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.scopes[orderID]; ok {
		return existing.execQ
	}

	sub := queue.NewSubstrate(m.rdb, orderID)
	ctx, cancel := context.WithCancel(context.Background())

	s := &scope{
		orderID: orderID,
		sub:     sub,
		cancel:  cancel,
	}

	for _, status := range statuses {
		w := queue.NewDeliveryWorker(sub, status, m.registry, m.deliveryConcurrency, m.deliveryRateLimit)
		s.delivery = append(s.delivery, w)
		go w.Run(ctx)
	}

	s.execQ = queue.NewExecutionQueue(sub, orderID)
	s.execW = queue.NewExecutionWorker(sub, orderID, m.runner, m.execRateLimit)
	go s.execW.Run(ctx)

	s.idleTimer = time.AfterFunc(m.idleTimeout, func() { m.teardown(orderID) })

	m.scopes[orderID] = s

	log.Info().Str("orderId", orderID).Msg("resources: allocated order scope")
	return s.execQ
}

// ScopeCount reports how many order resource scopes are currently live,
// for the health endpoint.
func (m *Manager) ScopeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scopes)
}

// QueueHealthy reports whether the queue substrate is reachable, for the
// health endpoint's connection-state field.
func (m *Manager) QueueHealthy(ctx context.Context) bool {
	return m.rdb.Ping(ctx).Err() == nil
}

// Touch resets the idle timer for orderID, called on every published
// event per §4.4.
func (m *Manager) Touch(orderID string) {
	m.mu.Lock()
	s, ok := m.scopes[orderID]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.idleTimer.Reset(m.idleTimeout)
}

func (m *Manager) teardown(orderID string) {
	m.mu.Lock()
	s, ok := m.scopes[orderID]
	if ok {
		delete(m.scopes, orderID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.closeScope(s)
}

func (m *Manager) closeScope(s *scope) {
	s.idleTimer.Stop()
	s.execW.Stop()
	for _, w := range s.delivery {
		w.Stop()
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sub.Teardown(ctx); err != nil {
		log.Error().Err(err).Str("orderId", s.orderID).Msg("resources: teardown failed to clear substrate keys")
	}
	log.Info().Str("orderId", s.orderID).Msg("resources: torn down order scope")
}

// ShutdownAll closes every live scope in parallel, for process shutdown.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	all := make([]*scope, 0, len(m.scopes))
	for id, s := range m.scopes {
		all = append(all, s)
		delete(m.scopes, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(sc *scope) {
			defer wg.Done()
			m.closeScope(sc)
		}(s)
	}
	wg.Wait()
}

// Package api implements the thin SubmissionAPI boundary of SPEC_FULL
// §4.7/§6: HTTP handlers over gin that validate, delegate to the store
// and resource manager, and never contain lifecycle logic themselves.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orderexec/engine/internal/models"
	"github.com/orderexec/engine/internal/push"
	"github.com/orderexec/engine/internal/queue"
	"github.com/orderexec/engine/internal/storage"
)

// ResourceAllocator is the narrow slice of PerOrderResourceManager the
// API needs: allocate a scope and hand back its execution queue.
type ResourceAllocator interface {
	Allocate(orderID string) *queue.ExecutionQueue
}

// Server wires the HTTP surface to OrderStore, ResourceAllocator and the
// push registry.
type Server struct {
	store         models.OrderStore
	allocator     ResourceAllocator
	registry      *push.Registry
	snapshotDelay time.Duration

	engine *gin.Engine
}

// NewServer builds the gin engine and registers every route of §6.
func NewServer(store models.OrderStore, allocator ResourceAllocator, registry *push.Registry, snapshotDelay time.Duration) *Server {
	s := &Server{
		store:         store,
		allocator:     allocator,
		registry:      registry,
		snapshotDelay: snapshotDelay,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.handleHealth)
	engine.POST("/api/orders/execute", s.handleCreateOrder)
	engine.GET("/api/orders", s.handleListOrders)
	engine.GET("/api/orders/:orderId", s.handleGetOrder)
	engine.GET("/api/orders/:orderId/stream", s.handleStream)

	s.engine = engine
	return s
}

// Handler exposes the underlying http.Handler for the bootstrap to serve.
func (s *Server) Handler() http.Handler { return s.engine }

// scopeCounter is an optional ResourceAllocator capability reporting how
// many order scopes are currently live, surfaced on /health per
// SPEC_FULL §12.
type scopeCounter interface {
	ScopeCount() int
}

// queuePinger is an optional ResourceAllocator capability reporting
// whether the queue substrate is reachable, surfaced on /health per
// SPEC_FULL §12.
type queuePinger interface {
	QueueHealthy(ctx context.Context) bool
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{Status: "ok", Timestamp: nowISO(), Queue: "unknown"}
	if sc, ok := s.allocator.(scopeCounter); ok {
		resp.ActiveOrders = sc.ScopeCount()
	}
	if qp, ok := s.allocator.(queuePinger); ok {
		if qp.QueueHealthy(c.Request.Context()) {
			resp.Queue = "connected"
		} else {
			resp.Queue = "unreachable"
			resp.Status = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Success: false,
			Error:   "Validation error",
			Details: []string{err.Error()},
		})
		return
	}
	if errs := req.validationErrors(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, errorResponse{
			Success: false,
			Error:   "Validation error",
			Details: errs,
		})
		return
	}

	now := time.Now()
	order := &models.Order{
		OrderID:           uuid.New().String(),
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.AmountIn,
		SlippageTolerance: req.SlippageTolerance,
		MinAmountOut:      req.MinAmountOut,
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	ctx := c.Request.Context()
	if err := s.store.Create(ctx, order); err != nil {
		log.Error().Err(err).Msg("create order: store write failed")
		c.JSON(http.StatusInternalServerError, errorResponse{
			Success: false,
			Error:   "Internal error",
			Message: "failed to persist order",
		})
		return
	}

	execQ := s.allocator.Allocate(order.OrderID)
	if err := execQ.Enqueue(ctx); err != nil {
		log.Error().Err(err).Str("orderId", order.OrderID).Msg("create order: execution enqueue failed")
		c.JSON(http.StatusInternalServerError, errorResponse{
			Success: false,
			Error:   "Internal error",
			Message: "failed to enqueue order for execution",
		})
		return
	}

	got := s.awaitVisible(ctx, order.OrderID)
	if got == nil {
		c.JSON(http.StatusCreated, createOrderResponse{
			Success: true,
			OrderID: order.OrderID,
			Message: "order accepted; re-fetch shortly for the persisted row",
		})
		return
	}

	c.JSON(http.StatusCreated, createOrderResponse{
		Success: true,
		OrderID: order.OrderID,
		Status:  string(got.Status),
		Order:   got,
	})
}

// awaitVisible retries Get with the 200/500/1000ms backoff schedule of
// §4.7 to tolerate a store with brief replica lag. Returns nil (not an
// error) if the row still isn't visible after the last attempt.
func (s *Server) awaitVisible(ctx context.Context, orderID string) *models.Order {
	if o, err := s.store.Get(ctx, orderID); err == nil {
		return o
	}
	for _, delay := range []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, 1000 * time.Millisecond} {
		time.Sleep(delay)
		if o, err := s.store.Get(ctx, orderID); err == nil {
			return o
		}
	}
	return nil
}

func (s *Server) handleGetOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	order, err := s.store.Get(c.Request.Context(), orderID)
	if errors.Is(err, storage.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Success: false, Error: "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Success: false, Error: "Internal error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, getOrderResponse{Success: true, Order: order})
}

func (s *Server) handleListOrders(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 100)
	offset := parseIntQuery(c, "offset", 0)

	orders, total, err := s.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Success: false, Error: "Internal error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, listOrdersResponse{Success: true, Orders: orders, Count: total})
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderexec/engine/internal/models"
	"github.com/orderexec/engine/internal/push"
	"github.com/orderexec/engine/internal/queue"
	"github.com/orderexec/engine/internal/storage"
)

type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func newFakeStore() *fakeStore { return &fakeStore{orders: make(map[string]*models.Order)} }

func (s *fakeStore) Create(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.OrderID] = o
	return nil
}

func (s *fakeStore) Get(_ context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	return o, nil
}

func (s *fakeStore) List(_ context.Context, limit, offset int) ([]*models.Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.OrderID] = o
	return nil
}

func newTestServer() (*Server, *fakeStore) {
	store := newFakeStore()
	srv := NewServer(store, nopAllocator{}, push.NewRegistry(), 10*time.Millisecond)
	return srv, store
}

// nopAllocator avoids touching redis in handler-level tests that never
// reach execQ.Enqueue against a live substrate.
type nopAllocator struct{}

func (nopAllocator) Allocate(orderID string) *queue.ExecutionQueue {
	return queue.NewExecutionQueue(&queue.Substrate{}, orderID)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
}

func TestHandleCreateOrder_ValidationError(t *testing.T) {
	srv, _ := newTestServer()
	body := bytes.NewBufferString(`{"tokenIn":"","tokenOut":"USDC","amountIn":"1","slippageTolerance":"0.5"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/execute", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
}

func TestHandleGetOrder_NotFound(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/orders/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetOrder_Found(t *testing.T) {
	srv, store := newTestServer()
	o := &models.Order{OrderID: "order-1", Status: models.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), o))

	req := httptest.NewRequest(http.MethodGet, "/api/orders/order-1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp getOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "order-1", resp.Order.OrderID)
}

func TestHandleListOrders_DefaultsAndCount(t *testing.T) {
	srv, store := newTestServer()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(context.Background(), &models.Order{
			OrderID: id, Status: models.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listOrdersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.EqualValues(t, 3, resp.Count)
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/orderexec/engine/internal/models"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open("", t.TempDir()+"/engine_test.db")
	require.NoError(t, err)
	return s
}

func testOrder(id string) *models.Order {
	now := time.Now()
	return &models.Order{
		OrderID:           id,
		TokenIn:           "SOL",
		TokenOut:          "USDC",
		AmountIn:          decimal.NewFromFloat(2.5),
		SlippageTolerance: decimal.NewFromFloat(0.5),
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestGormStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := testOrder("order-1")
	require.NoError(t, s.Create(ctx, o))

	got, err := s.Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)
	require.True(t, got.AmountIn.Equal(o.AmountIn))
}

func TestGormStore_GetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGormStore_UpdateStatusPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := testOrder("order-2")
	require.NoError(t, s.Create(ctx, o))

	o.Status = models.StatusRouting
	o.UpdatedAt = time.Now()
	require.NoError(t, s.UpdateStatus(ctx, o))

	got, err := s.Get(ctx, "order-2")
	require.NoError(t, err)
	require.Equal(t, models.StatusRouting, got.Status)
}

func TestGormStore_ListOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testOrder("order-a")
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := testOrder("order-b")
	second.CreatedAt = time.Now()

	require.NoError(t, s.Create(ctx, first))
	require.NoError(t, s.Create(ctx, second))

	orders, total, err := s.List(ctx, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, orders, 2)
	require.Equal(t, "order-b", orders[0].OrderID)
}

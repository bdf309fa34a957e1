// Package models holds the data shapes shared across the execution engine:
// the Order aggregate, its wire-level status events, and the capability
// interfaces the lifecycle calls. Beyond the allowed-transition table and
// small helpers on OrderStatus and StatusEvent, the state machine lives in
// internal/lifecycle.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is one state in the forward-only lifecycle of an Order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusRouting   OrderStatus = "routing"
	StatusBuilding  OrderStatus = "building"
	StatusSubmitted OrderStatus = "submitted"
	StatusConfirmed OrderStatus = "confirmed"
	StatusFailed    OrderStatus = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// next lists the single allowed successor of a non-terminal status, per
// spec §4.1. Any other destination is rejected by the lifecycle.
var next = map[OrderStatus]OrderStatus{
	StatusPending:   StatusRouting,
	StatusRouting:   StatusBuilding,
	StatusBuilding:  StatusSubmitted,
	StatusSubmitted: StatusConfirmed,
}

// CanAdvanceTo reports whether `to` is a legal transition from s. Every
// non-terminal state may additionally fail into StatusFailed.
func (s OrderStatus) CanAdvanceTo(to OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return next[s] == to
}

// Priority returns the delivery priority for events of this status, per
// §4.2. Queues are scoped per status so priorities are never compared
// across statuses in this implementation — the value is kept only for
// observability.
func (s OrderStatus) Priority() int {
	switch s {
	case StatusFailed:
		return 10
	case StatusConfirmed:
		return 9
	case StatusSubmitted:
		return 8
	case StatusBuilding:
		return 7
	case StatusRouting:
		return 6
	default:
		return 5
	}
}

// DexType tags the venue selected at the building stage.
type DexType string

const (
	DexRaydium DexType = "raydium"
	DexMeteora DexType = "meteora"
)

// Order is the central entity: a client's intent to swap amountIn of
// tokenIn for tokenOut, driven through OrderStatus by the lifecycle.
type Order struct {
	OrderID           string           `json:"orderId" gorm:"primaryKey"`
	TokenIn           string           `json:"tokenIn"`
	TokenOut          string           `json:"tokenOut"`
	AmountIn          decimal.Decimal  `json:"amountIn" gorm:"type:decimal(38,18)"`
	SlippageTolerance decimal.Decimal  `json:"slippageTolerance" gorm:"type:decimal(10,4)"`
	MinAmountOut      *decimal.Decimal `json:"minAmountOut,omitempty" gorm:"type:decimal(38,18)"`
	Status            OrderStatus      `json:"status" gorm:"index"`
	DexType           *DexType         `json:"dexType,omitempty"`
	ExecutedPrice     *decimal.Decimal `json:"executedPrice,omitempty" gorm:"type:decimal(38,18)"`
	TxHash            *string          `json:"txHash,omitempty"`
	ErrorReason       *string          `json:"errorReason,omitempty"`
	CreatedAt         time.Time        `json:"createdAt" gorm:"index"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// TableName pins the gorm table name regardless of struct name changes.
func (Order) TableName() string { return "orders" }

// StatusEvent is the wire record that flows through status queues and
// out to every subscriber of an order.
type StatusEvent struct {
	OrderID       string           `json:"orderId"`
	Status        OrderStatus      `json:"status"`
	DexType       *DexType         `json:"dexType,omitempty"`
	ExecutedPrice *decimal.Decimal `json:"executedPrice,omitempty"`
	TxHash        *string          `json:"txHash,omitempty"`
	ErrorReason   *string          `json:"errorReason,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Fingerprint is a deterministic de-duplication key for a status event. A
// given order visits a given status at most once, so the pair is unique.
func (e StatusEvent) Fingerprint() string {
	return e.OrderID + ":" + string(e.Status)
}

// FromOrder builds the StatusEvent that corresponds to the order's
// current persisted state.
func FromOrder(o *Order) StatusEvent {
	return StatusEvent{
		OrderID:       o.OrderID,
		Status:        o.Status,
		DexType:       o.DexType,
		ExecutedPrice: o.ExecutedPrice,
		TxHash:        o.TxHash,
		ErrorReason:   o.ErrorReason,
		Timestamp:     o.UpdatedAt,
	}
}

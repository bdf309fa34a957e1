package models

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is returned by Router.BestQuote for one order: the chosen DEX
// venue with its effective and quoted price. It carries no separate fee
// or latency fields.
type Quote struct {
	Dex            DexType
	EffectivePrice decimal.Decimal // quote price less fee
	QuotePrice     decimal.Decimal
}

// BuiltTx is the opaque transaction blob produced by Router.BuildTx. The
// engine never inspects its contents; Chain.Submit consumes it.
type BuiltTx struct {
	Dex     DexType
	Payload []byte
}

// Router is the DEX quoting/building capability. It is an external
// collaborator — the core never names a concrete implementation of it.
type Router interface {
	BestQuote(ctx context.Context, o *Order) (Quote, error)
	BuildTx(ctx context.Context, o *Order, q Quote) (BuiltTx, error)
}

// Chain is the blockchain submission/confirmation capability.
type Chain interface {
	Submit(ctx context.Context, tx BuiltTx) (txHash string, err error)
	AwaitConfirmation(ctx context.Context, txHash string) error
}

// OrderStore is the durable CRUD capability backing Order rows. All
// mutation is routed through the lifecycle, which serializes per order.
type OrderStore interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	List(ctx context.Context, limit, offset int) ([]*Order, int64, error)
	UpdateStatus(ctx context.Context, o *Order) error
}

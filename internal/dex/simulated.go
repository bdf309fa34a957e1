// Package dex provides a simulated implementation of models.Router and
// models.Chain, standing in for the real Raydium/Meteora clients and
// Solana RPC client the lifecycle calls through those capability
// interfaces: a bounded network delay, a small simulated spread between
// quote and fill price, and a confirmation delay short enough to land
// comfortably inside the lifecycle's 60s timeout.
package dex

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/orderexec/engine/internal/models"
)

// Simulated implements both models.Router and models.Chain against an
// in-memory price model — no external RPC or CLOB dependency.
type Simulated struct {
	basePrice       decimal.Decimal
	quoteJitterBps  int64
	confirmDelay    time.Duration
	quoteDelay      time.Duration
}

// NewSimulated builds a simulated venue. basePrice anchors the quote;
// real deployments would replace this entirely with Raydium/Meteora
// clients.
func NewSimulated(basePrice decimal.Decimal) *Simulated {
	return &Simulated{
		basePrice:      basePrice,
		quoteJitterBps: 50,
		confirmDelay:   2 * time.Second,
		quoteDelay:     150 * time.Millisecond,
	}
}

// BestQuote picks whichever simulated venue currently quotes the lower
// price (Raydium on a tie), mirroring a real router's cross-venue
// comparison.
func (s *Simulated) BestQuote(ctx context.Context, o *models.Order) (models.Quote, error) {
	select {
	case <-time.After(s.quoteDelay):
	case <-ctx.Done():
		return models.Quote{}, ctx.Err()
	}

	raydiumJitter := s.jitter()
	meteoraJitter := s.jitter()

	raydiumPrice := s.basePrice.Mul(decimal.NewFromInt(1).Add(raydiumJitter))
	meteoraPrice := s.basePrice.Mul(decimal.NewFromInt(1).Add(meteoraJitter))

	dex := models.DexRaydium
	quotePrice := raydiumPrice
	if meteoraPrice.LessThan(raydiumPrice) {
		dex = models.DexMeteora
		quotePrice = meteoraPrice
	}

	log.Debug().Str("orderId", o.OrderID).Str("dex", string(dex)).Str("price", quotePrice.String()).
		Msg("simulated router: best quote selected")

	return models.Quote{
		Dex:            dex,
		EffectivePrice: s.basePrice,
		QuotePrice:     quotePrice,
	}, nil
}

// BuildTx serializes a fake transaction payload identifying the chosen
// venue and order.
func (s *Simulated) BuildTx(ctx context.Context, o *models.Order, q models.Quote) (models.BuiltTx, error) {
	payload := []byte(string(q.Dex) + ":" + o.OrderID)
	return models.BuiltTx{Dex: q.Dex, Payload: payload}, nil
}

// Submit returns a synthetic transaction hash immediately; a real chain
// client would broadcast here.
func (s *Simulated) Submit(ctx context.Context, tx models.BuiltTx) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf), nil
}

// AwaitConfirmation blocks for a fixed simulated confirmation delay,
// well under the lifecycle's 60s timeout.
func (s *Simulated) AwaitConfirmation(ctx context.Context, txHash string) error {
	select {
	case <-time.After(s.confirmDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulated) jitter() decimal.Decimal {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(s.quoteJitterBps)*2+1))
	if err != nil {
		return decimal.Zero
	}
	bps := n.Int64() - s.quoteJitterBps
	return decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
}

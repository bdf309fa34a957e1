package lifecycle

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/orderexec/engine/internal/models"
)

// executedPrice implements the slippage rule of SPEC_FULL §4.1.
//
// Let E = quote.EffectivePrice, Q = quote.QuotePrice, S = slippage
// tolerance percent. Observed slippage σ = |Q-E|/E * 100.
//
//   - If σ > S: executedPrice = E * (1 - S/100).
//   - Else:     executedPrice = E * (1 - U), U ~ Uniform(0, 0.001).
//
// Reported with 8 fractional digits.
func executedPrice(q models.Quote, slippageTolerance decimal.Decimal) decimal.Decimal {
	e := q.EffectivePrice
	if e.IsZero() {
		return decimal.Zero.Round(8)
	}

	sigma := q.QuotePrice.Sub(e).Abs().Div(e).Mul(decimal.NewFromInt(100))

	var price decimal.Decimal
	if sigma.GreaterThan(slippageTolerance) {
		discount := slippageTolerance.Div(decimal.NewFromInt(100))
		price = e.Mul(decimal.NewFromInt(1).Sub(discount))
	} else {
		u := decimal.NewFromFloat(rand.Float64() * 0.001)
		price = e.Mul(decimal.NewFromInt(1).Sub(u))
	}
	return price.Round(8)
}

package lifecycle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/orderexec/engine/internal/models"
)

func TestExecutedPrice_HighSlippage(t *testing.T) {
	// σ = |102-100|/100*100 = 2% > S=0.5% -> E * (1 - S/100)
	q := models.Quote{
		EffectivePrice: decimal.NewFromInt(100),
		QuotePrice:     decimal.NewFromInt(102),
	}
	got := executedPrice(q, decimal.NewFromFloat(0.5))
	want := decimal.NewFromFloat(99.5).Round(8)
	require.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestExecutedPrice_ZeroSlippageTolerance(t *testing.T) {
	// σ > 0 = S means any nonzero observed slippage exceeds a 0 tolerance,
	// so executedPrice = E * 1.000 exactly (per §8 boundary).
	q := models.Quote{
		EffectivePrice: decimal.NewFromInt(100),
		QuotePrice:     decimal.NewFromInt(101),
	}
	got := executedPrice(q, decimal.Zero)
	want := decimal.NewFromInt(100).Round(8)
	require.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestExecutedPrice_ZeroObservedSlippageFallsThroughToMicrovariance(t *testing.T) {
	// σ = 0, S = 0: 0 > 0 is false, so we fall to the microvariance branch
	// and the result must be within [E*0.999, E].
	q := models.Quote{
		EffectivePrice: decimal.NewFromInt(100),
		QuotePrice:     decimal.NewFromInt(100),
	}
	got := executedPrice(q, decimal.Zero)
	lower := decimal.NewFromFloat(99.9)
	require.True(t, got.LessThanOrEqual(decimal.NewFromInt(100)))
	require.True(t, got.GreaterThanOrEqual(lower))
}

func TestExecutedPrice_WithinTolerance(t *testing.T) {
	// σ = 0.2% <= S = 1% -> microvariance branch.
	q := models.Quote{
		EffectivePrice: decimal.NewFromInt(100),
		QuotePrice:     decimal.NewFromFloat(100.2),
	}
	got := executedPrice(q, decimal.NewFromInt(1))
	require.True(t, got.LessThanOrEqual(decimal.NewFromInt(100)))
	require.True(t, got.GreaterThan(decimal.NewFromFloat(99.8)))
}

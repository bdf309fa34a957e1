package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/orderexec/engine/internal/models"
)

// createOrderRequest is the body of POST /api/orders/execute, per §6.
type createOrderRequest struct {
	TokenIn           string           `json:"tokenIn" binding:"required"`
	TokenOut          string           `json:"tokenOut" binding:"required"`
	AmountIn          decimal.Decimal  `json:"amountIn" binding:"required"`
	SlippageTolerance decimal.Decimal  `json:"slippageTolerance" binding:"required"`
	MinAmountOut      *decimal.Decimal `json:"minAmountOut,omitempty"`
}

func (r createOrderRequest) validationErrors() []string {
	var errs []string
	if r.TokenIn == "" {
		errs = append(errs, "tokenIn is required")
	}
	if r.TokenOut == "" {
		errs = append(errs, "tokenOut is required")
	}
	if r.AmountIn.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "amountIn must be positive")
	}
	if r.SlippageTolerance.LessThan(decimal.Zero) {
		errs = append(errs, "slippageTolerance must not be negative")
	}
	if r.MinAmountOut != nil && r.MinAmountOut.LessThan(decimal.Zero) {
		errs = append(errs, "minAmountOut must not be negative")
	}
	return errs
}

type createOrderResponse struct {
	Success bool          `json:"success"`
	OrderID string        `json:"orderId"`
	Status  string        `json:"status,omitempty"`
	Order   *models.Order `json:"order,omitempty"`
	Message string        `json:"message,omitempty"`
}

type getOrderResponse struct {
	Success bool          `json:"success"`
	Order   *models.Order `json:"order,omitempty"`
}

type listOrdersResponse struct {
	Success bool            `json:"success"`
	Orders  []*models.Order `json:"orders"`
	Count   int64           `json:"count"`
}

type errorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Timestamp    string `json:"timestamp"`
	ActiveOrders int    `json:"activeOrders,omitempty"`
	Queue        string `json:"queue,omitempty"`
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

package push

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/orderexec/engine/internal/models"
)

// Frame type discriminators for the push-channel wire protocol (§6, §9).
const (
	FrameTypeConnected   = "connected"
	FrameTypePong        = "pong"
	FrameTypeStatusUpdate = "" // status-update frames carry no "type" field, only orderId/status
)

// Frame is the single wire shape sent over the push channel. StatusUpdate
// frames omit Type entirely (their presence is implied by carrying
// orderId/status instead of a ping/pong envelope), matching the bare
// {orderId, status, ...} shape in §6.
type Frame struct {
	Type          string           `json:"type,omitempty"`
	OrderID       string           `json:"orderId,omitempty"`
	Status        string           `json:"status,omitempty"`
	DexType       *models.DexType  `json:"dexType,omitempty"`
	ExecutedPrice *decimal.Decimal `json:"executedPrice,omitempty"`
	TxHash        *string          `json:"txHash,omitempty"`
	ErrorReason   *string          `json:"errorReason,omitempty"`
	Timestamp     string           `json:"timestamp"`

	// Fingerprint lets a reconnecting client de-duplicate a status update
	// it may already have applied; enforcement is the client's job.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ConnectedFrame builds the frame sent immediately on stream open.
func ConnectedFrame(orderID string) Frame {
	return Frame{
		Type:      FrameTypeConnected,
		OrderID:   orderID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// PongFrame builds the reply to a client ping.
func PongFrame() Frame {
	return Frame{
		Type:      FrameTypePong,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// SnapshotFrame builds the deferred initial snapshot frame from a
// persisted order row.
func SnapshotFrame(o *models.Order) Frame {
	return wireStatusUpdate(models.FromOrder(o))
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent records every signature-verified webhook delivery for audit and
// deduplication. EventID is Razorpay's x-razorpay-event-id header; redeliveries
// of the same event hit the unique index and are treated as already processed.
type WebhookEvent struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	EventID         string         `gorm:"size:64;uniqueIndex" json:"event_id"`
	EventType       string         `gorm:"size:64;index" json:"event_type"`
	OrderID         string         `gorm:"size:64;index" json:"order_id"`
	PaymentID       string         `gorm:"size:64" json:"payment_id"`
	Payload         datatypes.JSON `json:"payload"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"size:255" json:"processing_error,omitempty"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`
}

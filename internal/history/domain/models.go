package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventPaymentRecorded EventType = "payment_recorded"
	EventPaymentUpdated  EventType = "payment_updated"
	EventPaymentDeleted  EventType = "payment_deleted"
	EventRefundProcessed EventType = "refund_processed"
	EventPaymentFailed   EventType = "payment_failed"
)

func (e EventType) Valid() bool {
	switch e {
	case EventPaymentRecorded, EventPaymentUpdated, EventPaymentDeleted, EventRefundProcessed, EventPaymentFailed:
		return true
	default:
		return false
	}
}

// Entry is an immutable record of a state change on an invoice's payments.
type Entry struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID      `json:"org_id" gorm:"not null;index"`
	InvoiceID snowflake.ID      `json:"invoice_id" gorm:"not null;index"`
	PaymentID *snowflake.ID     `json:"payment_id,omitempty"`
	EventType EventType         `json:"event_type" gorm:"type:text;not null"`
	Details   datatypes.JSONMap `json:"details" gorm:"type:jsonb"`
	UserID    *string           `json:"user_id,omitempty" gorm:"type:text"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "invoice_payment_history" }

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	OrgID     snowflake.ID
	InvoiceID snowflake.ID
	Cursor    *Cursor
	Limit     int
}

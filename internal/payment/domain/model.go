package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal statuses never transition again.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// CanTransitionTo reports whether the status machine allows s -> next.
// Re-asserting the current status is always allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted:
		return next == StatusRefunded || next == StatusFailed
	default:
		return false
	}
}

type RefundStatus string

const (
	RefundStatusNone    RefundStatus = "none"
	RefundStatusPartial RefundStatus = "partial"
	RefundStatusFull    RefundStatus = "full"
)

const (
	GatewayStripe   = "stripe"
	GatewayRazorpay = "razorpay"
)

// Payment is a single ledger row. A nil Gateway means a manually recorded payment.
type Payment struct {
	ID                  snowflake.ID        `json:"id" gorm:"primaryKey"`
	OrgID               snowflake.ID        `json:"org_id" gorm:"not null;index;uniqueIndex:ux_payments_transaction,priority:1,where:transaction_id IS NOT NULL"`
	PaymentNumber       string              `json:"payment_number" gorm:"type:text;not null;uniqueIndex"`
	InvoiceID           *snowflake.ID       `json:"invoice_id,omitempty" gorm:"index"`
	Amount              decimal.Decimal     `json:"amount" gorm:"type:numeric(20,4);not null"`
	Currency            string              `json:"currency" gorm:"type:text;not null"`
	Method              string              `json:"method" gorm:"type:text;not null"`
	Gateway             *string             `json:"gateway,omitempty" gorm:"type:text;uniqueIndex:ux_payments_transaction,priority:2"`
	TransactionID       *string             `json:"transaction_id,omitempty" gorm:"type:text;uniqueIndex:ux_payments_transaction,priority:3"`
	Status              Status              `json:"status" gorm:"type:text;not null"`
	PaymentDate         time.Time           `json:"payment_date" gorm:"not null"`
	Reference           *string             `json:"reference,omitempty" gorm:"type:text"`
	Description         *string             `json:"description,omitempty" gorm:"type:text"`
	RefundStatus        RefundStatus        `json:"refund_status" gorm:"type:text;not null;default:'none'"`
	RefundAmount        decimal.NullDecimal `json:"refund_amount" gorm:"type:numeric(20,4)"`
	RefundDate          *time.Time          `json:"refund_date,omitempty"`
	RefundReason        *string             `json:"refund_reason,omitempty" gorm:"type:text"`
	RefundTransactionID *string             `json:"refund_transaction_id,omitempty" gorm:"type:text"`
	FailureReason       *string             `json:"failure_reason,omitempty" gorm:"type:text"`
	Metadata            datatypes.JSONMap   `json:"metadata" gorm:"type:jsonb"`
	CreatedBy           *string             `json:"created_by,omitempty" gorm:"type:text"`
	CreatedAt           time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time           `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// GatewayName returns the lowercased gateway, empty for manual payments.
func (p Payment) GatewayName() string {
	if p.Gateway == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*p.Gateway))
}

func (p Payment) ExternalTransactionID() string {
	if p.TransactionID == nil {
		return ""
	}
	return strings.TrimSpace(*p.TransactionID)
}

// MarkRefunded records refund bookkeeping and moves the payment to refunded.
func (p *Payment) MarkRefunded(amount decimal.Decimal, reason string, refundTransactionID string, at time.Time) {
	p.Status = StatusRefunded
	p.RefundAmount = decimal.NewNullDecimal(amount)
	if amount.Equal(p.Amount) {
		p.RefundStatus = RefundStatusFull
	} else {
		p.RefundStatus = RefundStatusPartial
	}
	refundDate := at
	p.RefundDate = &refundDate
	if reason = strings.TrimSpace(reason); reason != "" {
		p.RefundReason = &reason
	}
	if refundTransactionID = strings.TrimSpace(refundTransactionID); refundTransactionID != "" {
		p.RefundTransactionID = &refundTransactionID
	}
}

// EventRecord deduplicates inbound gateway webhooks.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID   `json:"org_id" gorm:"not null;index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefunded         = "refunded"
)

// PaymentEvent is the canonical payment event parsed by webhook adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	OrgID           snowflake.ID
	InvoiceID       *snowflake.ID
	TransactionID   string
	// IntentID is the provider object created with the payment intent when it
	// differs from the captured transaction (razorpay orders).
	IntentID      string
	RefundID      string
	Amount        decimal.Decimal
	Currency      string
	Method        string
	FailureReason string
	OccurredAt    time.Time
}

// Package domain contains the invoice fields owned by the payment lifecycle.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PaymentStatus is derived from the payment ledger and never set directly.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "Unpaid"
	PaymentStatusPartial  PaymentStatus = "Partial Payment"
	PaymentStatusPaid     PaymentStatus = "Paid"
	PaymentStatusRefunded PaymentStatus = "Refunded"
)

var ErrInvoiceNotFound = errors.New("invoice_not_found")

// Invoice is the payment-facing projection of an invoice. Only the payment
// lifecycle writes AmountPaid, PaymentStatus and the LastPayment* fields.
type Invoice struct {
	ID                  snowflake.ID        `json:"id" gorm:"primaryKey"`
	OrgID               snowflake.ID        `json:"org_id" gorm:"not null;index"`
	InvoiceNumber       string              `json:"invoice_number" gorm:"type:text;not null"`
	CustomerName        string              `json:"customer_name" gorm:"type:text"`
	CustomerEmail       string              `json:"customer_email" gorm:"type:text"`
	Currency            string              `json:"currency" gorm:"type:text;not null"`
	TotalAmount         decimal.Decimal     `json:"total_amount" gorm:"type:numeric(20,4);not null"`
	AmountPaid          decimal.Decimal     `json:"amount_paid" gorm:"type:numeric(20,4);not null;default:0"`
	PaymentStatus       PaymentStatus       `json:"payment_status" gorm:"type:text;not null;default:'Unpaid'"`
	LastPaymentDate     *time.Time          `json:"last_payment_date,omitempty"`
	LastPaymentAmount   decimal.NullDecimal `json:"last_payment_amount" gorm:"type:numeric(20,4)"`
	LastPaymentMethod   *string             `json:"last_payment_method,omitempty" gorm:"type:text"`
	AllowPartialPayment bool                `json:"allow_partial_payment" gorm:"not null;default:true"`
	AllowOnlinePayment  bool                `json:"allow_online_payment" gorm:"not null;default:false"`
	ThankYouSent        bool                `json:"thank_you_sent" gorm:"not null;default:false"`
	CreatedAt           time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time           `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Outstanding is the amount still owed, never negative.
func (i Invoice) Outstanding() decimal.Decimal {
	remaining := i.TotalAmount.Sub(i.AmountPaid)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

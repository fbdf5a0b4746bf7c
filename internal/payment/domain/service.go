package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
)

// Service is the payment lifecycle. It is the only writer of invoice payment
// fields and the only appender of payment history.
type Service interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Result, error)
	GetPayment(ctx context.Context, id snowflake.ID) (*Payment, error)
	ListInvoicePayments(ctx context.Context, req ListPaymentsRequest) ([]Payment, error)
	UpdatePayment(ctx context.Context, id snowflake.ID, patch PaymentPatch) (*Result, error)
	DeletePayment(ctx context.Context, id snowflake.ID) (*Result, error)
	RefundPayment(ctx context.Context, req RefundRequest) (*Result, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
	ConfirmGatewayPayment(ctx context.Context, req GatewayPaymentConfirmation) (*Result, error)
	FailGatewayPayment(ctx context.Context, gateway, transactionID, reason string) (*Result, error)
}

type CreatePaymentRequest struct {
	InvoiceID     *snowflake.ID   `json:"invoice_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"method"`
	Gateway       *string         `json:"gateway"`
	TransactionID *string         `json:"transaction_id"`
	PaymentDate   *time.Time      `json:"payment_date"`
	Reference     *string         `json:"reference"`
	Description   *string         `json:"description"`
	Metadata      map[string]any  `json:"metadata"`
}

type ListPaymentsRequest struct {
	InvoiceID snowflake.ID
	Statuses  []Status
}

type RefundRequest struct {
	PaymentID snowflake.ID
	// Amount defaults to the full payment amount when nil.
	Amount *decimal.Decimal
	Reason string
	// ExternalRefundID is set when the gateway already executed the refund
	// (webhook notifications), so no gateway call is made.
	ExternalRefundID string
}

type PaymentIntentRequest struct {
	InvoiceID snowflake.ID
	// Amount defaults to the outstanding balance when nil.
	Amount  *decimal.Decimal
	Gateway string
	Method  string
}

type PaymentIntent struct {
	PaymentID         snowflake.ID    `json:"payment_id"`
	Gateway           string          `json:"gateway"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	ClientSecret      string          `json:"client_secret"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
}

// GatewayPaymentConfirmation reports a captured payment from a gateway.
type GatewayPaymentConfirmation struct {
	Gateway       string
	TransactionID string
	IntentID      string
	InvoiceID     *snowflake.ID
	Amount        decimal.Decimal
	Currency      string
	Method        string
	OccurredAt    time.Time
}

// Result carries the affected payment and, when linked, the reconciled invoice.
type Result struct {
	Payment *Payment               `json:"payment"`
	Invoice *invoicedomain.Invoice `json:"invoice,omitempty"`
}

type WebhookOutcome string

const (
	WebhookProcessed WebhookOutcome = "processed"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// WebhookService authenticates gateway webhooks and replays them onto the
// payment lifecycle exactly once per provider event.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (WebhookOutcome, error)
}

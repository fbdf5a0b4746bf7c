package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type GatewayRefundRequest struct {
	PaymentID      snowflake.ID
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
	IdempotencyKey string
}

type GatewayRefund struct {
	RefundID string
	Status   string
}

type GatewayIntentRequest struct {
	OrgID          snowflake.ID
	InvoiceID      snowflake.ID
	PaymentID      snowflake.ID
	InvoiceNumber  string
	CustomerEmail  string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

type GatewayIntent struct {
	ProviderPaymentID string
	ClientSecret      string
	Amount            decimal.Decimal
	Currency          string
	Status            string
}

// Gateway executes money movement at an external provider.
type Gateway interface {
	Provider() string
	CreateRefund(ctx context.Context, req GatewayRefundRequest) (*GatewayRefund, error)
	CreatePaymentIntent(ctx context.Context, req GatewayIntentRequest) (*GatewayIntent, error)
}

// WebhookAdapter authenticates and normalizes provider webhooks.
type WebhookAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

// GatewayRegistry resolves gateways by provider name.
type GatewayRegistry interface {
	Gateway(provider string) (Gateway, error)
	Webhook(provider string) (WebhookAdapter, error)
}

// Notifier delivers customer email. Failures never roll back payment state.
type Notifier interface {
	SendEmail(ctx context.Context, to []string, subject, html, text string) error
}

package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
)

const defaultBaseURL = "https://api.razorpay.com"

// Razorpay caps order receipts at 40 characters.
const maxReceiptLength = 40

var (
	ErrMissingCredentials   = errors.New("razorpay_credentials_missing")
	ErrMissingWebhookSecret = errors.New("razorpay_webhook_secret_missing")
)

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	HTTPClient    *http.Client
}

type Client struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func New(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		keyID:         strings.TrimSpace(cfg.KeyID),
		keySecret:     strings.TrimSpace(cfg.KeySecret),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		httpClient:    httpClient,
	}
}

func (c *Client) Provider() string {
	return paymentdomain.GatewayRazorpay
}

func (c *Client) CreateRefund(ctx context.Context, req paymentdomain.GatewayRefundRequest) (*paymentdomain.GatewayRefund, error) {
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		return nil, paymentdomain.ErrPaymentNotRefundable
	}
	amount, err := paymentdomain.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	notes := map[string]string{"payment_id": req.PaymentID.String()}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		notes["reason"] = reason
	}
	body := map[string]any{
		"amount": amount,
		"notes":  notes,
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		body["receipt"] = truncate(key, maxReceiptLength)
	}

	var refund razorpayRefund
	path := "/v1/payments/" + url.PathEscape(transactionID) + "/refund"
	if err := c.post(ctx, path, body, &refund); err != nil {
		return nil, err
	}
	if strings.TrimSpace(refund.ID) == "" {
		return nil, errors.New("razorpay refund response missing id")
	}
	return &paymentdomain.GatewayRefund{RefundID: refund.ID, Status: refund.Status}, nil
}

// CreatePaymentIntent creates an order. Checkout uses the order id as the
// client secret.
func (c *Client) CreatePaymentIntent(ctx context.Context, req paymentdomain.GatewayIntentRequest) (*paymentdomain.GatewayIntent, error) {
	amount, err := paymentdomain.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	receipt := strings.TrimSpace(req.InvoiceNumber)
	if receipt == "" {
		receipt = req.InvoiceID.String()
	}
	body := map[string]any{
		"amount":   amount,
		"currency": paymentdomain.NormalizeCurrency(req.Currency),
		"receipt":  truncate(receipt, maxReceiptLength),
		"notes": map[string]string{
			"org_id":     req.OrgID.String(),
			"invoice_id": req.InvoiceID.String(),
			"payment_id": req.PaymentID.String(),
		},
	}

	var order razorpayOrder
	if err := c.post(ctx, "/v1/orders", body, &order); err != nil {
		return nil, err
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, errors.New("razorpay order response missing id")
	}
	return &paymentdomain.GatewayIntent{
		ProviderPaymentID: order.ID,
		ClientSecret:      order.ID,
		Amount:            paymentdomain.FromMinorUnits(order.Amount, order.Currency),
		Currency:          paymentdomain.NormalizeCurrency(order.Currency),
		Status:            order.Status,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	if c.keyID == "" || c.keySecret == "" {
		return ErrMissingCredentials
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr razorpayErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			return fmt.Errorf("razorpay %s: %s (%s)", path, apiErr.Error.Description, apiErr.Error.Code)
		}
		return fmt.Errorf("razorpay %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if c.webhookSecret == "" {
		return ErrMissingWebhookSecret
	}
	signature := strings.TrimSpace(headers.Get("X-Razorpay-Signature"))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (c *Client) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event razorpayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	switch strings.TrimSpace(event.Event) {
	case "payment.captured":
		return parsePayment(event, paymentdomain.EventTypePaymentSucceeded)
	case "payment.failed":
		return parsePayment(event, paymentdomain.EventTypePaymentFailed)
	case "refund.processed":
		return parseRefund(event)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type razorpayEvent struct {
	// Payloads usually carry no id; eventID derives one from the entity.
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	CreatedAt int64           `json:"created_at"`
	Payload   razorpayPayload `json:"payload"`
}

type razorpayPayload struct {
	Payment *struct {
		Entity razorpayPayment `json:"entity"`
	} `json:"payment"`
	Refund *struct {
		Entity razorpayRefund `json:"entity"`
	} `json:"refund"`
}

type razorpayPayment struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Method           string            `json:"method"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"notes"`
	CreatedAt        int64             `json:"created_at"`
}

type razorpayRefund struct {
	ID        string            `json:"id"`
	PaymentID string            `json:"payment_id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Status    string            `json:"status"`
	Notes     map[string]string `json:"notes"`
	CreatedAt int64             `json:"created_at"`
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func parsePayment(event razorpayEvent, eventType string) (*paymentdomain.PaymentEvent, error) {
	if event.Payload.Payment == nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	payment := event.Payload.Payment.Entity
	if strings.TrimSpace(payment.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	orgID, invoiceID, err := parseNotes(payment.Notes)
	if err != nil {
		return nil, err
	}

	transactionID := payment.ID
	if eventType == paymentdomain.EventTypePaymentFailed && strings.TrimSpace(payment.OrderID) != "" {
		// pending payments are keyed by the order until capture
		transactionID = payment.OrderID
	}
	method := strings.TrimSpace(payment.Method)
	if method == "" {
		method = "razorpay"
	}

	return &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.GatewayRazorpay,
		ProviderEventID: eventID(event, payment.ID),
		Type:            eventType,
		OrgID:           orgID,
		InvoiceID:       invoiceID,
		TransactionID:   transactionID,
		IntentID:        strings.TrimSpace(payment.OrderID),
		Amount:          paymentdomain.FromMinorUnits(payment.Amount, payment.Currency),
		Currency:        paymentdomain.NormalizeCurrency(payment.Currency),
		Method:          method,
		FailureReason:   strings.TrimSpace(payment.ErrorDescription),
		OccurredAt:      timestamp(payment.CreatedAt, event.CreatedAt),
	}, nil
}

func parseRefund(event razorpayEvent) (*paymentdomain.PaymentEvent, error) {
	if event.Payload.Refund == nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	refund := event.Payload.Refund.Entity
	if strings.TrimSpace(refund.ID) == "" || strings.TrimSpace(refund.PaymentID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	notes := refund.Notes
	if event.Payload.Payment != nil && len(event.Payload.Payment.Entity.Notes) > 0 {
		notes = event.Payload.Payment.Entity.Notes
	}
	orgID, invoiceID, err := parseNotes(notes)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.GatewayRazorpay,
		ProviderEventID: eventID(event, refund.ID),
		Type:            paymentdomain.EventTypeRefunded,
		OrgID:           orgID,
		InvoiceID:       invoiceID,
		TransactionID:   refund.PaymentID,
		RefundID:        refund.ID,
		Amount:          paymentdomain.FromMinorUnits(refund.Amount, refund.Currency),
		Currency:        paymentdomain.NormalizeCurrency(refund.Currency),
		OccurredAt:      timestamp(refund.CreatedAt, event.CreatedAt),
	}, nil
}

func eventID(event razorpayEvent, entityID string) string {
	if id := strings.TrimSpace(event.ID); id != "" {
		return id
	}
	return strings.TrimSpace(event.Event) + ":" + entityID
}

func parseNotes(notes map[string]string) (snowflake.ID, *snowflake.ID, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(notes["org_id"]))
	if err != nil || orgID == 0 {
		return 0, nil, paymentdomain.ErrInvalidOrganization
	}
	invoiceRaw := strings.TrimSpace(notes["invoice_id"])
	if invoiceRaw == "" {
		return orgID, nil, nil
	}
	invoiceID, err := snowflake.ParseString(invoiceRaw)
	if err != nil || invoiceID == 0 {
		return orgID, nil, nil
	}
	return orgID, &invoiceID, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

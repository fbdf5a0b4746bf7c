package stripe

import (
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
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
)

const (
	defaultBaseURL     = "https://api.stripe.com"
	signatureTolerance = 5 * time.Minute
)

var (
	ErrMissingAPIKey        = errors.New("stripe_api_key_missing")
	ErrMissingWebhookSecret = errors.New("stripe_webhook_secret_missing")
)

type Config struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	HTTPClient    *http.Client
}

type Client struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	now           func() time.Time
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
		apiKey:        strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		httpClient:    httpClient,
		now:           time.Now,
	}
}

func (c *Client) Provider() string {
	return paymentdomain.GatewayStripe
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

	form := url.Values{}
	if strings.HasPrefix(transactionID, "ch_") {
		form.Set("charge", transactionID)
	} else {
		form.Set("payment_intent", transactionID)
	}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("metadata[payment_id]", req.PaymentID.String())
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		form.Set("metadata[reason]", reason)
	}

	var refund stripeRefund
	if err := c.post(ctx, "/v1/refunds", form, req.IdempotencyKey, &refund); err != nil {
		return nil, err
	}
	if strings.TrimSpace(refund.ID) == "" {
		return nil, errors.New("stripe refund response missing id")
	}
	return &paymentdomain.GatewayRefund{RefundID: refund.ID, Status: refund.Status}, nil
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req paymentdomain.GatewayIntentRequest) (*paymentdomain.GatewayIntent, error) {
	amount, err := paymentdomain.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", strings.ToLower(paymentdomain.NormalizeCurrency(req.Currency)))
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[org_id]", req.OrgID.String())
	form.Set("metadata[invoice_id]", req.InvoiceID.String())
	form.Set("metadata[payment_id]", req.PaymentID.String())
	if number := strings.TrimSpace(req.InvoiceNumber); number != "" {
		form.Set("metadata[invoice_number]", number)
		form.Set("description", "Invoice "+number)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		form.Set("receipt_email", email)
	}

	var intent stripePaymentIntent
	if err := c.post(ctx, "/v1/payment_intents", form, req.IdempotencyKey, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, errors.New("stripe payment intent response missing id")
	}
	return &paymentdomain.GatewayIntent{
		ProviderPaymentID: intent.ID,
		ClientSecret:      intent.ClientSecret,
		Amount:            paymentdomain.FromMinorUnits(intent.Amount, intent.Currency),
		Currency:          paymentdomain.NormalizeCurrency(intent.Currency),
		Status:            intent.Status,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out any) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr stripeErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("stripe %s: %s (%s)", path, apiErr.Error.Message, apiErr.Error.Type)
		}
		return fmt.Errorf("stripe %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

func (c *Client) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if c.webhookSecret == "" {
		return ErrMissingWebhookSecret
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if age := c.now().Sub(time.Unix(unix, 0)); age > signatureTolerance || age < -signatureTolerance {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", ts, string(payload))
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (c *Client) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return c.parsePaymentIntent(event, paymentdomain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed":
		return c.parsePaymentIntent(event, paymentdomain.EventTypePaymentFailed)
	case "charge.refunded":
		return c.parseChargeRefunded(event)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID                 string           `json:"id"`
	Amount             int64            `json:"amount"`
	AmountReceived     int64            `json:"amount_received"`
	Currency           string           `json:"currency"`
	Status             string           `json:"status"`
	ClientSecret       string           `json:"client_secret"`
	Created            int64            `json:"created"`
	PaymentMethodTypes []string         `json:"payment_method_types"`
	LastPaymentError   *stripeLastError `json:"last_payment_error"`
	Metadata           map[string]any   `json:"metadata"`
}

type stripeLastError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type stripeCharge struct {
	ID             string         `json:"id"`
	PaymentIntent  string         `json:"payment_intent"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
	Refunds        struct {
		Data []stripeRefund `json:"data"`
	} `json:"refunds"`
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) parsePaymentIntent(event stripeEvent, eventType string) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	orgID, invoiceID, err := parseMetadataIDs(intent.Metadata)
	if err != nil {
		return nil, err
	}

	amount := intent.Amount
	if eventType == paymentdomain.EventTypePaymentSucceeded && intent.AmountReceived > 0 {
		amount = intent.AmountReceived
	}
	method := "card"
	if len(intent.PaymentMethodTypes) > 0 && strings.TrimSpace(intent.PaymentMethodTypes[0]) != "" {
		method = strings.TrimSpace(intent.PaymentMethodTypes[0])
	}
	var failureReason string
	if intent.LastPaymentError != nil {
		failureReason = strings.TrimSpace(intent.LastPaymentError.Message)
		if failureReason == "" {
			failureReason = strings.TrimSpace(intent.LastPaymentError.Code)
		}
	}

	return &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.GatewayStripe,
		ProviderEventID: event.ID,
		Type:            eventType,
		OrgID:           orgID,
		InvoiceID:       invoiceID,
		TransactionID:   intent.ID,
		IntentID:        intent.ID,
		Amount:          paymentdomain.FromMinorUnits(amount, intent.Currency),
		Currency:        paymentdomain.NormalizeCurrency(intent.Currency),
		Method:          method,
		FailureReason:   failureReason,
		OccurredAt:      timestamp(intent.Created, event.Created),
	}, nil
}

func (c *Client) parseChargeRefunded(event stripeEvent) (*paymentdomain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(charge.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	orgID, invoiceID, err := parseMetadataIDs(charge.Metadata)
	if err != nil {
		return nil, err
	}

	transactionID := strings.TrimSpace(charge.PaymentIntent)
	if transactionID == "" {
		transactionID = charge.ID
	}
	refundID := ""
	if len(charge.Refunds.Data) > 0 {
		refundID = strings.TrimSpace(charge.Refunds.Data[0].ID)
	}
	if refundID == "" {
		refundID = event.ID
	}
	amount := charge.AmountRefunded
	if amount <= 0 {
		amount = charge.Amount
	}

	return &paymentdomain.PaymentEvent{
		Provider:        paymentdomain.GatewayStripe,
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypeRefunded,
		OrgID:           orgID,
		InvoiceID:       invoiceID,
		TransactionID:   transactionID,
		RefundID:        refundID,
		Amount:          paymentdomain.FromMinorUnits(amount, charge.Currency),
		Currency:        paymentdomain.NormalizeCurrency(charge.Currency),
		OccurredAt:      timestamp(charge.Created, event.Created),
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var ts string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			ts = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return ts, signatures, nil
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

func parseMetadataIDs(metadata map[string]any) (snowflake.ID, *snowflake.ID, error) {
	orgRaw := readMetadataValue(metadata, "org_id")
	if orgRaw == "" {
		return 0, nil, paymentdomain.ErrInvalidOrganization
	}
	orgID, err := snowflake.ParseString(orgRaw)
	if err != nil || orgID == 0 {
		return 0, nil, paymentdomain.ErrInvalidOrganization
	}

	invoiceRaw := readMetadataValue(metadata, "invoice_id")
	if invoiceRaw == "" {
		return orgID, nil, nil
	}
	invoiceID, err := snowflake.ParseString(invoiceRaw)
	if err != nil || invoiceID == 0 {
		return orgID, nil, nil
	}
	return orgID, &invoiceID, nil
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

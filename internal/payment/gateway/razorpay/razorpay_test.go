package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerify(t *testing.T) {
	client := New(Config{WebhookSecret: "rzp_whsec"})
	payload := []byte(`{"event":"payment.captured"}`)

	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", sign("rzp_whsec", payload))
	require.NoError(t, client.Verify(context.Background(), payload, headers))

	headers.Set("X-Razorpay-Signature", sign("other", payload))
	assert.ErrorIs(t, client.Verify(context.Background(), payload, headers), paymentdomain.ErrInvalidSignature)

	headers.Del("X-Razorpay-Signature")
	assert.ErrorIs(t, client.Verify(context.Background(), payload, headers), paymentdomain.ErrInvalidSignature)
}

func TestParseCapturedPayment(t *testing.T) {
	client := New(Config{})
	payload, err := json.Marshal(map[string]any{
		"event":      "payment.captured",
		"created_at": 1767225600,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       "pay_1",
					"order_id": "order_1",
					"amount":   49900,
					"currency": "INR",
					"method":   "upi",
					"notes": map[string]string{
						"org_id":     "11",
						"invoice_id": "22",
					},
				},
			},
		},
	})
	require.NoError(t, err)

	event, err := client.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypePaymentSucceeded, event.Type)
	assert.Equal(t, "payment.captured:pay_1", event.ProviderEventID)
	assert.Equal(t, "pay_1", event.TransactionID)
	assert.Equal(t, "order_1", event.IntentID)
	assert.EqualValues(t, 11, event.OrgID)
	require.NotNil(t, event.InvoiceID)
	assert.EqualValues(t, 22, *event.InvoiceID)
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("499")))
	assert.Equal(t, "upi", event.Method)
}

func TestParseFailedPaymentUsesOrder(t *testing.T) {
	client := New(Config{})
	payload := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_2","amount":100,"currency":"INR","error_description":"bank declined","notes":{"org_id":"11"}}}}}`)

	event, err := client.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypePaymentFailed, event.Type)
	assert.Equal(t, "order_2", event.TransactionID)
	assert.Equal(t, "bank declined", event.FailureReason)
	assert.Nil(t, event.InvoiceID)
}

func TestParseRefund(t *testing.T) {
	client := New(Config{})
	payload := []byte(`{"event":"refund.processed","payload":{"refund":{"entity":{"id":"rfnd_1","payment_id":"pay_1","amount":5000,"currency":"INR","notes":{"org_id":"11"}}}}}`)

	event, err := client.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypeRefunded, event.Type)
	assert.Equal(t, "rfnd_1", event.RefundID)
	assert.Equal(t, "pay_1", event.TransactionID)
	assert.True(t, event.Amount.Equal(decimal.NewFromInt(50)))
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	client := New(Config{})
	_, err := client.Parse(context.Background(), []byte(`{"event":"order.paid"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestCreateRefundAndOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "rzp_secret", pass)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/v1/payments/pay_1/refund":
			assert.EqualValues(t, 2550, body["amount"])
			_, _ = w.Write([]byte(`{"id":"rfnd_9","status":"processed"}`))
		case "/v1/orders":
			assert.Equal(t, "INR", body["currency"])
			assert.Equal(t, "INV-0001", body["receipt"])
			_, _ = w.Write([]byte(`{"id":"order_9","amount":10000,"currency":"INR","status":"created"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"not found"}}`))
		}
	}))
	defer server.Close()

	client := New(Config{KeyID: "rzp_key", KeySecret: "rzp_secret", BaseURL: server.URL})

	refund, err := client.CreateRefund(context.Background(), paymentdomain.GatewayRefundRequest{
		TransactionID: "pay_1",
		Amount:        decimal.RequireFromString("25.50"),
		Currency:      "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_9", refund.RefundID)

	intent, err := client.CreatePaymentIntent(context.Background(), paymentdomain.GatewayIntentRequest{
		OrgID:         1,
		InvoiceID:     2,
		PaymentID:     3,
		InvoiceNumber: "INV-0001",
		Amount:        decimal.NewFromInt(100),
		Currency:      "inr",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_9", intent.ClientSecret)
	assert.True(t, intent.Amount.Equal(decimal.NewFromInt(100)))

	_, err = client.CreateRefund(context.Background(), paymentdomain.GatewayRefundRequest{
		TransactionID: "pay_missing/x",
		Amount:        decimal.NewFromInt(1),
		Currency:      "INR",
	})
	assert.Error(t, err)
}

func TestMissingCredentials(t *testing.T) {
	client := New(Config{})
	_, err := client.CreateRefund(context.Background(), paymentdomain.GatewayRefundRequest{
		TransactionID: "pay_1",
		Amount:        decimal.NewFromInt(1),
		Currency:      "INR",
	})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

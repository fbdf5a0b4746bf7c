package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"charge.succeeded","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildStripeSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	client := New(Config{WebhookSecret: secret})
	if err := client.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if err := client.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	stale := time.Now().Add(-time.Hour).Unix()
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, stale))
	if err := client.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected stale signature to be rejected, got %v", err)
	}
}

func TestParsePaymentEvent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	orgID := node.Generate().String()
	invoiceID := node.Generate().String()
	created := time.Now().UTC().Unix()

	tests := []struct {
		name        string
		event       any
		wantType    string
		amount      string
		transaction string
		hasInvoice  bool
	}{{
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id":      "evt_pi",
			"type":    "payment_intent.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":                   "pi_1",
					"amount":               2500,
					"amount_received":      2500,
					"currency":             "usd",
					"created":              created,
					"payment_method_types": []string{"card"},
					"metadata": map[string]any{
						"org_id":     orgID,
						"invoice_id": invoiceID,
					},
				},
			},
		},
		wantType:    paymentdomain.EventTypePaymentSucceeded,
		amount:      "25",
		transaction: "pi_1",
		hasInvoice:  true,
	}, {
		name: "charge.refunded",
		event: map[string]any{
			"id":      "evt_charge",
			"type":    "charge.refunded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":              "ch_1",
					"payment_intent":  "pi_9",
					"amount":          5000,
					"amount_refunded": 1200,
					"currency":        "usd",
					"created":         created,
					"metadata": map[string]any{
						"org_id": orgID,
					},
				},
			},
		},
		wantType:    paymentdomain.EventTypeRefunded,
		amount:      "12",
		transaction: "pi_9",
	}, {
		name: "zero decimal currency",
		event: map[string]any{
			"id":   "evt_jpy",
			"type": "payment_intent.payment_failed",
			"data": map[string]any{
				"object": map[string]any{
					"id":       "pi_jpy",
					"amount":   1500,
					"currency": "jpy",
					"last_payment_error": map[string]any{
						"message": "card declined",
					},
					"metadata": map[string]any{"org_id": orgID},
				},
			},
		},
		wantType:    paymentdomain.EventTypePaymentFailed,
		amount:      "1500",
		transaction: "pi_jpy",
	}}

	client := New(Config{WebhookSecret: "whsec_test"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			event, err := client.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if !event.Amount.Equal(decimal.RequireFromString(tt.amount)) {
				t.Fatalf("expected amount %s, got %s", tt.amount, event.Amount)
			}
			if event.OrgID.String() != orgID {
				t.Fatalf("expected org %s, got %s", orgID, event.OrgID)
			}
			if event.TransactionID != tt.transaction {
				t.Fatalf("expected transaction %s, got %s", tt.transaction, event.TransactionID)
			}
			if (event.InvoiceID != nil) != tt.hasInvoice {
				t.Fatalf("unexpected invoice reference %v", event.InvoiceID)
			}
		})
	}
}

func TestParseIgnoresUnknownEvents(t *testing.T) {
	client := New(Config{WebhookSecret: "whsec_test"})
	_, err := client.Parse(context.Background(), []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{}}}`))
	if !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored event, got %v", err)
	}
	_, err = client.Parse(context.Background(), []byte(`{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","metadata":{}}}}`))
	if !errors.Is(err, paymentdomain.ErrInvalidOrganization) {
		t.Fatalf("expected missing org to be rejected, got %v", err)
	}
}

func TestCreateRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("unexpected authorization %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "refund-1" {
			t.Errorf("unexpected idempotency key %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("payment_intent"); got != "pi_1" {
			t.Errorf("unexpected payment_intent %q", got)
		}
		if got := r.PostForm.Get("amount"); got != "1050" {
			t.Errorf("unexpected amount %q", got)
		}
		_, _ = w.Write([]byte(`{"id":"re_1","status":"succeeded"}`))
	}))
	defer server.Close()

	client := New(Config{APIKey: "sk_test", BaseURL: server.URL})
	refund, err := client.CreateRefund(context.Background(), paymentdomain.GatewayRefundRequest{
		PaymentID:      42,
		TransactionID:  "pi_1",
		Amount:         decimal.RequireFromString("10.50"),
		Currency:       "USD",
		Reason:         "duplicate",
		IdempotencyKey: "refund-1",
	})
	if err != nil {
		t.Fatalf("create refund: %v", err)
	}
	if refund.RefundID != "re_1" {
		t.Fatalf("expected refund id re_1, got %s", refund.RefundID)
	}
}

func TestCreateRefundSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"charge already refunded"}}`))
	}))
	defer server.Close()

	client := New(Config{APIKey: "sk_test", BaseURL: server.URL})
	_, err := client.CreateRefund(context.Background(), paymentdomain.GatewayRefundRequest{
		TransactionID: "ch_1",
		Amount:        decimal.NewFromInt(5),
		Currency:      "USD",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("metadata[org_id]"); got != "7" {
			t.Errorf("unexpected org metadata %q", got)
		}
		if got := r.PostForm.Get("currency"); got != "usd" {
			t.Errorf("unexpected currency %q", got)
		}
		_, _ = w.Write([]byte(`{"id":"pi_new","client_secret":"pi_new_secret","amount":9900,"currency":"usd","status":"requires_payment_method"}`))
	}))
	defer server.Close()

	client := New(Config{APIKey: "sk_test", BaseURL: server.URL})
	intent, err := client.CreatePaymentIntent(context.Background(), paymentdomain.GatewayIntentRequest{
		OrgID:     7,
		InvoiceID: 8,
		PaymentID: 9,
		Amount:    decimal.NewFromInt(99),
		Currency:  "usd",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ClientSecret != "pi_new_secret" || !intent.Amount.Equal(decimal.NewFromInt(99)) || intent.Currency != "USD" {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

package reconciler

import (
	"math/rand"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func payment(id int64, amount string, status paymentdomain.Status) paymentdomain.Payment {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return paymentdomain.Payment{
		ID:           snowflake.ID(id),
		Amount:       d(amount),
		Status:       status,
		RefundStatus: paymentdomain.RefundStatusNone,
		Method:       "bank_transfer",
		PaymentDate:  base.Add(time.Duration(id) * time.Hour),
	}
}

func refunded(id int64, amount string, refund paymentdomain.RefundStatus) paymentdomain.Payment {
	p := payment(id, amount, paymentdomain.StatusRefunded)
	p.RefundStatus = refund
	return p
}

func TestReconcileStatusDerivation(t *testing.T) {
	cases := []struct {
		name       string
		total      string
		payments   []paymentdomain.Payment
		wantPaid   string
		wantStatus invoicedomain.PaymentStatus
	}{
		{
			name:       "no payments",
			total:      "1000",
			wantPaid:   "0",
			wantStatus: invoicedomain.PaymentStatusUnpaid,
		},
		{
			name:       "partial",
			total:      "1000",
			payments:   []paymentdomain.Payment{payment(1, "400", paymentdomain.StatusCompleted)},
			wantPaid:   "400",
			wantStatus: invoicedomain.PaymentStatusPartial,
		},
		{
			name:  "exactly paid",
			total: "1000",
			payments: []paymentdomain.Payment{
				payment(1, "400", paymentdomain.StatusCompleted),
				payment(2, "600", paymentdomain.StatusCompleted),
			},
			wantPaid:   "1000",
			wantStatus: invoicedomain.PaymentStatusPaid,
		},
		{
			name:       "overpaid",
			total:      "1000",
			payments:   []paymentdomain.Payment{payment(1, "1200.50", paymentdomain.StatusCompleted)},
			wantPaid:   "1200.50",
			wantStatus: invoicedomain.PaymentStatusPaid,
		},
		{
			name:  "pending and failed contribute nothing",
			total: "1000",
			payments: []paymentdomain.Payment{
				payment(1, "500", paymentdomain.StatusPending),
				payment(2, "500", paymentdomain.StatusFailed),
			},
			wantPaid:   "0",
			wantStatus: invoicedomain.PaymentStatusUnpaid,
		},
		{
			name:       "fully refunded",
			total:      "500",
			payments:   []paymentdomain.Payment{refunded(1, "500", paymentdomain.RefundStatusFull)},
			wantPaid:   "0",
			wantStatus: invoicedomain.PaymentStatusRefunded,
		},
		{
			name:       "partially refunded only",
			total:      "500",
			payments:   []paymentdomain.Payment{refunded(1, "500", paymentdomain.RefundStatusPartial)},
			wantPaid:   "0",
			wantStatus: invoicedomain.PaymentStatusUnpaid,
		},
		{
			name:  "refund with remaining completed payment",
			total: "1000",
			payments: []paymentdomain.Payment{
				refunded(1, "500", paymentdomain.RefundStatusFull),
				payment(2, "300", paymentdomain.StatusCompleted),
			},
			wantPaid:   "300",
			wantStatus: invoicedomain.PaymentStatusPartial,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Reconcile(d(tc.total), tc.payments)
			assert.True(t, d(tc.wantPaid).Equal(result.AmountPaid), "amount paid %s", result.AmountPaid)
			assert.Equal(t, tc.wantStatus, result.Status)
		})
	}
}

func TestReconcileIsOrderIndependent(t *testing.T) {
	payments := []paymentdomain.Payment{
		payment(1, "100.10", paymentdomain.StatusCompleted),
		payment(2, "50", paymentdomain.StatusPending),
		payment(3, "200.25", paymentdomain.StatusCompleted),
		refunded(4, "75", paymentdomain.RefundStatusFull),
		payment(5, "0.65", paymentdomain.StatusCompleted),
	}
	want := Reconcile(d("500"), payments)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]paymentdomain.Payment(nil), payments...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := Reconcile(d("500"), shuffled)
		assert.True(t, want.AmountPaid.Equal(got.AmountPaid))
		assert.Equal(t, want.Status, got.Status)
		require.NotNil(t, got.LastPayment)
		assert.Equal(t, want.LastPayment.ID, got.LastPayment.ID)
	}
	assert.True(t, d("301").Equal(want.AmountPaid))
	assert.Equal(t, snowflake.ID(5), want.LastPayment.ID)
}

func TestReconcileDoesNotAliasInput(t *testing.T) {
	payments := []paymentdomain.Payment{payment(1, "10", paymentdomain.StatusCompleted)}
	result := Reconcile(d("10"), payments)
	result.LastPayment.Method = "changed"
	assert.Equal(t, "bank_transfer", payments[0].Method)
}

func TestApply(t *testing.T) {
	invoice := invoicedomain.Invoice{TotalAmount: d("100")}
	Apply(&invoice, Reconcile(invoice.TotalAmount, []paymentdomain.Payment{payment(1, "40", paymentdomain.StatusCompleted)}))

	assert.Equal(t, invoicedomain.PaymentStatusPartial, invoice.PaymentStatus)
	require.NotNil(t, invoice.LastPaymentMethod)
	assert.Equal(t, "bank_transfer", *invoice.LastPaymentMethod)
	assert.True(t, invoice.LastPaymentAmount.Valid)

	Apply(&invoice, Reconcile(invoice.TotalAmount, nil))
	assert.Equal(t, invoicedomain.PaymentStatusUnpaid, invoice.PaymentStatus)
	assert.Nil(t, invoice.LastPaymentDate)
	assert.False(t, invoice.LastPaymentAmount.Valid)
	assert.True(t, invoice.Outstanding().Equal(d("100")))
}

// Package reconciler derives an invoice's paid amount and payment status from
// its payment ledger. It performs no I/O.
package reconciler

import (
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
)

type Result struct {
	AmountPaid decimal.Decimal
	Status     invoicedomain.PaymentStatus
	// LastPayment is the most recent completed payment, nil when none remain.
	LastPayment *paymentdomain.Payment
}

// Reconcile sums completed payments against total. Amounts are summed as-is;
// callers reject currency mismatches before a payment reaches the ledger.
func Reconcile(total decimal.Decimal, payments []paymentdomain.Payment) Result {
	amountPaid := decimal.Zero
	hasPriorFullRefund := false
	var last *paymentdomain.Payment

	for i := range payments {
		payment := &payments[i]
		if payment.Status == paymentdomain.StatusRefunded && payment.RefundStatus == paymentdomain.RefundStatusFull {
			hasPriorFullRefund = true
		}
		if payment.Status != paymentdomain.StatusCompleted {
			continue
		}
		amountPaid = amountPaid.Add(payment.Amount)
		if last == nil || newer(payment, last) {
			last = payment
		}
	}

	var lastCopy *paymentdomain.Payment
	if last != nil {
		copied := *last
		lastCopy = &copied
	}

	return Result{
		AmountPaid:  amountPaid,
		Status:      deriveStatus(total, amountPaid, hasPriorFullRefund),
		LastPayment: lastCopy,
	}
}

func deriveStatus(total, amountPaid decimal.Decimal, hasPriorFullRefund bool) invoicedomain.PaymentStatus {
	switch {
	case amountPaid.GreaterThanOrEqual(total):
		return invoicedomain.PaymentStatusPaid
	case amountPaid.IsPositive():
		return invoicedomain.PaymentStatusPartial
	case hasPriorFullRefund:
		return invoicedomain.PaymentStatusRefunded
	default:
		return invoicedomain.PaymentStatusUnpaid
	}
}

func newer(a, b *paymentdomain.Payment) bool {
	if !a.PaymentDate.Equal(b.PaymentDate) {
		return a.PaymentDate.After(b.PaymentDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Apply copies the result onto invoice.
func Apply(invoice *invoicedomain.Invoice, result Result) {
	invoice.AmountPaid = result.AmountPaid
	invoice.PaymentStatus = result.Status
	if result.LastPayment == nil {
		invoice.LastPaymentDate = nil
		invoice.LastPaymentAmount = decimal.NullDecimal{}
		invoice.LastPaymentMethod = nil
		return
	}
	date := result.LastPayment.PaymentDate
	method := result.LastPayment.Method
	invoice.LastPaymentDate = &date
	invoice.LastPaymentAmount = decimal.NewNullDecimal(result.LastPayment.Amount)
	invoice.LastPaymentMethod = &method
}

package invoicelock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/internal/observability/metrics"
)

var ErrLockKeyEmpty = errors.New("lock_key_empty")

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker serializes work on a single invoice (or unlinked payment) across the
// full read, reconcile and write sequence.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// InvoiceKey is the lock key for every mutation touching an invoice.
func InvoiceKey(orgID, invoiceID snowflake.ID) string {
	return fmt.Sprintf("invoicepay:lock:%s:%d:%d", metrics.LockResourceInvoice, orgID, invoiceID)
}

// PaymentKey is used for payments that are not linked to an invoice.
func PaymentKey(orgID, paymentID snowflake.ID) string {
	return fmt.Sprintf("invoicepay:lock:%s:%d:%d", metrics.LockResourcePayment, orgID, paymentID)
}

func resourceOf(key string) string {
	if strings.Contains(key, ":"+metrics.LockResourcePayment+":") {
		return metrics.LockResourcePayment
	}
	return metrics.LockResourceInvoice
}

type instrumented struct {
	next    Locker
	backend string
	metrics *metrics.LockMetrics
}

// Instrumented wraps a locker with wait, hold and failure metrics.
func Instrumented(next Locker, backend string, m *metrics.LockMetrics) Locker {
	if m == nil {
		return next
	}
	return &instrumented{next: next, backend: backend, metrics: m}
}

func (l *instrumented) Lock(ctx context.Context, key string) (Unlock, error) {
	resource := resourceOf(key)
	start := time.Now()
	unlock, err := l.next.Lock(ctx, key)
	l.metrics.ObserveWait(resource, l.backend, time.Since(start))
	if err != nil {
		l.metrics.IncFailure(resource, l.backend, err)
		return nil, err
	}
	acquired := time.Now()
	return func() {
		unlock()
		l.metrics.ObserveHeld(resource, l.backend, time.Since(acquired))
	}, nil
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/internal/testutil"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newPayment(id int64, invoiceID *snowflake.ID, status domain.Status, at time.Time) *domain.Payment {
	return &domain.Payment{
		ID:            snowflake.ID(id),
		OrgID:         1,
		PaymentNumber: "PAY-" + snowflake.ID(id).String(),
		InvoiceID:     invoiceID,
		Amount:        decimal.RequireFromString("125.50"),
		Currency:      "USD",
		Method:        "bank_transfer",
		Status:        status,
		PaymentDate:   at,
		RefundStatus:  domain.RefundStatusNone,
		Metadata:      datatypes.JSONMap{"source": "test"},
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestLedgerStoreCRUD(t *testing.T) {
	ctx := context.Background()
	conn := testutil.OpenDB(t)
	r := Provide()

	invoiceID := snowflake.ID(500)
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	first := newPayment(10, &invoiceID, domain.StatusCompleted, at)
	second := newPayment(11, &invoiceID, domain.StatusPending, at.Add(time.Hour))
	unlinked := newPayment(12, nil, domain.StatusCompleted, at)

	for _, p := range []*domain.Payment{first, second, unlinked} {
		require.NoError(t, r.Insert(ctx, conn, p))
	}

	got, err := r.FindByID(ctx, conn, 1, 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Amount.Equal(first.Amount))
	assert.Equal(t, "test", got.Metadata["source"])
	assert.Equal(t, invoiceID, *got.InvoiceID)

	missing, err := r.FindByID(ctx, conn, 2, 10)
	require.NoError(t, err)
	assert.Nil(t, missing, "payments are scoped to their org")

	all, err := r.ListByInvoice(ctx, conn, 1, invoiceID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, snowflake.ID(10), all[0].ID)

	completed, err := r.ListByInvoice(ctx, conn, 1, invoiceID, domain.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	got.MarkRefunded(decimal.RequireFromString("25.50"), "customer request", "re_1", at.Add(2*time.Hour))
	got.UpdatedAt = at.Add(2 * time.Hour)
	require.NoError(t, r.Update(ctx, conn, got))

	reloaded, err := r.FindByID(ctx, conn, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, reloaded.Status)
	assert.Equal(t, domain.RefundStatusPartial, reloaded.RefundStatus)
	assert.True(t, reloaded.RefundAmount.Valid)
	assert.True(t, reloaded.RefundAmount.Decimal.Equal(decimal.RequireFromString("25.50")))

	require.NoError(t, r.Delete(ctx, conn, 1, 12))
	assert.ErrorIs(t, r.Delete(ctx, conn, 1, 12), domain.ErrPaymentNotFound)
	assert.ErrorIs(t, r.Update(ctx, conn, unlinked), domain.ErrPaymentNotFound)
}

func TestFindByTransactionID(t *testing.T) {
	ctx := context.Background()
	conn := testutil.OpenDB(t)
	r := Provide()

	gateway := domain.GatewayStripe
	txID := "pi_123"
	p := newPayment(20, nil, domain.StatusPending, time.Now().UTC())
	p.Gateway = &gateway
	p.TransactionID = &txID
	require.NoError(t, r.Insert(ctx, conn, p))

	found, err := r.FindByTransactionID(ctx, conn, 1, domain.GatewayStripe, "pi_123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, snowflake.ID(20), found.ID)

	none, err := r.FindByTransactionID(ctx, conn, 1, domain.GatewayRazorpay, "pi_123")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInsertEventDeduplicates(t *testing.T) {
	ctx := context.Background()
	conn := testutil.OpenDB(t)
	r := Provide()

	now := time.Now().UTC()
	event := &domain.EventRecord{
		ID:              1,
		OrgID:           1,
		Provider:        "stripe",
		ProviderEventID: "evt_1",
		EventType:       domain.EventTypePaymentSucceeded,
		Payload:         datatypes.JSON(`{"id":"evt_1"}`),
		ReceivedAt:      now,
	}
	inserted, err := r.InsertEvent(ctx, conn, event)
	require.NoError(t, err)
	assert.True(t, inserted)

	duplicate := *event
	duplicate.ID = 2
	inserted, err = r.InsertEvent(ctx, conn, &duplicate)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, r.MarkProcessed(ctx, conn, 1, now))
	stored, err := r.FindEvent(ctx, conn, "stripe", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestGatewayTransactionIsUniquePerOrg(t *testing.T) {
	ctx := context.Background()
	conn := testutil.OpenDB(t)
	r := Provide()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	withTransaction := func(p *domain.Payment, gateway, transactionID string) *domain.Payment {
		p.Gateway = &gateway
		p.TransactionID = &transactionID
		return p
	}

	require.NoError(t, r.Insert(ctx, conn, withTransaction(newPayment(20, nil, domain.StatusCompleted, at), "stripe", "pi_1")))

	err := r.Insert(ctx, conn, withTransaction(newPayment(21, nil, domain.StatusCompleted, at), "stripe", "pi_1"))
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err))

	require.NoError(t, r.Insert(ctx, conn, withTransaction(newPayment(22, nil, domain.StatusCompleted, at), "razorpay", "pi_1")))
	other := withTransaction(newPayment(23, nil, domain.StatusCompleted, at), "stripe", "pi_1")
	other.OrgID = 2
	require.NoError(t, r.Insert(ctx, conn, other))

	// manual payments carry no transaction id and never collide
	require.NoError(t, r.Insert(ctx, conn, newPayment(24, nil, domain.StatusCompleted, at)))
	require.NoError(t, r.Insert(ctx, conn, newPayment(25, nil, domain.StatusCompleted, at)))
}

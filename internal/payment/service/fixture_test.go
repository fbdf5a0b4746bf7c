package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/internal/auditcontext"
	"github.com/smallbiznis/invoicepay/internal/authorization"
	"github.com/smallbiznis/invoicepay/internal/clock"
	"github.com/smallbiznis/invoicepay/internal/config"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	historyrepo "github.com/smallbiznis/invoicepay/internal/history/repository"
	historyservice "github.com/smallbiznis/invoicepay/internal/history/service"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/invoicepay/internal/invoice/repository"
	"github.com/smallbiznis/invoicepay/internal/invoicelock"
	"github.com/smallbiznis/invoicepay/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/invoicepay/internal/payment/repository"
	"github.com/smallbiznis/invoicepay/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const testOrgID snowflake.ID = 1001

type fakeGateway struct {
	mu          sync.Mutex
	provider    string
	refunds     []paymentdomain.GatewayRefundRequest
	intents     []paymentdomain.GatewayIntentRequest
	refundErr   error
	intentErr   error
	refundDelay time.Duration

	// intentStarted and intentRelease hold CreatePaymentIntent inside the
	// gateway call when set.
	intentStarted chan paymentdomain.GatewayIntentRequest
	intentRelease chan struct{}
}

func (g *fakeGateway) Provider() string { return g.provider }

func (g *fakeGateway) CreateRefund(ctx context.Context, req paymentdomain.GatewayRefundRequest) (*paymentdomain.GatewayRefund, error) {
	if g.refundDelay > 0 {
		select {
		case <-time.After(g.refundDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &paymentdomain.GatewayRefund{RefundID: "re_" + req.PaymentID.String(), Status: "succeeded"}, nil
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, req paymentdomain.GatewayIntentRequest) (*paymentdomain.GatewayIntent, error) {
	if g.intentRelease != nil {
		g.intentStarted <- req
		select {
		case <-g.intentRelease:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents = append(g.intents, req)
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	return &paymentdomain.GatewayIntent{
		ProviderPaymentID: "pi_" + req.PaymentID.String(),
		ClientSecret:      "pi_" + req.PaymentID.String() + "_secret",
		Amount:            req.Amount,
		Currency:          req.Currency,
		Status:            "requires_payment_method",
	}, nil
}

func (g *fakeGateway) refundCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type fakeRegistry struct {
	gateways map[string]paymentdomain.Gateway
}

func (r *fakeRegistry) Gateway(provider string) (paymentdomain.Gateway, error) {
	gw, ok := r.gateways[provider]
	if !ok {
		return nil, paymentdomain.ErrInvalidProvider
	}
	return gw, nil
}

func (r *fakeRegistry) Webhook(provider string) (paymentdomain.WebhookAdapter, error) {
	return nil, paymentdomain.ErrInvalidProvider
}

type sentEmail struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (n *recordingNotifier) SendEmail(ctx context.Context, to []string, subject, html, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentEmail{To: to, Subject: subject, HTML: html, Text: text})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	t           *testing.T
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	svc         paymentdomain.Service
	locker      *invoicelock.LocalLocker
	stripe      *fakeGateway
	notifier    *recordingNotifier
	history     historydomain.Service
	invoiceRepo invoicedomain.Repository
	paymentRepo paymentdomain.Repository
	logs        *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := testutil.OpenDB(t)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	history := historyservice.NewService(historyservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: fake,
		Repo:  historyrepo.Provide(),
	})
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})

	stripe := &fakeGateway{provider: paymentdomain.GatewayStripe}
	notifier := &recordingNotifier{}
	invoiceRepo := invoicerepo.Provide()
	paymentRepo := paymentrepo.Provide()
	locker := invoicelock.NewLocalLocker()

	svc := NewService(Params{
		DB:          conn,
		Log:         log,
		GenID:       node,
		Clock:       fake,
		Config:      config.Config{Gateways: config.GatewayConfig{Default: paymentdomain.GatewayStripe}},
		Payments:    config.StaticPaymentsConfig(config.DefaultPaymentsConfig()),
		Repo:        paymentRepo,
		InvoiceRepo: invoiceRepo,
		HistorySvc:  history,
		Locker:      locker,
		Gateways:    &fakeRegistry{gateways: map[string]paymentdomain.Gateway{paymentdomain.GatewayStripe: stripe}},
		Notifier:    notifier,
		Authz:       authz,
	})

	return &fixture{
		t:           t,
		db:          conn,
		node:        node,
		clock:       fake,
		svc:         svc,
		locker:      locker,
		stripe:      stripe,
		notifier:    notifier,
		history:     history,
		invoiceRepo: invoiceRepo,
		paymentRepo: paymentRepo,
		logs:        logs,
	}
}

// userCtx acts as a member user of the test org.
func userCtx(userID string) context.Context {
	ctx := orgcontext.WithOrgID(context.Background(), testOrgID)
	ctx = auditcontext.WithActor(ctx, auditcontext.ActorTypeUser, userID)
	return auditcontext.WithRole(ctx, auditcontext.RoleMember)
}

func adminCtx() context.Context {
	return auditcontext.WithRole(userCtx("admin_1"), auditcontext.RoleAdmin)
}

type invoiceOption func(*invoicedomain.Invoice)

func withOnlinePayment() invoiceOption {
	return func(inv *invoicedomain.Invoice) { inv.AllowOnlinePayment = true }
}

func (f *fixture) seedInvoice(total string, opts ...invoiceOption) *invoicedomain.Invoice {
	f.t.Helper()
	now := f.clock.Now()
	invoice := &invoicedomain.Invoice{
		ID:                  f.node.Generate(),
		OrgID:               testOrgID,
		InvoiceNumber:       "INV-" + f.node.Generate().String()[:6],
		CustomerName:        "Ada Lovelace",
		CustomerEmail:       "ada@example.com",
		Currency:            "USD",
		TotalAmount:         decimal.RequireFromString(total),
		PaymentStatus:       invoicedomain.PaymentStatusUnpaid,
		AllowPartialPayment: true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for _, opt := range opts {
		opt(invoice)
	}
	require.NoError(f.t, f.invoiceRepo.Insert(context.Background(), f.db, invoice))
	return invoice
}

func (f *fixture) disallowPartial(invoiceID snowflake.ID) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(&invoicedomain.Invoice{}).
		Where("id = ?", invoiceID).
		Update("allow_partial_payment", false).Error)
}

func (f *fixture) invoice(id snowflake.ID) *invoicedomain.Invoice {
	f.t.Helper()
	invoice, err := f.invoiceRepo.FindByID(context.Background(), f.db, testOrgID, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, invoice)
	return invoice
}

func (f *fixture) historyEntries(invoiceID snowflake.ID) []historydomain.Entry {
	f.t.Helper()
	resp, err := f.history.ListForInvoice(userCtx("auditor"), historydomain.ListRequest{InvoiceID: invoiceID})
	require.NoError(f.t, err)
	return resp.Entries
}

func (f *fixture) countPayments() int64 {
	f.t.Helper()
	var count int64
	require.NoError(f.t, f.db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	return count
}

// completedSum is the ledger side of the money conservation invariant.
func (f *fixture) completedSum(invoiceID snowflake.ID) decimal.Decimal {
	f.t.Helper()
	payments, err := f.paymentRepo.ListByInvoice(context.Background(), f.db, testOrgID, invoiceID, paymentdomain.StatusCompleted)
	require.NoError(f.t, err)
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

func (f *fixture) requireConserved(invoiceID snowflake.ID) {
	f.t.Helper()
	invoice := f.invoice(invoiceID)
	require.True(f.t, invoice.AmountPaid.Equal(f.completedSum(invoiceID)),
		"amount paid %s does not match ledger %s", invoice.AmountPaid, f.completedSum(invoiceID))
}

func (f *fixture) pay(ctx context.Context, invoiceID snowflake.ID, amount string, opts ...func(*paymentdomain.CreatePaymentRequest)) *paymentdomain.Result {
	f.t.Helper()
	req := paymentdomain.CreatePaymentRequest{
		InvoiceID: &invoiceID,
		Amount:    decimal.RequireFromString(amount),
		Method:    "card",
	}
	for _, opt := range opts {
		opt(&req)
	}
	f.clock.Advance(time.Minute)
	res, err := f.svc.CreatePayment(ctx, req)
	require.NoError(f.t, err)
	return res
}

func viaStripe(txID string) func(*paymentdomain.CreatePaymentRequest) {
	return func(req *paymentdomain.CreatePaymentRequest) {
		gateway := paymentdomain.GatewayStripe
		req.Gateway = &gateway
		req.TransactionID = &txID
	}
}

var errDeclined = errors.New("card_declined")

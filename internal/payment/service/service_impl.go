package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/invoicepay/internal/auditcontext"
	"github.com/smallbiznis/invoicepay/internal/authorization"
	"github.com/smallbiznis/invoicepay/internal/clock"
	"github.com/smallbiznis/invoicepay/internal/config"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	"github.com/smallbiznis/invoicepay/internal/invoicelock"
	obslogger "github.com/smallbiznis/invoicepay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicepay/internal/observability/metrics"
	"github.com/smallbiznis/invoicepay/internal/observability/tracing"
	"github.com/smallbiznis/invoicepay/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/internal/reconciler"
	pkgdb "github.com/smallbiznis/invoicepay/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tracerName = "github.com/smallbiznis/invoicepay/internal/payment/service"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Payments    *config.PaymentsConfigHolder
	Repo        paymentdomain.Repository
	InvoiceRepo invoicedomain.Repository
	HistorySvc  historydomain.Service
	Locker      invoicelock.Locker
	Gateways    paymentdomain.GatewayRegistry
	Notifier    paymentdomain.Notifier
	Authz       authorization.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	defaultGateway string
	payments       *config.PaymentsConfigHolder
	repo           paymentdomain.Repository
	invoiceRepo    invoicedomain.Repository
	historySvc     historydomain.Service
	locker         invoicelock.Locker
	gateways       paymentdomain.GatewayRegistry
	notifier       paymentdomain.Notifier
	authz          authorization.Service
	obsMetrics     *obsmetrics.Metrics
	tracer         trace.Tracer
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		defaultGateway: strings.ToLower(strings.TrimSpace(p.Config.Gateways.Default)),
		payments:       p.Payments,
		repo:           p.Repo,
		invoiceRepo:    p.InvoiceRepo,
		historySvc:     p.HistorySvc,
		locker:         p.Locker,
		gateways:       p.Gateways,
		notifier:       p.Notifier,
		authz:          p.Authz,
		obsMetrics:     p.ObsMetrics,
		tracer:         otel.Tracer(tracerName),
	}
}

func (s *Service) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "payment."+operation, trace.WithAttributes(tracing.SafeAttributes(attrs...)...))
}

// finish ends the span and counts the operation.
func (s *Service) finish(ctx context.Context, span trace.Span, operation string, err error) {
	s.obsMetrics.RecordPaymentOperation(ctx, operation, err)
	tracing.EndSpan(span, err)
}

func (s *Service) orgID(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, paymentdomain.ErrInvalidOrganization
	}
	return orgID, nil
}

// lock serializes work on the payment's invoice, or on the payment itself
// when it has no invoice.
// logger returns the service logger tagged with the request, org and actor
// carried by ctx.
func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.With(ctx, s.log)
}

func (s *Service) lock(ctx context.Context, orgID snowflake.ID, invoiceID *snowflake.ID, paymentID snowflake.ID) (invoicelock.Unlock, error) {
	key := invoicelock.PaymentKey(orgID, paymentID)
	if invoiceID != nil {
		key = invoicelock.InvoiceKey(orgID, *invoiceID)
	}

	lockCtx := ctx
	if wait := s.payments.Get().LockWait; wait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	unlock, err := s.locker.Lock(lockCtx, key)
	if err != nil {
		s.logger(ctx).Warn("failed to acquire invoice lock", zap.String("key", key), zap.Error(err))
		return nil, &paymentdomain.PersistenceError{Err: err}
	}
	return unlock, nil
}

func (s *Service) authorize(ctx context.Context, action string, payment *paymentdomain.Payment) error {
	owner := ""
	if payment.CreatedBy != nil {
		owner = *payment.CreatedBy
	}
	err := s.authz.Authorize(ctx, authorization.ObjectPayment, action, owner)
	if errors.Is(err, authorization.ErrForbidden) {
		return paymentdomain.ErrNotPaymentOwner
	}
	return err
}

func (s *Service) loadPayment(ctx context.Context, conn *gorm.DB, orgID, id snowflake.ID) (*paymentdomain.Payment, error) {
	if id == 0 {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	payment, err := s.repo.FindByID(ctx, conn, orgID, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

type reconcileOutcome struct {
	invoice      *invoicedomain.Invoice
	previous     invoicedomain.PaymentStatus
	sendThankYou bool
}

// reconcileInvoice recomputes the invoice from its ledger inside tx. The
// thank-you flag is claimed here whenever the invoice is Paid and the flag is
// clear, so concurrent paths never send twice and a released flag is retried.
func (s *Service) reconcileInvoice(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (*reconcileOutcome, error) {
	invoice, err := s.invoiceRepo.FindForUpdate(ctx, tx, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, paymentdomain.ErrInvoiceNotFound
	}
	payments, err := s.repo.ListByInvoice(ctx, tx, orgID, invoiceID)
	if err != nil {
		return nil, err
	}

	previous := invoice.PaymentStatus
	result := reconciler.Reconcile(invoice.TotalAmount, payments)
	reconciler.Apply(invoice, result)
	invoice.UpdatedAt = s.now()

	outcome := &reconcileOutcome{invoice: invoice, previous: previous}
	if invoice.PaymentStatus == invoicedomain.PaymentStatusPaid &&
		!invoice.ThankYouSent &&
		strings.TrimSpace(invoice.CustomerEmail) != "" &&
		s.payments.Get().ThankYouEnabled {
		invoice.ThankYouSent = true
		outcome.sendThankYou = true
	}

	if err := s.invoiceRepo.UpdatePaymentFields(ctx, tx, invoice); err != nil {
		return nil, err
	}
	s.obsMetrics.RecordReconciliation(ctx, string(invoice.PaymentStatus))
	return outcome, nil
}

func (s *Service) appendHistory(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, eventType historydomain.EventType, details map[string]any) error {
	if payment.InvoiceID == nil {
		return nil
	}
	paymentID := payment.ID
	_, err := s.historySvc.Append(ctx, tx, historydomain.AppendRequest{
		OrgID:     payment.OrgID,
		InvoiceID: *payment.InvoiceID,
		PaymentID: &paymentID,
		EventType: eventType,
		Details:   details,
	})
	return err
}

func (s *Service) newPaymentNumber() string {
	prefix := strings.TrimSpace(s.payments.Get().PaymentNumberPrefix)
	if prefix == "" {
		return ulid.Make().String()
	}
	return prefix + "-" + ulid.Make().String()
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func actorUserID(ctx context.Context) *string {
	userID := auditcontext.UserIDFromContext(ctx)
	if userID == "" {
		return nil
	}
	return &userID
}

// storageErr maps repository errors onto the payment error kinds.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
		return paymentdomain.ErrInvoiceNotFound
	}
	if errors.Is(err, historydomain.ErrInvalidInvoice) {
		return paymentdomain.ErrInvoiceNotFound
	}
	if paymentdomain.Kind(err) == nil && pkgdb.IsLockContentionErr(err) {
		return paymentdomain.ErrConcurrentUpdate
	}
	return paymentdomain.WrapPersistence(err)
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeGateway(value *string) (*string, error) {
	gateway := trimmedPtr(value)
	if gateway == nil {
		return nil, nil
	}
	name := strings.ToLower(*gateway)
	switch name {
	case paymentdomain.GatewayStripe, paymentdomain.GatewayRazorpay:
		return &name, nil
	default:
		return nil, paymentdomain.ErrInvalidProvider
	}
}

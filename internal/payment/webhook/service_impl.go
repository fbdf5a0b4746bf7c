package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/internal/auditcontext"
	"github.com/smallbiznis/invoicepay/internal/clock"
	obslogger "github.com/smallbiznis/invoicepay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicepay/internal/observability/metrics"
	"github.com/smallbiznis/invoicepay/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultRefundReason = "refunded at gateway"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	PaymentSvc paymentdomain.Service
	Gateways   paymentdomain.GatewayRegistry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	paymentSvc paymentdomain.Service
	gateways   paymentdomain.GatewayRegistry
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		gateways:   p.Gateways,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.With(ctx, s.log)
}

// IngestWebhook verifies the signature before anything is stored. Events are
// recorded once per provider event id; a recorded but unprocessed event is
// replayed so provider retries can finish a failed attempt.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.WebhookOutcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", paymentdomain.ErrInvalidProvider
	}
	adapter, err := s.gateways.Webhook(provider)
	if err != nil {
		return "", paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return "", paymentdomain.ErrInvalidPayload
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.logger(ctx).Warn("payment webhook signature rejected", zap.String("provider", provider), zap.Error(err))
		s.obsMetrics.RecordWebhookEvent(ctx, provider, "unknown", obsmetrics.OutcomeError)
		return "", paymentdomain.ErrInvalidSignature
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.obsMetrics.RecordWebhookEvent(ctx, provider, "unknown", obsmetrics.OutcomeSkipped)
			return paymentdomain.WebhookIgnored, nil
		}
		s.obsMetrics.RecordWebhookEvent(ctx, provider, "unknown", obsmetrics.OutcomeError)
		return "", err
	}
	if err := validateEvent(event); err != nil {
		return "", err
	}

	ctx = orgcontext.WithOrgID(ctx, event.OrgID)
	ctx = auditcontext.WithActor(ctx, auditcontext.ActorTypeSystem, "webhook:"+provider)

	record, duplicate, err := s.recordEvent(ctx, event, payload)
	if err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeError)
		return "", paymentdomain.WrapPersistence(err)
	}
	if duplicate {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeSkipped)
		return paymentdomain.WebhookDuplicate, nil
	}

	if err := s.dispatch(ctx, event); err != nil {
		s.logger(ctx).Warn("payment webhook processing failed",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeError)
		return "", err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now().UTC()); err != nil {
		return "", paymentdomain.WrapPersistence(err)
	}
	s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, obsmetrics.OutcomeSuccess)
	return paymentdomain.WebhookProcessed, nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	if strings.TrimSpace(event.ProviderEventID) == "" || strings.TrimSpace(event.Type) == "" {
		return paymentdomain.ErrInvalidEvent
	}
	if event.OrgID == 0 {
		return paymentdomain.ErrInvalidOrganization
	}
	if strings.TrimSpace(event.TransactionID) == "" {
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

// recordEvent stores the event, reporting duplicate when it was already
// processed.
func (s *Service) recordEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) (*paymentdomain.EventRecord, bool, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		OrgID:           event.OrgID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now().UTC(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return record, false, nil
	}

	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("payment event vanished after conflict")
	}
	if existing.ProcessedAt != nil {
		return existing, true, nil
	}
	return existing, false, nil
}

func (s *Service) dispatch(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		_, err := s.paymentSvc.ConfirmGatewayPayment(ctx, paymentdomain.GatewayPaymentConfirmation{
			Gateway:       event.Provider,
			TransactionID: event.TransactionID,
			IntentID:      event.IntentID,
			InvoiceID:     event.InvoiceID,
			Amount:        event.Amount,
			Currency:      event.Currency,
			Method:        event.Method,
			OccurredAt:    event.OccurredAt,
		})
		return err

	case paymentdomain.EventTypePaymentFailed:
		_, err := s.paymentSvc.FailGatewayPayment(ctx, event.Provider, event.TransactionID, event.FailureReason)
		if errors.Is(err, paymentdomain.ErrPaymentNotFound) {
			s.logger(ctx).Info("payment failure for unknown transaction",
				zap.String("provider", event.Provider),
				zap.String("transaction_id", event.TransactionID),
			)
			return nil
		}
		return err

	case paymentdomain.EventTypeRefunded:
		return s.applyRefund(ctx, event)

	default:
		return paymentdomain.ErrInvalidEvent
	}
}

// applyRefund records a refund the gateway already executed, so the payment
// service does not call the gateway again.
func (s *Service) applyRefund(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	payment, err := s.repo.FindByTransactionID(ctx, s.db, event.OrgID, event.Provider, event.TransactionID)
	if err != nil {
		return paymentdomain.WrapPersistence(err)
	}
	if payment == nil {
		s.logger(ctx).Info("refund for unknown transaction",
			zap.String("provider", event.Provider),
			zap.String("transaction_id", event.TransactionID),
		)
		return nil
	}
	if payment.Status == paymentdomain.StatusRefunded {
		return nil
	}

	amount := event.Amount
	if !amount.IsPositive() || amount.GreaterThan(payment.Amount) {
		amount = payment.Amount
	}
	refundID := strings.TrimSpace(event.RefundID)
	if refundID == "" {
		refundID = event.ProviderEventID
	}

	_, err = s.paymentSvc.RefundPayment(ctx, paymentdomain.RefundRequest{
		PaymentID:        payment.ID,
		Amount:           &amount,
		Reason:           defaultRefundReason,
		ExternalRefundID: refundID,
	})
	if errors.Is(err, paymentdomain.ErrPaymentNotRefundable) {
		return nil
	}
	return err
}

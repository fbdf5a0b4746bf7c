package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/internal/auditcontext"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultOnlineMethod = "online"

// CreatePaymentIntent opens a gateway checkout for an invoice and records a
// pending payment carrying the provider reference.
func (s *Service) CreatePaymentIntent(ctx context.Context, req paymentdomain.PaymentIntentRequest) (res *paymentdomain.PaymentIntent, err error) {
	ctx, span := s.startSpan(ctx, "CreatePaymentIntent", attribute.String("invoice_id", req.InvoiceID.String()))
	defer func() { s.finish(ctx, span, "intent", err) }()

	orgID, err := s.orgID(ctx)
	if err != nil {
		return nil, err
	}
	if req.InvoiceID == 0 {
		return nil, paymentdomain.ErrInvoiceNotFound
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}

	provider := strings.ToLower(strings.TrimSpace(req.Gateway))
	if provider == "" {
		provider = s.defaultGateway
	}
	gw, err := s.gateways.Gateway(provider)
	if err != nil {
		return nil, paymentdomain.ErrInvalidProvider
	}

	invoiceID := req.InvoiceID
	unlock, err := s.lock(ctx, orgID, &invoiceID, 0)
	if err != nil {
		return nil, err
	}
	defer unlock()

	invoice, err := s.invoiceRepo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, storageErr(err)
	}
	if invoice == nil {
		return nil, paymentdomain.ErrInvoiceNotFound
	}
	if !invoice.AllowOnlinePayment {
		return nil, paymentdomain.ErrOnlinePaymentDisabled
	}

	outstanding := invoice.Outstanding()
	if !outstanding.IsPositive() {
		return nil, paymentdomain.ErrInvoiceAlreadyPaid
	}
	amount := outstanding
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount.GreaterThan(outstanding) {
		return nil, paymentdomain.ErrAmountExceedsBalance
	}
	if amount.LessThan(outstanding) && !invoice.AllowPartialPayment {
		return nil, paymentdomain.ErrPartialNotAllowed
	}

	paymentID := s.genID.Generate()
	intent, err := s.callIntent(ctx, gw, paymentdomain.GatewayIntentRequest{
		OrgID:          orgID,
		InvoiceID:      invoice.ID,
		PaymentID:      paymentID,
		InvoiceNumber:  invoice.InvoiceNumber,
		CustomerEmail:  invoice.CustomerEmail,
		Amount:         amount,
		Currency:       invoice.Currency,
		IdempotencyKey: "intent-" + paymentID.String(),
	})
	if err != nil {
		return nil, err
	}

	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = defaultOnlineMethod
	}
	now := s.now()
	transactionID := intent.ProviderPaymentID
	payment := &paymentdomain.Payment{
		ID:            paymentID,
		OrgID:         orgID,
		PaymentNumber: s.newPaymentNumber(),
		InvoiceID:     &invoice.ID,
		Amount:        amount,
		Currency:      paymentdomain.NormalizeCurrency(invoice.Currency),
		Method:        method,
		Gateway:       &provider,
		TransactionID: &transactionID,
		Status:        paymentdomain.StatusPending,
		PaymentDate:   now,
		RefundStatus:  paymentdomain.RefundStatusNone,
		Metadata:      datatypes.JSONMap{"intent_status": intent.Status},
		CreatedBy:     actorUserID(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		s.logger(ctx).Error("payment intent created at gateway but pending payment was not stored",
			zap.String("gateway", provider),
			zap.String("provider_payment_id", intent.ProviderPaymentID),
			zap.Error(err),
		)
		return nil, storageErr(err)
	}

	currency := intent.Currency
	if currency == "" {
		currency = payment.Currency
	}
	return &paymentdomain.PaymentIntent{
		PaymentID:         payment.ID,
		Gateway:           provider,
		ProviderPaymentID: intent.ProviderPaymentID,
		ClientSecret:      intent.ClientSecret,
		Amount:            amount,
		Currency:          currency,
		Status:            intent.Status,
	}, nil
}

func (s *Service) callIntent(ctx context.Context, gw paymentdomain.Gateway, req paymentdomain.GatewayIntentRequest) (intent *paymentdomain.GatewayIntent, err error) {
	provider := gw.Provider()
	defer func() { s.obsMetrics.RecordGatewayCall(ctx, provider, "intent", err) }()

	callCtx := ctx
	if timeout := s.payments.Get().GatewayTimeout; timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	intent, err = gw.CreatePaymentIntent(callCtx, req)
	if err != nil {
		s.logger(ctx).Warn("gateway payment intent failed",
			zap.String("gateway", provider),
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.Error(err),
		)
		return nil, paymentdomain.NewGatewayError(provider, "intent", err)
	}
	if intent == nil || strings.TrimSpace(intent.ProviderPaymentID) == "" {
		return nil, paymentdomain.NewGatewayError(provider, "intent", paymentdomain.ErrInvalidPayload)
	}
	return intent, nil
}

// ConfirmGatewayPayment completes the pending payment behind a captured
// gateway transaction, or records a new completed payment when none exists.
// Confirming an already completed payment is a no-op.
func (s *Service) ConfirmGatewayPayment(ctx context.Context, req paymentdomain.GatewayPaymentConfirmation) (res *paymentdomain.Result, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmGatewayPayment", attribute.String("gateway", req.Gateway))
	defer func() { s.finish(ctx, span, "confirm", err) }()

	orgID, err := s.orgID(ctx)
	if err != nil {
		return nil, err
	}
	provider := strings.ToLower(strings.TrimSpace(req.Gateway))
	if _, err := normalizeGateway(&provider); err != nil {
		return nil, err
	}
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}

	existing, err := s.findGatewayPayment(ctx, s.db, orgID, provider, transactionID, req.IntentID)
	if err != nil {
		return nil, storageErr(err)
	}
	if existing == nil {
		var paymentDate *time.Time
		if !req.OccurredAt.IsZero() {
			paymentDate = &req.OccurredAt
		}
		method := strings.TrimSpace(req.Method)
		if method == "" {
			method = provider
		}
		payment, err := s.buildPayment(ctx, orgID, paymentdomain.CreatePaymentRequest{
			InvoiceID:     req.InvoiceID,
			Amount:        req.Amount,
			Currency:      req.Currency,
			Method:        method,
			Gateway:       &provider,
			TransactionID: &transactionID,
			PaymentDate:   paymentDate,
		})
		if err != nil {
			return nil, err
		}
		res, err = s.recordPayment(ctx, payment, req.IntentID)
		if !errors.Is(err, paymentdomain.ErrDuplicateTransaction) {
			return res, err
		}

		// stored by a concurrent confirmation or intent while this call waited
		existing, err = s.findGatewayPayment(ctx, s.db, orgID, provider, transactionID, req.IntentID)
		if err != nil {
			return nil, storageErr(err)
		}
		if existing == nil {
			return nil, paymentdomain.ErrDuplicateTransaction
		}
	}
	return s.promoteGatewayPayment(ctx, orgID, existing, provider, transactionID, req)
}

// promoteGatewayPayment completes a stored pending payment under the invoice
// lock. Completed payments are returned unchanged.
func (s *Service) promoteGatewayPayment(ctx context.Context, orgID snowflake.ID, existing *paymentdomain.Payment, provider, transactionID string, req paymentdomain.GatewayPaymentConfirmation) (*paymentdomain.Result, error) {
	unlock, err := s.lock(ctx, orgID, existing.InvoiceID, existing.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		payment *paymentdomain.Payment
		outcome *reconcileOutcome
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, orgID, existing.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		payment = current
		if current.Status != paymentdomain.StatusPending {
			if current.Status == paymentdomain.StatusFailed {
				return paymentdomain.ErrInvalidTransition
			}
			return nil
		}
		if currency := paymentdomain.NormalizeCurrency(req.Currency); currency != "" && currency != current.Currency {
			return paymentdomain.ErrCurrencyMismatch
		}

		current.Status = paymentdomain.StatusCompleted
		current.Amount = req.Amount
		current.TransactionID = &transactionID
		if method := strings.TrimSpace(req.Method); method != "" {
			current.Method = method
		}
		if !req.OccurredAt.IsZero() {
			current.PaymentDate = req.OccurredAt.UTC()
		}
		current.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}

		if current.InvoiceID == nil {
			return nil
		}
		outcome, err = s.reconcileInvoice(ctx, tx, orgID, *current.InvoiceID)
		if err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, current, historydomain.EventPaymentRecorded, map[string]any{
			"payment_number":  current.PaymentNumber,
			"amount":          current.Amount.String(),
			"currency":        current.Currency,
			"method":          current.Method,
			"gateway":         provider,
			"transaction_id":  transactionID,
			"previous_status": string(outcome.previous),
			"new_status":      string(outcome.invoice.PaymentStatus),
			"amount_paid":     outcome.invoice.AmountPaid.String(),
		})
	})
	if err != nil {
		return nil, storageErr(err)
	}
	if outcome == nil {
		return s.unchangedResult(ctx, orgID, payment)
	}
	return s.complete(ctx, payment, outcome), nil
}

// FailGatewayPayment marks a pending gateway payment as failed. Repeated
// failures for the same transaction are no-ops.
func (s *Service) FailGatewayPayment(ctx context.Context, gateway, transactionID, reason string) (res *paymentdomain.Result, err error) {
	ctx, span := s.startSpan(ctx, "FailGatewayPayment", attribute.String("gateway", gateway))
	defer func() { s.finish(ctx, span, "fail", err) }()

	orgID, err := s.orgID(ctx)
	if err != nil {
		return nil, err
	}
	provider := strings.ToLower(strings.TrimSpace(gateway))
	if _, err := normalizeGateway(&provider); err != nil {
		return nil, err
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	existing, err := s.repo.FindByTransactionID(ctx, s.db, orgID, provider, transactionID)
	if err != nil {
		return nil, storageErr(err)
	}
	if existing == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	unlock, err := s.lock(ctx, orgID, existing.InvoiceID, existing.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		payment *paymentdomain.Payment
		outcome *reconcileOutcome
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, orgID, existing.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		payment = current
		switch current.Status {
		case paymentdomain.StatusFailed:
			return nil
		case paymentdomain.StatusPending:
		default:
			return paymentdomain.ErrInvalidTransition
		}

		current.Status = paymentdomain.StatusFailed
		current.FailureReason = trimmedPtr(&reason)
		current.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}

		if current.InvoiceID == nil {
			return nil
		}
		outcome, err = s.reconcileInvoice(ctx, tx, orgID, *current.InvoiceID)
		if err != nil {
			return err
		}
		details := map[string]any{
			"payment_number":  current.PaymentNumber,
			"gateway":         provider,
			"transaction_id":  transactionID,
			"previous_status": string(paymentdomain.StatusPending),
			"new_status":      string(paymentdomain.StatusFailed),
			"invoice_status":  string(outcome.invoice.PaymentStatus),
		}
		if current.FailureReason != nil {
			details["failure_reason"] = *current.FailureReason
		}
		return s.appendHistory(ctx, tx, current, historydomain.EventPaymentFailed, details)
	})
	if err != nil {
		return nil, storageErr(err)
	}

	if outcome == nil {
		return s.unchangedResult(ctx, orgID, payment)
	}

	actorType, _ := auditcontext.ActorFromContext(ctx)
	s.logger(ctx).Info("gateway payment failed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway", provider),
		zap.String("actor_type", actorType),
	)
	return s.complete(ctx, payment, outcome), nil
}

// unchangedResult reports a payment left as is by an idempotent call.
func (s *Service) unchangedResult(ctx context.Context, orgID snowflake.ID, payment *paymentdomain.Payment) (*paymentdomain.Result, error) {
	result := &paymentdomain.Result{Payment: payment}
	if payment.InvoiceID == nil {
		return result, nil
	}
	invoice, err := s.invoiceRepo.FindByID(ctx, s.db, orgID, *payment.InvoiceID)
	if err != nil {
		return nil, storageErr(err)
	}
	result.Invoice = invoice
	return result, nil
}

package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/internal/authorization"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RefundPayment executes the gateway refund before any local mutation. A
// gateway failure leaves the ledger untouched.
func (s *Service) RefundPayment(ctx context.Context, req paymentdomain.RefundRequest) (res *paymentdomain.Result, err error) {
	ctx, span := s.startSpan(ctx, "RefundPayment", attribute.String("payment_id", req.PaymentID.String()))
	defer func() { s.finish(ctx, span, "refund", err) }()

	orgID, err := s.orgID(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := s.loadPayment(ctx, s.db, orgID, req.PaymentID)
	if err != nil {
		return nil, storageErr(err)
	}
	if err := s.authorize(ctx, authorization.ActionPaymentRefund, existing); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, orgID, existing.InvoiceID, existing.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// re-read under the lock; a concurrent refund may have won
	current, err := s.loadPayment(ctx, s.db, orgID, req.PaymentID)
	if err != nil {
		return nil, storageErr(err)
	}
	amount, err := refundAmount(current, req.Amount)
	if err != nil {
		return nil, err
	}

	refundTransactionID := strings.TrimSpace(req.ExternalRefundID)
	gatewayCalled := false
	if refundTransactionID == "" && current.GatewayName() != "" && current.ExternalTransactionID() != "" {
		refund, err := s.executeGatewayRefund(ctx, current, amount, req.Reason)
		if err != nil {
			return nil, err
		}
		refundTransactionID = refund.RefundID
		gatewayCalled = true
	}

	var (
		payment *paymentdomain.Payment
		outcome *reconcileOutcome
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindForUpdate(ctx, tx, orgID, req.PaymentID)
		if err != nil {
			return err
		}
		if locked == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if locked.Status != paymentdomain.StatusCompleted {
			return paymentdomain.ErrPaymentNotRefundable
		}

		previous := locked.Status
		locked.MarkRefunded(amount, req.Reason, refundTransactionID, s.now())
		locked.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, locked); err != nil {
			return err
		}
		payment = locked

		if locked.InvoiceID == nil {
			return nil
		}
		outcome, err = s.reconcileInvoice(ctx, tx, orgID, *locked.InvoiceID)
		if err != nil {
			return err
		}
		details := map[string]any{
			"payment_number":  locked.PaymentNumber,
			"refund_amount":   amount.String(),
			"refund_status":   string(locked.RefundStatus),
			"previous_status": string(previous),
			"new_status":      string(locked.Status),
			"invoice_status":  string(outcome.invoice.PaymentStatus),
			"amount_paid":     outcome.invoice.AmountPaid.String(),
		}
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			details["reason"] = reason
		}
		if refundTransactionID != "" {
			details["refund_transaction_id"] = refundTransactionID
		}
		return s.appendHistory(ctx, tx, locked, historydomain.EventRefundProcessed, details)
	})
	if err != nil {
		if gatewayCalled {
			s.logger(ctx).Error("refund executed at gateway but local bookkeeping failed",
				zap.String("payment_id", current.ID.String()),
				zap.String("gateway", current.GatewayName()),
				zap.String("refund_transaction_id", refundTransactionID),
				zap.Error(err),
			)
		}
		return nil, storageErr(err)
	}

	s.logger(ctx).Info("payment refunded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("refund_status", string(payment.RefundStatus)),
	)
	return s.complete(ctx, payment, outcome), nil
}

// refundAmount checks state before amount so a repeated refund reports the
// payment as not refundable.
func refundAmount(payment *paymentdomain.Payment, requested *decimal.Decimal) (decimal.Decimal, error) {
	if payment.Status != paymentdomain.StatusCompleted {
		return decimal.Zero, paymentdomain.ErrPaymentNotRefundable
	}
	if requested == nil {
		return payment.Amount, nil
	}
	if !requested.IsPositive() {
		return decimal.Zero, paymentdomain.ErrInvalidRefundAmount
	}
	if requested.GreaterThan(payment.Amount) {
		return decimal.Zero, paymentdomain.ErrRefundExceedsAmount
	}
	return *requested, nil
}

func (s *Service) executeGatewayRefund(ctx context.Context, payment *paymentdomain.Payment, amount decimal.Decimal, reason string) (refund *paymentdomain.GatewayRefund, err error) {
	provider := payment.GatewayName()
	defer func() { s.obsMetrics.RecordGatewayCall(ctx, provider, "refund", err) }()

	gw, err := s.gateways.Gateway(provider)
	if err != nil {
		return nil, paymentdomain.NewGatewayError(provider, "refund", err)
	}

	callCtx := ctx
	if timeout := s.payments.Get().GatewayTimeout; timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	refund, err = gw.CreateRefund(callCtx, paymentdomain.GatewayRefundRequest{
		PaymentID:      payment.ID,
		TransactionID:  payment.ExternalTransactionID(),
		Amount:         amount,
		Currency:       payment.Currency,
		Reason:         strings.TrimSpace(reason),
		IdempotencyKey: "refund-" + payment.ID.String() + "-" + amount.String(),
	})
	if err != nil {
		s.logger(ctx).Warn("gateway refund failed",
			zap.String("payment_id", payment.ID.String()),
			zap.String("gateway", provider),
			zap.Error(err),
		)
		return nil, paymentdomain.NewGatewayError(provider, "refund", err)
	}
	if refund == nil {
		refund = &paymentdomain.GatewayRefund{}
	}
	return refund, nil
}

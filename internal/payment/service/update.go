package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/internal/authorization"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) UpdatePayment(ctx context.Context, id snowflake.ID, patch paymentdomain.PaymentPatch) (res *paymentdomain.Result, err error) {
	ctx, span := s.startSpan(ctx, "UpdatePayment", attribute.String("payment_id", id.String()))
	defer func() { s.finish(ctx, span, "update", err) }()

	orgID, err := s.orgID(ctx)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, paymentdomain.ErrEmptyPatch
	}

	existing, err := s.loadPayment(ctx, s.db, orgID, id)
	if err != nil {
		return nil, storageErr(err)
	}
	if err := s.authorize(ctx, authorization.ActionPaymentUpdate, existing); err != nil {
		return nil, err
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
		current, err := s.repo.FindForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return paymentdomain.ErrPaymentNotFound
		}

		previous := current.Status
		changed, err := s.applyPatch(current, patch)
		if err != nil {
			return err
		}
		current.UpdatedAt = s.now()
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}
		payment = current

		if current.InvoiceID == nil {
			return nil
		}
		outcome, err = s.reconcileInvoice(ctx, tx, orgID, *current.InvoiceID)
		if err != nil {
			return err
		}

		details := map[string]any{
			"payment_number":  current.PaymentNumber,
			"previous_status": string(previous),
			"new_status":      string(current.Status),
			"changed_fields":  changed,
			"invoice_status":  string(outcome.invoice.PaymentStatus),
			"amount_paid":     outcome.invoice.AmountPaid.String(),
		}
		if current.Status == paymentdomain.StatusRefunded && previous != paymentdomain.StatusRefunded {
			details["refund_amount"] = current.RefundAmount.Decimal.String()
			details["refund_status"] = string(current.RefundStatus)
		}
		return s.appendHistory(ctx, tx, current, updateEventType(previous, current.Status), details)
	})
	if err != nil {
		return nil, storageErr(err)
	}

	s.logger(ctx).Info("payment updated", zap.String("payment_id", payment.ID.String()), zap.String("status", string(payment.Status)))
	return s.complete(ctx, payment, outcome), nil
}

// applyPatch mutates payment in place and returns the names of changed fields.
func (s *Service) applyPatch(payment *paymentdomain.Payment, patch paymentdomain.PaymentPatch) ([]string, error) {
	changed := []string{}

	if amount, ok := patch.Amount.Get(); ok {
		if !amount.IsPositive() {
			return nil, paymentdomain.ErrInvalidAmount
		}
		if !amount.Equal(payment.Amount) {
			if payment.Status != paymentdomain.StatusPending {
				return nil, paymentdomain.ErrAmountImmutable
			}
			payment.Amount = amount
			changed = append(changed, "amount")
		}
	}
	if method, ok := patch.Method.Get(); ok {
		method = strings.TrimSpace(method)
		if method == "" {
			return nil, paymentdomain.ErrInvalidMethod
		}
		payment.Method = method
		changed = append(changed, "method")
	}
	if date, ok := patch.PaymentDate.Get(); ok {
		if date.IsZero() {
			return nil, paymentdomain.ErrInvalidPaymentDate
		}
		payment.PaymentDate = date.UTC()
		changed = append(changed, "payment_date")
	}
	if reference, ok := patch.Reference.Get(); ok {
		payment.Reference = trimmedPtr(reference)
		changed = append(changed, "reference")
	}
	if description, ok := patch.Description.Get(); ok {
		payment.Description = trimmedPtr(description)
		changed = append(changed, "description")
	}
	if gateway, ok := patch.Gateway.Get(); ok {
		normalized, err := normalizeGateway(gateway)
		if err != nil {
			return nil, err
		}
		payment.Gateway = normalized
		changed = append(changed, "gateway")
	}
	if transactionID, ok := patch.TransactionID.Get(); ok {
		payment.TransactionID = trimmedPtr(transactionID)
		changed = append(changed, "transaction_id")
	}

	refundReason := ""
	if reason, ok := patch.RefundReason.Get(); ok {
		payment.RefundReason = trimmedPtr(reason)
		if payment.RefundReason != nil {
			refundReason = *payment.RefundReason
		}
		changed = append(changed, "refund_reason")
	}

	if status, ok := patch.Status.Get(); ok {
		if !status.Valid() {
			return nil, paymentdomain.ErrInvalidStatus
		}
		if !payment.Status.CanTransitionTo(status) {
			return nil, paymentdomain.ErrInvalidTransition
		}
		if status != payment.Status {
			if status == paymentdomain.StatusRefunded {
				// a manual move to refunded books a full refund
				payment.MarkRefunded(payment.Amount, refundReason, "", s.now())
			} else {
				payment.Status = status
			}
			changed = append(changed, "status")
		}
	}

	return changed, nil
}

func updateEventType(previous, next paymentdomain.Status) historydomain.EventType {
	if previous != next {
		switch next {
		case paymentdomain.StatusFailed:
			return historydomain.EventPaymentFailed
		case paymentdomain.StatusRefunded:
			return historydomain.EventRefundProcessed
		case paymentdomain.StatusCompleted:
			return historydomain.EventPaymentRecorded
		}
	}
	return historydomain.EventPaymentUpdated
}

func (s *Service) DeletePayment(ctx context.Context, id snowflake.ID) (res *paymentdomain.Result, err error) {
	ctx, span := s.startSpan(ctx, "DeletePayment", attribute.String("payment_id", id.String()))
	defer func() { s.finish(ctx, span, "delete", err) }()

	orgID, err := s.orgID(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := s.loadPayment(ctx, s.db, orgID, id)
	if err != nil {
		return nil, storageErr(err)
	}
	if err := s.authorize(ctx, authorization.ActionPaymentDelete, existing); err != nil {
		return nil, err
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
		current, err := s.repo.FindForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return paymentdomain.ErrPaymentNotFound
		}
		if err := s.repo.Delete(ctx, tx, orgID, id); err != nil {
			return err
		}
		payment = current

		if current.InvoiceID == nil {
			return nil
		}
		outcome, err = s.reconcileInvoice(ctx, tx, orgID, *current.InvoiceID)
		if err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, current, historydomain.EventPaymentDeleted, map[string]any{
			"payment_number":  current.PaymentNumber,
			"amount":          current.Amount.String(),
			"payment_status":  string(current.Status),
			"previous_status": string(outcome.previous),
			"new_status":      string(outcome.invoice.PaymentStatus),
			"amount_paid":     outcome.invoice.AmountPaid.String(),
		})
	})
	if err != nil {
		return nil, storageErr(err)
	}

	s.logger(ctx).Info("payment deleted", zap.String("payment_id", payment.ID.String()))
	return s.complete(ctx, payment, outcome), nil
}

package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
	pkgdb "github.com/smallbiznis/invoicepay/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Service) CreatePayment(ctx context.Context, req paymentdomain.CreatePaymentRequest) (res *paymentdomain.Result, err error) {
	ctx, span := s.startSpan(ctx, "CreatePayment", attribute.String("method", req.Method))
	defer func() { s.finish(ctx, span, "create", err) }()

	orgID, err := s.orgID(ctx)
	if err != nil {
		return nil, err
	}
	payment, err := s.buildPayment(ctx, orgID, req)
	if err != nil {
		return nil, err
	}
	return s.recordPayment(ctx, payment)
}

// buildPayment validates req into a completed payment that is not yet stored.
func (s *Service) buildPayment(ctx context.Context, orgID snowflake.ID, req paymentdomain.CreatePaymentRequest) (*paymentdomain.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		return nil, paymentdomain.ErrInvalidMethod
	}
	currency := paymentdomain.NormalizeCurrency(req.Currency)
	if currency != "" && !paymentdomain.ValidCurrency(currency) {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	if req.InvoiceID == nil && currency == "" {
		return nil, paymentdomain.ErrInvalidCurrency
	}
	gateway, err := normalizeGateway(req.Gateway)
	if err != nil {
		return nil, err
	}
	if req.InvoiceID != nil && *req.InvoiceID == 0 {
		return nil, paymentdomain.ErrInvoiceNotFound
	}

	now := s.now()
	paymentDate := now
	if req.PaymentDate != nil {
		if req.PaymentDate.IsZero() {
			return nil, paymentdomain.ErrInvalidPaymentDate
		}
		paymentDate = req.PaymentDate.UTC()
	}

	metadata := datatypes.JSONMap{}
	for key, value := range req.Metadata {
		if strings.TrimSpace(key) != "" {
			metadata[key] = value
		}
	}

	return &paymentdomain.Payment{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		PaymentNumber: s.newPaymentNumber(),
		InvoiceID:     req.InvoiceID,
		Amount:        req.Amount,
		Currency:      currency,
		Method:        method,
		Gateway:       gateway,
		TransactionID: trimmedPtr(req.TransactionID),
		Status:        paymentdomain.StatusCompleted,
		PaymentDate:   paymentDate,
		Reference:     trimmedPtr(req.Reference),
		Description:   trimmedPtr(req.Description),
		RefundStatus:  paymentdomain.RefundStatusNone,
		Metadata:      metadata,
		CreatedBy:     actorUserID(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// recordPayment inserts a completed payment and, when linked, reconciles the
// invoice and appends payment_recorded in the same transaction. A gateway
// transaction already stored under its id, or under one of aliases, fails
// with ErrDuplicateTransaction and nothing is written.
func (s *Service) recordPayment(ctx context.Context, payment *paymentdomain.Payment, aliases ...string) (*paymentdomain.Result, error) {
	if payment.InvoiceID != nil {
		unlock, err := s.lock(ctx, payment.OrgID, payment.InvoiceID, payment.ID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var outcome *reconcileOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if payment.InvoiceID != nil {
			invoice, err := s.invoiceRepo.FindForUpdate(ctx, tx, payment.OrgID, *payment.InvoiceID)
			if err != nil {
				return err
			}
			if invoice == nil {
				return paymentdomain.ErrInvoiceNotFound
			}
			invoiceCurrency := paymentdomain.NormalizeCurrency(invoice.Currency)
			if payment.Currency == "" {
				payment.Currency = invoiceCurrency
			} else if payment.Currency != invoiceCurrency {
				return paymentdomain.ErrCurrencyMismatch
			}
		}

		if gateway, transactionID := payment.GatewayName(), payment.ExternalTransactionID(); gateway != "" && transactionID != "" {
			recorded, err := s.findGatewayPayment(ctx, tx, payment.OrgID, gateway, append([]string{transactionID}, aliases...)...)
			if err != nil {
				return err
			}
			if recorded != nil {
				return paymentdomain.ErrDuplicateTransaction
			}
		}

		if err := s.repo.Insert(ctx, tx, payment); err != nil {
			if payment.ExternalTransactionID() != "" && pkgdb.IsDuplicateKeyErr(err) {
				return paymentdomain.ErrDuplicateTransaction
			}
			return err
		}
		if payment.InvoiceID == nil {
			return nil
		}

		var err error
		outcome, err = s.reconcileInvoice(ctx, tx, payment.OrgID, *payment.InvoiceID)
		if err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, payment, historydomain.EventPaymentRecorded, map[string]any{
			"payment_number":  payment.PaymentNumber,
			"amount":          payment.Amount.String(),
			"currency":        payment.Currency,
			"method":          payment.Method,
			"previous_status": string(outcome.previous),
			"new_status":      string(outcome.invoice.PaymentStatus),
			"amount_paid":     outcome.invoice.AmountPaid.String(),
		})
	})
	if err != nil {
		return nil, storageErr(err)
	}

	s.logger(ctx).Info("payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("payment_number", payment.PaymentNumber),
	)
	return s.complete(ctx, payment, outcome), nil
}

// complete delivers post-commit side effects and builds the result.
func (s *Service) complete(ctx context.Context, payment *paymentdomain.Payment, outcome *reconcileOutcome) *paymentdomain.Result {
	result := &paymentdomain.Result{Payment: payment}
	if outcome == nil {
		return result
	}
	result.Invoice = outcome.invoice
	if outcome.sendThankYou {
		s.sendThankYou(ctx, outcome.invoice, payment)
	}
	return result
}

// findGatewayPayment returns the first payment stored for gateway under any of
// transactionIDs.
func (s *Service) findGatewayPayment(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, gateway string, transactionIDs ...string) (*paymentdomain.Payment, error) {
	seen := make(map[string]struct{}, len(transactionIDs))
	for _, transactionID := range transactionIDs {
		transactionID = strings.TrimSpace(transactionID)
		if transactionID == "" {
			continue
		}
		if _, ok := seen[transactionID]; ok {
			continue
		}
		seen[transactionID] = struct{}{}
		payment, err := s.repo.FindByTransactionID(ctx, conn, orgID, gateway, transactionID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	return nil, nil
}

package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/invoicepay/internal/payment/domain"
)

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	orgID, err := s.orgID(ctx)
	if err != nil {
		return nil, err
	}
	payment, err := s.loadPayment(ctx, s.db, orgID, id)
	if err != nil {
		return nil, storageErr(err)
	}
	return payment, nil
}

func (s *Service) ListInvoicePayments(ctx context.Context, req paymentdomain.ListPaymentsRequest) ([]paymentdomain.Payment, error) {
	orgID, err := s.orgID(ctx)
	if err != nil {
		return nil, err
	}
	for _, status := range req.Statuses {
		if !status.Valid() {
			return nil, paymentdomain.ErrInvalidStatus
		}
	}
	if req.InvoiceID == 0 {
		return nil, paymentdomain.ErrInvoiceNotFound
	}

	invoice, err := s.invoiceRepo.FindByID(ctx, s.db, orgID, req.InvoiceID)
	if err != nil {
		return nil, storageErr(err)
	}
	if invoice == nil {
		return nil, paymentdomain.ErrInvoiceNotFound
	}

	payments, err := s.repo.ListByInvoice(ctx, s.db, orgID, req.InvoiceID, req.Statuses...)
	if err != nil {
		return nil, storageErr(err)
	}
	if payments == nil {
		payments = []paymentdomain.Payment{}
	}
	return payments, nil
}

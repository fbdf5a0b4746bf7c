package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/invoicepay/internal/invoice/domain"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, invoice *invoicedomain.Invoice) error {
	return conn.WithContext(ctx).Create(invoice).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.find(conn.WithContext(ctx), orgID, id)
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.find(db.ForUpdate(tx.WithContext(ctx)), orgID, id)
}

func (r *repo) find(query *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := query.
		Where("org_id = ? AND id = ?", orgID, id).
		Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) UpdatePaymentFields(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	result := tx.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("org_id = ? AND id = ?", invoice.OrgID, invoice.ID).
		Updates(map[string]any{
			"amount_paid":         invoice.AmountPaid,
			"payment_status":      invoice.PaymentStatus,
			"last_payment_date":   invoice.LastPaymentDate,
			"last_payment_amount": invoice.LastPaymentAmount,
			"last_payment_method": invoice.LastPaymentMethod,
			"thank_you_sent":      invoice.ThankYouSent,
			"updated_at":          invoice.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return invoicedomain.ErrInvoiceNotFound
	}
	return nil
}

func (r *repo) SetThankYouSent(ctx context.Context, conn *gorm.DB, orgID, id snowflake.ID, sent bool) (bool, error) {
	result := conn.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("org_id = ? AND id = ? AND thank_you_sent = ?", orgID, id, !sent).
		Updates(map[string]any{
			"thank_you_sent": sent,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/internal/payment/domain"
	"github.com/smallbiznis/invoicepay/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, payment *domain.Payment) error {
	return conn.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	return first(conn.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id))
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	return first(db.ForUpdate(tx.WithContext(ctx)).Where("org_id = ? AND id = ?", orgID, id))
}

func (r *repo) FindByTransactionID(ctx context.Context, conn *gorm.DB, orgID snowflake.ID, gateway, transactionID string) (*domain.Payment, error) {
	return first(conn.WithContext(ctx).
		Where("org_id = ? AND gateway = ? AND transaction_id = ?", orgID, gateway, transactionID).
		Order("created_at ASC"))
}

func first(query *gorm.DB) (*domain.Payment, error) {
	var payment domain.Payment
	err := query.Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) ListByInvoice(ctx context.Context, conn *gorm.DB, orgID, invoiceID snowflake.ID, statuses ...domain.Status) ([]domain.Payment, error) {
	query := conn.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ?", orgID, invoiceID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var payments []domain.Payment
	if err := query.Order("payment_date ASC, id ASC").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, payment *domain.Payment) error {
	result := conn.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("org_id = ? AND id = ?", payment.OrgID, payment.ID).
		Updates(map[string]any{
			"amount":                payment.Amount,
			"currency":              payment.Currency,
			"method":                payment.Method,
			"gateway":               payment.Gateway,
			"transaction_id":        payment.TransactionID,
			"status":                payment.Status,
			"payment_date":          payment.PaymentDate,
			"reference":             payment.Reference,
			"description":           payment.Description,
			"refund_status":         payment.RefundStatus,
			"refund_amount":         payment.RefundAmount,
			"refund_date":           payment.RefundDate,
			"refund_reason":         payment.RefundReason,
			"refund_transaction_id": payment.RefundTransactionID,
			"failure_reason":        payment.FailureReason,
			"metadata":              payment.Metadata,
			"updated_at":            payment.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, conn *gorm.DB, orgID, id snowflake.ID) error {
	result := conn.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Delete(&domain.Payment{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT id, org_id, provider, provider_event_id, event_type,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// InsertEvent stores the event once per (provider, provider_event_id),
// reporting false when it was already recorded.
func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if db.IsDuplicateKeyErr(res.Error) {
		// mysql reports the conflict instead of skipping the row
		return false, nil
	}
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

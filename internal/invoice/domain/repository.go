package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists invoices. Methods take the db handle so callers can pass
// the transaction that owns the invoice lock.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	// FindForUpdate reads the invoice holding a row lock for the rest of tx.
	FindForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	UpdatePaymentFields(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
	// SetThankYouSent flips the flag only when it differs, reporting whether it changed.
	SetThankYouSent(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, sent bool) (bool, error)
}

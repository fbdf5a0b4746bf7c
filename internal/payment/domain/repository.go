package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the payment ledger store.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, gateway, transactionID string) (*Payment, error)
	// ListByInvoice returns payments oldest first; an empty filter returns all statuses.
	ListByInvoice(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, statuses ...Status) ([]Payment, error)
	Update(ctx context.Context, db *gorm.DB, payment *Payment) error
	Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/pkg/db/pagination"
	"gorm.io/gorm"
)

type AppendRequest struct {
	OrgID     snowflake.ID
	InvoiceID snowflake.ID
	PaymentID *snowflake.ID
	EventType EventType
	Details   map[string]any
}

type ListRequest struct {
	pagination.Pagination
	InvoiceID snowflake.ID
}

type ListResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

// Service is append-only: entries are never updated or deleted.
type Service interface {
	// Append writes through tx so the entry commits atomically with the
	// payment change it describes. A nil tx uses the service connection.
	Append(ctx context.Context, tx *gorm.DB, req AppendRequest) (*Entry, error)
	// ListForInvoice returns entries newest first.
	ListForInvoice(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	Latest(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (*Entry, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Entry, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidEventType    = errors.New("invalid_event_type")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)

package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicepay/internal/auditcontext"
	"github.com/smallbiznis/invoicepay/internal/clock"
	historydomain "github.com/smallbiznis/invoicepay/internal/history/domain"
	obslogger "github.com/smallbiznis/invoicepay/internal/observability/logger"
	"github.com/smallbiznis/invoicepay/internal/orgcontext"
	"github.com/smallbiznis/invoicepay/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  historydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  historydomain.Repository
}

func NewService(p Params) historydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("history.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.With(ctx, s.log)
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, req historydomain.AppendRequest) (*historydomain.Entry, error) {
	if req.OrgID == 0 {
		return nil, historydomain.ErrInvalidOrganization
	}
	if req.InvoiceID == 0 {
		return nil, historydomain.ErrInvalidInvoice
	}
	if !req.EventType.Valid() {
		return nil, historydomain.ErrInvalidEventType
	}
	if tx == nil {
		tx = s.db
	}

	createdAt, err := s.nextTimestamp(ctx, tx, req.OrgID, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	details := datatypes.JSONMap{}
	for key, value := range req.Details {
		if strings.TrimSpace(key) == "" {
			continue
		}
		details[key] = value
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		details["request_id"] = requestID
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		details["ip_address"] = ip
	}
	if userAgent := auditcontext.UserAgentFromContext(ctx); userAgent != "" {
		details["user_agent"] = userAgent
	}

	entry := historydomain.Entry{
		ID:        s.genID.Generate(),
		OrgID:     req.OrgID,
		InvoiceID: req.InvoiceID,
		PaymentID: req.PaymentID,
		EventType: req.EventType,
		Details:   details,
		CreatedAt: createdAt,
	}
	if userID := auditcontext.UserIDFromContext(ctx); userID != "" {
		entry.UserID = &userID
	}

	if err := s.repo.Insert(ctx, tx, &entry); err != nil {
		s.logger(ctx).Warn("failed to append payment history",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.String("event_type", string(req.EventType)),
			zap.Error(err),
		)
		return nil, err
	}
	return &entry, nil
}

// nextTimestamp keeps entry timestamps strictly increasing per invoice even
// when the clock does not advance between appends.
func (s *Service) nextTimestamp(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (time.Time, error) {
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	latest, err := s.repo.Latest(ctx, tx, orgID, invoiceID)
	if err != nil {
		return time.Time{}, err
	}
	if latest != nil && !now.After(latest.CreatedAt) {
		now = latest.CreatedAt.UTC().Add(time.Microsecond)
	}
	return now, nil
}

func (s *Service) ListForInvoice(ctx context.Context, req historydomain.ListRequest) (historydomain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return historydomain.ListResponse{}, historydomain.ErrInvalidOrganization
	}
	if req.InvoiceID == 0 {
		return historydomain.ListResponse{}, historydomain.ErrInvalidInvoice
	}

	var cursor *historydomain.Cursor
	decoded, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return historydomain.ListResponse{}, historydomain.ErrInvalidPageToken
	}
	if decoded != nil {
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return historydomain.ListResponse{}, historydomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return historydomain.ListResponse{}, historydomain.ErrInvalidPageToken
		}
		cursor = &historydomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, historydomain.ListFilter{
		OrgID:     orgID,
		InvoiceID: req.InvoiceID,
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		return historydomain.ListResponse{}, err
	}

	entries, pageInfo, err := pagination.Trim(items, limit, func(item historydomain.Entry) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return historydomain.ListResponse{}, err
	}
	if entries == nil {
		entries = []historydomain.Entry{}
	}

	return historydomain.ListResponse{PageInfo: pageInfo, Entries: entries}, nil
}

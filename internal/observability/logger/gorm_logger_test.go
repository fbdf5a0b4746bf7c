package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/invoicepay/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestStatementKind(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM payments":                                "SELECT",
		"select * from invoices where id = ? for update":        "SELECT FOR UPDATE",
		"  insert into invoice_payment_history (id) values (1)": "INSERT",
		"(DELETE FROM payments WHERE id = 1)":                   "DELETE",
		"UPDATE invoices SET amount_paid = ?":                   "UPDATE",
		"":                                                      "OTHER",
		"VACUUM":                                                "OTHER",
	}
	for sql, want := range cases {
		assert.Equal(t, want, statementKind(sql), sql)
	}
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(zap.New(core), 100*time.Millisecond)
	ctx := orgcontext.WithOrgID(context.Background(), 42)
	stmt := func() (string, int64) { return "SELECT * FROM payments WHERE id = ?", 1 }

	l.Trace(ctx, time.Now(), stmt, nil)
	l.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	assert.Zero(t, logs.Len(), "fast reads and missing rows stay quiet")

	l.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	l.Trace(ctx, time.Now(), stmt, errors.New("connection reset"))
	entries := logs.TakeAll()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "42", entries[1].ContextMap()["org_id"])
	assert.Equal(t, "SELECT", entries[1].ContextMap()["statement"])

	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), stmt, errors.New("ignored"))
	assert.Zero(t, logs.Len())
}

func TestParamsFilterDropsBoundValues(t *testing.T) {
	l := NewGormLogger(zap.NewNop(), 0)
	sql, params := l.ParamsFilter(context.Background(), "SELECT 1 WHERE id = ?", 42)
	assert.Equal(t, "SELECT 1 WHERE id = ?", sql)
	assert.Nil(t, params)
}

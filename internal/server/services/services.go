// Package services contains the vault's business logic: the audit ledger,
// document storage and versioning, and access grants. Services talk to
// storage only through repomanager and blobstore.
package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Auditor records ledger entries without failing the caller.
type Auditor interface {
	Record(ctx context.Context, documentID int64, action models.AuditAction, details map[string]any)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// inTx runs fn in a transaction when db is set. Without a database (the
// in-memory repositories) fn runs directly.
func inTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	if db == nil {
		return fn(ctx, nil)
	}
	return dbx.WithTx(ctx, db, nil, fn)
}

func utcNow() time.Time {
	return time.Now().UTC()
}

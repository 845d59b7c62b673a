package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/auditlog"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/documents"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/grants"
)

// RepositoryManager vends repositories bound to a DBTX, so services can run
// the same code against *sql.DB or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Documents(db dbx.DBTX) documents.Repository
	Grants(db dbx.DBTX) grants.Repository
	AuditLog(db dbx.DBTX) auditlog.Repository
}

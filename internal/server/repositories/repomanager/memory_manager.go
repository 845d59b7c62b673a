package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/auditlog"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/documents"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/grants"
)

// InMemoryRepositoryManager hands out the same in-memory repositories for
// any DBTX. Transactions are not supported; db is ignored.
type InMemoryRepositoryManager struct {
	documents *documents.MemoryRepository
	grants    *grants.MemoryRepository
	auditLog  *auditlog.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		documents: documents.NewMemoryRepository(),
		grants:    grants.NewMemoryRepository(),
		auditLog:  auditlog.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *InMemoryRepositoryManager) Documents(dbx.DBTX) documents.Repository { return m.documents }

func (m *InMemoryRepositoryManager) Grants(dbx.DBTX) grants.Repository { return m.grants }

func (m *InMemoryRepositoryManager) AuditLog(dbx.DBTX) auditlog.Repository { return m.auditLog }

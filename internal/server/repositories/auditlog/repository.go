// Package auditlog persists the append-only, hash-chained audit ledger.
package auditlog

import (
	"context"

	"github.com/dmitrijs2005/docvault/internal/server/models"
)

type Repository interface {
	// Head returns the hash_chain of the newest entry, or "" for an empty chain.
	Head(ctx context.Context, documentID int64) (string, error)
	// Insert appends entry and advances the document's anchor in the same
	// statement. It fails with common.ErrChainConflict when another entry was
	// already appended on entry.PrevHash.
	Insert(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error)
	// Anchor returns the stored chain head, or nil when nothing was appended.
	Anchor(ctx context.Context, documentID int64) (*models.AuditAnchor, error)
	// List returns one page of a document's entries, newest first, and the total.
	List(ctx context.Context, documentID int64, limit, offset int) ([]*models.AuditEntry, int, error)
	// ListChain returns every entry of a document in insertion order.
	ListChain(ctx context.Context, documentID int64) ([]*models.AuditEntry, error)
}

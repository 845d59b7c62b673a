package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

type storedEntry struct {
	entry   models.AuditEntry
	details []byte
}

// MemoryRepository is an in-process Repository. Details are kept as JSON so
// reads see the same value shapes as the PostgreSQL jsonb column.
type MemoryRepository struct {
	mu      sync.Mutex
	seq     int64
	entries []storedEntry
	anchors map[int64]models.AuditAnchor
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{anchors: make(map[int64]models.AuditAnchor)}
}

func (r *MemoryRepository) Head(ctx context.Context, documentID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].entry.DocumentID == documentID {
			return r.entries[i].entry.HashChain, nil
		}
	}
	return "", nil
}

func (r *MemoryRepository) Insert(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.entries {
		if s.entry.DocumentID == entry.DocumentID && s.entry.PrevHash == entry.PrevHash {
			return nil, common.ErrChainConflict
		}
	}

	r.seq++
	entry.ID = r.seq
	stored := *entry
	stored.Details = nil
	if entry.ActorID != nil {
		id := *entry.ActorID
		stored.ActorID = &id
	}
	r.entries = append(r.entries, storedEntry{entry: stored, details: details})

	a := r.anchors[entry.DocumentID]
	a.DocumentID = entry.DocumentID
	a.HeadHash = entry.HashChain
	a.EntryCount++
	r.anchors[entry.DocumentID] = a
	return entry, nil
}

func (r *MemoryRepository) Anchor(ctx context.Context, documentID int64) (*models.AuditAnchor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.anchors[documentID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *MemoryRepository) load(s storedEntry) (*models.AuditEntry, error) {
	e := s.entry
	if e.ActorID != nil {
		id := *e.ActorID
		e.ActorID = &id
	}
	if err := json.Unmarshal(s.details, &e.Details); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return &e, nil
}

func (r *MemoryRepository) ListChain(ctx context.Context, documentID int64) ([]*models.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AuditEntry
	for _, s := range r.entries {
		if s.entry.DocumentID != documentID {
			continue
		}
		e, err := r.load(s)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepository) List(ctx context.Context, documentID int64, limit, offset int) ([]*models.AuditEntry, int, error) {
	chain, err := r.ListChain(ctx, documentID)
	if err != nil {
		return nil, 0, err
	}

	total := len(chain)
	newest := make([]*models.AuditEntry, 0, total)
	for i := total - 1; i >= 0; i-- {
		newest = append(newest, chain[i])
	}

	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return newest[offset:end], total, nil
}

package documents

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

// MemoryRepository is an in-process Repository used by tests and by the
// "memory" database mode. Returned documents are copies.
type MemoryRepository struct {
	mu   sync.RWMutex
	seq  int64
	docs map[int64]*models.Document
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs: make(map[int64]*models.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func clone(d *models.Document) *models.Document {
	c := *d
	c.CaseID = cloneID(d.CaseID)
	c.CategoryID = cloneID(d.CategoryID)
	c.ParentVersionID = cloneID(d.ParentVersionID)
	c.RootID = cloneID(d.RootID)
	return &c
}

func cloneID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (r *MemoryRepository) Create(ctx context.Context, doc *models.Document) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.docs {
		if d.UUID == doc.UUID || d.StoragePath == doc.StoragePath {
			return nil, common.ErrValidation
		}
	}

	r.seq++
	now := r.now()
	doc.ID = r.seq
	doc.CreatedAt = now
	doc.UpdatedAt = now
	r.docs[doc.ID] = clone(doc)
	return doc, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.docs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(d), nil
}

func (r *MemoryRepository) GetByUUID(ctx context.Context, uuid string) (*models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.docs {
		if d.UUID == uuid {
			return clone(d), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) collect(match func(*models.Document) bool) []*models.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Document
	for _, d := range r.docs {
		if match(d) {
			out = append(out, clone(d))
		}
	}
	return out
}

func (r *MemoryRepository) List(ctx context.Context, filter models.DocumentFilter, limit, offset int) ([]*models.Document, int, error) {
	out := r.collect(func(d *models.Document) bool {
		switch {
		case filter.Status != "" && d.Status != filter.Status:
			return false
		case filter.Status == "" && !filter.IncludeDeleted && d.IsDeleted():
			return false
		case filter.OwnerID != nil && d.OwnerID != *filter.OwnerID:
			return false
		case filter.CaseID != nil && (d.CaseID == nil || *d.CaseID != *filter.CaseID):
			return false
		case filter.CategoryID != nil && (d.CategoryID == nil || *d.CategoryID != *filter.CategoryID):
			return false
		}
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], total, nil
}

func byVersion(out []*models.Document) []*models.Document {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryRepository) ListChain(ctx context.Context, rootID int64) ([]*models.Document, error) {
	return byVersion(r.collect(func(d *models.Document) bool {
		return d.ID == rootID || (d.RootID != nil && *d.RootID == rootID)
	})), nil
}

func (r *MemoryRepository) ListChildren(ctx context.Context, parentID int64) ([]*models.Document, error) {
	return byVersion(r.collect(func(d *models.Document) bool {
		return d.ParentVersionID != nil && *d.ParentVersionID == parentID
	})), nil
}

func (r *MemoryRepository) update(id int64, fn func(*models.Document)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(d)
	d.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) SetStatus(ctx context.Context, id int64, status models.DocumentStatus) error {
	return r.update(id, func(d *models.Document) { d.Status = status })
}

func (r *MemoryRepository) UpdateWrappedDEK(ctx context.Context, id int64, wrappedDEK string) error {
	return r.update(id, func(d *models.Document) { d.WrappedDEK = wrappedDEK })
}

package grants

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

// MemoryRepository is an in-process Repository. All counter updates happen
// under one mutex, so ConsumeDownload is atomic like its SQL counterpart.
type MemoryRepository struct {
	mu     sync.Mutex
	seq    int64
	grants map[int64]*models.Grant
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		grants: make(map[int64]*models.Grant),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func clone(g *models.Grant) *models.Grant {
	c := *g
	c.Permissions = slices.Clone(g.Permissions)
	if g.GranteeID != nil {
		v := *g.GranteeID
		c.GranteeID = &v
	}
	if g.MaxDownloads != nil {
		v := *g.MaxDownloads
		c.MaxDownloads = &v
	}
	if g.ExpiresAt != nil {
		v := *g.ExpiresAt
		c.ExpiresAt = &v
	}
	return &c
}

func (r *MemoryRepository) Create(ctx context.Context, grant *models.Grant) (*models.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.grants {
		if g.AccessToken == grant.AccessToken {
			return nil, common.ErrValidation
		}
	}

	r.seq++
	grant.ID = r.seq
	grant.CreatedAt = r.now()
	r.grants[grant.ID] = clone(grant)
	return grant, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*models.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(g), nil
}

func (r *MemoryRepository) GetByToken(ctx context.Context, token string) (*models.Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.grants {
		if g.AccessToken == token {
			return clone(g), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) Revoke(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok {
		return false, common.ErrorNotFound
	}
	if g.IsRevoked {
		return false, nil
	}
	g.IsRevoked = true
	return true, nil
}

func (r *MemoryRepository) RevokeAllForDocument(ctx context.Context, documentID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, g := range r.grants {
		if g.DocumentID == documentID && !g.IsRevoked {
			g.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) IncrementDownloadCount(ctx context.Context, id int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok {
		return 0, common.ErrorNotFound
	}
	if g.QuotaReached() {
		return 0, common.ErrQuotaExceeded
	}
	g.DownloadCount++
	return g.DownloadCount, nil
}

func (r *MemoryRepository) ConsumeDownload(ctx context.Context, id int64, now time.Time) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok || g.IsRevoked || g.IsExpired(now) || g.QuotaReached() {
		return 0, false, nil
	}
	g.DownloadCount++
	return g.DownloadCount, true, nil
}

func (r *MemoryRepository) collect(match func(*models.Grant) bool) []*models.Grant {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Grant
	for _, g := range r.grants {
		if match(g) {
			out = append(out, clone(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *MemoryRepository) ListByDocument(ctx context.Context, documentID int64, activeOnly bool) ([]*models.Grant, error) {
	return r.collect(func(g *models.Grant) bool {
		return g.DocumentID == documentID && (!activeOnly || !g.IsRevoked)
	}), nil
}

func (r *MemoryRepository) ListActiveByGrantee(ctx context.Context, granteeID int64) ([]*models.Grant, error) {
	return r.collect(func(g *models.Grant) bool {
		return g.GranteeID != nil && *g.GranteeID == granteeID && !g.IsRevoked
	}), nil
}

func (r *MemoryRepository) UpdateWrappedDEK(ctx context.Context, id int64, wrappedDEK string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok {
		return common.ErrorNotFound
	}
	g.WrappedDEK = wrappedDEK
	return nil
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/docvault/internal/actor"
	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/logging"
	"github.com/dmitrijs2005/docvault/internal/metrics"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/go-playground/validator/v10"
)

// GrantOptions tunes token generation and validation throttling.
type GrantOptions struct {
	TokenBytes int
	// ValidateRate is the sustained token validations per second allowed per
	// client IP; 0 disables throttling.
	ValidateRate  float64
	ValidateBurst int
}

// GrantService mints, validates and revokes bearer-token access grants.
type GrantService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	engine      *cryptox.Engine
	vault       *VaultService
	ledger      Auditor
	logger      logging.Logger
	validate    *validator.Validate
	limiter     *ipLimiter
	tokenBytes  int
	now         func() time.Time
}

func NewGrantService(db *sql.DB, m repomanager.RepositoryManager, engine *cryptox.Engine, vault *VaultService, ledger Auditor, logger logging.Logger, opts GrantOptions) *GrantService {
	return &GrantService{
		db:          db,
		repomanager: m,
		engine:      engine,
		vault:       vault,
		ledger:      ledger,
		logger:      logger.With("component", "grants"),
		validate:    newValidator(),
		limiter:     newIPLimiter(opts.ValidateRate, opts.ValidateBurst),
		tokenBytes:  opts.TokenBytes,
		now:         utcNow,
	}
}

// Share mints a grant on an active document. The grant gets its own
// re-wrapped DEK and a fresh bearer token, which is returned once and never
// logged or audited.
func (s *GrantService) Share(ctx context.Context, req ShareRequest) (grant *models.Grant, token string, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("share", start, err) }(time.Now())

	if err := validateRequest(s.validate, "share", req); err != nil {
		return nil, "", err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, "", common.Wrap("share", common.ErrValidation, errors.New("expires_at must be in the future"))
	}

	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, req.DocumentID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, "", common.Wrap("share", common.ErrorNotFound, fmt.Errorf("document %d", req.DocumentID))
	}
	if err != nil {
		return nil, "", s.fail(ctx, "share", req.DocumentID, 0, common.Wrap("share", common.ErrorInternal, err))
	}
	if doc.IsDeleted() {
		return nil, "", common.Wrap("share", common.ErrDocumentUnavailable, nil)
	}

	wrapped, err := s.engine.RewrapForGrant(doc.WrappedDEK)
	if err != nil {
		return nil, "", s.fail(ctx, "share", doc.ID, 0, common.Wrap("share", common.ErrCryptoConfig, err))
	}
	token, err = cryptox.GenerateToken(s.tokenBytes)
	if err != nil {
		return nil, "", s.fail(ctx, "share", doc.ID, 0, common.Wrap("share", common.ErrCryptoConfig, err))
	}

	var grantedBy int64
	if id := actor.ID(ctx); id != nil {
		grantedBy = *id
	}
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		expiresAt = &t
	}

	grant, err = s.repomanager.Grants(s.db).Create(ctx, &models.Grant{
		DocumentID:   doc.ID,
		GranteeID:    req.GranteeID,
		GranteeEmail: req.GranteeEmail,
		AccessToken:  token,
		WrappedDEK:   wrapped,
		Permissions:  normalizePermissions(req.Permissions),
		MaxDownloads: req.MaxDownloads,
		ExpiresAt:    expiresAt,
		RequiresAuth: req.RequiresAuth,
		GrantedBy:    grantedBy,
	})
	if err != nil {
		return nil, "", s.fail(ctx, "share", doc.ID, 0, common.Wrap("share", common.ErrorInternal, err))
	}

	details := map[string]any{
		"grant_id":      grant.ID,
		"permissions":   grant.Permissions,
		"requires_auth": grant.RequiresAuth,
	}
	if grant.GranteeID != nil {
		details["grantee_id"] = *grant.GranteeID
	}
	if grant.GranteeEmail != "" {
		details["grantee_email"] = grant.GranteeEmail
	}
	if grant.MaxDownloads != nil {
		details["max_downloads"] = *grant.MaxDownloads
	}
	if grant.ExpiresAt != nil {
		details["expires_at"] = grant.ExpiresAt.Format(time.RFC3339)
	}
	s.ledger.Record(ctx, doc.ID, models.ActionShared, details)
	s.logger.Info(ctx, "document shared", "document_id", doc.ID, "grant_id", grant.ID)

	return grant, token, nil
}

func (s *GrantService) fail(ctx context.Context, op string, documentID, grantID int64, err error) error {
	s.logger.Error(ctx, "grant operation failed", "op", op, "document_id", documentID, "grant_id", grantID, "kind", string(common.KindOf(err)), "error", err)
	return err
}

// Revoke permanently disables a grant. Revoking twice succeeds; only the
// first call is audited.
func (s *GrantService) Revoke(ctx context.Context, grantID int64) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("revoke", start, err) }(time.Now())

	repo := s.repomanager.Grants(s.db)
	grant, err := repo.GetByID(ctx, grantID)
	if errors.Is(err, common.ErrorNotFound) {
		return common.Wrap("revoke", common.ErrorNotFound, fmt.Errorf("grant %d", grantID))
	}
	if err != nil {
		return s.fail(ctx, "revoke", 0, grantID, common.Wrap("revoke", common.ErrorInternal, err))
	}

	changed, err := repo.Revoke(ctx, grantID)
	if err != nil {
		return s.fail(ctx, "revoke", grant.DocumentID, grantID, common.Wrap("revoke", common.ErrorInternal, err))
	}
	if changed {
		s.ledger.Record(ctx, grant.DocumentID, models.ActionRevoked, map[string]any{"grant_id": grantID})
		s.logger.Info(ctx, "grant revoked", "document_id", grant.DocumentID, "grant_id", grantID)
	}
	return nil
}

// RevokeAll revokes every live grant of a document and records one entry
// with the count.
func (s *GrantService) RevokeAll(ctx context.Context, documentID int64) (n int, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("revoke_all", start, err) }(time.Now())

	if _, err := s.repomanager.Documents(s.db).GetByID(ctx, documentID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return 0, common.Wrap("revoke_all", common.ErrorNotFound, fmt.Errorf("document %d", documentID))
		}
		return 0, s.fail(ctx, "revoke_all", documentID, 0, common.Wrap("revoke_all", common.ErrorInternal, err))
	}

	n, err = s.repomanager.Grants(s.db).RevokeAllForDocument(ctx, documentID)
	if err != nil {
		return 0, s.fail(ctx, "revoke_all", documentID, 0, common.Wrap("revoke_all", common.ErrorInternal, err))
	}

	s.ledger.Record(ctx, documentID, models.ActionRevoked, map[string]any{"revoked_count": n, "scope": "all"})
	s.logger.Info(ctx, "all grants revoked", "document_id", documentID, "count", n)
	return n, nil
}

// deny counts and wraps a validation failure.
func (s *GrantService) deny(reason string, sentinel error) error {
	metrics.GrantDenied(reason)
	return common.Wrap("validate_token", sentinel, nil)
}

// ValidateToken resolves a bearer token to its grant and live document.
// Checks run in a fixed order and stop at the first failure: revoked,
// expired, quota, then document availability.
func (s *GrantService) ValidateToken(ctx context.Context, token string) (*models.Grant, *models.Document, error) {
	if !s.limiter.allow(actor.IP(ctx), s.now()) {
		return nil, nil, s.deny("rate_limited", common.ErrRateLimited)
	}
	if token == "" {
		return nil, nil, s.deny("invalid_token", common.ErrInvalidToken)
	}

	grant, err := s.repomanager.Grants(s.db).GetByToken(ctx, token)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil, s.deny("invalid_token", common.ErrInvalidToken)
	}
	if err != nil {
		return nil, nil, s.fail(ctx, "validate_token", 0, 0, common.Wrap("validate_token", common.ErrorInternal, err))
	}

	switch {
	case grant.IsRevoked:
		return nil, nil, s.deny("revoked", common.ErrGrantRevoked)
	case grant.IsExpired(s.now()):
		return nil, nil, s.deny("expired", common.ErrGrantExpired)
	case grant.QuotaReached():
		return nil, nil, s.deny("quota_exceeded", common.ErrQuotaExceeded)
	}

	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, grant.DocumentID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil, s.deny("unavailable", common.ErrDocumentUnavailable)
	}
	if err != nil {
		return nil, nil, s.fail(ctx, "validate_token", grant.DocumentID, grant.ID, common.Wrap("validate_token", common.ErrorInternal, err))
	}
	if doc.IsDeleted() {
		return nil, nil, s.deny("unavailable", common.ErrDocumentUnavailable)
	}

	return grant, doc, nil
}

// IncrementDownloadCount atomically bumps the counter and returns the new
// value. It never pushes the count past max_downloads.
func (s *GrantService) IncrementDownloadCount(ctx context.Context, grantID int64) (int, error) {
	n, err := s.repomanager.Grants(s.db).IncrementDownloadCount(ctx, grantID)
	switch {
	case errors.Is(err, common.ErrQuotaExceeded):
		metrics.GrantDenied("quota_exceeded")
		return 0, common.Wrap("increment_download", common.ErrQuotaExceeded, nil)
	case errors.Is(err, common.ErrorNotFound):
		return 0, common.Wrap("increment_download", common.ErrorNotFound, fmt.Errorf("grant %d", grantID))
	case err != nil:
		return 0, s.fail(ctx, "increment_download", 0, grantID, common.Wrap("increment_download", common.ErrorInternal, err))
	}
	return n, nil
}

// ConsumeToken validates the token and takes one download in a single
// atomic step. When the conditional update loses a race the token is
// validated again to report why.
func (s *GrantService) ConsumeToken(ctx context.Context, token string) (*models.Grant, *models.Document, error) {
	grant, doc, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if err := s.consume(ctx, grant); err != nil {
		return nil, nil, err
	}
	return grant, doc, nil
}

func (s *GrantService) consume(ctx context.Context, grant *models.Grant) error {
	n, ok, err := s.repomanager.Grants(s.db).ConsumeDownload(ctx, grant.ID, s.now())
	if err != nil {
		return s.fail(ctx, "consume_token", grant.DocumentID, grant.ID, common.Wrap("consume_token", common.ErrorInternal, err))
	}
	if !ok {
		if _, _, verr := s.ValidateToken(ctx, grant.AccessToken); verr != nil {
			return verr
		}
		return s.deny("quota_exceeded", common.ErrQuotaExceeded)
	}
	grant.DownloadCount = n
	return nil
}

// Download is the shared-link path: validate, decrypt with the grant's own
// key, take one download atomically and record it. A download that loses
// the quota race returns no bytes.
func (s *GrantService) Download(ctx context.Context, token string) (plaintext []byte, doc *models.Document, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("download", start, err) }(time.Now())

	grant, doc, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if !grant.HasPermission(models.PermissionDownload) {
		metrics.GrantDenied("permission")
		return nil, nil, common.Wrap("download", common.ErrPermissionDenied, nil)
	}

	plaintext, err = s.vault.RetrieveWithGrant(ctx, doc, grant, s.consume)
	if err != nil {
		return nil, nil, err
	}
	return plaintext, doc, nil
}

// ListGrants returns the document's non-revoked grants, newest first.
func (s *GrantService) ListGrants(ctx context.Context, documentID int64) ([]*models.Grant, error) {
	grants, err := s.repomanager.Grants(s.db).ListByDocument(ctx, documentID, true)
	if err != nil {
		return nil, s.fail(ctx, "list_grants", documentID, 0, common.Wrap("list_grants", common.ErrorInternal, err))
	}
	sortNewestFirst(grants)
	return grants, nil
}

func sortNewestFirst(grants []*models.Grant) {
	sort.SliceStable(grants, func(i, j int) bool {
		if !grants[i].CreatedAt.Equal(grants[j].CreatedAt) {
			return grants[i].CreatedAt.After(grants[j].CreatedAt)
		}
		return grants[i].ID > grants[j].ID
	})
}

// ListSharedWith resolves the actor's non-revoked grants to their active
// documents. Each document appears once, in order of its newest grant.
func (s *GrantService) ListSharedWith(ctx context.Context, actorID int64, limit, offset int) ([]*models.Document, int, error) {
	limit, offset = normalizePage(limit, offset)

	grants, err := s.repomanager.Grants(s.db).ListActiveByGrantee(ctx, actorID)
	if err != nil {
		return nil, 0, s.fail(ctx, "list_shared_with", 0, 0, common.Wrap("list_shared_with", common.ErrorInternal, err))
	}
	sortNewestFirst(grants)

	docsRepo := s.repomanager.Documents(s.db)
	seen := make(map[int64]struct{}, len(grants))
	var docs []*models.Document
	for _, g := range grants {
		if _, dup := seen[g.DocumentID]; dup {
			continue
		}
		seen[g.DocumentID] = struct{}{}

		doc, err := docsRepo.GetByID(ctx, g.DocumentID)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, s.fail(ctx, "list_shared_with", g.DocumentID, g.ID, common.Wrap("list_shared_with", common.ErrorInternal, err))
		}
		if doc.IsDeleted() {
			continue
		}
		docs = append(docs, doc)
	}

	total := len(docs)
	if offset >= total {
		return []*models.Document{}, total, nil
	}
	end := min(offset+limit, total)
	return docs[offset:end], total, nil
}

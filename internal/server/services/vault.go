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
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/logging"
	"github.com/dmitrijs2005/docvault/internal/metrics"
	"github.com/dmitrijs2005/docvault/internal/server/blobstore"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RotationReport counts the keys re-wrapped by RotateMasterKey.
type RotationReport struct {
	Documents int
	Grants    int
}

// VaultService stores, retrieves, versions and deletes encrypted documents.
type VaultService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	engine      *cryptox.Engine
	ledger      Auditor
	logger      logging.Logger
	validate    *validator.Validate
	now         func() time.Time
}

func NewVaultService(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store, engine *cryptox.Engine, ledger Auditor, logger logging.Logger) *VaultService {
	return &VaultService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		engine:      engine,
		ledger:      ledger,
		logger:      logger.With("component", "vault"),
		validate:    newValidator(),
		now:         utcNow,
	}
}

// fail logs err with the document id and its kind, then returns it.
func (s *VaultService) fail(ctx context.Context, op string, documentID int64, err error) error {
	s.logger.Error(ctx, "vault operation failed", "op", op, "document_id", documentID, "kind", string(common.KindOf(err)), "error", err)
	return err
}

// Store encrypts req.Content under a fresh DEK, writes the ciphertext to
// blob storage and records version 1 of a new document.
func (s *VaultService) Store(ctx context.Context, req StoreRequest) (doc *models.Document, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("store", start, err) }(time.Now())

	if err := validateRequest(s.validate, "store", req); err != nil {
		return nil, err
	}

	doc = &models.Document{
		CaseID:           req.CaseID,
		CategoryID:       req.CategoryID,
		Title:            req.Title,
		OriginalFilename: req.Filename,
		MimeType:         req.MimeType,
		Version:          1,
	}
	doc, err = s.persist(ctx, "store", doc, req.Content)
	if err != nil {
		return nil, err
	}

	s.ledger.Record(ctx, doc.ID, models.ActionCreated, map[string]any{
		"filename":     doc.OriginalFilename,
		"size":         doc.FileSize,
		"content_hash": doc.ContentHash,
		"version":      doc.Version,
	})
	s.logger.Info(ctx, "document stored", "document_id", doc.ID, "version", doc.Version, "size", doc.FileSize)
	return doc, nil
}

// persist fills the crypto and storage fields of doc from plaintext, writes
// the blob and creates the record. A failed record write removes the blob.
func (s *VaultService) persist(ctx context.Context, op string, doc *models.Document, plaintext []byte) (*models.Document, error) {
	now := s.now()

	dek, err := cryptox.GenerateDataKey()
	if err != nil {
		return nil, s.fail(ctx, op, 0, common.Wrap(op, common.ErrCryptoConfig, err))
	}
	sealed, err := s.engine.Encrypt(plaintext, dek)
	if err != nil {
		common.WipeByteArray(dek)
		return nil, s.fail(ctx, op, 0, common.Wrap(op, common.ErrCryptoConfig, err))
	}
	wrapped, err := s.engine.WrapDEK(dek)
	common.WipeByteArray(dek)
	if err != nil {
		return nil, s.fail(ctx, op, 0, common.Wrap(op, common.ErrCryptoConfig, err))
	}

	key, err := blobstore.NewStorageKey(doc.OriginalFilename, now)
	if err != nil {
		return nil, s.fail(ctx, op, 0, common.Wrap(op, common.ErrCryptoConfig, err))
	}
	if err := s.blobs.Put(ctx, key, sealed.Ciphertext); err != nil {
		return nil, s.fail(ctx, op, 0, common.Wrap(op, common.ErrStorageIO, err))
	}

	doc.UUID = uuid.NewString()
	if id := actor.ID(ctx); id != nil {
		doc.OwnerID = *id
	}
	doc.FileSize = int64(len(plaintext))
	doc.StoragePath = key
	doc.ContentHash = cryptox.HashContent(plaintext)
	doc.WrappedDEK = wrapped
	doc.IV = sealed.IV
	doc.Tag = sealed.Tag
	doc.Cipher = string(sealed.Algorithm)
	doc.Status = models.StatusActive

	created, err := s.repomanager.Documents(s.db).Create(ctx, doc)
	if err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Error(ctx, "orphaned blob cleanup failed", "storage_path", key, "error", derr)
		}
		return nil, s.fail(ctx, op, 0, common.Wrap(op, common.ErrorInternal, err))
	}
	return created, nil
}

// loadActive returns the document or ErrDocumentUnavailable when it is
// tombstoned. A missing id is ErrorNotFound.
func (s *VaultService) loadActive(ctx context.Context, op string, id int64) (*models.Document, error) {
	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.Wrap(op, common.ErrorNotFound, fmt.Errorf("document %d", id))
	}
	if err != nil {
		return nil, s.fail(ctx, op, id, common.Wrap(op, common.ErrorInternal, err))
	}
	if doc.IsDeleted() {
		return nil, common.Wrap(op, common.ErrDocumentUnavailable, nil)
	}
	return doc, nil
}

// Retrieve decrypts the document, verifies its content hash and records a
// viewed entry. No bytes are returned unless every check passed.
func (s *VaultService) Retrieve(ctx context.Context, id int64) (plaintext []byte, doc *models.Document, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("retrieve", start, err) }(time.Now())

	doc, err = s.loadActive(ctx, "retrieve", id)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err = s.open(ctx, "retrieve", doc, doc.WrappedDEK)
	if err != nil {
		return nil, nil, err
	}

	s.ledger.Record(ctx, doc.ID, models.ActionViewed, map[string]any{"version": doc.Version})
	return plaintext, doc, nil
}

// RetrieveWithGrant decrypts doc with the grant's own wrapped DEK, lets
// take claim the download (nil claims nothing) and records a downloaded
// entry. When take fails the plaintext is wiped and nothing is recorded.
func (s *VaultService) RetrieveWithGrant(ctx context.Context, doc *models.Document, grant *models.Grant, take func(context.Context, *models.Grant) error) (plaintext []byte, err error) {
	const op = "retrieve_grant"
	defer func(start time.Time) { metrics.ObserveOperation(op, start, err) }(time.Now())

	if doc == nil || doc.IsDeleted() {
		return nil, common.Wrap(op, common.ErrDocumentUnavailable, nil)
	}
	if grant == nil || grant.DocumentID != doc.ID {
		return nil, common.Wrap(op, common.ErrPermissionDenied, nil)
	}

	plaintext, err = s.open(ctx, op, doc, grant.WrappedDEK)
	if err != nil {
		return nil, err
	}
	if take != nil {
		if err := take(ctx, grant); err != nil {
			common.WipeByteArray(plaintext)
			return nil, err
		}
	}

	s.ledger.Record(ctx, doc.ID, models.ActionDownloaded, map[string]any{
		"grant_id":       grant.ID,
		"download_count": grant.DownloadCount,
	})
	return plaintext, nil
}

// open reads the blob, unwraps wrappedDEK, decrypts and checks the content hash.
func (s *VaultService) open(ctx context.Context, op string, doc *models.Document, wrappedDEK string) ([]byte, error) {
	ciphertext, err := s.blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, s.fail(ctx, op, doc.ID, common.Wrap(op, common.ErrStorageIO, err))
	}

	dek, err := s.engine.UnwrapDEK(wrappedDEK)
	if err != nil {
		return nil, s.fail(ctx, op, doc.ID, common.Wrap(op, common.ErrCryptoConfig, err))
	}
	plaintext, err := cryptox.DecryptWith(cryptox.Algorithm(doc.Cipher), ciphertext, dek, doc.IV, doc.Tag)
	common.WipeByteArray(dek)
	if err != nil {
		metrics.IntegrityFailure()
		return nil, s.fail(ctx, op, doc.ID, common.Wrap(op, common.ErrIntegrity, err))
	}

	if !cryptox.EqualHash(cryptox.HashContent(plaintext), doc.ContentHash) {
		common.WipeByteArray(plaintext)
		metrics.IntegrityFailure()
		return nil, s.fail(ctx, op, doc.ID, common.Wrap(op, common.ErrIntegrity, errors.New("content hash mismatch")))
	}
	return plaintext, nil
}

// CreateVersion stores req.Content as the next version of req.ParentID.
// Versioning a deleted document is refused.
func (s *VaultService) CreateVersion(ctx context.Context, req VersionRequest) (doc *models.Document, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("create_version", start, err) }(time.Now())

	if err := validateRequest(s.validate, "create_version", req); err != nil {
		return nil, err
	}
	parent, err := s.loadActive(ctx, "create_version", req.ParentID)
	if err != nil {
		return nil, err
	}

	rootID := parent.ChainRootID()
	if rootID == 0 {
		chain, err := s.walkChain(ctx, parent)
		if err != nil {
			return nil, err
		}
		rootID = chain[0].ID
	}

	parentID := parent.ID
	doc = &models.Document{
		CaseID:           parent.CaseID,
		CategoryID:       parent.CategoryID,
		Title:            parent.Title,
		OriginalFilename: req.Filename,
		MimeType:         req.MimeType,
		Version:          parent.Version + 1,
		ParentVersionID:  &parentID,
		RootID:           &rootID,
	}
	doc, err = s.persist(ctx, "create_version", doc, req.Content)
	if err != nil {
		return nil, err
	}

	s.ledger.Record(ctx, doc.ID, models.ActionCreated, map[string]any{
		"filename":     doc.OriginalFilename,
		"size":         doc.FileSize,
		"content_hash": doc.ContentHash,
		"version":      doc.Version,
		"parent_id":    parentID,
	})
	s.logger.Info(ctx, "document version created", "document_id", doc.ID, "parent_id", parentID, "version", doc.Version)
	return doc, nil
}

// SoftDelete tombstones the document. Ciphertext, keys and grants are kept;
// grants fail validation from now on. Deleting twice is a no-op.
func (s *VaultService) SoftDelete(ctx context.Context, id int64) (err error) {
	defer func(start time.Time) { metrics.ObserveOperation("soft_delete", start, err) }(time.Now())

	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return common.Wrap("soft_delete", common.ErrorNotFound, fmt.Errorf("document %d", id))
	}
	if err != nil {
		return s.fail(ctx, "soft_delete", id, common.Wrap("soft_delete", common.ErrorInternal, err))
	}
	if doc.IsDeleted() {
		return nil
	}

	if err := s.repomanager.Documents(s.db).SetStatus(ctx, id, models.StatusDeleted); err != nil {
		return s.fail(ctx, "soft_delete", id, common.Wrap("soft_delete", common.ErrorInternal, err))
	}
	s.ledger.Record(ctx, id, models.ActionDeleted, map[string]any{"version": doc.Version})
	s.logger.Info(ctx, "document deleted", "document_id", id)
	return nil
}

// GetVersions returns the live versions of the document's chain, ordered
// by version. Deleted versions are skipped, but the walk passes through
// them, so versions created after a deleted one are still listed.
func (s *VaultService) GetVersions(ctx context.Context, id int64) ([]*models.Document, error) {
	repo := s.repomanager.Documents(s.db)

	doc, err := repo.GetByID(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.Wrap("get_versions", common.ErrorNotFound, fmt.Errorf("document %d", id))
	}
	if err != nil {
		return nil, s.fail(ctx, "get_versions", id, common.Wrap("get_versions", common.ErrorInternal, err))
	}

	if rootID := doc.ChainRootID(); rootID != 0 {
		chain, err := repo.ListChain(ctx, rootID)
		if err != nil {
			return nil, s.fail(ctx, "get_versions", id, common.Wrap("get_versions", common.ErrorInternal, err))
		}
		children, err := repo.ListChildren(ctx, rootID)
		if err != nil {
			return nil, s.fail(ctx, "get_versions", id, common.Wrap("get_versions", common.ErrorInternal, err))
		}
		if !containsUnindexed(chain) && !containsUnindexed(children) {
			sortByVersion(chain)
			return withoutDeleted(chain), nil
		}
	}
	chain, err := s.walkChain(ctx, doc)
	if err != nil {
		return nil, err
	}
	return withoutDeleted(chain), nil
}

func withoutDeleted(docs []*models.Document) []*models.Document {
	live := make([]*models.Document, 0, len(docs))
	for _, d := range docs {
		if !d.IsDeleted() {
			live = append(live, d)
		}
	}
	return live
}

// containsUnindexed reports whether docs has versions written without a
// root id, which ListChain cannot see.
func containsUnindexed(docs []*models.Document) bool {
	for _, d := range docs {
		if d.ParentVersionID != nil && d.RootID == nil {
			return true
		}
	}
	return false
}

// walkChain follows parent links up to the root, then collects all
// descendants breadth first.
func (s *VaultService) walkChain(ctx context.Context, doc *models.Document) ([]*models.Document, error) {
	repo := s.repomanager.Documents(s.db)

	root := doc
	seen := map[int64]struct{}{root.ID: {}}
	for root.ParentVersionID != nil {
		parent, err := repo.GetByID(ctx, *root.ParentVersionID)
		if errors.Is(err, common.ErrorNotFound) {
			break
		}
		if err != nil {
			return nil, s.fail(ctx, "get_versions", doc.ID, common.Wrap("get_versions", common.ErrorInternal, err))
		}
		if _, loop := seen[parent.ID]; loop {
			return nil, s.fail(ctx, "get_versions", doc.ID, common.Wrap("get_versions", common.ErrIntegrity, errors.New("version chain has a cycle")))
		}
		seen[parent.ID] = struct{}{}
		root = parent
	}

	chain := []*models.Document{root}
	visited := map[int64]struct{}{root.ID: {}}
	queue := []int64{root.ID}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		children, err := repo.ListChildren(ctx, next)
		if err != nil {
			return nil, s.fail(ctx, "get_versions", doc.ID, common.Wrap("get_versions", common.ErrorInternal, err))
		}
		for _, c := range children {
			if _, ok := visited[c.ID]; ok {
				continue
			}
			visited[c.ID] = struct{}{}
			chain = append(chain, c)
			queue = append(queue, c.ID)
		}
	}

	sortByVersion(chain)
	return chain, nil
}

func sortByVersion(docs []*models.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Version != docs[j].Version {
			return docs[i].Version < docs[j].Version
		}
		return docs[i].ID < docs[j].ID
	})
}

// ListDocuments returns one page of documents matching filter, newest first.
func (s *VaultService) ListDocuments(ctx context.Context, filter models.DocumentFilter, limit, offset int) ([]*models.Document, int, error) {
	limit, offset = normalizePage(limit, offset)
	docs, total, err := s.repomanager.Documents(s.db).List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, s.fail(ctx, "list_documents", 0, common.Wrap("list_documents", common.ErrorInternal, err))
	}
	return docs, total, nil
}

// Get returns document metadata, deleted documents included.
func (s *VaultService) Get(ctx context.Context, id int64) (*models.Document, error) {
	doc, err := s.repomanager.Documents(s.db).GetByID(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.Wrap("get_document", common.ErrorNotFound, fmt.Errorf("document %d", id))
	}
	if err != nil {
		return nil, s.fail(ctx, "get_document", id, common.Wrap("get_document", common.ErrorInternal, err))
	}
	return doc, nil
}

func (s *VaultService) GetByUUID(ctx context.Context, id string) (*models.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.Wrap("get_document", common.ErrValidation, fmt.Errorf("malformed uuid %q", id))
	}
	doc, err := s.repomanager.Documents(s.db).GetByUUID(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.Wrap("get_document", common.ErrorNotFound, fmt.Errorf("document %s", id))
	}
	if err != nil {
		return nil, s.fail(ctx, "get_document", 0, common.Wrap("get_document", common.ErrorInternal, err))
	}
	return doc, nil
}

// RotateMasterKey re-wraps every document and grant DEK from the current
// master key to next. Ciphertext is not touched. With a database the whole
// rotation is one transaction; the service keeps using the old engine, so
// the process must be restarted with the new key afterwards.
func (s *VaultService) RotateMasterKey(ctx context.Context, next *cryptox.Engine) (report *RotationReport, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("rotate_kek", start, err) }(time.Now())

	if next == nil {
		return nil, common.Wrap("rotate_kek", common.ErrCryptoConfig, errors.New("no target key"))
	}

	report = &RotationReport{}
	err = inTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		docs := s.repomanager.Documents(tx)
		grants := s.repomanager.Grants(tx)

		const page = maxPageSize
		filter := models.DocumentFilter{IncludeDeleted: true}
		for offset := 0; ; offset += page {
			batch, _, err := docs.List(ctx, filter, page, offset)
			if err != nil {
				return common.Wrap("rotate_kek", common.ErrorInternal, err)
			}
			for _, d := range batch {
				rewrapped, err := s.engine.Rewrap(d.WrappedDEK, next)
				if err != nil {
					return common.Wrap("rotate_kek", common.ErrCryptoConfig, fmt.Errorf("document %d: %w", d.ID, err))
				}
				if err := docs.UpdateWrappedDEK(ctx, d.ID, rewrapped); err != nil {
					return common.Wrap("rotate_kek", common.ErrorInternal, err)
				}
				report.Documents++

				gs, err := grants.ListByDocument(ctx, d.ID, false)
				if err != nil {
					return common.Wrap("rotate_kek", common.ErrorInternal, err)
				}
				for _, g := range gs {
					rewrapped, err := s.engine.Rewrap(g.WrappedDEK, next)
					if err != nil {
						return common.Wrap("rotate_kek", common.ErrCryptoConfig, fmt.Errorf("grant %d: %w", g.ID, err))
					}
					if err := grants.UpdateWrappedDEK(ctx, g.ID, rewrapped); err != nil {
						return common.Wrap("rotate_kek", common.ErrorInternal, err)
					}
					report.Grants++
				}
			}
			if len(batch) < page {
				return nil
			}
		}
	})
	if err != nil {
		return nil, s.fail(ctx, "rotate_kek", 0, err)
	}

	s.logger.Info(ctx, "master key rotated", "documents", report.Documents, "grants", report.Grants)
	return report, nil
}

package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

const documentColumns = `id, uuid, owner_id, case_id, category_id, title, original_filename, mime_type,
		file_size, storage_path, content_hash, wrapped_dek, iv, tag, cipher,
		version, parent_version_id, root_id, status, created_at, updated_at`

// PostgresRepository implements document storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (*models.Document, error) {
	var (
		d                  models.Document
		caseID, categoryID sql.NullInt64
		parentID, rootID   sql.NullInt64
		status             string
	)
	err := s.Scan(
		&d.ID, &d.UUID, &d.OwnerID, &caseID, &categoryID, &d.Title, &d.OriginalFilename, &d.MimeType,
		&d.FileSize, &d.StoragePath, &d.ContentHash, &d.WrappedDEK, &d.IV, &d.Tag, &d.Cipher,
		&d.Version, &parentID, &rootID, &status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.CaseID = nullInt64(caseID)
	d.CategoryID = nullInt64(categoryID)
	d.ParentVersionID = nullInt64(parentID)
	d.RootID = nullInt64(rootID)
	d.Status = models.DocumentStatus(status)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// Create inserts doc and fills its generated id and timestamps.
func (r *PostgresRepository) Create(ctx context.Context, doc *models.Document) (*models.Document, error) {
	query :=
		`INSERT INTO secure_documents (uuid, owner_id, case_id, category_id, title, original_filename, mime_type,
			file_size, storage_path, content_hash, wrapped_dek, iv, tag, cipher, version, parent_version_id, root_id, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		doc.UUID, doc.OwnerID, doc.CaseID, doc.CategoryID, doc.Title, doc.OriginalFilename, doc.MimeType,
		doc.FileSize, doc.StoragePath, doc.ContentHash, doc.WrappedDEK, doc.IV, doc.Tag, doc.Cipher,
		doc.Version, doc.ParentVersionID, doc.RootID, string(doc.Status),
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return doc, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM secure_documents WHERE ` + where

	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return doc, nil
}

// GetByID returns common.ErrorNotFound when no row matches.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByUUID returns common.ErrorNotFound when no row matches.
func (r *PostgresRepository) GetByUUID(ctx context.Context, uuid string) (*models.Document, error) {
	return r.getOne(ctx, `uuid = $1`, uuid)
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var result []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// List returns one page of documents matching filter, newest first, and the
// total number of matches.
func (r *PostgresRepository) List(ctx context.Context, filter models.DocumentFilter, limit, offset int) ([]*models.Document, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	switch {
	case filter.Status != "":
		add("status = $%d", string(filter.Status))
	case !filter.IncludeDeleted:
		add("status = $%d", string(models.StatusActive))
	}
	if filter.OwnerID != nil {
		add("owner_id = $%d", *filter.OwnerID)
	}
	if filter.CaseID != nil {
		add("case_id = $%d", *filter.CaseID)
	}
	if filter.CategoryID != nil {
		add("category_id = $%d", *filter.CategoryID)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM secure_documents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	pageArgs := append(append([]any{}, args...), limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM secure_documents%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		documentColumns, where, len(args)+1, len(args)+2)

	docs, err := r.query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// ListChain returns the root and every document indexed under it, ordered by version.
func (r *PostgresRepository) ListChain(ctx context.Context, rootID int64) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM secure_documents
		WHERE id = $1 OR root_id = $1
		ORDER BY version, id`
	return r.query(ctx, query, rootID)
}

// ListChildren returns the documents whose parent_version_id is parentID.
func (r *PostgresRepository) ListChildren(ctx context.Context, parentID int64) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM secure_documents
		WHERE parent_version_id = $1
		ORDER BY version, id`
	return r.query(ctx, query, parentID)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// SetStatus changes the lifecycle status of a document.
func (r *PostgresRepository) SetStatus(ctx context.Context, id int64, status models.DocumentStatus) error {
	return r.execOne(ctx,
		`UPDATE secure_documents SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
}

// UpdateWrappedDEK replaces the wrapped key, used by master key rotation.
func (r *PostgresRepository) UpdateWrappedDEK(ctx context.Context, id int64, wrappedDEK string) error {
	return r.execOne(ctx,
		`UPDATE secure_documents SET wrapped_dek = $2, updated_at = now() WHERE id = $1`,
		id, wrappedDEK)
}

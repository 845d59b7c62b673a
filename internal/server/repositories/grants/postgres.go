package grants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

const grantColumns = `id, document_id, grantee_id, grantee_email, access_token, wrapped_dek, permissions,
		max_downloads, download_count, expires_at, requires_auth, is_revoked, granted_by, created_at`

// PostgresRepository implements grant storage over a dbx.DBTX (*sql.DB or *sql.Tx).
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

func scanGrant(s rowScanner) (*models.Grant, error) {
	var (
		g            models.Grant
		granteeID    sql.NullInt64
		granteeEmail sql.NullString
		perms        []byte
		maxDownloads sql.NullInt32
		expiresAt    sql.NullTime
	)
	err := s.Scan(
		&g.ID, &g.DocumentID, &granteeID, &granteeEmail, &g.AccessToken, &g.WrappedDEK, &perms,
		&maxDownloads, &g.DownloadCount, &expiresAt, &g.RequiresAuth, &g.IsRevoked, &g.GrantedBy, &g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if granteeID.Valid {
		id := granteeID.Int64
		g.GranteeID = &id
	}
	g.GranteeEmail = granteeEmail.String
	if maxDownloads.Valid {
		m := int(maxDownloads.Int32)
		g.MaxDownloads = &m
	}
	if expiresAt.Valid {
		e := expiresAt.Time.UTC()
		g.ExpiresAt = &e
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &g.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	g.CreatedAt = g.CreatedAt.UTC()
	return &g, nil
}

// Create inserts grant and fills its generated id and creation time.
func (r *PostgresRepository) Create(ctx context.Context, grant *models.Grant) (*models.Grant, error) {
	perms, err := json.Marshal(grant.Permissions)
	if err != nil {
		return nil, fmt.Errorf("encode permissions: %w", err)
	}

	var email any
	if grant.GranteeEmail != "" {
		email = grant.GranteeEmail
	}

	query :=
		`INSERT INTO access_grants (document_id, grantee_id, grantee_email, access_token, wrapped_dek, permissions,
			max_downloads, expires_at, requires_auth, granted_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at
		 `

	err = r.db.QueryRowContext(ctx, query,
		grant.DocumentID, grant.GranteeID, email, grant.AccessToken, grant.WrappedDEK, string(perms),
		grant.MaxDownloads, grant.ExpiresAt, grant.RequiresAuth, grant.GrantedBy,
	).Scan(&grant.ID, &grant.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return grant, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE ` + where

	g, err := scanGrant(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

// GetByID returns common.ErrorNotFound when no row matches.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Grant, error) {
	return r.getOne(ctx, `id = $1`, id)
}

// GetByToken returns common.ErrorNotFound when no row matches.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*models.Grant, error) {
	return r.getOne(ctx, `access_token = $1`, token)
}

// Revoke flips is_revoked once. Revoking a revoked grant is a no-op.
func (r *PostgresRepository) Revoke(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE access_grants SET is_revoked = true WHERE id = $1 AND NOT is_revoked`, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// RevokeAllForDocument revokes every active grant of a document and returns how many changed.
func (r *PostgresRepository) RevokeAllForDocument(ctx context.Context, documentID int64) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE access_grants SET is_revoked = true WHERE document_id = $1 AND NOT is_revoked`, documentID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return int(n), nil
}

// IncrementDownloadCount adds one download in a single statement. A grant
// whose quota is used up is left unchanged and common.ErrQuotaExceeded returned.
func (r *PostgresRepository) IncrementDownloadCount(ctx context.Context, id int64) (int, error) {
	query :=
		`UPDATE access_grants SET download_count = download_count + 1
		 WHERE id = $1 AND (max_downloads IS NULL OR download_count < max_downloads)
		 RETURNING download_count
		 `

	var count int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("db error: %w", err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return 0, err
	}
	return 0, common.ErrQuotaExceeded
}

// ConsumeDownload re-checks revocation, expiry and quota inside the same
// UPDATE that increments the counter.
func (r *PostgresRepository) ConsumeDownload(ctx context.Context, id int64, now time.Time) (int, bool, error) {
	query :=
		`UPDATE access_grants SET download_count = download_count + 1
		 WHERE id = $1
		   AND NOT is_revoked
		   AND (expires_at IS NULL OR expires_at > $2)
		   AND (max_downloads IS NULL OR download_count < max_downloads)
		 RETURNING download_count
		 `

	var count int
	err := r.db.QueryRowContext(ctx, query, id, now).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("db error: %w", err)
	}
	return count, true, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.Grant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select grants: %w", err)
	}
	defer rows.Close()

	var result []*models.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByDocument returns a document's grants, newest first.
func (r *PostgresRepository) ListByDocument(ctx context.Context, documentID int64, activeOnly bool) ([]*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE document_id = $1`
	if activeOnly {
		query += ` AND NOT is_revoked`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return r.query(ctx, query, documentID)
}

// ListActiveByGrantee returns the non-revoked grants issued to an actor.
func (r *PostgresRepository) ListActiveByGrantee(ctx context.Context, granteeID int64) ([]*models.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants
		WHERE grantee_id = $1 AND NOT is_revoked
		ORDER BY created_at DESC, id DESC`
	return r.query(ctx, query, granteeID)
}

// UpdateWrappedDEK replaces the grant's wrapped key, used by master key rotation.
func (r *PostgresRepository) UpdateWrappedDEK(ctx context.Context, id int64, wrappedDEK string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE access_grants SET wrapped_dek = $2 WHERE id = $1`, id, wrappedDEK)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

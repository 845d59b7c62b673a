package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

const (
	entryColumns    = `id, document_id, action, actor_id, actor_ip, details, prev_hash, hash_chain, created_at`
	chainConstraint = "vault_audit_log_chain_key"
)

// PostgresRepository implements ledger storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Head(ctx context.Context, documentID int64) (string, error) {
	query :=
		`SELECT hash_chain FROM vault_audit_log
		 WHERE document_id = $1
		 ORDER BY id DESC
		 LIMIT 1
		 `

	var head string
	err := r.db.QueryRowContext(ctx, query, documentID).Scan(&head)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return head, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}

	// both inserts run in one statement, so the anchor never lags the log
	query :=
		`WITH entry AS (
		     INSERT INTO vault_audit_log (document_id, action, actor_id, actor_ip, details, prev_hash, hash_chain, created_at)
		     VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		     RETURNING id, document_id, hash_chain
		 ), head AS (
		     INSERT INTO vault_audit_heads (document_id, head_hash, entry_count)
		     SELECT document_id, hash_chain, 1 FROM entry
		     ON CONFLICT (document_id) DO UPDATE
		     SET head_hash = EXCLUDED.head_hash, entry_count = vault_audit_heads.entry_count + 1
		 )
		 SELECT id FROM entry
		 `

	err = r.db.QueryRowContext(ctx, query,
		entry.DocumentID, string(entry.Action), entry.ActorID, entry.ActorIP, string(details),
		entry.PrevHash, entry.HashChain, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		if dbx.IsUniqueViolation(err, chainConstraint) {
			return nil, common.ErrChainConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return entry, nil
}

func (r *PostgresRepository) Anchor(ctx context.Context, documentID int64) (*models.AuditAnchor, error) {
	query :=
		`SELECT document_id, head_hash, entry_count FROM vault_audit_heads
		 WHERE document_id = $1
		 `

	var a models.AuditAnchor
	err := r.db.QueryRowContext(ctx, query, documentID).Scan(&a.DocumentID, &a.HeadHash, &a.EntryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &a, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit entries: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEntry
	for rows.Next() {
		var (
			e       models.AuditEntry
			action  string
			actorID sql.NullInt64
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.DocumentID, &action, &actorID, &e.ActorIP, &details,
			&e.PrevHash, &e.HashChain, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = models.AuditAction(action)
		if actorID.Valid {
			id := actorID.Int64
			e.ActorID = &id
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		e.CreatedAt = e.CreatedAt.UTC()
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) List(ctx context.Context, documentID int64, limit, offset int) ([]*models.AuditEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM vault_audit_log WHERE document_id = $1`, documentID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	query := `SELECT ` + entryColumns + ` FROM vault_audit_log
		WHERE document_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`
	entries, err := r.query(ctx, query, documentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *PostgresRepository) ListChain(ctx context.Context, documentID int64) ([]*models.AuditEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM vault_audit_log
		WHERE document_id = $1
		ORDER BY id`
	return r.query(ctx, query, documentID)
}

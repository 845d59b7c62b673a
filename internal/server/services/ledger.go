package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/docvault/internal/actor"
	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/jsonx"
	"github.com/dmitrijs2005/docvault/internal/lock"
	"github.com/dmitrijs2005/docvault/internal/logging"
	"github.com/dmitrijs2005/docvault/internal/metrics"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
)

// appendAttempts bounds retries when another writer moved the chain head.
const appendAttempts = 3

var knownActions = map[models.AuditAction]struct{}{
	models.ActionCreated:    {},
	models.ActionViewed:     {},
	models.ActionDownloaded: {},
	models.ActionShared:     {},
	models.ActionSigned:     {},
	models.ActionRevoked:    {},
	models.ActionDeleted:    {},
}

// VerifyResult is the outcome of a chain verification. FailedEntryID is set
// only when Valid is false.
type VerifyResult struct {
	Valid          bool
	EntriesChecked int
	FailedEntryID  int64
	Error          string
}

// LedgerService appends to and verifies the per-document audit hash chain.
type LedgerService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	locker      lock.Locker
	logger      logging.Logger
	now         func() time.Time
}

func NewLedgerService(db *sql.DB, m repomanager.RepositoryManager, locker lock.Locker, logger logging.Logger) *LedgerService {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &LedgerService{
		db:          db,
		repomanager: m,
		locker:      locker,
		logger:      logger.With("component", "ledger"),
		now:         utcNow,
	}
}

// ComputeChainHash returns hex(sha256(prevHash || canonical record)). The
// record is the JSON array
//
//	[document_id, action, actor_id|null, actor_ip, details, timestamp]
//
// with ids as decimal strings, details in canonical JSON and the timestamp
// in RFC 3339 UTC with microsecond precision. Changing this layout breaks
// verification of every existing chain.
func ComputeChainHash(prevHash string, e *models.AuditEntry) (string, error) {
	var actorID any
	if e.ActorID != nil {
		actorID = strconv.FormatInt(*e.ActorID, 10)
	}
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}

	record, err := jsonx.CanonicalMarshal([]any{
		strconv.FormatInt(e.DocumentID, 10),
		string(e.Action),
		actorID,
		e.ActorIP,
		details,
		e.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(record)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Append writes one entry at the head of the document's chain. actorID
// overrides the actor carried by ctx. Appends to one document are
// serialized by the locker; the (document_id, prev_hash) uniqueness of the
// store catches writers that bypass it, and the append is retried.
func (s *LedgerService) Append(ctx context.Context, documentID int64, action models.AuditAction, details map[string]any, actorID *int64) (*models.AuditEntry, error) {
	const op = "audit_append"

	if _, ok := knownActions[action]; !ok {
		return nil, common.Wrap(op, common.ErrValidation, fmt.Errorf("unknown action %q", action))
	}
	if actorID == nil {
		actorID = actor.ID(ctx)
	}

	merged := make(map[string]any, len(details)+1)
	for k, v := range details {
		merged[k] = v
	}
	if rid := actor.RequestID(ctx); rid != "" {
		if _, taken := merged["request_id"]; !taken {
			merged["request_id"] = rid
		}
	}
	normalized, err := jsonx.NormalizeObject(merged)
	if err != nil {
		return nil, common.Wrap(op, common.ErrValidation, err)
	}

	unlock, err := s.locker.Lock(ctx, "audit:"+strconv.FormatInt(documentID, 10))
	if err != nil {
		return nil, common.Wrap(op, common.ErrorInternal, err)
	}
	defer unlock()

	repo := s.repomanager.AuditLog(s.db)
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		head, err := repo.Head(ctx, documentID)
		if err != nil {
			return nil, common.Wrap(op, common.ErrorInternal, err)
		}
		if head == "" {
			head = common.GenesisHash
		}

		entry := &models.AuditEntry{
			DocumentID: documentID,
			Action:     action,
			ActorID:    actorID,
			ActorIP:    actor.IP(ctx),
			Details:    normalized,
			PrevHash:   head,
			CreatedAt:  s.now().UTC().Truncate(time.Microsecond),
		}
		entry.HashChain, err = ComputeChainHash(head, entry)
		if err != nil {
			return nil, common.Wrap(op, common.ErrorInternal, err)
		}

		saved, err := repo.Insert(ctx, entry)
		if errors.Is(err, common.ErrChainConflict) {
			s.logger.Warn(ctx, "audit chain head moved, retrying", "document_id", documentID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, common.Wrap(op, common.ErrorInternal, err)
		}
		return saved, nil
	}

	return nil, common.Wrap(op, common.ErrChainConflict, nil)
}

// Record appends an entry for the actor in ctx. A failed append is logged
// and counted, never returned: the operation it describes already happened.
func (s *LedgerService) Record(ctx context.Context, documentID int64, action models.AuditAction, details map[string]any) {
	if _, err := s.Append(ctx, documentID, action, details, nil); err != nil {
		metrics.AuditAppendFailed()
		s.logger.Error(ctx, "audit append failed", "document_id", documentID, "action", string(action), "error", err)
	}
}

// GetTrail returns a page of the document's entries, newest first, and the total count.
func (s *LedgerService) GetTrail(ctx context.Context, documentID int64, limit, offset int) ([]*models.AuditEntry, int, error) {
	limit, offset = normalizePage(limit, offset)
	entries, total, err := s.repomanager.AuditLog(s.db).List(ctx, documentID, limit, offset)
	if err != nil {
		return nil, 0, common.Wrap("audit_trail", common.ErrorInternal, err)
	}
	return entries, total, nil
}

// VerifyIntegrity recomputes the chain from the genesis hash and reports the
// first entry whose stored hash or link disagrees, then compares the replayed
// head and length with the stored anchor. Modified, reordered and removed
// entries all surface as a mismatch, including removal of the newest ones.
func (s *LedgerService) VerifyIntegrity(ctx context.Context, documentID int64) (res *VerifyResult, err error) {
	const op = "audit_verify"
	defer func(start time.Time) { metrics.ObserveOperation(op, start, err) }(time.Now())

	repo := s.repomanager.AuditLog(s.db)
	entries, err := repo.ListChain(ctx, documentID)
	if err != nil {
		return nil, common.Wrap(op, common.ErrorInternal, err)
	}
	anchor, err := repo.Anchor(ctx, documentID)
	if err != nil {
		return nil, common.Wrap(op, common.ErrorInternal, err)
	}

	prev := common.GenesisHash
	for i, e := range entries {
		expected, err := ComputeChainHash(prev, e)
		if err != nil {
			return nil, common.Wrap(op, common.ErrorInternal, err)
		}
		if e.HashChain != expected {
			s.logger.Error(ctx, "audit chain mismatch", "document_id", documentID, "entry_id", e.ID)
			return &VerifyResult{
				EntriesChecked: i,
				FailedEntryID:  e.ID,
				Error:          fmt.Sprintf("hash mismatch at entry %d", e.ID),
			}, nil
		}
		if e.PrevHash != "" && e.PrevHash != prev {
			s.logger.Error(ctx, "audit chain link broken", "document_id", documentID, "entry_id", e.ID)
			return &VerifyResult{
				EntriesChecked: i,
				FailedEntryID:  e.ID,
				Error:          fmt.Sprintf("broken link at entry %d", e.ID),
			}, nil
		}
		prev = e.HashChain
	}

	if msg := checkAnchor(anchor, prev, len(entries)); msg != "" {
		var lastID int64
		if len(entries) > 0 {
			lastID = entries[len(entries)-1].ID
		}
		s.logger.Error(ctx, "audit chain anchor mismatch", "document_id", documentID, "entries", len(entries))
		return &VerifyResult{
			EntriesChecked: len(entries),
			FailedEntryID:  lastID,
			Error:          msg,
		}, nil
	}

	return &VerifyResult{Valid: true, EntriesChecked: len(entries)}, nil
}

// checkAnchor returns "" when the replayed head and length match the anchor.
func checkAnchor(anchor *models.AuditAnchor, head string, n int) string {
	switch {
	case anchor == nil && n == 0:
		return ""
	case anchor == nil:
		return fmt.Sprintf("chain of %d entries has no anchor", n)
	case anchor.EntryCount != n:
		return fmt.Sprintf("anchor records %d entries, found %d", anchor.EntryCount, n)
	case anchor.HeadHash != head:
		return "chain head differs from anchor"
	}
	return ""
}

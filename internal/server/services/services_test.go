package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/docvault/internal/actor"
	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/lock"
	"github.com/dmitrijs2005/docvault/internal/logging"
	"github.com/dmitrijs2005/docvault/internal/metrics"
	"github.com/dmitrijs2005/docvault/internal/server/blobstore"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/auditlog"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/documents"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	manager repomanager.RepositoryManager
	blobs   blobstore.Store
	engine  *cryptox.Engine
	ledger  *LedgerService
	vault   *VaultService
	grants  *GrantService
}

func newTestEngine(t *testing.T, fill byte) *cryptox.Engine {
	t.Helper()
	e, err := cryptox.NewEngine(bytes.Repeat([]byte{fill}, common.KeySize), cryptox.AlgorithmAESGCM)
	require.NoError(t, err)
	return e
}

func newTestEnvWith(t *testing.T, m repomanager.RepositoryManager, opts GrantOptions) *testEnv {
	t.Helper()

	blobs, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	logger := logging.NewNop()
	engine := newTestEngine(t, 7)
	ledger := NewLedgerService(nil, m, lock.NewKeyedMutex(), logger)
	vault := NewVaultService(nil, m, blobs, engine, ledger, logger)
	grants := NewGrantService(nil, m, engine, vault, ledger, logger, opts)

	return &testEnv{manager: m, blobs: blobs, engine: engine, ledger: ledger, vault: vault, grants: grants}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, repomanager.NewInMemoryRepositoryManager(), GrantOptions{})
}

func actorCtx(id int64) context.Context {
	return actor.WithActor(context.Background(), actor.Actor{ID: actor.Int64(id), IP: "10.0.0.1"})
}

func (e *testEnv) store(t *testing.T, ctx context.Context, content string) *models.Document {
	t.Helper()
	doc, err := e.vault.Store(ctx, StoreRequest{
		Content:  []byte(content),
		Title:    "T",
		Filename: "note.txt",
		MimeType: "text/plain",
	})
	require.NoError(t, err)
	return doc
}

func (e *testEnv) trail(t *testing.T, documentID int64) []*models.AuditEntry {
	t.Helper()
	entries, err := e.manager.AuditLog(nil).ListChain(context.Background(), documentID)
	require.NoError(t, err)
	return entries
}

// overrideManager swaps single repositories of a real manager.
type overrideManager struct {
	repomanager.RepositoryManager
	docs  documents.Repository
	audit auditlog.Repository
}

func (m *overrideManager) Documents(db dbx.DBTX) documents.Repository {
	if m.docs != nil {
		return m.docs
	}
	return m.RepositoryManager.Documents(db)
}

func (m *overrideManager) AuditLog(db dbx.DBTX) auditlog.Repository {
	if m.audit != nil {
		return m.audit
	}
	return m.RepositoryManager.AuditLog(db)
}

// tamperedAudit rewrites entries on their way out of ListChain, as if the
// stored rows had been edited.
type tamperedAudit struct {
	auditlog.Repository
	tamper func([]*models.AuditEntry) []*models.AuditEntry
}

func (r *tamperedAudit) ListChain(ctx context.Context, documentID int64) ([]*models.AuditEntry, error) {
	chain, err := r.Repository.ListChain(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return r.tamper(chain), nil
}

// anchorlessAudit fails every anchor read.
type anchorlessAudit struct {
	auditlog.Repository
}

func (r *anchorlessAudit) Anchor(ctx context.Context, documentID int64) (*models.AuditAnchor, error) {
	return nil, errors.New("anchor read failed")
}

// operationCount reads docvault_operations_total{op, result} from the default registry.
func operationCount(t *testing.T, op, result string) float64 {
	t.Helper()
	metrics.Register(nil)
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "docvault_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["op"] == op && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// conflictingAudit fails the first n inserts with a chain conflict.
type conflictingAudit struct {
	auditlog.Repository
	conflicts int
	inserts   int
}

func (r *conflictingAudit) Insert(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	r.inserts++
	if r.inserts <= r.conflicts {
		return nil, common.ErrChainConflict
	}
	return r.Repository.Insert(ctx, entry)
}

// tamperedDocs rewrites documents read by id.
type tamperedDocs struct {
	documents.Repository
	tamper func(*models.Document)
}

func (r *tamperedDocs) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	doc, err := r.Repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.tamper(doc)
	return doc, nil
}

// fixedClock returns a settable time source.
type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

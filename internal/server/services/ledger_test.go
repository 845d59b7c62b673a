package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/docvault/internal/actor"
	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChainHash_Deterministic(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	e := &models.AuditEntry{
		DocumentID: 42,
		Action:     models.ActionCreated,
		ActorID:    actor.Int64(7),
		ActorIP:    "10.0.0.1",
		Details:    map[string]any{"size": 11, "filename": "a.txt"},
		CreatedAt:  at,
	}

	h1, err := ComputeChainHash(common.GenesisHash, e)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	// key order and sub-microsecond precision do not matter
	e2 := *e
	e2.Details = map[string]any{"filename": "a.txt", "size": float64(11)}
	e2.CreatedAt = at.Truncate(time.Microsecond).In(time.FixedZone("X", 3600))
	h2, err := ComputeChainHash(common.GenesisHash, &e2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := ComputeChainHash(h1, e)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	e3 := *e
	e3.ActorID = nil
	h4, err := ComputeChainHash(common.GenesisHash, &e3)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}

func TestAppend_ChainsFromGenesis(t *testing.T) {
	env := newTestEnv(t)
	ctx := actorCtx(3)

	first, err := env.ledger.Append(ctx, 1, models.ActionCreated, map[string]any{"size": 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, common.GenesisHash, first.PrevHash)
	assert.Equal(t, int64(3), *first.ActorID)
	assert.Equal(t, "10.0.0.1", first.ActorIP)
	assert.NotEmpty(t, first.Details["request_id"])

	second, err := env.ledger.Append(ctx, 1, models.ActionViewed, nil, actor.Int64(9))
	require.NoError(t, err)
	assert.Equal(t, first.HashChain, second.PrevHash)
	assert.Equal(t, int64(9), *second.ActorID)

	other, err := env.ledger.Append(ctx, 2, models.ActionCreated, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, common.GenesisHash, other.PrevHash, "chains are per document")
}

func TestAppend_RejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ledger.Append(context.Background(), 1, models.AuditAction("exploded"), nil, nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestAppend_RetriesOnChainConflict(t *testing.T) {
	base := repomanager.NewInMemoryRepositoryManager()
	audit := &conflictingAudit{Repository: base.AuditLog(nil), conflicts: 2}
	env := newTestEnvWith(t, &overrideManager{RepositoryManager: base, audit: audit}, GrantOptions{})

	e, err := env.ledger.Append(context.Background(), 1, models.ActionCreated, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, audit.inserts)
	assert.NotZero(t, e.ID)

	audit.conflicts, audit.inserts = 100, 0
	_, err = env.ledger.Append(context.Background(), 1, models.ActionViewed, nil, nil)
	assert.ErrorIs(t, err, common.ErrChainConflict)
	assert.Equal(t, appendAttempts, audit.inserts)
}

func TestAppend_ConcurrentSameDocumentKeepsChainValid(t *testing.T) {
	env := newTestEnv(t)
	ctx := actorCtx(1)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.ledger.Append(ctx, 5, models.ActionViewed, map[string]any{"i": i}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	res, err := env.ledger.VerifyIntegrity(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, n, res.EntriesChecked)
}

func TestGetTrail_NewestFirstPaginated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := env.ledger.Append(ctx, 1, models.ActionViewed, map[string]any{"i": i}, nil)
		require.NoError(t, err)
	}

	page, total, err := env.ledger.GetTrail(ctx, 1, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, float64(3), page[0].Details["i"])
	assert.Equal(t, float64(2), page[1].Details["i"])
}

func seedChain(t *testing.T, env *testEnv, documentID int64, n int) {
	t.Helper()
	ctx := actorCtx(1)
	for i := 0; i < n; i++ {
		_, err := env.ledger.Append(ctx, documentID, models.ActionViewed, map[string]any{"i": i}, nil)
		require.NoError(t, err)
	}
}

func TestVerifyIntegrity_ValidAndEmpty(t *testing.T) {
	env := newTestEnv(t)
	seedChain(t, env, 1, 4)

	res, err := env.ledger.VerifyIntegrity(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, &VerifyResult{Valid: true, EntriesChecked: 4}, res)

	empty, err := env.ledger.VerifyIntegrity(context.Background(), 99)
	require.NoError(t, err)
	assert.True(t, empty.Valid)
	assert.Zero(t, empty.EntriesChecked)
}

func TestVerifyIntegrity_DetectsTampering(t *testing.T) {
	tests := []struct {
		name      string
		tamper    func([]*models.AuditEntry) []*models.AuditEntry
		failAt    int
		failedIdx int
	}{
		{"action", func(c []*models.AuditEntry) []*models.AuditEntry { c[1].Action = models.ActionDeleted; return c }, 1, 1},
		{"actor", func(c []*models.AuditEntry) []*models.AuditEntry { c[2].ActorID = actor.Int64(666); return c }, 2, 2},
		{"anonymous actor", func(c []*models.AuditEntry) []*models.AuditEntry { c[0].ActorID = nil; return c }, 0, 0},
		{"ip", func(c []*models.AuditEntry) []*models.AuditEntry { c[3].ActorIP = "1.2.3.4"; return c }, 3, 3},
		{"details", func(c []*models.AuditEntry) []*models.AuditEntry { c[1].Details["i"] = float64(100); return c }, 1, 1},
		{"timestamp", func(c []*models.AuditEntry) []*models.AuditEntry { c[2].CreatedAt = c[2].CreatedAt.Add(time.Second); return c }, 2, 2},
		{"stored hash", func(c []*models.AuditEntry) []*models.AuditEntry { c[0].HashChain = common.GenesisHash; return c }, 0, 0},
		{"document", func(c []*models.AuditEntry) []*models.AuditEntry { c[3].DocumentID = 2; return c }, 3, 3},
		{"deleted entry", func(c []*models.AuditEntry) []*models.AuditEntry { return append(c[:1], c[2:]...) }, 1, 1},
		{"deleted first entry", func(c []*models.AuditEntry) []*models.AuditEntry { return c[1:] }, 0, 0},
		{"deleted last entry", func(c []*models.AuditEntry) []*models.AuditEntry { return c[:len(c)-1] }, 3, 2},
		{"deleted last two entries", func(c []*models.AuditEntry) []*models.AuditEntry { return c[:2] }, 2, 1},
		{"reordered", func(c []*models.AuditEntry) []*models.AuditEntry { c[1], c[2] = c[2], c[1]; return c }, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := repomanager.NewInMemoryRepositoryManager()
			audit := &tamperedAudit{Repository: base.AuditLog(nil), tamper: func(c []*models.AuditEntry) []*models.AuditEntry { return c }}
			env := newTestEnvWith(t, &overrideManager{RepositoryManager: base, audit: audit}, GrantOptions{})
			seedChain(t, env, 1, 4)

			var tampered []*models.AuditEntry
			audit.tamper = func(c []*models.AuditEntry) []*models.AuditEntry {
				tampered = tt.tamper(c)
				return tampered
			}

			res, err := env.ledger.VerifyIntegrity(context.Background(), 1)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.failAt, res.EntriesChecked)
			assert.Equal(t, tampered[tt.failedIdx].ID, res.FailedEntryID)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestVerifyIntegrity_AllEntriesRemoved(t *testing.T) {
	base := repomanager.NewInMemoryRepositoryManager()
	audit := &tamperedAudit{Repository: base.AuditLog(nil), tamper: func(c []*models.AuditEntry) []*models.AuditEntry { return c }}
	env := newTestEnvWith(t, &overrideManager{RepositoryManager: base, audit: audit}, GrantOptions{})
	seedChain(t, env, 1, 3)

	audit.tamper = func([]*models.AuditEntry) []*models.AuditEntry { return nil }

	res, err := env.ledger.VerifyIntegrity(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Zero(t, res.EntriesChecked)
	assert.Contains(t, res.Error, "anchor records 3 entries, found 0")
}

func TestVerifyIntegrity_ReplacedHead(t *testing.T) {
	base := repomanager.NewInMemoryRepositoryManager()
	audit := &tamperedAudit{Repository: base.AuditLog(nil), tamper: func(c []*models.AuditEntry) []*models.AuditEntry { return c }}
	env := newTestEnvWith(t, &overrideManager{RepositoryManager: base, audit: audit}, GrantOptions{})
	seedChain(t, env, 1, 3)

	// a rebuilt, self-consistent last entry still disagrees with the anchor
	audit.tamper = func(c []*models.AuditEntry) []*models.AuditEntry {
		last := c[len(c)-1]
		last.ActorIP = "6.6.6.6"
		h, err := ComputeChainHash(last.PrevHash, last)
		require.NoError(t, err)
		last.HashChain = h
		return c
	}

	res, err := env.ledger.VerifyIntegrity(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 3, res.EntriesChecked)
	assert.Equal(t, "chain head differs from anchor", res.Error)
}

func TestVerifyIntegrity_ObservesWholeCall(t *testing.T) {
	base := repomanager.NewInMemoryRepositoryManager()
	env := newTestEnvWith(t, &overrideManager{RepositoryManager: base, audit: &anchorlessAudit{Repository: base.AuditLog(nil)}}, GrantOptions{})
	seedChain(t, env, 1, 2)

	okBefore := operationCount(t, "audit_verify", "ok")
	failedBefore := operationCount(t, "audit_verify", "internal")

	_, err := env.ledger.VerifyIntegrity(context.Background(), 1)
	require.Error(t, err)

	assert.Equal(t, okBefore, operationCount(t, "audit_verify", "ok"))
	assert.Equal(t, failedBefore+1, operationCount(t, "audit_verify", "internal"))

	clean := newTestEnv(t)
	seedChain(t, clean, 1, 2)
	res, err := clean.ledger.VerifyIntegrity(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, okBefore+1, operationCount(t, "audit_verify", "ok"))
}

func TestRecord_SwallowsFailures(t *testing.T) {
	base := repomanager.NewInMemoryRepositoryManager()
	audit := &conflictingAudit{Repository: base.AuditLog(nil), conflicts: 100}
	env := newTestEnvWith(t, &overrideManager{RepositoryManager: base, audit: audit}, GrantOptions{})

	assert.NotPanics(t, func() {
		env.ledger.Record(context.Background(), 1, models.ActionViewed, nil)
	})
	assert.Equal(t, appendAttempts, audit.inserts)
}

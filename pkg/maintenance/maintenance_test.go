package maintenance

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprx/prx-memory/pkg/memtypes"
	"github.com/openprx/prx-memory/pkg/store"
)

func newTestBackend(t *testing.T) store.Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.json")
	fs, err := store.OpenFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func TestRunMergesNearDuplicateEntries(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	const text = "the database migration failed because the connection pool was exhausted"
	_, err := backend.Store(ctx, memtypes.MemoryEntry{Text: text, Category: memtypes.CategoryFact, Scope: "global", Importance: 0.5})
	require.NoError(t, err)
	_, err = backend.Store(ctx, memtypes.MemoryEntry{Text: text, Category: memtypes.CategoryFact, Scope: "global", Importance: 0.9})
	require.NoError(t, err)

	report, err := Run(ctx, backend, 100)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalBefore)
	assert.Equal(t, 1, report.TotalAfter)
	assert.Equal(t, 1, report.MergedGroups)
	assert.Equal(t, 1, report.DuplicateDeleted)

	remaining, err := backend.List(ctx, store.Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, 0.9, remaining[0].Importance, "merge keeps the higher-importance survivor")
}

func TestRunLeavesDistinctEntriesAlone(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	_, err := backend.Store(ctx, memtypes.MemoryEntry{Text: "alpha note about the build pipeline", Category: memtypes.CategoryFact, Scope: "global", Importance: 0.5})
	require.NoError(t, err)
	_, err = backend.Store(ctx, memtypes.MemoryEntry{Text: "beta note about the release process", Category: memtypes.CategoryFact, Scope: "global", Importance: 0.5})
	require.NoError(t, err)

	report, err := Run(ctx, backend, 100)
	require.NoError(t, err)

	assert.Equal(t, 0, report.MergedGroups)
	assert.Equal(t, 0, report.DuplicateDeleted)
	assert.Equal(t, 2, report.TotalAfter)
}

func TestRunRebalancesScopeOverDecisionRatio(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	// Nine facts and one low-importance decision keeps the ratio under the
	// cap; adding three more low-importance decisions pushes a four-in-ten
	// scope well past the 0.30 cap.
	for i := 0; i < 9; i++ {
		_, err := backend.Store(ctx, memtypes.MemoryEntry{
			Text: "fact entry number " + string(rune('a'+i)), Category: memtypes.CategoryFact, Scope: "global", Importance: 0.5,
		})
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		_, err := backend.Store(ctx, memtypes.MemoryEntry{
			Text: "decision entry number " + string(rune('a'+i)), Category: memtypes.CategoryDecision, Scope: "global", Importance: 0.25,
		})
		require.NoError(t, err)
	}

	report, err := Run(ctx, backend, 100)
	require.NoError(t, err)

	assert.Greater(t, report.RebalanceDeleted, 0)
	assert.Contains(t, report.RebalanceScopes, "global")
	assert.Less(t, report.TotalAfter, report.TotalBefore)
}

func TestRunPreservesCriticalDecisionsDuringRebalance(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	for i := 0; i < 2; i++ {
		_, err := backend.Store(ctx, memtypes.MemoryEntry{
			Text: "fact entry number " + string(rune('a'+i)), Category: memtypes.CategoryFact, Scope: "global", Importance: 0.5,
		})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := backend.Store(ctx, memtypes.MemoryEntry{
			Text: "critical decision number " + string(rune('a'+i)), Category: memtypes.CategoryDecision, Scope: "global", Importance: 1.0,
		})
		require.NoError(t, err)
	}

	report, err := Run(ctx, backend, 100)
	require.NoError(t, err)

	remaining, err := backend.List(ctx, store.Filter{}, 0)
	require.NoError(t, err)
	decisions := 0
	for _, e := range remaining {
		if e.Category == memtypes.CategoryDecision {
			decisions++
		}
	}
	assert.Equal(t, 3, decisions, "importance 1.0 decisions are never trimmed")
	assert.NotEmpty(t, report.Notes, "scope stays flagged as still over ratio when nothing trimmable remains")
}

func TestRunOnEmptyBackendIsNoop(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	report, err := Run(ctx, backend, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalBefore)
	assert.Equal(t, 0, report.TotalAfter)
	assert.Equal(t, 0, report.MergedGroups)
	assert.Equal(t, 0, report.DuplicateDeleted)
}

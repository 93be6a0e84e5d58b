package recall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprx/prx-memory/pkg/memtypes"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Error-Handling, bug #42!")
	assert.Equal(t, []string{"error", "handling", "bug", "42"}, got)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity(nil, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1}))
}

func TestSignatureStableAcrossEquivalentEntries(t *testing.T) {
	e1 := memtypes.MemoryEntry{Category: memtypes.CategoryFact, Scope: "global", Text: "same content"}
	e2 := memtypes.MemoryEntry{Category: memtypes.CategoryFact, Scope: "global", Text: "same content", ID: "different-id"}
	assert.Equal(t, Signature(e1), Signature(e2))

	e3 := memtypes.MemoryEntry{Category: memtypes.CategoryFact, Scope: "global", Text: "different content"}
	assert.NotEqual(t, Signature(e1), Signature(e3))
}

func TestRecallRanksMoreRelevantEntryHigher(t *testing.T) {
	now := time.Now()
	candidates := []memtypes.MemoryEntry{
		{ID: "strong", Text: "a critical error handling bug was found and fixed", Category: memtypes.CategoryFact, Scope: "global", Importance: 0.5, TimestampMs: now.UnixMilli()},
		{ID: "weak", Text: "error encountered once during a routine run", Category: memtypes.CategoryFact, Scope: "global", Importance: 0.5, TimestampMs: now.UnixMilli()},
	}
	results := Recall(Query{Text: "error handling", Limit: 10}, candidates, now)
	require.Len(t, results, 2)
	assert.Equal(t, "strong", results[0].Entry.ID)
}

func TestRecallAppliesScopeFilter(t *testing.T) {
	now := time.Now()
	candidates := []memtypes.MemoryEntry{
		{ID: "in-scope", Text: "pitfall fix for error handling", Scope: "agent:alpha", TimestampMs: now.UnixMilli()},
		{ID: "out-of-scope", Text: "pitfall fix for error handling", Scope: "agent:beta", TimestampMs: now.UnixMilli()},
	}
	results := Recall(Query{Text: "error handling", Scope: "agent:alpha", Limit: 10}, candidates, now)
	require.Len(t, results, 1)
	assert.Equal(t, "in-scope", results[0].Entry.ID)
}

func TestRecallAppliesCategoryFilter(t *testing.T) {
	now := time.Now()
	candidates := []memtypes.MemoryEntry{
		{ID: "fact", Text: "error handling fact", Category: memtypes.CategoryFact, Scope: "global", TimestampMs: now.UnixMilli()},
		{ID: "decision", Text: "error handling decision", Category: memtypes.CategoryDecision, Scope: "global", TimestampMs: now.UnixMilli()},
	}
	results := Recall(Query{Text: "error handling", Category: memtypes.CategoryFact, Limit: 10}, candidates, now)
	require.Len(t, results, 1)
	assert.Equal(t, "fact", results[0].Entry.ID)
}

func TestRecallDedupsEquivalentContent(t *testing.T) {
	now := time.Now()
	candidates := []memtypes.MemoryEntry{
		{ID: "a", Text: "duplicate pitfall about error handling", Scope: "global", TimestampMs: now.UnixMilli()},
		{ID: "b", Text: "duplicate pitfall about error handling", Scope: "global", TimestampMs: now.UnixMilli()},
	}
	results := Recall(Query{Text: "error handling", Limit: 10}, candidates, now)
	assert.Len(t, results, 1)
}

func TestRecallRespectsLimit(t *testing.T) {
	now := time.Now()
	var candidates []memtypes.MemoryEntry
	texts := []string{
		"alpha error handling note one",
		"beta error handling note two",
		"gamma error handling note three",
		"delta error handling note four",
	}
	for i, text := range texts {
		candidates = append(candidates, memtypes.MemoryEntry{
			ID: text, Text: text, Scope: "global", TimestampMs: now.UnixMilli(), Importance: 0.5 + float64(i)*0.01,
		})
	}
	results := Recall(Query{Text: "error handling", Limit: 2}, candidates, now)
	assert.Len(t, results, 2)
}

func TestRecallReturnsNilForEmptyQuery(t *testing.T) {
	now := time.Now()
	results := Recall(Query{Text: ""}, []memtypes.MemoryEntry{{Text: "anything", Scope: "global"}}, now)
	assert.Nil(t, results)
}

func TestRecallFusesVectorAndLexicalScores(t *testing.T) {
	now := time.Now()
	queryVec := []float32{1, 0}
	candidates := []memtypes.MemoryEntry{
		{ID: "aligned", Text: "error handling note", Scope: "global", Embedding: []float32{1, 0}, TimestampMs: now.UnixMilli()},
		{ID: "orthogonal", Text: "error handling note", Scope: "global", Embedding: []float32{0, 1}, TimestampMs: now.UnixMilli()},
	}
	results := Recall(Query{Text: "error handling", Embedding: queryVec, Limit: 10}, candidates, now)
	require.Len(t, results, 2)
	assert.Equal(t, "aligned", results[0].Entry.ID)
}

package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprx/prx-memory/pkg/memtypes"
)

func TestCanonicalizeTag(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name string
		tag  string
		want string
	}{
		{"already canonical passes through", "project:prx-memory", "project:prx-memory"},
		{"bare project name", "prx-memory", "project:prx-memory"},
		{"well known tool", "jina", "tool:jina"},
		{"unknown becomes domain", "widgets", "domain:widgets"},
		{"trims and lowercases", "  JINA  ", "tool:jina"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.CanonicalizeTag(tt.tag))
		})
	}
}

func TestNormalizeTagsDropsDuplicates(t *testing.T) {
	cfg := DefaultConfig()
	out := cfg.NormalizeTags([]string{"jina", "JINA", "widgets"})
	assert.Equal(t, []string{"tool:jina", "domain:widgets"}, out)
}

func TestNormalizeTagsWithDefaultsFillsMissingPrefixes(t *testing.T) {
	cfg := DefaultConfig()
	out := cfg.NormalizeTagsWithDefaults(nil)
	assert.Contains(t, out, "project:prx-memory")
	assert.Contains(t, out, "tool:mcp")
	assert.Contains(t, out, "domain:general")
}

func TestNormalizeTagsWithDefaultsRespectsExplicitTags(t *testing.T) {
	cfg := DefaultConfig()
	out := cfg.NormalizeTagsWithDefaults([]string{"project:other"})
	assert.Contains(t, out, "project:other")
	assert.NotContains(t, out, "project:prx-memory")
}

func TestResolveImportanceFromLevel(t *testing.T) {
	level := memtypes.ImportanceHigh
	v, err := ResolveImportance(&level, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.75, v)
}

func TestResolveImportanceFromNumeric(t *testing.T) {
	n := 0.25
	v, err := ResolveImportance(nil, &n)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)
}

func TestResolveImportanceRejectsOffLevelNumeric(t *testing.T) {
	n := 0.42
	_, err := ResolveImportance(nil, &n)
	require.Error(t, err)
	var re *RejectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonInvalidImportance, re.Reason)
}

func TestResolveImportanceDefaultsToMedium(t *testing.T) {
	v, err := ResolveImportance(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestCompactQueryTruncatesAndTokenizes(t *testing.T) {
	got := CompactQuery("One two three, FOUR-five six seven eight nine ten eleven", 10)
	assert.Equal(t, "one two three four five six seven eight nine ten", got)
}

func TestDecisionRatioExceeds(t *testing.T) {
	assert.False(t, DecisionRatioExceeds(0, 0))
	assert.False(t, DecisionRatioExceeds(3, 10))
	assert.True(t, DecisionRatioExceeds(4, 10))
}

func TestValidateInputRejectsEmptyText(t *testing.T) {
	err := ValidateInput("   ", memtypes.CategoryFact, []string{"project:x", "tool:y", "domain:z"}, memtypes.ImportanceMedium)
	require.Error(t, err)
	var re *RejectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonEmptyText, re.Reason)
}

func TestValidateInputRejectsMissingTagPrefixes(t *testing.T) {
	err := ValidateInput("pitfall: x cause: y fix: z prevention: w", memtypes.CategoryFact, []string{"project:x"}, memtypes.ImportanceMedium)
	require.Error(t, err)
	var re *RejectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonMissingTagPrefix, re.Reason)
}

func TestValidateInputRequiresFactTemplateMarkers(t *testing.T) {
	tags := []string{"project:x", "tool:y", "domain:z"}
	err := ValidateInput("just a fact with no markers", memtypes.CategoryFact, tags, memtypes.ImportanceMedium)
	require.Error(t, err)
	var re *RejectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonFactTemplate, re.Reason)
}

func TestValidateInputAcceptsCompleteFact(t *testing.T) {
	tags := []string{"project:x", "tool:y", "domain:z"}
	text := "pitfall: flaky test cause: race condition fix: add mutex prevention: review concurrency"
	err := ValidateInput(text, memtypes.CategoryFact, tags, memtypes.ImportanceMedium)
	assert.NoError(t, err)
}

func TestValidateInputRequiresDecisionPrincipleAndMinimumImportance(t *testing.T) {
	tags := []string{"project:x", "tool:y", "domain:z"}

	err := ValidateInput("no marker here", memtypes.CategoryDecision, tags, memtypes.ImportanceHigh)
	require.Error(t, err)

	err = ValidateInput("decision principle: always review", memtypes.CategoryDecision, tags, memtypes.ImportanceLow)
	require.Error(t, err)

	err = ValidateInput("decision principle: always review", memtypes.CategoryDecision, tags, memtypes.ImportanceMedium)
	assert.NoError(t, err)
}

func TestValidateInputRejectsForbiddenMarkers(t *testing.T) {
	tags := []string{"project:x", "tool:y", "domain:z"}
	err := ValidateInput("here is a stacktrace dump", memtypes.CategoryOther, tags, memtypes.ImportanceMedium)
	require.Error(t, err)
	var re *RejectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ReasonForbiddenMarker, re.Reason)
}

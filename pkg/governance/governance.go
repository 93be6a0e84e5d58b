// Package governance implements the Governance Validator (spec §4.5): the
// ordered input-shape checks, tag canonicalization, importance resolution,
// and the pure-logic halves of the pre-dedup and decision-ratio gates
// (the storage/recall-backed halves live in pkg/write, which composes
// this package with pkg/store and pkg/recall). Grounded on
// validate_governed_input, canonicalize_tag, normalize_tags*,
// resolve_importance, compact_query, and decision_ratio_in_scope in
// prx-memory-mcp/src/server.rs.
package governance

import (
	"strings"

	"github.com/openprx/prx-memory/pkg/memtypes"
)

const (
	maxTextLen              = 500
	decisionRatioCap        = 0.30
	duplicateScoreThreshold = 0.93
	preDedupTokenCount      = 10
	maintenanceTokenCount   = 16
)

// forbiddenMarkers are raw-log leakage markers disallowed in governed text.
var forbiddenMarkers = []string{"```", "stacktrace", "raw conversation"}

// Config carries the canonicalization defaults and well-known-tool table
// from configuration (spec §4.5). Zero value uses the spec's own
// defaults ("prx-memory" / "mcp" / "general").
type Config struct {
	DefaultProjectTag string
	DefaultToolTag    string
	DefaultDomainTag  string
	WellKnownTools    map[string]bool
}

// DefaultConfig returns the spec's built-in defaults.
func DefaultConfig() Config {
	return Config{
		DefaultProjectTag: "prx-memory",
		DefaultToolTag:    "mcp",
		DefaultDomainTag:  "general",
		WellKnownTools: map[string]bool{
			"mcp": true, "lancedb": true, "jina": true, "gemini": true,
			"openai-compatible": true,
		},
	}
}

// CanonicalizeTag applies the tag canonicalization table (spec §4.5):
// tags already containing ":" pass through; "prx-memory" becomes
// "project:prx-memory"; well-known tool names become "tool:<x>";
// everything else becomes "domain:<x>".
func (c Config) CanonicalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if strings.Contains(tag, ":") {
		return tag
	}
	if tag == "prx-memory" || tag == c.DefaultProjectTag {
		return "project:" + tag
	}
	if c.WellKnownTools[tag] {
		return "tool:" + tag
	}
	return "domain:" + tag
}

// NormalizeTags canonicalizes every tag and drops duplicates, preserving
// first-seen order.
func (c Config) NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		canon := c.CanonicalizeTag(t)
		if !seen[canon] {
			seen[canon] = true
			out = append(out, canon)
		}
	}
	return out
}

// NormalizeTagsWithDefaults normalizes tags and then appends default
// project/tool/domain tags for any prefix absent from the set.
func (c Config) NormalizeTagsWithDefaults(tags []string) []string {
	out := c.NormalizeTags(tags)
	hasPrefix := func(p string) bool {
		for _, t := range out {
			if strings.HasPrefix(t, p) {
				return true
			}
		}
		return false
	}
	if !hasPrefix("project:") {
		out = append(out, "project:"+c.DefaultProjectTag)
	}
	if !hasPrefix("tool:") {
		out = append(out, "tool:"+c.DefaultToolTag)
	}
	if !hasPrefix("domain:") {
		out = append(out, "domain:"+c.DefaultDomainTag)
	}
	return out
}

// ResolveImportance maps an explicit level (if given) or a raw numeric
// value to the canonical numeric importance. Exactly one of level/numeric
// should be set by the caller; if both are nil, ImportanceMedium is used.
func ResolveImportance(level *memtypes.ImportanceLevel, numeric *float64) (float64, error) {
	if level != nil {
		if !level.IsValid() {
			return 0, reject(ReasonInvalidImportance, "invalid importance level %q", *level)
		}
		return memtypes.ImportanceLevelValue(*level), nil
	}
	if numeric != nil {
		if _, ok := memtypes.ImportanceValueToLevel(*numeric); !ok {
			return 0, reject(ReasonInvalidImportance, "importance %.3f does not match a known level", *numeric)
		}
		return *numeric, nil
	}
	return memtypes.ImportanceLevelValue(memtypes.ImportanceMedium), nil
}

// CompactQuery returns the first n alphanumeric tokens of text, joined by
// spaces — used both by the pre-dedup gate (n=10) and by periodic
// maintenance's duplicate-cluster signature (n=16).
func CompactQuery(text string, n int) string {
	tokens := tokenize(text)
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return strings.Join(tokens, " ")
}

// PreDedupQuery returns the compact query used by the pre-dedup gate.
func PreDedupQuery(text string) string { return CompactQuery(text, preDedupTokenCount) }

// MaintenanceSignature returns the compact query used to cluster
// duplicates during periodic maintenance.
func MaintenanceSignature(text string) string { return CompactQuery(text, maintenanceTokenCount) }

// DuplicateScoreThreshold is the recall score above which the pre-dedup
// gate rejects a write as a likely duplicate.
const DuplicateScoreThreshold = duplicateScoreThreshold

// DecisionRatioCap is the maximum fraction of decision-category entries
// permitted within a scope.
const DecisionRatioCap = decisionRatioCap

// DecisionRatioExceeds reports whether adding one more decision to a
// scope with decisions/total counts would exceed the cap — or whether the
// scope is already over it.
func DecisionRatioExceeds(decisions, total int) bool {
	if total == 0 {
		return false
	}
	return float64(decisions)/float64(total) > decisionRatioCap
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// ValidateInput runs the ordered checks of spec §4.5 steps 1-7, returning
// the first failure. tags must already be normalized (canonicalized +
// defaults applied) before calling.
func ValidateInput(text string, category memtypes.Category, tags []string, level memtypes.ImportanceLevel) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return reject(ReasonEmptyText, "text must not be empty")
	}
	if len(trimmed) > maxTextLen {
		return reject(ReasonTextTooLong, "text exceeds %d characters", maxTextLen)
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range forbiddenMarkers {
		if strings.Contains(lower, marker) {
			return reject(ReasonForbiddenMarker, "text contains forbidden marker %q", marker)
		}
	}
	if !category.IsValid() {
		return reject(ReasonInvalidCategory, "invalid category %q", category)
	}
	if len(tags) == 0 || !hasPrefix(tags, "project:") || !hasPrefix(tags, "tool:") || !hasPrefix(tags, "domain:") {
		return reject(ReasonMissingTagPrefix, "tags must include at least one each of project:, tool:, domain:")
	}
	if category == memtypes.CategoryFact {
		for _, marker := range []string{"pitfall:", "cause:", "fix:", "prevention:"} {
			if !strings.Contains(lower, marker) {
				return reject(ReasonFactTemplate, "fact entries must contain %q", marker)
			}
		}
	}
	if category == memtypes.CategoryDecision {
		if !strings.Contains(lower, "decision principle") {
			return reject(ReasonDecisionTemplate, "decision entries must contain the marker \"decision principle\"")
		}
		if level == memtypes.ImportanceLow {
			return reject(ReasonDecisionTemplate, "decision entries require importance level medium or higher")
		}
	}
	return nil
}

func hasPrefix(tags []string, prefix string) bool {
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// DuplicateLikelyError reports a pre-dedup gate rejection.
func DuplicateLikelyError() error {
	return reject(ReasonDuplicateLikely, "duplicate likely exists")
}

// DecisionRatioError reports a decision-ratio gate rejection.
func DecisionRatioError() error {
	return reject(ReasonDecisionRatio, "decision entries exceed 30%% of scope")
}

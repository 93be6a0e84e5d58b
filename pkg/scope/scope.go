// Package scope implements the Scope & ACL Manager (spec §4.4): scope
// grammar validation, wildcard rule matching, and the cross-domain write
// gate. Grounded on ScopeManager::{from_env,default_scope,
// accessible_scope_rules,has_pattern_rule,is_valid_scope,
// rule_matches_scope,can_access_scope,validate_scope_write} in
// prx-memory-mcp/src/server.rs.
package scope

import (
	"fmt"
	"strings"

	"github.com/openprx/prx-memory/pkg/memtypes"
)

// crossDomainTags are the canonical tags that authorize a write into
// another agent's scope.
var crossDomainTags = map[string]bool{
	"cross-domain":            true,
	"root-cause:cross-domain": true,
}

// Manager resolves accessible scope rules per agent and enforces the
// cross-domain write gate.
type Manager struct {
	AgentID       string
	DefaultScope  string
	DefaultRules  []string
	AgentAccess   map[string][]string // agent id -> override rule set
}

// NewManager builds a Manager; defaultRules and agentAccess rules may
// contain "*" (match-all) or a trailing "*" (prefix match), per §4.4.
func NewManager(agentID, defaultScope string, defaultRules []string, agentAccess map[string][]string) *Manager {
	return &Manager{
		AgentID:      agentID,
		DefaultScope: defaultScope,
		DefaultRules: defaultRules,
		AgentAccess:  agentAccess,
	}
}

// IsValidScope reports whether s matches the scope grammar.
func IsValidScope(s string) bool { return memtypes.ValidScope(s) }

// AccessibleRules returns the rule set for agentID: its override, if
// present, else the manager's default.
func (m *Manager) AccessibleRules(agentID string) []string {
	if rules, ok := m.AgentAccess[agentID]; ok {
		return rules
	}
	return m.DefaultRules
}

// HasPatternRule reports whether any rule in rules is a wildcard ("*" or
// trailing "*" prefix match).
func HasPatternRule(rules []string) bool {
	for _, r := range rules {
		if strings.HasSuffix(r, "*") {
			return true
		}
	}
	return false
}

// RuleMatchesScope reports whether rule matches s: "*" matches anything, a
// trailing "*" matches as a prefix, otherwise an exact match is required.
func RuleMatchesScope(rule, s string) bool {
	if rule == "*" {
		return true
	}
	if strings.HasSuffix(rule, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(rule, "*"))
	}
	return rule == s
}

// CanAccessScope reports whether agentID's rule set grants access to s.
func (m *Manager) CanAccessScope(agentID, s string) bool {
	for _, rule := range m.AccessibleRules(agentID) {
		if RuleMatchesScope(rule, s) {
			return true
		}
	}
	return false
}

// FilterAccessible keeps only the entries whose scope agentID's rule set
// grants access to, preserving order. Used by the read-path tools when no
// single scope was requested, mirroring filter_entries_by_acl's
// unscoped branch in server.rs.
func (m *Manager) FilterAccessible(agentID string, entries []memtypes.MemoryEntry) []memtypes.MemoryEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if m.CanAccessScope(agentID, e.Scope) {
			out = append(out, e)
		}
	}
	return out
}

// AccessError is returned by ValidateScopeWrite and CanAccessScope callers
// needing a typed, RPC-mappable rejection.
type AccessError struct {
	Scope   string
	Message string
}

func (e *AccessError) Error() string { return e.Message }

// ValidateScopeWrite enforces §4.4's write policy: the scope string must
// be well-formed, the agent must have read/write access to it per its
// rule set, and writing into another agent's scope additionally requires
// a cross-domain tag.
func (m *Manager) ValidateScopeWrite(agentID, targetScope string, tags []string) error {
	if !IsValidScope(targetScope) {
		return &AccessError{Scope: targetScope, Message: fmt.Sprintf("invalid scope %q", targetScope)}
	}
	if !m.CanAccessScope(agentID, targetScope) {
		return &AccessError{Scope: targetScope, Message: fmt.Sprintf("agent %q is not permitted to write scope %q", agentID, targetScope)}
	}
	if memtypes.ScopeKind(targetScope) == "agent" && memtypes.ScopeID(targetScope) != agentID {
		if !hasCrossDomainTag(tags) {
			return &AccessError{Scope: targetScope, Message: "writing into another agent's scope requires a cross-domain tag"}
		}
	}
	return nil
}

func hasCrossDomainTag(tags []string) bool {
	for _, t := range tags {
		if crossDomainTags[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// ResolveDefaultScope substitutes "{agent_id}" in a configured default
// scope template with agentID.
func (m *Manager) ResolveDefaultScope(agentID string) string {
	return strings.ReplaceAll(m.DefaultScope, "{agent_id}", agentID)
}

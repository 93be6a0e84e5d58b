// Package maintenance implements Periodic Maintenance (spec §4.7):
// duplicate-cluster merging followed by decision-ratio rebalancing,
// grounded on run_periodic_maintenance in
// prx-memory-mcp/src/server.rs.
package maintenance

import (
	"context"
	"sort"

	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/memtypes"
	"github.com/openprx/prx-memory/pkg/store"
)

// Report mirrors AutoMaintenanceReport: a summary of one maintenance
// pass, returned to the caller and embedded in write responses.
type Report struct {
	TriggerEvery      int      `json:"trigger_every"`
	TotalBefore       int      `json:"total_before"`
	TotalAfter        int      `json:"total_after"`
	MergedGroups      int      `json:"merged_groups"`
	DuplicateDeleted  int      `json:"duplicate_deleted"`
	RebalanceDeleted  int      `json:"rebalance_deleted"`
	RebalanceScopes   []string `json:"rebalance_scopes"`
	Notes             []string `json:"notes"`
}

const listCap = 200_000

// Run performs one maintenance pass: merge near-duplicate clusters, then
// rebalance any scope whose decision ratio exceeds the cap. It mutates
// store directly via ForgetByID and never re-triggers itself (the Open
// Question decision recorded in SPEC_FULL.md: a single pass per trigger,
// no internal re-queue even if a scope is still over threshold after
// trimming).
func Run(ctx context.Context, backend store.Backend, triggerEvery int) (Report, error) {
	before, err := backend.List(ctx, store.Filter{}, listCap)
	if err != nil {
		return Report{}, err
	}
	totalBefore := len(before)

	mergedGroups, duplicateDeleted, err := mergeDuplicates(ctx, backend, before)
	if err != nil {
		return Report{}, err
	}

	afterDedup, err := backend.List(ctx, store.Filter{}, listCap)
	if err != nil {
		return Report{}, err
	}
	rebalanceDeleted, rebalanceScopes, notes, err := rebalanceDecisionRatio(ctx, backend, afterDedup)
	if err != nil {
		return Report{}, err
	}

	after, err := backend.List(ctx, store.Filter{}, listCap)
	if err != nil {
		return Report{}, err
	}

	return Report{
		TriggerEvery:     triggerEvery,
		TotalBefore:      totalBefore,
		TotalAfter:       len(after),
		MergedGroups:     mergedGroups,
		DuplicateDeleted: duplicateDeleted,
		RebalanceDeleted: rebalanceDeleted,
		RebalanceScopes:  rebalanceScopes,
		Notes:            notes,
	}, nil
}

func mergeDuplicates(ctx context.Context, backend store.Backend, entries []memtypes.MemoryEntry) (mergedGroups, deleted int, err error) {
	if len(entries) <= 1 {
		return 0, 0, nil
	}
	groups := make(map[string][]memtypes.MemoryEntry)
	for _, e := range entries {
		key := e.Scope + "|" + string(e.Category) + "|" + governance.MaintenanceSignature(e.Text)
		groups[key] = append(groups[key], e)
	}
	for _, group := range groups {
		if len(group) <= 1 {
			continue
		}
		mergedGroups++
		ranked := append([]memtypes.MemoryEntry(nil), group...)
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].Importance != ranked[j].Importance {
				return ranked[i].Importance > ranked[j].Importance
			}
			return ranked[i].TimestampMs > ranked[j].TimestampMs
		})
		keepID := ranked[0].ID
		for _, item := range ranked[1:] {
			if item.ID == keepID {
				continue
			}
			ok, err := backend.ForgetByID(ctx, item.ID)
			if err != nil {
				return mergedGroups, deleted, err
			}
			if ok {
				deleted++
			}
		}
	}
	return mergedGroups, deleted, nil
}

func rebalanceDecisionRatio(ctx context.Context, backend store.Backend, entries []memtypes.MemoryEntry) (deleted int, scopes []string, notes []string, err error) {
	byScope := make(map[string][]memtypes.MemoryEntry)
	for _, e := range entries {
		byScope[e.Scope] = append(byScope[e.Scope], e)
	}

	for scope, rows := range byScope {
		total := len(rows)
		if total == 0 {
			continue
		}
		var decisions []memtypes.MemoryEntry
		for _, e := range rows {
			if e.Category == memtypes.CategoryDecision {
				decisions = append(decisions, e)
			}
		}
		decisionCount := len(decisions)
		if decisionCount == 0 {
			continue
		}
		if !governance.DecisionRatioExceeds(decisionCount, total) {
			continue
		}

		sort.Slice(decisions, func(i, j int) bool {
			if decisions[i].Importance != decisions[j].Importance {
				return decisions[i].Importance < decisions[j].Importance
			}
			return decisions[i].TimestampMs < decisions[j].TimestampMs
		})

		scopeDeleted := 0
		for _, item := range decisions {
			if !governance.DecisionRatioExceeds(decisionCount, total) {
				break
			}
			if item.Importance >= 1.0 {
				continue
			}
			ok, ferr := backend.ForgetByID(ctx, item.ID)
			if ferr != nil {
				return deleted, scopes, notes, ferr
			}
			if ok {
				scopeDeleted++
				deleted++
				decisionCount--
				total--
			}
		}
		if scopeDeleted > 0 {
			scopes = append(scopes, scope)
		}
		if total > 0 && governance.DecisionRatioExceeds(decisionCount, total) {
			notes = append(notes, "scope "+scope+" still above decision ratio after trimming non-critical decision entries")
		}
	}
	return deleted, scopes, notes, nil
}

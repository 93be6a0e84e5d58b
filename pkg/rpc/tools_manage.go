package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/memtypes"
	"github.com/openprx/prx-memory/pkg/store"
)

func (d *Dispatcher) execMemoryStats(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args struct {
		Scope string `json:"scope"`
	}
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}

	if args.Scope != "" && !d.Scopes.CanAccessScope(d.AgentID, args.Scope) {
		return ErrorResponse(id, CodeInvalidParams, fmt.Sprintf("scope access denied: %s", args.Scope))
	}

	backendStats, err := d.Backend.Stats(ctx)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}

	// The counts reported to the agent are ACL-filtered: a requested scope
	// is already restricted by the backend filter above, and an unscoped
	// call is narrowed to the agent's accessible scopes post-hoc, mirroring
	// filter_entries_by_acl's use in exec_memory_stats in server.rs.
	// backend_stats below carries the backend's raw, unfiltered totals.
	rows, err := d.Backend.List(ctx, store.Filter{Scope: args.Scope}, 0)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}
	if args.Scope == "" {
		rows = d.Scopes.FilterAccessible(d.AgentID, rows)
	}

	byScope := map[string]int{}
	byCategory := map[string]int{}
	decisions := 0
	for _, e := range rows {
		byScope[e.Scope]++
		byCategory[string(e.Category)]++
		if e.Category == memtypes.CategoryDecision {
			decisions++
		}
	}
	var decisionRatio float64
	if len(rows) > 0 {
		decisionRatio = float64(decisions) / float64(len(rows))
	}

	return Success(id, textResult(map[string]any{
		"total":                backendStats.Total,
		"count":                len(rows),
		"by_scope":             byScope,
		"by_category":          byCategory,
		"decision_ratio_cap":   governance.DecisionRatioCap,
		"scope_decision_ratio": decisionRatio,
		"backend_stats":        backendStats,
	}, fmt.Sprintf("stats: %d accessible entries", len(rows))))
}

type memoryExportArgs struct {
	Scope              string `json:"scope"`
	Category           string `json:"category"`
	Limit              int    `json:"limit"`
	IncludeEmbeddings  *bool  `json:"include_embeddings"`
	OutputPath         string `json:"output_path"`
}

// execMemoryExport renders the current scope/category window as the JSON
// payload memory_import and memory_migrate consume. output_path is
// accepted for API parity with the file-writing variant of this tool,
// but this module always returns the payload inline — writing an
// agent-supplied path from a server process is a needless local
// filesystem exposure that a CLI-adjacent deployment model tolerates
// but a network-facing MCP server should not carry over.
func (d *Dispatcher) execMemoryExport(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args memoryExportArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if args.Scope != "" && !d.Scopes.CanAccessScope(d.AgentID, args.Scope) {
		return ErrorResponse(id, CodeInvalidParams, fmt.Sprintf("scope access denied: %s", args.Scope))
	}
	var category memtypes.Category
	if args.Category != "" {
		c, err := memtypes.ParseCategory(args.Category)
		if err != nil {
			return ErrorResponse(id, CodeInvalidParams, err.Error())
		}
		category = c
	}
	limit := args.Limit
	if args.Scope == "" {
		// Filtering by ACL happens post-fetch, so the backend must not
		// truncate the candidate set before filtering narrows it.
		limit = 0
	}
	rows, err := d.Backend.List(ctx, store.Filter{Scope: args.Scope, Category: category}, limit)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}
	if args.Scope == "" {
		rows = d.Scopes.FilterAccessible(d.AgentID, rows)
		if args.Limit > 0 && args.Limit < len(rows) {
			rows = rows[:args.Limit]
		}
	}
	if !boolOr(args.IncludeEmbeddings, false) {
		stripped := make([]memtypes.MemoryEntry, len(rows))
		for i, e := range rows {
			e.Embedding = nil
			stripped[i] = e
		}
		rows = stripped
	}
	return Success(id, textResult(map[string]any{"entries": rows, "count": len(rows)}, fmt.Sprintf("exported %d entries", len(rows))))
}

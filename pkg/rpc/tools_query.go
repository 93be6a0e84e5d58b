package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openprx/prx-memory/pkg/embed"
	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/memtypes"
	"github.com/openprx/prx-memory/pkg/recall"
	"github.com/openprx/prx-memory/pkg/store"
)

type memoryRecallArgs struct {
	Query          string   `json:"query"`
	Scope          string   `json:"scope"`
	Category       string   `json:"category"`
	Limit          int      `json:"limit"`
	UseVector      *bool    `json:"use_vector"`
	UseRemote      *bool    `json:"use_remote"`
	RerankProvider string   `json:"rerank_provider"`
	VectorWeight   *float64 `json:"vector_weight"`
	LexicalWeight  *float64 `json:"lexical_weight"`
	CandidatePool  int      `json:"candidate_pool"`
}

func (d *Dispatcher) execMemoryRecall(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args memoryRecallArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if args.Query == "" {
		return ErrorResponse(id, CodeInvalidParams, "query is required")
	}

	var category memtypes.Category
	if args.Category != "" {
		c, err := memtypes.ParseCategory(args.Category)
		if err != nil {
			return ErrorResponse(id, CodeInvalidParams, err.Error())
		}
		category = c
	}

	candidatePool := args.CandidatePool
	if candidatePool <= 0 {
		candidatePool = 0
	}

	// Recall policy (spec §4.4): a requested scope the agent cannot
	// access yields no results rather than an error, matching
	// recall_with_acl's requested_scope branch in server.rs. An unscoped
	// query is filtered post-hoc down to the agent's accessible scopes
	// before ranking.
	var candidates []memtypes.MemoryEntry
	if args.Scope != "" {
		if !d.Scopes.CanAccessScope(d.AgentID, args.Scope) {
			return Success(id, textResult(map[string]any{"results": []recall.Result{}, "warning": ""}, "recalled 0 entries"))
		}
		rows, err := d.Backend.List(ctx, store.Filter{Scope: args.Scope, Category: category}, candidatePool)
		if err != nil {
			return ErrorResponse(id, CodeStorageError, err.Error())
		}
		candidates = rows
	} else {
		rows, err := d.Backend.List(ctx, store.Filter{Category: category}, 0)
		if err != nil {
			return ErrorResponse(id, CodeStorageError, err.Error())
		}
		candidates = d.Scopes.FilterAccessible(d.AgentID, rows)
	}

	var embedding []float32
	if boolOr(args.UseVector, false) && d.Embedder != nil {
		vec, err := d.Embedder.EmbedOne(ctx, args.Query, embed.TaskRetrievalQuery)
		if err != nil {
			return ErrorResponse(id, CodeProviderError, err.Error())
		}
		embedding = vec
	}

	results := recall.Recall(recall.Query{
		Text:          args.Query,
		Embedding:     embedding,
		Scope:         args.Scope,
		Category:      category,
		Limit:         args.Limit,
		VectorWeight:  args.VectorWeight,
		LexicalWeight: args.LexicalWeight,
	}, candidates, time.Now())

	var warning string
	if boolOr(args.UseRemote, false) && d.Embedder != nil && len(results) > 0 {
		rerankCandidates := make([]embed.RerankCandidate, len(results))
		for i, r := range results {
			rerankCandidates[i] = embed.RerankCandidate{ID: r.Entry.ID, Text: r.Entry.Text, Embedding: r.Entry.Embedding, LocalScore: r.Score}
		}
		outcomes, err := d.Embedder.SemanticRerank(ctx, args.Query, rerankCandidates)
		if err == nil && len(outcomes) > 0 {
			results = reorderByRerank(results, outcomes)
			warning = outcomes[0].Warning
			if d.Metrics != nil {
				d.Metrics.RecordRerank(args.RerankProvider, warning != "")
			}
		}
	}

	for _, r := range results {
		if d.Metrics != nil {
			d.Metrics.RecordRecall("fused", true, r.Entry.Scope, string(r.Entry.Category))
		}
	}

	return Success(id, textResult(map[string]any{
		"results": results,
		"warning": warning,
	}, fmt.Sprintf("recalled %d entries", len(results))))
}

func reorderByRerank(results []recall.Result, outcomes []embed.RerankOutcome) []recall.Result {
	byID := make(map[string]recall.Result, len(results))
	for _, r := range results {
		byID[r.Entry.ID] = r
	}
	out := make([]recall.Result, 0, len(outcomes))
	for _, o := range outcomes {
		if r, ok := byID[o.ID]; ok {
			r.Score = o.Score
			out = append(out, r)
		}
	}
	return out
}

func (d *Dispatcher) execMemoryForget(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if args.ID == "" {
		return ErrorResponse(id, CodeInvalidParams, "id is required")
	}
	ok, err := d.Backend.ForgetByID(ctx, args.ID)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}
	return Success(id, textResult(map[string]any{"deleted": ok}, fmt.Sprintf("forget(%s) -> %v", args.ID, ok)))
}

type memoryUpdateArgs struct {
	ID              string   `json:"id"`
	Text            *string  `json:"text"`
	Category        string   `json:"category"`
	Scope           string   `json:"scope"`
	Importance      *float64 `json:"importance"`
	ImportanceLevel string   `json:"importance_level"`
	Tags            []string `json:"tags"`
	ProjectTag      string   `json:"project_tag"`
	ToolTag         string   `json:"tool_tag"`
	DomainTag       string   `json:"domain_tag"`
	Governed        *bool    `json:"governed"`
}

// execMemoryUpdate is semantically delete-plus-append-new-id: the merged
// entry is re-validated against ACL and governance exactly like a fresh
// store, then the old id is forgotten and the merge is stored under a
// new one. Grounded on exec_memory_update in server.rs, which
// forget_by_id's the existing row and store()s the merged replacement
// rather than mutating in place.
func (d *Dispatcher) execMemoryUpdate(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args memoryUpdateArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if args.ID == "" {
		return ErrorResponse(id, CodeInvalidParams, "id is required")
	}

	existing, err := d.Backend.Get(ctx, args.ID)
	if err != nil {
		return ErrorResponse(id, CodeInvalidParams, "memory id not found")
	}
	if !d.Scopes.CanAccessScope(d.AgentID, existing.Scope) {
		return ErrorResponse(id, CodeInvalidParams, "scope access denied for existing memory")
	}

	merged := existing
	textChanged := false
	if args.Text != nil && *args.Text != existing.Text {
		merged.Text = *args.Text
		textChanged = true
	}
	if args.Category != "" {
		c, err := memtypes.ParseCategory(args.Category)
		if err != nil {
			return ErrorResponse(id, CodeInvalidParams, err.Error())
		}
		merged.Category = c
	}
	if args.Scope != "" {
		merged.Scope = args.Scope
	}
	if args.Importance != nil || args.ImportanceLevel != "" {
		var level *memtypes.ImportanceLevel
		if args.ImportanceLevel != "" {
			l := memtypes.ImportanceLevel(args.ImportanceLevel)
			level = &l
		}
		resolved, err := governance.ResolveImportance(level, args.Importance)
		if err != nil {
			return ErrorResponse(id, CodeInvalidParams, err.Error())
		}
		merged.Importance = resolved
	}
	if args.Tags != nil || args.ProjectTag != "" || args.ToolTag != "" || args.DomainTag != "" {
		extra := args.Tags
		if extra == nil {
			extra = append([]string(nil), existing.Tags...)
		}
		for _, kv := range []struct{ prefix, value string }{
			{"project:", args.ProjectTag}, {"tool:", args.ToolTag}, {"domain:", args.DomainTag},
		} {
			if kv.value != "" {
				extra = append(extra, kv.prefix+kv.value)
			}
		}
		merged.Tags = d.Governance.NormalizeTagsWithDefaults(extra)
	}

	if textChanged && d.Embedder != nil && len(existing.Embedding) > 0 {
		vec, err := d.Embedder.EmbedOne(ctx, merged.Text, embed.TaskRetrievalPassage)
		if err != nil {
			return ErrorResponse(id, CodeProviderError, err.Error())
		}
		merged.Embedding = vec
	}

	if !d.Scopes.CanAccessScope(d.AgentID, merged.Scope) {
		return ErrorResponse(id, CodeInvalidParams, "scope access denied for target scope")
	}
	if err := d.Scopes.ValidateScopeWrite(d.AgentID, merged.Scope, merged.Tags); err != nil {
		return ErrorResponse(id, CodeInvalidParams, err.Error())
	}

	if boolOr(args.Governed, true) {
		level, _ := memtypes.ImportanceValueToLevel(merged.Importance)
		if err := governance.ValidateInput(merged.Text, merged.Category, merged.Tags, level); err != nil {
			return ErrorResponse(id, CodeInvalidParams, err.Error())
		}
	}

	ok, err := d.Backend.ForgetByID(ctx, args.ID)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}
	if !ok {
		return ErrorResponse(id, CodeInvalidParams, "memory id not found")
	}

	stored, err := d.Backend.Store(ctx, memtypes.MemoryEntry{
		Text:       merged.Text,
		Category:   merged.Category,
		Scope:      merged.Scope,
		Importance: merged.Importance,
		Tags:       merged.Tags,
		Embedding:  merged.Embedding,
	})
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}
	return Success(id, textResult(map[string]any{"entry": stored}, fmt.Sprintf("updated entry %s (new id %s)", args.ID, stored.ID)))
}

type memoryListArgs struct {
	Scope    string `json:"scope"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

func (d *Dispatcher) execMemoryList(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args memoryListArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	var category memtypes.Category
	if args.Category != "" {
		c, err := memtypes.ParseCategory(args.Category)
		if err != nil {
			return ErrorResponse(id, CodeInvalidParams, err.Error())
		}
		category = c
	}
	if args.Scope != "" && !d.Scopes.CanAccessScope(d.AgentID, args.Scope) {
		return ErrorResponse(id, CodeInvalidParams, fmt.Sprintf("scope access denied: %s", args.Scope))
	}
	rows, err := d.Backend.List(ctx, store.Filter{Scope: args.Scope, Category: category}, 0)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}
	if args.Scope == "" {
		rows = d.Scopes.FilterAccessible(d.AgentID, rows)
	}
	offset := args.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(rows) {
		offset = len(rows)
	}
	rows = rows[offset:]
	if args.Limit > 0 && args.Limit < len(rows) {
		rows = rows[:args.Limit]
	}
	return Success(id, textResult(map[string]any{"entries": rows, "count": len(rows)}, fmt.Sprintf("listed %d entries", len(rows))))
}

// Package write implements the Write Pipeline (spec §4.6): the single
// gate every memory entry passes through before it reaches storage —
// ACL check, governance validation, pre-dedup and decision-ratio gates,
// optional embedding, storage append, optional post-write verification
// with rollback, and auto-maintenance triggering. Grounded on
// store_layer_with_rules and its two callers, exec_memory_store and
// exec_memory_store_dual, in
// prx-memory-mcp/src/server.rs.
package write

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openprx/prx-memory/pkg/embed"
	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/maintenance"
	"github.com/openprx/prx-memory/pkg/memtypes"
	"github.com/openprx/prx-memory/pkg/recall"
	"github.com/openprx/prx-memory/pkg/scope"
	"github.com/openprx/prx-memory/pkg/store"
)

// LayerRequest is one layer of a store operation: a single call produces
// one MemoryEntry. memory_store issues one LayerRequest; memory_store_dual
// issues two (fact then principle).
type LayerRequest struct {
	Text                string
	Category            memtypes.Category
	Scope               string
	Importance          float64
	ImportanceLevel     memtypes.ImportanceLevel
	Tags                []string
	Governed            bool
	UseVector           bool
	EnforceVerify       bool
	AllowAutoMaintenance bool
}

// LayerOutcome is the result of storing one layer.
type LayerOutcome struct {
	Entry           memtypes.MemoryEntry
	AutoMaintenance *maintenance.Report
}

const maintenanceTriggerEvery = 100

// Pipeline composes the scope manager, governance validator, storage
// backend, recall engine and embedding runtime into the single write
// gate. One Pipeline is shared across all write requests for a process;
// its mutex serializes storage access the way a
// `Mutex<dyn StorageBackend>` does, so every dedup/ratio/verify read sees
// a consistent snapshot relative to the append it guards.
type Pipeline struct {
	mu sync.Mutex

	agentID  string
	scopes   *scope.Manager
	backend  store.Backend
	embedder *embed.Runtime

	autoStoreCounter int
}

// NewPipeline builds a Pipeline. embedder may be nil when use_vector is
// never requested; a LayerRequest with UseVector=true against a nil
// embedder fails with a config error.
func NewPipeline(agentID string, scopes *scope.Manager, backend store.Backend, embedder *embed.Runtime) *Pipeline {
	return &Pipeline{agentID: agentID, scopes: scopes, backend: backend, embedder: embedder}
}

// StoreOne runs req through the full gate and appends a single layer.
func (p *Pipeline) StoreOne(ctx context.Context, req LayerRequest) (LayerOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storeLayerLocked(ctx, req)
}

// StoreDual runs two layers — a fact then a decision/principle — as one
// atomic unit: if the second layer fails after the first succeeded, the
// first is rolled back via ForgetByID and the whole call fails. Both
// layers force post-write verification regardless of req.EnforceVerify,
// matching store_layer_with_rules's dual-layer callers (enforce_verify:
// true in both branches of exec_memory_store_dual).
func (p *Pipeline) StoreDual(ctx context.Context, fact, principle LayerRequest) (factOut, principleOut LayerOutcome, err error) {
	fact.EnforceVerify = true
	principle.EnforceVerify = true

	p.mu.Lock()
	defer p.mu.Unlock()

	factOut, err = p.storeLayerLocked(ctx, fact)
	if err != nil {
		return LayerOutcome{}, LayerOutcome{}, fmt.Errorf("fact layer store failed: %w", err)
	}

	principleOut, err = p.storeLayerLocked(ctx, principle)
	if err != nil {
		if _, rbErr := p.backend.ForgetByID(ctx, factOut.Entry.ID); rbErr != nil {
			return factOut, LayerOutcome{}, fmt.Errorf("principle layer store failed (%w), and rollback of fact layer also failed: %v", err, rbErr)
		}
		return factOut, LayerOutcome{}, fmt.Errorf("principle layer store failed, rolled back fact layer: %w", err)
	}
	return factOut, principleOut, nil
}

// storeLayerLocked must be called with p.mu held.
func (p *Pipeline) storeLayerLocked(ctx context.Context, req LayerRequest) (LayerOutcome, error) {
	if !p.scopes.CanAccessScope(p.agentID, req.Scope) {
		return LayerOutcome{}, fmt.Errorf("scope access denied: %s", req.Scope)
	}
	if err := p.scopes.ValidateScopeWrite(p.agentID, req.Scope, req.Tags); err != nil {
		return LayerOutcome{}, err
	}
	if req.Governed {
		if err := governance.ValidateInput(req.Text, req.Category, req.Tags, req.ImportanceLevel); err != nil {
			return LayerOutcome{}, err
		}
		if err := p.checkDuplicateGate(ctx, req); err != nil {
			return LayerOutcome{}, err
		}
		if req.Category == memtypes.CategoryDecision {
			if err := p.checkDecisionRatioGate(ctx, req.Scope); err != nil {
				return LayerOutcome{}, err
			}
		}
	}

	var embedding []float32
	if req.UseVector {
		if p.embedder == nil {
			return LayerOutcome{}, fmt.Errorf("use_vector requested but no embedding provider is configured")
		}
		vec, err := p.embedder.EmbedOne(ctx, req.Text, embed.TaskRetrievalPassage)
		if err != nil {
			return LayerOutcome{}, fmt.Errorf("embedding failed: %w", err)
		}
		embedding = vec
	}

	entry, err := p.backend.Store(ctx, memtypes.MemoryEntry{
		Text:       req.Text,
		Category:   req.Category,
		Scope:      req.Scope,
		Importance: req.Importance,
		Tags:       req.Tags,
		Embedding:  embedding,
	})
	if err != nil {
		return LayerOutcome{}, err
	}

	if req.EnforceVerify || (req.Governed && req.ImportanceLevel == memtypes.ImportanceCritical) {
		if err := p.verifyWrite(ctx, entry); err != nil {
			if _, rbErr := p.backend.ForgetByID(ctx, entry.ID); rbErr != nil {
				return LayerOutcome{}, fmt.Errorf("%w, and rollback also failed: %v", err, rbErr)
			}
			return LayerOutcome{}, err
		}
	}

	p.autoStoreCounter++
	var report *maintenance.Report
	if req.AllowAutoMaintenance && p.autoStoreCounter%maintenanceTriggerEvery == 0 {
		r, mErr := maintenance.Run(ctx, p.backend, maintenanceTriggerEvery)
		if mErr != nil {
			return LayerOutcome{}, fmt.Errorf("auto maintenance failed: %w", mErr)
		}
		report = &r
	}

	return LayerOutcome{Entry: entry, AutoMaintenance: report}, nil
}

func (p *Pipeline) checkDuplicateGate(ctx context.Context, req LayerRequest) error {
	candidates, err := p.backend.List(ctx, store.Filter{Scope: req.Scope, Category: req.Category}, 0)
	if err != nil {
		return err
	}
	results := recall.Recall(recall.Query{
		Text:     governance.PreDedupQuery(req.Text),
		Scope:    req.Scope,
		Category: req.Category,
		Limit:    3,
	}, candidates, time.Now())
	if len(results) > 0 && results[0].Score > governance.DuplicateScoreThreshold {
		return governance.DuplicateLikelyError()
	}
	return nil
}

func (p *Pipeline) checkDecisionRatioGate(ctx context.Context, targetScope string) error {
	rows, err := p.backend.List(ctx, store.Filter{Scope: targetScope}, 0)
	if err != nil {
		return err
	}
	total := len(rows)
	decisions := 0
	for _, e := range rows {
		if e.Category == memtypes.CategoryDecision {
			decisions++
		}
	}
	// The candidate write itself counts toward the ratio it would create.
	if governance.DecisionRatioExceeds(decisions+1, total+1) {
		return governance.DecisionRatioError()
	}
	return nil
}

func (p *Pipeline) verifyWrite(ctx context.Context, entry memtypes.MemoryEntry) error {
	candidates, err := p.backend.List(ctx, store.Filter{Scope: entry.Scope, Category: entry.Category}, 0)
	if err != nil {
		return err
	}
	results := recall.Recall(recall.Query{
		Text:     governance.CompactQuery(entry.Text, 8),
		Scope:    entry.Scope,
		Category: entry.Category,
		Limit:    5,
	}, candidates, time.Now())
	for _, r := range results {
		if r.Entry.ID == entry.ID {
			return nil
		}
	}
	return fmt.Errorf("post-store recall verification failed for entry %s", entry.ID)
}

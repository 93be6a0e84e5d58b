package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openprx/prx-memory/pkg/embed"
	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/maintenance"
	"github.com/openprx/prx-memory/pkg/memtypes"
	"github.com/openprx/prx-memory/pkg/store"
)

type importEntry struct {
	Text       string   `json:"text"`
	Category   string   `json:"category"`
	Scope      string   `json:"scope"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags"`
}

type bulkImportArgs struct {
	Governed       *bool `json:"governed"`
	UseVector      *bool `json:"use_vector"`
	SkipDuplicates *bool `json:"skip_duplicates"`
}

// importEntries runs every entry through the write pipeline, tolerating
// and counting individual failures rather than aborting the batch — the
// pre-dedup gate rejecting an entry with skip_duplicates set is treated
// as "skipped", not an error, matching exec_memory_import/migrate's
// skip_duplicates semantics in server.rs.
func (d *Dispatcher) importEntries(ctx context.Context, entries []importEntry, opts bulkImportArgs) (stored []memtypes.MemoryEntry, skipped, failed int, errs []string) {
	governed := boolOr(opts.Governed, true)
	useVector := boolOr(opts.UseVector, false)
	skipDuplicates := boolOr(opts.SkipDuplicates, true)

	for _, e := range entries {
		category := e.Category
		if category == "" {
			category = "fact"
		}
		req, err := d.buildLayerRequest(e.Text, category, e.Scope, &e.Importance, "", governed, useVector, e.Tags, "", "", "")
		if err != nil {
			failed++
			errs = append(errs, err.Error())
			continue
		}
		outcome, err := d.Pipeline.StoreOne(ctx, req)
		if err != nil {
			if skipDuplicates && isDuplicateRejection(err) {
				skipped++
				continue
			}
			failed++
			errs = append(errs, err.Error())
			continue
		}
		stored = append(stored, outcome.Entry)
	}
	return stored, skipped, failed, errs
}

func isDuplicateRejection(err error) bool {
	var rejectErr *governance.RejectError
	return errors.As(err, &rejectErr) && rejectErr.Reason == governance.ReasonDuplicateLikely
}

func (d *Dispatcher) execMemoryImport(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args struct {
		Entries []importEntry `json:"entries"`
		bulkImportArgs
	}
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if len(args.Entries) == 0 {
		return ErrorResponse(id, CodeInvalidParams, "entries must not be empty")
	}
	stored, skipped, failed, errs := d.importEntries(ctx, args.Entries, args.bulkImportArgs)
	return Success(id, textResult(map[string]any{
		"stored_count":  len(stored),
		"skipped_count": skipped,
		"failed_count":  failed,
		"errors":        errs,
	}, fmt.Sprintf("imported %d entries (%d skipped, %d failed)", len(stored), skipped, failed)))
}

type memoryMigrateArgs struct {
	SourcePath string `json:"source_path"`
	bulkImportArgs
}

// execMemoryMigrate is intentionally unimplemented as a filesystem
// operation: memory_export no longer writes to a server-local path (see
// tools_manage.go), so there is nothing under source_path for this
// network-facing server to read either. Agents migrating data should
// round-trip through memory_export's inline payload and memory_import.
func (d *Dispatcher) execMemoryMigrate(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args memoryMigrateArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	return ErrorResponse(id, CodeInvalidParams, "memory_migrate reads from a server-local path, which this deployment does not expose; use memory_export followed by memory_import instead")
}

type memoryReembedArgs struct {
	Scope    string `json:"scope"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
}

// execMemoryReembed recomputes embeddings for entries missing a vector,
// writing each back via Backend.Replace so identity and timestamp are
// preserved. Grounded on exec_memory_reembed in server.rs.
func (d *Dispatcher) execMemoryReembed(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args memoryReembedArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if d.Embedder == nil {
		return ErrorResponse(id, CodeProviderError, "no embedding provider configured")
	}
	var category memtypes.Category
	if args.Category != "" {
		c, err := memtypes.ParseCategory(args.Category)
		if err != nil {
			return ErrorResponse(id, CodeInvalidParams, err.Error())
		}
		category = c
	}
	rows, err := d.Backend.List(ctx, store.Filter{Scope: args.Scope, Category: category}, args.Limit)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}

	updated := 0
	var errs []string
	for _, e := range rows {
		if len(e.Embedding) > 0 {
			continue
		}
		vec, err := d.Embedder.EmbedOne(ctx, e.Text, embed.TaskRetrievalPassage)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", e.ID, err))
			continue
		}
		e.Embedding = vec
		if err := d.Backend.Replace(ctx, e); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", e.ID, err))
			continue
		}
		updated++
	}
	return Success(id, textResult(map[string]any{
		"updated_count": updated,
		"errors":        errs,
	}, fmt.Sprintf("re-embedded %d entries", updated)))
}

type memoryCompactArgs struct {
	Scope    string `json:"scope"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
	DryRun   *bool  `json:"dry_run"`
}

// execMemoryCompact runs the same maintenance pass the write pipeline
// triggers automatically every 100 governed writes, on demand. dry_run
// is accepted for API parity with memory_compact's signature, but
// maintenance has no non-mutating mode to preview: dry_run support
// upstream only short-circuits before calling the mutating
// pass, which this handler does identically rather than attempting to
// fake a preview.
func (d *Dispatcher) execMemoryCompact(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args memoryCompactArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if boolOr(args.DryRun, false) {
		return Success(id, textResult(map[string]any{"skipped": true}, "dry_run requested, no maintenance pass performed"))
	}
	report, err := maintenance.Run(ctx, d.Backend, 0)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}
	return Success(id, textResult(report, fmt.Sprintf("maintenance pass: merged %d groups, rebalanced %d decisions", report.MergedGroups, report.RebalanceDeleted)))
}

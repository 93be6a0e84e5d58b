package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/memtypes"
	"github.com/openprx/prx-memory/pkg/write"
)

type memoryStoreArgs struct {
	Text             string   `json:"text"`
	Category         string   `json:"category"`
	Scope            string   `json:"scope"`
	Importance       *float64 `json:"importance"`
	ImportanceLevel  string   `json:"importance_level"`
	Governed         *bool    `json:"governed"`
	UseVector        *bool    `json:"use_vector"`
	Tags             []string `json:"tags"`
	ProjectTag       string   `json:"project_tag"`
	ToolTag          string   `json:"tool_tag"`
	DomainTag        string   `json:"domain_tag"`
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

// buildLayerRequest resolves category, importance and tags for one layer,
// mirroring store_layer_with_rules's argument resolution.
func (d *Dispatcher) buildLayerRequest(text, categoryRaw, scopeRaw string, importance *float64, levelRaw string, governed, useVector bool, tags []string, projectTag, toolTag, domainTag string) (write.LayerRequest, error) {
	category := memtypes.CategoryFact
	if categoryRaw != "" {
		c, err := memtypes.ParseCategory(categoryRaw)
		if err != nil {
			return write.LayerRequest{}, err
		}
		category = c
	}

	targetScope := scopeRaw
	if targetScope == "" {
		targetScope = d.Scopes.ResolveDefaultScope(d.AgentID)
	}

	var level *memtypes.ImportanceLevel
	if levelRaw != "" {
		l := memtypes.ImportanceLevel(levelRaw)
		level = &l
	}
	resolved, err := governance.ResolveImportance(level, importance)
	if err != nil {
		return write.LayerRequest{}, err
	}
	effectiveLevel := memtypes.ImportanceMedium
	if l, ok := memtypes.ImportanceValueToLevel(resolved); ok {
		effectiveLevel = l
	}

	extra := tags
	for _, kv := range []struct{ prefix, value string }{
		{"project:", projectTag}, {"tool:", toolTag}, {"domain:", domainTag},
	} {
		if kv.value != "" {
			extra = append(extra, kv.prefix+kv.value)
		}
	}
	normalized := d.Governance.NormalizeTagsWithDefaults(extra)

	return write.LayerRequest{
		Text:                 text,
		Category:             category,
		Scope:                targetScope,
		Importance:           resolved,
		ImportanceLevel:      effectiveLevel,
		Tags:                 normalized,
		Governed:             governed,
		UseVector:            useVector,
		AllowAutoMaintenance: true,
	}, nil
}

func (d *Dispatcher) execMemoryStore(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args memoryStoreArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if args.Text == "" {
		return ErrorResponse(id, CodeInvalidParams, "text is required")
	}

	req, err := d.buildLayerRequest(args.Text, args.Category, args.Scope, args.Importance, args.ImportanceLevel,
		boolOr(args.Governed, true), boolOr(args.UseVector, false), args.Tags, args.ProjectTag, args.ToolTag, args.DomainTag)
	if err != nil {
		return ErrorResponse(id, CodeInvalidParams, err.Error())
	}

	outcome, err := d.Pipeline.StoreOne(ctx, req)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}
	return Success(id, textResult(map[string]any{
		"entry":            outcome.Entry,
		"auto_maintenance": outcome.AutoMaintenance,
	}, fmt.Sprintf("stored entry %s in scope %s", outcome.Entry.ID, outcome.Entry.Scope)))
}

type memoryStoreDualArgs struct {
	Symptom                  string   `json:"symptom"`
	Cause                    string   `json:"cause"`
	Fix                      string   `json:"fix"`
	Prevention               string   `json:"prevention"`
	IncludePrinciple         *bool    `json:"include_principle"`
	PrincipleTag             string   `json:"principle_tag"`
	PrincipleRule            string   `json:"principle_rule"`
	Trigger                  string   `json:"trigger"`
	Action                   string   `json:"action"`
	Scope                    string   `json:"scope"`
	Tags                     []string `json:"tags"`
	ProjectTag               string   `json:"project_tag"`
	ToolTag                  string   `json:"tool_tag"`
	DomainTag                string   `json:"domain_tag"`
	Governed                 *bool    `json:"governed"`
	UseVector                *bool    `json:"use_vector"`
	TechImportanceLevel      string   `json:"tech_importance_level"`
	PrincipleImportanceLevel string   `json:"principle_importance_level"`
}

// execMemoryStoreDual composes a fact layer from symptom/cause/fix/
// prevention and, unless include_principle is false, a decision layer
// stating a reusable principle, then commits both atomically via
// Pipeline.StoreDual. Grounded on exec_memory_store_dual in server.rs.
func (d *Dispatcher) execMemoryStoreDual(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args memoryStoreDualArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	if args.Symptom == "" || args.Cause == "" || args.Fix == "" || args.Prevention == "" {
		return ErrorResponse(id, CodeInvalidParams, "symptom, cause, fix and prevention are all required")
	}

	factText := fmt.Sprintf("Pitfall: %s Cause: %s Fix: %s Prevention: %s", args.Symptom, args.Cause, args.Fix, args.Prevention)
	governed := boolOr(args.Governed, true)
	useVector := boolOr(args.UseVector, false)

	factReq, err := d.buildLayerRequest(factText, "fact", args.Scope, nil, args.TechImportanceLevel,
		governed, useVector, args.Tags, args.ProjectTag, args.ToolTag, args.DomainTag)
	if err != nil {
		return ErrorResponse(id, CodeInvalidParams, err.Error())
	}

	includePrinciple := boolOr(args.IncludePrinciple, true)
	if !includePrinciple {
		outcome, err := d.Pipeline.StoreOne(ctx, factReq)
		if err != nil {
			return ErrorResponse(id, CodeStorageError, err.Error())
		}
		return Success(id, textResult(map[string]any{"fact": outcome.Entry}, "stored fact layer only"))
	}

	rule := args.PrincipleRule
	if rule == "" {
		trigger := args.Trigger
		if trigger == "" {
			trigger = args.Cause
		}
		action := args.Action
		if action == "" {
			action = args.Fix
		}
		rule = fmt.Sprintf("when %s, %s", trigger, action)
	}
	principleTag := args.PrincipleTag
	principleText := fmt.Sprintf("Decision principle: %s", rule)
	principleTags := append([]string(nil), args.Tags...)
	if principleTag != "" {
		principleTags = append(principleTags, principleTag)
	}

	principleImportanceLevel := args.PrincipleImportanceLevel
	if principleImportanceLevel == "" {
		principleImportanceLevel = "medium"
	}
	principleReq, err := d.buildLayerRequest(principleText, "decision", args.Scope, nil, principleImportanceLevel,
		governed, useVector, principleTags, args.ProjectTag, args.ToolTag, args.DomainTag)
	if err != nil {
		return ErrorResponse(id, CodeInvalidParams, err.Error())
	}

	factOut, principleOut, err := d.Pipeline.StoreDual(ctx, factReq, principleReq)
	if err != nil {
		return ErrorResponse(id, CodeStorageError, err.Error())
	}
	return Success(id, textResult(map[string]any{
		"fact":      factOut.Entry,
		"principle": principleOut.Entry,
	}, fmt.Sprintf("stored dual-layer entry: fact %s, principle %s", factOut.Entry.ID, principleOut.Entry.ID)))
}

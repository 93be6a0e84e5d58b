package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openprx/prx-memory/pkg/embed"
	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/metrics"
	"github.com/openprx/prx-memory/pkg/scope"
	"github.com/openprx/prx-memory/pkg/store"
	"github.com/openprx/prx-memory/pkg/write"
)

const protocolVersion = "2024-11-05"

// Dispatcher routes JSON-RPC requests to method handlers and tool
// handlers, recording latency and ok/err into the metrics registry for
// every tools/call (spec §4.10).
type Dispatcher struct {
	AgentID    string
	Scopes     *scope.Manager
	Backend    store.Backend
	Pipeline   *write.Pipeline
	Embedder   *embed.Runtime
	Governance governance.Config
	Metrics    *metrics.Registry
}

// Dispatch handles one decoded Request and returns the Response to send,
// or nil for a notification (spec §6: notifications produce no response
// body; HTTP maps this to 204).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Response {
	if req.JSONRPC != "2.0" {
		if req.IsNotification() {
			return nil
		}
		return ErrorResponse(req.ID, CodeInvalidRequest, "jsonrpc version must be \"2.0\"")
	}

	switch req.Method {
	case "notifications/initialized":
		return nil
	case "initialize":
		return Success(req.ID, d.handleInitialize())
	case "ping":
		return Success(req.ID, map[string]any{})
	case "tools/list":
		return Success(req.ID, d.toolsListResult())
	case "tools/call":
		return d.handleToolsCall(ctx, req)
	case "resources/list":
		return Success(req.ID, d.resourcesListResult())
	case "resources/templates/list":
		return Success(req.ID, d.resourceTemplatesListResult())
	case "resources/read":
		return d.handleResourcesRead(req)
	default:
		if req.IsNotification() {
			return nil
		}
		return ErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (d *Dispatcher) handleInitialize() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"serverInfo":      map[string]any{"name": "prx-memoryd", "version": "0.1.0"},
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
	}
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req Request) *Response {
	var params ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return ErrorResponse(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
	}

	start := time.Now()
	handler, ok := d.toolHandlers()[params.Name]
	var resp *Response
	if !ok {
		resp = ErrorResponse(req.ID, CodeMethodNotFound, "unknown tool")
	} else {
		resp = handler(ctx, req.ID, params.Arguments)
	}
	if d.Metrics != nil {
		d.Metrics.RecordTool(params.Name, resp.Error == nil, time.Since(start))
	}
	return resp
}

type toolHandlerFunc func(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response

func (d *Dispatcher) toolHandlers() map[string]toolHandlerFunc {
	return map[string]toolHandlerFunc{
		"memory_store":          d.execMemoryStore,
		"memory_store_dual":     d.execMemoryStoreDual,
		"memory_recall":         d.execMemoryRecall,
		"memory_forget":         d.execMemoryForget,
		"memory_update":         d.execMemoryUpdate,
		"memory_list":           d.execMemoryList,
		"memory_stats":          d.execMemoryStats,
		"memory_export":         d.execMemoryExport,
		"memory_import":         d.execMemoryImport,
		"memory_migrate":        d.execMemoryMigrate,
		"memory_reembed":        d.execMemoryReembed,
		"memory_compact":        d.execMemoryCompact,
		"memory_skill_manifest": d.execMemorySkillManifest,
	}
}

func decodeArgs(arguments json.RawMessage, dest any) error {
	if len(arguments) == 0 {
		return nil
	}
	return json.Unmarshal(arguments, dest)
}

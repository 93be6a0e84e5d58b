package rpc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/metrics"
	"github.com/openprx/prx-memory/pkg/scope"
	"github.com/openprx/prx-memory/pkg/store"
	"github.com/openprx/prx-memory/pkg/write"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.json")
	backend, err := store.OpenFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	scopes := scope.NewManager("alpha", "agent:alpha", []string{"global", "agent:alpha"}, nil)
	pipeline := write.NewPipeline("alpha", scopes, backend, nil)
	return &Dispatcher{
		AgentID:    "alpha",
		Scopes:     scopes,
		Backend:    backend,
		Pipeline:   pipeline,
		Governance: governance.DefaultConfig(),
		Metrics:    metrics.NewRegistry(metrics.DefaultThresholds(), metrics.DefaultCardinalityLimits()),
	}
}

func rawID(n int) json.RawMessage { return json.RawMessage(`1`) }

func TestDispatchRejectsWrongJSONRPCVersion(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "1.0", ID: rawID(1), Method: "ping"})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestDispatchNotificationWithWrongVersionReturnsNil(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "1.0", Method: "ping"})
	assert.Nil(t, resp)
}

func TestDispatchInitializedNotificationReturnsNil(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	assert.Nil(t, resp)
}

func TestDispatchPingReturnsEmptyResult(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "ping"})
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
}

func TestDispatchInitializeReportsProtocolVersion(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "initialize"})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, protocolVersion, result["protocolVersion"])
}

func TestDispatchUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "bogus/method"})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchUnknownMethodNotificationReturnsNil(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "bogus/method"})
	assert.Nil(t, resp)
}

func TestDispatchToolsCallUnknownToolReturnsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	params, err := json.Marshal(ToolsCallParams{Name: "no_such_tool"})
	require.NoError(t, err)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: params})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchToolsCallInvalidParamsReturnsInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: json.RawMessage(`not json`)})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchMemoryStoreRequiresText(t *testing.T) {
	d := newTestDispatcher(t)
	args, err := json.Marshal(map[string]any{})
	require.NoError(t, err)
	params, err := json.Marshal(ToolsCallParams{Name: "memory_store", Arguments: args})
	require.NoError(t, err)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: params})
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchMemoryStoreUngovernedSucceeds(t *testing.T) {
	d := newTestDispatcher(t)
	args, err := json.Marshal(map[string]any{
		"text": "a plain note about the release", "scope": "global", "governed": false,
	})
	require.NoError(t, err)
	params, err := json.Marshal(ToolsCallParams{Name: "memory_store", Arguments: args})
	require.NoError(t, err)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/call", Params: params})
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
}

func TestDispatchToolsListIncludesMemoryStore(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "tools/list"})
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "memory_store")
}

func TestRequestIsNotification(t *testing.T) {
	assert.True(t, Request{}.IsNotification())
	assert.True(t, Request{ID: json.RawMessage("null")}.IsNotification())
	assert.False(t, Request{ID: json.RawMessage("1")}.IsNotification())
}

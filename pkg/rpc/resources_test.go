package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderResourceSkillManifest(t *testing.T) {
	rendered, ok := renderResource("prx://skill/manifest")
	require.True(t, ok)
	assert.Equal(t, "application/json", rendered.mimeType)
	assert.Contains(t, rendered.text, skillID)
}

func TestRenderResourceMemoryStoreTemplate(t *testing.T) {
	rendered, ok := renderResource("prx://templates/memory-store?category=decision")
	require.True(t, ok)
	assert.Contains(t, rendered.text, "memory_store")
	assert.Contains(t, rendered.text, "decision")
}

func TestRenderResourceMemoryStoreDualTemplate(t *testing.T) {
	rendered, ok := renderResource("prx://templates/memory-store-dual?symptom=timeout")
	require.True(t, ok)
	assert.Contains(t, rendered.text, "memory_store_dual")
	assert.Contains(t, rendered.text, "timeout")
}

func TestRenderResourceUnknownURIFails(t *testing.T) {
	_, ok := renderResource("prx://nope")
	assert.False(t, ok)
}

func TestDispatchResourcesReadUnknownURI(t *testing.T) {
	d := newTestDispatcher(t)
	params, err := json.Marshal(map[string]any{"uri": "prx://nope"})
	require.NoError(t, err)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "resources/read", Params: params})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchResourcesReadManifest(t *testing.T) {
	d := newTestDispatcher(t)
	params, err := json.Marshal(map[string]any{"uri": "prx://skill/manifest"})
	require.NoError(t, err)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "resources/read", Params: params})
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), skillID)
}

func TestDispatchResourcesListIncludesManifest(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", ID: rawID(1), Method: "resources/list"})
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "prx://skill/manifest")
}

func TestExecMemorySkillManifestWithoutContent(t *testing.T) {
	d := newTestDispatcher(t)
	resp := callTool(t, d, "memory_skill_manifest", json.RawMessage(`{}`))
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), skillID)
}

func TestExecMemorySkillManifestWithContent(t *testing.T) {
	d := newTestDispatcher(t)
	resp := callTool(t, d, "memory_skill_manifest", json.RawMessage(`{"include_content":true}`))
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "prx://skill/manifest")
}

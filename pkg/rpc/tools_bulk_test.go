package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecMemoryImportRequiresEntries(t *testing.T) {
	d := newTestDispatcher(t)
	resp := callTool(t, d, "memory_import", json.RawMessage(`{"entries":[]}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestExecMemoryImportStoresUngovernedEntries(t *testing.T) {
	d := newTestDispatcher(t)
	args, err := json.Marshal(map[string]any{
		"governed": false,
		"entries": []map[string]any{
			{"text": "imported note one", "category": "fact", "scope": "global"},
			{"text": "imported note two", "category": "fact", "scope": "global"},
		},
	})
	require.NoError(t, err)
	resp := callTool(t, d, "memory_import", args)
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var decoded struct {
		StructuredContent struct {
			StoredCount int `json:"stored_count"`
			FailedCount int `json:"failed_count"`
		} `json:"structuredContent"`
	}
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, 2, decoded.StructuredContent.StoredCount)
	assert.Equal(t, 0, decoded.StructuredContent.FailedCount)

	rows := listScope(t, d, "global")
	assert.Len(t, rows, 2)
}

func TestExecMemoryImportSkipsDuplicatesWhenGoverned(t *testing.T) {
	d := newTestDispatcher(t)
	fact := "pitfall: dup import cause: retry storm fix: add backoff prevention: load test"
	args, err := json.Marshal(map[string]any{
		"governed": true,
		"entries": []map[string]any{
			{"text": fact, "category": "fact", "scope": "global"},
			{"text": fact, "category": "fact", "scope": "global"},
		},
	})
	require.NoError(t, err)
	resp := callTool(t, d, "memory_import", args)
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var decoded struct {
		StructuredContent struct {
			StoredCount  int `json:"stored_count"`
			SkippedCount int `json:"skipped_count"`
		} `json:"structuredContent"`
	}
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, 1, decoded.StructuredContent.StoredCount)
	assert.Equal(t, 1, decoded.StructuredContent.SkippedCount)
}

func TestExecMemoryMigrateIsUnsupported(t *testing.T) {
	d := newTestDispatcher(t)
	resp := callTool(t, d, "memory_migrate", json.RawMessage(`{"source_path":"/tmp/whatever.json"}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestExecMemoryReembedRequiresEmbedder(t *testing.T) {
	d := newTestDispatcher(t)
	resp := callTool(t, d, "memory_reembed", json.RawMessage(`{}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeProviderError, resp.Error.Code)
}

func TestExecMemoryCompactDryRunSkipsMaintenance(t *testing.T) {
	d := newTestDispatcher(t)
	resp := callTool(t, d, "memory_compact", json.RawMessage(`{"dry_run":true}`))
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"skipped":true`)
}

func TestExecMemoryCompactRunsMaintenancePass(t *testing.T) {
	d := newTestDispatcher(t)
	resp := callTool(t, d, "memory_compact", json.RawMessage(`{}`))
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), "merged")
}

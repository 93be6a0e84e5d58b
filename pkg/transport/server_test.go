package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprx/prx-memory/pkg/governance"
	"github.com/openprx/prx-memory/pkg/metrics"
	"github.com/openprx/prx-memory/pkg/rpc"
	"github.com/openprx/prx-memory/pkg/scope"
	"github.com/openprx/prx-memory/pkg/store"
	"github.com/openprx/prx-memory/pkg/stream"
	"github.com/openprx/prx-memory/pkg/write"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.json")
	backend, err := store.OpenFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	scopes := scope.NewManager("alpha", "agent:alpha", []string{"global", "agent:alpha"}, nil)
	pipeline := write.NewPipeline("alpha", scopes, backend, nil)
	dispatcher := &rpc.Dispatcher{
		AgentID:    "alpha",
		Scopes:     scopes,
		Backend:    backend,
		Pipeline:   pipeline,
		Governance: governance.DefaultConfig(),
		Metrics:    metrics.NewRegistry(metrics.DefaultThresholds(), metrics.DefaultCardinalityLimits()),
	}
	sessions := stream.NewManager(time.Minute)
	return NewServer(dispatcher, sessions)
}

func doRequest(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthHandlerReportsOK(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["version"], "prx-memoryd")
}

func TestMcpHandlerDispatchesPing(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "ping"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp rpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestMcpHandlerNotificationReturns204(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMcpHandlerInvalidJSONReturns400(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLifecycleStartRenewStream(t *testing.T) {
	s := newTestServer(t)

	startRec := doRequest(t, s, http.MethodPost, "/mcp/session/start", nil)
	require.Equal(t, http.StatusOK, startRec.Code)
	var start map[string]any
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &start))
	sessionID, ok := start["session_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, sessionID)

	renewRec := doRequest(t, s, http.MethodPost, "/mcp/session/renew?session="+sessionID, nil)
	assert.Equal(t, http.StatusOK, renewRec.Code)

	appendRec := doRequest(t, s, http.MethodPost, "/mcp/stream?session="+sessionID, map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "ping",
	})
	assert.Equal(t, http.StatusAccepted, appendRec.Code)

	streamRec := doRequest(t, s, http.MethodGet, "/mcp/stream?session="+sessionID, nil)
	assert.Equal(t, http.StatusOK, streamRec.Code)
	var page map[string]any
	require.NoError(t, json.Unmarshal(streamRec.Body.Bytes(), &page))
	events, ok := page["events"].([]any)
	require.True(t, ok)
	assert.Len(t, events, 1)
}

func TestSessionRenewUnknownSessionReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/mcp/session/renew?session=does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionRenewMissingQueryParamReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/mcp/session/renew", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamMissingSessionReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/mcp/stream", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsSummaryHandlerReportsActiveSessions(t *testing.T) {
	s := newTestServer(t)
	_ = doRequest(t, s, http.MethodPost, "/mcp/session/start", nil)

	rec := doRequest(t, s, http.MethodGet, "/metrics/summary", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
}

func TestMetricsHandlerServesPrometheusExposition(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prx_memory")
}

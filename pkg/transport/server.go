// Package transport implements the HTTP surface of spec §6: JSON-RPC over
// POST /mcp, session lifecycle endpoints, a dual-mode (JSON-page or SSE
// long-poll) event stream, and operational endpoints (/health, /metrics,
// /metrics/summary). Grounded on pkg/api/server.go's Echo v5 setup in the
// handle_http_connection/dispatch_http_request/
// handle_http_stream_sse/serve_http in
// prx-memory-mcp/src/server.rs.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openprx/prx-memory/pkg/rpc"
	"github.com/openprx/prx-memory/pkg/stream"
	"github.com/openprx/prx-memory/pkg/version"
)

// Server is the HTTP API server for the memory service.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	dispatcher *rpc.Dispatcher
	sessions   *stream.Manager
}

// NewServer wires routes against dispatcher and sessions, mirroring the
// teacher's NewServer-then-setupRoutes split.
func NewServer(dispatcher *rpc.Dispatcher, sessions *stream.Manager) *Server {
	e := echo.New()
	s := &Server{echo: e, dispatcher: dispatcher, sessions: sessions}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", s.metricsHandler())
	s.echo.GET("/metrics/summary", s.metricsSummaryHandler)

	s.echo.POST("/mcp", s.mcpHandler)
	s.echo.POST("/mcp/session/start", s.sessionStartHandler)
	s.echo.POST("/mcp/session/renew", s.sessionRenewHandler)
	s.echo.GET("/mcp/stream", s.streamHandler)
	s.echo.POST("/mcp/stream", s.streamAppendHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// used by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Full(),
	})
}

func (s *Server) metricsHandler() func(c *echo.Context) error {
	if s.dispatcher.Metrics == nil {
		return func(c *echo.Context) error {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "metrics not configured"})
		}
	}
	handler := promhttp.HandlerFor(s.dispatcher.Metrics.Registerer(), promhttp.HandlerOpts{})
	return echo.WrapHandler(handler)
}

func (s *Server) metricsSummaryHandler(c *echo.Context) error {
	if s.dispatcher.Metrics == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "metrics not configured"})
	}
	active := 0
	if s.sessions != nil {
		active = s.sessions.ActiveCount()
	}
	summary := s.dispatcher.Metrics.Summarize(active, s.dispatcher.Metrics.SessionCounterSnapshot())
	return c.JSON(http.StatusOK, summary)
}

// mcpHandler handles POST /mcp: one JSON-RPC request per call, mirroring
// dispatch_http_request upstream. A notification (no id) returns
// 204 with no body.
func (s *Server) mcpHandler(c *echo.Context) error {
	var req rpc.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, rpc.ErrorResponse(nil, rpc.CodeParseError, "invalid json: "+err.Error()))
	}
	resp := s.dispatcher.Dispatch(c.Request().Context(), req)
	if resp == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) sessionStartHandler(c *echo.Context) error {
	id, leaseExpiresMs := s.sessions.CreateSession()
	if s.dispatcher.Metrics != nil {
		s.dispatcher.Metrics.RecordSessionCreated()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id":       id,
		"lease_ttl_ms":     s.sessions.LeaseTTLMs(),
		"lease_expires_ms": leaseExpiresMs,
	})
}

func (s *Server) sessionRenewHandler(c *echo.Context) error {
	sessionID := c.Request().URL.Query().Get("session")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_request", "message": "missing query param: session"})
	}
	leaseExpiresMs, err := s.sessions.RenewLease(sessionID)
	if err != nil {
		if s.dispatcher.Metrics != nil {
			s.dispatcher.Metrics.RecordSessionAccessError(accessErrorKind(err))
		}
		return writeSessionError(c, err)
	}
	if s.dispatcher.Metrics != nil {
		s.dispatcher.Metrics.RecordSessionRenewed()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id":       sessionID,
		"lease_ttl_ms":     s.sessions.LeaseTTLMs(),
		"lease_expires_ms": leaseExpiresMs,
	})
}

// streamAppendHandler handles POST /mcp/stream?session=<id>: dispatch one
// JSON-RPC request and enqueue its response as a session event, mirroring
// the POST /mcp/stream branch of dispatch_http_request.
// Unlike GET /mcp/stream, the session id travels as a query param and the
// body is a full JSON-RPC request, not session-lifecycle JSON.
func (s *Server) streamAppendHandler(c *echo.Context) error {
	sessionID := c.Request().URL.Query().Get("session")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_request", "message": "missing query param: session"})
	}
	var req rpc.Request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, rpc.ErrorResponse(nil, rpc.CodeParseError, "parse error: "+err.Error()))
	}
	resp := s.dispatcher.Dispatch(c.Request().Context(), req)
	var payload any
	if resp == nil {
		payload = map[string]any{"jsonrpc": "2.0", "id": nil, "result": nil}
	} else {
		payload = resp
	}
	seq, leaseExpiresMs, err := s.sessions.AppendEvent(sessionID, payload)
	if err != nil {
		if s.dispatcher.Metrics != nil {
			s.dispatcher.Metrics.RecordSessionAccessError(accessErrorKind(err))
		}
		return writeSessionError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"accepted":         true,
		"session_id":       sessionID,
		"seq":              seq,
		"lease_expires_ms": leaseExpiresMs,
	})
}

func writeSessionError(c *echo.Context, err error) error {
	as, ok := err.(*stream.AccessError)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session_internal_error", "message": err.Error()})
	}
	switch as.Kind {
	case stream.AccessNotFound:
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session_not_found", "message": "unknown session id"})
	case stream.AccessExpired:
		return c.JSON(http.StatusGone, map[string]string{"error": "session_expired", "message": "session lease expired"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session_internal_error", "message": "session lock poisoned"})
	}
}

// streamHandler handles GET /mcp/stream in two modes: a JSON page
// response (default) or a bounded SSE long-poll when ?mode=sse or an
// Accept: text/event-stream header is present, mirroring
// is_sse_stream_request/handle_http_stream_sse.
func (s *Server) streamHandler(c *echo.Context) error {
	req := c.Request()
	q := req.URL.Query()
	sessionID := q.Get("session")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid_request", "message": "missing query param: session"})
	}
	from := parseUintParam(q.Get("from"), 1)
	limit := clampInt(parseIntParam(q.Get("limit"), 50), 1, 500)
	var ack *uint64
	if v, err := strconv.ParseUint(q.Get("ack"), 10, 64); err == nil {
		ack = &v
	}

	if isSSERequest(req) {
		waitMs := clampInt(parseIntParam(q.Get("wait_ms"), 15000), 0, 60000)
		heartbeatMs := clampInt(parseIntParam(q.Get("heartbeat_ms"), 3000), 100, 10000)
		return s.streamSSE(c, sessionID, from, limit, ack, waitMs, heartbeatMs)
	}
	return s.streamPage(c, sessionID, from, limit, ack)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isSSERequest(req *http.Request) bool {
	if req.URL.Query().Get("mode") == "sse" {
		return true
	}
	accept := req.Header.Get("Accept")
	return containsEventStream(accept)
}

func containsEventStream(accept string) bool {
	const marker = "text/event-stream"
	for i := 0; i+len(marker) <= len(accept); i++ {
		if accept[i:i+len(marker)] == marker {
			return true
		}
	}
	return false
}

func (s *Server) streamPage(c *echo.Context, sessionID string, from uint64, limit int, ack *uint64) error {
	page, err := s.sessions.CollectEvents(sessionID, from, limit, ack)
	if err != nil {
		if s.dispatcher.Metrics != nil {
			s.dispatcher.Metrics.RecordSessionAccessError(accessErrorKind(err))
		}
		return writeSessionError(c, err)
	}
	return c.JSON(http.StatusOK, pagePayload(page))
}

// streamSSE runs one bounded long-poll: it returns the events already
// available immediately, then polls for up to waitMs more, sending a
// keep-alive comment every heartbeatMs of silence, and always finishes
// with a "cursor" event before closing the connection: no SSE connection
// stays open indefinitely here, so this doesn't
// either. Grounded on handle_http_stream_sse in server.rs.
func (s *Server) streamSSE(c *echo.Context, sessionID string, from uint64, limit int, ack *uint64, waitMs, heartbeatMs int) error {
	page, err := s.sessions.CollectEvents(sessionID, from, limit, ack)
	if err != nil {
		if s.dispatcher.Metrics != nil {
			s.dispatcher.Metrics.RecordSessionAccessError(accessErrorKind(err))
		}
		return writeSessionError(c, err)
	}

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "close")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	flusher, canFlush := res.Writer.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	writeSSEEvents(res.Writer, page.Events)
	flush()

	deadline := time.Now().Add(time.Duration(waitMs) * time.Millisecond)
	remaining := limit - len(page.Events)
	nextFrom := page.NextFrom
	lastHeartbeat := time.Now()

	for remaining > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		next, err := s.sessions.CollectEvents(sessionID, nextFrom, remaining, nil)
		if err != nil {
			if s.dispatcher.Metrics != nil {
				s.dispatcher.Metrics.RecordSessionAccessError(accessErrorKind(err))
			}
			writeSSEEvent(res.Writer, "error", map[string]string{"error": accessErrorKind(err)})
			flush()
			return nil
		}
		if len(next.Events) > 0 {
			writeSSEEvents(res.Writer, next.Events)
			flush()
			remaining -= len(next.Events)
			nextFrom = next.NextFrom
			page = next
			continue
		}
		if time.Since(lastHeartbeat) >= time.Duration(heartbeatMs)*time.Millisecond {
			fmt.Fprint(res.Writer, ": keep-alive\n\n")
			flush()
			lastHeartbeat = time.Now()
		}
	}

	writeSSEEvent(res.Writer, "cursor", map[string]any{
		"session_id":       sessionID,
		"next_from":        nextFrom,
		"effective_from":   page.EffectiveFrom,
		"ack_applied":      page.AckApplied,
		"lease_expires_ms": page.LeaseExpiresMs,
	})
	flush()
	return nil
}

func writeSSEEvents(w http.ResponseWriter, events []stream.Event) {
	for _, ev := range events {
		writeSSEEvent(w, "message", map[string]any{
			"seq":        ev.Seq,
			"created_ms": ev.CreatedMs,
			"payload":    ev.Payload,
		})
	}
}

func writeSSEEvent(w http.ResponseWriter, kind string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, body)
}

func accessErrorKind(err error) string {
	if ae, ok := err.(*stream.AccessError); ok {
		return string(ae.Kind)
	}
	return "internal"
}

func pagePayload(page stream.Page) map[string]any {
	return map[string]any{
		"events":           page.Events,
		"effective_from":   page.EffectiveFrom,
		"next_from":        page.NextFrom,
		"ack_applied":      page.AckApplied,
		"lease_expires_ms": page.LeaseExpiresMs,
	}
}

func parseUintParam(v string, fallback uint64) uint64 {
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseIntParam(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Package rpcio implements the stdio transport (spec §6): a line-reading
// loop over stdin that auto-detects either newline-delimited JSON-RPC
// frames or Content-Length-prefixed frames, and writes the response back
// in whichever framing the request used. Grounded on serve_stdio,
// is_stdio_header_line, read_stdio_content_length, and
// write_stdio_response in prx-memory-mcp/src/server.rs.
package rpcio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/openprx/prx-memory/pkg/rpc"
)

// frameKind mirrors the StdioFrame enum upstream: a request's framing
// dictates how its response is written back.
type frameKind int

const (
	frameLineDelimited frameKind = iota
	frameContentLength
)

// Handler dispatches one decoded Request to a Response, or nil for a
// notification. *rpc.Dispatcher satisfies this via its Dispatch method.
type Handler interface {
	Dispatch(ctx context.Context, req rpc.Request) *rpc.Response
}

// Serve runs the stdio read-dispatch-write loop until in hits EOF or ctx
// is canceled. It never returns an error for malformed individual
// frames — those become -32700 responses on the wire, matching
// per-frame error handling upstream.
func Serve(ctx context.Context, in io.Reader, out io.Writer, handler Handler, logger *slog.Logger) error {
	reader := bufio.NewReader(in)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil
			}
			if err != io.EOF {
				return err
			}
		}
		trimmed := strings.TrimLeft(strings.TrimRight(line, "\r\n"), " \t")
		if trimmed == "" {
			if err == io.EOF {
				return nil
			}
			continue
		}

		payload, frame, frameErr := readFrame(reader, trimmed)
		if frameErr != nil {
			writeResponse(out, rpc.ErrorResponse(nil, rpc.CodeParseError, fmt.Sprintf("invalid stdio frame: %v", frameErr)), frame, logger)
			if err == io.EOF {
				return nil
			}
			continue
		}

		var req rpc.Request
		if jsonErr := json.Unmarshal(payload, &req); jsonErr != nil {
			writeResponse(out, rpc.ErrorResponse(nil, rpc.CodeParseError, fmt.Sprintf("parse error: %v", jsonErr)), frame, logger)
			if err == io.EOF {
				return nil
			}
			continue
		}

		if resp := handler.Dispatch(ctx, req); resp != nil {
			writeResponse(out, resp, frame, logger)
		}

		if err == io.EOF {
			return nil
		}
	}
}

// readFrame returns the raw JSON body of one request, auto-detecting
// Content-Length framing from firstLine the way is_stdio_header_line
// does.
func readFrame(reader *bufio.Reader, firstLine string) ([]byte, frameKind, error) {
	if !isHeaderLine(firstLine) {
		return []byte(firstLine), frameLineDelimited, nil
	}

	contentLength, err := readContentLength(reader, firstLine)
	if err != nil {
		return nil, frameContentLength, err
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, frameContentLength, fmt.Errorf("reading frame body: %w", err)
	}
	return body, frameContentLength, nil
}

func isHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "content-length:") || strings.HasPrefix(lower, "content-type:")
}

func readContentLength(reader *bufio.Reader, firstLine string) (int, error) {
	contentLength, haveLength := parseContentLength(firstLine)
	for {
		headerLine, err := reader.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("unexpected eof while reading frame headers: %w", err)
		}
		trimmed := strings.TrimRight(headerLine, "\r\n")
		if trimmed == "" {
			break
		}
		if v, ok := parseContentLength(trimmed); ok {
			contentLength, haveLength = v, true
		}
	}
	if !haveLength {
		return 0, fmt.Errorf("missing content-length header")
	}
	return contentLength, nil
}

func parseContentLength(line string) (int, bool) {
	name, value, found := strings.Cut(line, ":")
	if !found || !strings.EqualFold(strings.TrimSpace(name), "content-length") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return n, true
}

func writeResponse(out io.Writer, resp *rpc.Response, frame frameKind, logger *slog.Logger) {
	body, err := json.Marshal(resp)
	if err != nil {
		if logger != nil {
			logger.Error("stdio response marshal failed", "error", err)
		}
		return
	}
	var writeErr error
	switch frame {
	case frameLineDelimited:
		_, writeErr = fmt.Fprintf(out, "%s\n", body)
	case frameContentLength:
		_, writeErr = fmt.Fprintf(out, "Content-Length: %d\r\n\r\n%s", len(body), body)
	}
	if writeErr != nil && logger != nil {
		logger.Error("stdio response write failed", "error", writeErr)
	}
	if f, ok := out.(flusher); ok {
		_ = f.Flush()
	}
}

type flusher interface{ Flush() error }

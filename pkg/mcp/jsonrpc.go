package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// request is a JSON-RPC 2.0 request envelope. ID 0 marks a notification and
// is omitted from the wire form.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is a JSON-RPC 2.0 response envelope.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// errNoDecodablePayload indicates the HTTP exchange succeeded but no JSON-RPC
// envelope could be extracted from the body.
var errNoDecodablePayload = errors.New("no decodable payload in response")

// decodeRPCResponse handles the transport's response duality: plain JSON
// bodies decode directly, event-stream bodies are scanned for the first
// data: line carrying a decodable JSON-RPC envelope.
func decodeRPCResponse(contentType string, body []byte) (*response, error) {
	if strings.Contains(contentType, "text/event-stream") {
		return decodeEventStream(body)
	}
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		// Some providers mislabel event streams as JSON; try the scan
		// before giving up.
		if sse, sseErr := decodeEventStream(body); sseErr == nil {
			return sse, nil
		}
		return nil, errNoDecodablePayload
	}
	return &resp, nil
}

// decodeEventStream scans an SSE body for data: lines and returns the first
// one that decodes as a JSON-RPC envelope. Undecodable lines are skipped,
// not fatal; providers interleave keepalives and partial frames.
func decodeEventStream(body []byte) (*response, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var resp response
		if err := json.Unmarshal([]byte(payload), &resp); err == nil {
			return &resp, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event stream: %w", err)
	}
	return nil, errNoDecodablePayload
}

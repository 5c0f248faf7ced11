// Package jsonrpc implements the small JSON-RPC 2.0 subset spoken by
// tool-server resources: request envelopes, response envelopes, and the
// protocol error codes the gateway synthesizes on behalf of broken origins.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version string.
const Version = "2.0"

// Protocol error codes per the JSON-RPC 2.0 specification.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Well-known tool-server methods used for request classification.
const (
	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ParseRequest decodes a request body into a Request envelope. A body that is
// not valid JSON or lacks a method is rejected.
func ParseRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("parse request: missing method")
	}
	return &req, nil
}

// ToolName extracts params.name from a tools/call request. Empty when the
// request carries no parameters or no name.
func (r *Request) ToolName() string {
	if len(r.Params) == 0 {
		return ""
	}
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(r.Params, &params); err != nil {
		return ""
	}
	return params.Name
}

// IsInvocation reports whether the request invokes an operation (billable).
// Everything else, discovery included, is free.
func (r *Request) IsInvocation() bool {
	return r.Method == MethodToolsCall
}

// ErrorResponse builds a structurally valid error envelope carrying the given
// request id, so protocol-aware callers can correlate it.
func ErrorResponse(id any, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_weather","arguments":{"city":"Lisbon"}}}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Method != MethodToolsCall {
		t.Fatalf("expected tools/call, got %s", req.Method)
	}
	if !req.IsInvocation() {
		t.Fatalf("tools/call should classify as invocation")
	}
	if got := req.ToolName(); got != "get_weather" {
		t.Fatalf("expected tool name get_weather, got %q", got)
	}
}

func TestParseRequestRejectsMalformed(t *testing.T) {
	t.Parallel()

	if _, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1}`)); err == nil {
		t.Fatalf("expected error for missing method")
	}
	if _, err := ParseRequest([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestNonInvocationMethodsAreFree(t *testing.T) {
	t.Parallel()

	for _, method := range []string{MethodToolsList, "initialize", "ping", "resources/list", "prompts/list", "notifications/initialized"} {
		req := &Request{JSONRPC: Version, Method: method}
		if req.IsInvocation() {
			t.Fatalf("method %s should not classify as invocation", method)
		}
	}
}

func TestToolNameMissingParams(t *testing.T) {
	t.Parallel()

	req := &Request{JSONRPC: Version, Method: MethodToolsCall}
	if got := req.ToolName(); got != "" {
		t.Fatalf("expected empty tool name, got %q", got)
	}
}

func TestErrorResponseShape(t *testing.T) {
	t.Parallel()

	resp := ErrorResponse(float64(7), CodeParseError, "Parse error")
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["jsonrpc"] != "2.0" {
		t.Fatalf("expected jsonrpc 2.0, got %v", decoded["jsonrpc"])
	}
	if decoded["id"] != float64(7) {
		t.Fatalf("expected id 7, got %v", decoded["id"])
	}
	errObj, ok := decoded["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %T", decoded["error"])
	}
	if errObj["code"] != float64(CodeParseError) {
		t.Fatalf("expected code %d, got %v", CodeParseError, errObj["code"])
	}
}

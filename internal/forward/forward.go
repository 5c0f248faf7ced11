// Package forward relays caller requests to a resource's origin service and
// normalizes the reply, whether it arrives as a bare JSON document or framed
// as an event stream, into a single structured payload. For tool-server
// resources a broken origin never surfaces as a transport failure: the
// forwarder synthesizes a well-formed protocol error instead.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ai402/gateway/internal/jsonrpc"
	"github.com/ai402/gateway/internal/resource"
)

// SessionHeader propagates tool-server protocol sessions through the gateway.
const SessionHeader = "Mcp-Session-Id"

const (
	defaultAccept    = "application/json, text/event-stream"
	maxResponseBytes = 4 << 20
	defaultTimeout   = 60 * time.Second
)

// ErrOriginUnreachable reports that the origin could not be reached at all.
// Tool-server resources never see it; they get a synthesized protocol error.
var ErrOriginUnreachable = fmt.Errorf("origin unreachable")

// Request carries the caller-side inputs the forwarder relays upstream.
type Request struct {
	Method string
	Body   []byte
	// Accept is the caller's Accept header; the forwarder widens it to cover
	// event-stream framing when empty.
	Accept string
	// Authorization and APIKey are caller-supplied upstream credentials,
	// passed through unless origin auth overrides the same header.
	Authorization string
	APIKey        string
	// SessionID is the caller's protocol session, if any.
	SessionID string
	// RPCID is the JSON-RPC request id, used when synthesizing protocol
	// errors for tool-server resources.
	RPCID any
}

// Reply is the normalized origin response.
type Reply struct {
	// Payload is the decoded logical reply.
	Payload any
	// SessionID is the origin-assigned session, when the origin returned one.
	SessionID string
	// Synthesized is set when the payload is a gateway-synthesized protocol
	// error rather than an origin document.
	Synthesized bool
}

// Forwarder relays requests to origin services.
type Forwarder struct {
	client *http.Client
	logger *zap.Logger
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient overrides the outbound HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) { f.client = client }
}

// New returns a Forwarder logging through the given logger.
func New(logger *zap.Logger, opts ...Option) *Forwarder {
	f := &Forwarder{
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward relays the caller's request to the resource's origin and normalizes
// the response. Only non-tool-server resources can return
// ErrOriginUnreachable; tool-server failures come back as synthesized
// protocol errors with a nil error.
func (f *Forwarder) Forward(ctx context.Context, res *resource.Resource, req *Request) (*Reply, error) {
	outbound, err := f.buildRequest(ctx, res, req)
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		f.logger.Warn("origin call failed",
			zap.String("resource", res.ID),
			zap.Error(err))
		if res.Kind == resource.KindToolServer {
			return f.synthesizeError(req.RPCID, jsonrpc.CodeInternalError,
				fmt.Sprintf("upstream unreachable: %v", err)), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrOriginUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if res.Kind == resource.KindToolServer {
			return f.synthesizeError(req.RPCID, jsonrpc.CodeInternalError,
				fmt.Sprintf("upstream read failed: %v", err)), nil
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrOriginUnreachable, err)
	}

	reply := f.normalize(res, req, raw)
	if res.Kind == resource.KindToolServer {
		reply.SessionID = resp.Header.Get(SessionHeader)
	}
	return reply, nil
}

func (f *Forwarder) buildRequest(ctx context.Context, res *resource.Resource, req *Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 && req.Method != http.MethodGet {
		body = bytes.NewReader(req.Body)
	}

	outbound, err := http.NewRequestWithContext(ctx, req.Method, res.OriginAddress, body)
	if err != nil {
		return nil, err
	}

	outbound.Header.Set("Content-Type", "application/json")
	accept := req.Accept
	if accept == "" {
		accept = defaultAccept
	}
	outbound.Header.Set("Accept", accept)

	// Caller-supplied upstream credentials pass through first; origin auth
	// overlays them afterwards so the operator's credential always wins for
	// the same header.
	if req.Authorization != "" {
		outbound.Header.Set("Authorization", req.Authorization)
	}
	if req.APIKey != "" {
		outbound.Header.Set("X-API-Key", req.APIKey)
	}
	applyOriginAuth(outbound, res.OriginAuth)

	if res.Kind == resource.KindToolServer && req.SessionID != "" {
		outbound.Header.Set(SessionHeader, req.SessionID)
	}
	return outbound, nil
}

func applyOriginAuth(req *http.Request, auth *resource.OriginAuth) {
	if auth == nil || auth.Token == "" {
		return
	}
	switch auth.Type {
	case resource.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case resource.AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Token)
	}
}

// normalize decodes the raw origin body. Event-stream framed bodies reduce to
// the last complete event's payload; bare documents parse directly. Parse
// failures synthesize a protocol error for tool-servers and fall back to a
// generic result wrapper otherwise.
func (f *Forwarder) normalize(res *resource.Resource, req *Request, raw []byte) *Reply {
	text := string(raw)

	if payload, ok := lastEventPayload(text); ok {
		return &Reply{Payload: payload}
	}

	if payload, ok := decodeJSON(bytes.TrimSpace(raw)); ok {
		return &Reply{Payload: payload}
	}

	if res.Kind == resource.KindToolServer {
		f.logger.Warn("origin reply unparsable, synthesizing protocol error",
			zap.String("resource", res.ID))
		return f.synthesizeError(req.RPCID, jsonrpc.CodeParseError,
			"upstream returned an unparsable reply")
	}
	return &Reply{Payload: map[string]any{"result": text}}
}

func (f *Forwarder) synthesizeError(id any, code int, message string) *Reply {
	return &Reply{
		Payload:     jsonrpc.ErrorResponse(id, code, message),
		Synthesized: true,
	}
}

// lastEventPayload extracts the payload of the final data-carrying event from
// an SSE-framed body. A stream may emit several events; only the last one is
// authoritative for this synchronous gateway, so a final event that does not
// decode makes the whole body unparsable rather than falling back to an
// earlier, stale event.
func lastEventPayload(text string) (any, bool) {
	if !strings.Contains(text, "data:") {
		return nil, false
	}

	var last []string
	for _, event := range strings.Split(text, "\n\n") {
		var data []string
		for _, line := range strings.Split(event, "\n") {
			line = strings.TrimRight(line, "\r")
			if rest, ok := strings.CutPrefix(line, "data:"); ok {
				data = append(data, strings.TrimPrefix(rest, " "))
			}
		}
		if len(data) > 0 {
			last = data
		}
	}
	if last == nil {
		return nil, false
	}
	return decodeJSON([]byte(strings.Join(last, "\n")))
}

func decodeJSON(raw []byte) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	switch decoded.(type) {
	case map[string]any, []any:
		return decoded, true
	}
	return nil, false
}

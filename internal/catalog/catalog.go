// Package catalog discovers the operations a tool-server resource exposes by
// asking the origin for its tool list.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ai402/gateway/internal/forward"
	"github.com/ai402/gateway/internal/jsonrpc"
	"github.com/ai402/gateway/internal/resource"
)

// Discoverer fetches operation catalogs from tool-server origins.
type Discoverer struct {
	forwarder *forward.Forwarder
	logger    *zap.Logger
}

// New returns a Discoverer calling origins through fwd.
func New(fwd *forward.Forwarder, logger *zap.Logger) *Discoverer {
	return &Discoverer{forwarder: fwd, logger: logger}
}

// Discover lists the operations the resource's origin currently advertises.
// Only tool-server resources have a catalog to discover.
func (d *Discoverer) Discover(ctx context.Context, res *resource.Resource) ([]resource.Operation, error) {
	if res.Kind != resource.KindToolServer {
		return nil, fmt.Errorf("resource %s is not a tool server", res.ID)
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": jsonrpc.Version,
		"id":      1,
		"method":  jsonrpc.MethodToolsList,
	})
	if err != nil {
		return nil, err
	}

	reply, err := d.forwarder.Forward(ctx, res, &forward.Request{
		Method: http.MethodPost,
		Body:   body,
		RPCID:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", res.ID, err)
	}
	if reply.Synthesized {
		return nil, fmt.Errorf("list tools on %s: origin did not answer the protocol", res.ID)
	}

	ops, err := parseToolList(reply.Payload)
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", res.ID, err)
	}
	d.logger.Info("discovered operations",
		zap.String("resource", res.ID),
		zap.Int("count", len(ops)))
	return ops, nil
}

func parseToolList(payload any) ([]resource.Operation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Result struct {
			Tools []resource.Operation `json:"tools"`
		} `json:"result"`
		Error *jsonrpc.Error `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected tool list shape: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("origin refused tool listing: %w", envelope.Error)
	}
	return envelope.Result.Tools, nil
}

// Package proxy is the gateway's inbound HTTP surface. The dispatcher drives
// each request through classification, pricing, payment verification,
// forwarding and settlement, then hands the accounting record to the ledger
// off the response path.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ai402/gateway/internal/catalog"
	"github.com/ai402/gateway/internal/directory"
	"github.com/ai402/gateway/internal/forward"
	"github.com/ai402/gateway/internal/gate"
	"github.com/ai402/gateway/internal/jsonrpc"
	"github.com/ai402/gateway/internal/ledger"
	"github.com/ai402/gateway/internal/pricing"
	"github.com/ai402/gateway/internal/resource"
	"github.com/ai402/gateway/internal/x402"
)

const maxRequestBytes = 2 << 20

// Server wires the dispatcher's collaborators.
type Server struct {
	dir       *directory.Directory
	pricer    *pricing.Resolver
	gate      *gate.Gate
	forwarder *forward.Forwarder
	ledger    *ledger.Ledger
	catalog   *catalog.Discoverer
	logger    *zap.Logger

	// publicBaseURL overrides the scheme://host used in challenge resource
	// locators, for deployments behind a TLS terminator.
	publicBaseURL string
}

// Option configures a Server.
type Option func(*Server)

// WithPublicBaseURL sets the externally visible base URL used in challenges.
func WithPublicBaseURL(base string) Option {
	return func(s *Server) { s.publicBaseURL = strings.TrimSuffix(base, "/") }
}

// NewServer returns a dispatcher over the given collaborators.
func NewServer(dir *directory.Directory, pricer *pricing.Resolver, g *gate.Gate, fwd *forward.Forwarder, l *ledger.Ledger, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		dir:       dir,
		pricer:    pricer,
		gate:      g,
		forwarder: fwd,
		ledger:    l,
		catalog:   catalog.New(fwd, logger),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRouter builds the Gin router with all gateway routes registered.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(s.logger), gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/resources/:resourceID/transactions", s.handleTransactions)
	r.POST("/resources/:resourceID/catalog", s.handleCatalogRefresh)
	r.Any("/proxy/:resourceID/*originPath", s.handleProxy)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleTransactions lists a resource's ledger records newest first. Request
// bodies are never stored, so none are exposed here.
func (s *Server) handleTransactions(c *gin.Context) {
	res, ok := s.findResource(c)
	if !ok {
		return
	}

	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(c, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	txs, err := s.ledger.ListByResource(res.ID, limit, (page-1)*limit)
	if err != nil {
		s.logger.Error("transaction listing failed", zap.String("resource", res.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	if txs == nil {
		txs = []*ledger.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"page":         page,
		"limit":        limit,
	})
}

// handleCatalogRefresh re-discovers a tool-server resource's operations from
// its origin and persists the updated catalog.
func (s *Server) handleCatalogRefresh(c *gin.Context) {
	res, ok := s.findResource(c)
	if !ok {
		return
	}
	if res.Kind != resource.KindToolServer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource has no operation catalog"})
		return
	}

	ops, err := s.catalog.Discover(c.Request.Context(), res)
	if err != nil {
		s.logger.Warn("catalog discovery failed",
			zap.String("resource", res.ID),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "origin did not answer tool discovery"})
		return
	}

	res.OperationCatalog = ops
	if err := s.dir.Put(res); err != nil {
		s.logger.Error("catalog persist failed",
			zap.String("resource", res.ID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "directory unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"operations": ops,
		"count":      len(ops),
	})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// billing is the classification outcome for one request.
type billing struct {
	billable  bool
	operation string
	rpcID     any
}

func (s *Server) handleProxy(c *gin.Context) {
	res, ok := s.findResource(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body exceeds the size limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	bill, ok := s.classify(c, res, body)
	if !ok {
		return
	}

	req := &forward.Request{
		Method:        c.Request.Method,
		Body:          body,
		Accept:        c.GetHeader("Accept"),
		Authorization: c.GetHeader("Authorization"),
		APIKey:        c.GetHeader("X-API-Key"),
		SessionID:     c.GetHeader(forward.SessionHeader),
		RPCID:         bill.rpcID,
	}

	if !bill.billable {
		s.forwardAndRespond(c, res, req, nil)
		return
	}

	charge, err := s.pricer.Resolve(res, bill.operation)
	if err != nil {
		s.logger.Error("price resolution failed",
			zap.String("resource", res.ID),
			zap.String("operation", bill.operation),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resource pricing is misconfigured"})
		return
	}

	requirements := s.gate.Challenge(res, charge, s.resourceURL(c))
	payment, rejection := s.gate.Verify(c.Request.Context(), c.GetHeader(x402.PaymentHeader), requirements)
	if rejection != nil {
		s.logger.Info("payment required",
			zap.String("resource", res.ID),
			zap.String("kind", string(rejection.Kind)),
			zap.String("reason", rejection.Reason))
		c.JSON(http.StatusPaymentRequired, x402.PaymentRequired{
			X402Version: x402.ProtocolVersion,
			Error:       rejection.Reason,
			Accepts:     requirements,
			Payer:       rejection.Payer,
		})
		return
	}

	s.forwardAndRespond(c, res, req, &paidContext{
		charge:       charge,
		payment:      payment,
		requirements: requirements,
	})
}

// paidContext carries the verified payment through forwarding to settlement.
type paidContext struct {
	charge       *pricing.Charge
	payment      *gate.VerifiedPayment
	requirements []x402.PaymentRequirements
}

func (s *Server) forwardAndRespond(c *gin.Context, res *resource.Resource, req *forward.Request, paid *paidContext) {
	reply, err := s.forwarder.Forward(c.Request.Context(), res, req)
	if err != nil {
		s.logger.Warn("origin unreachable",
			zap.String("resource", res.ID),
			zap.Error(err))
		if paid != nil {
			s.recordFailure(c, res, paid, "origin unreachable")
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "origin service unreachable"})
		return
	}

	if reply.SessionID != "" {
		c.Header(forward.SessionHeader, reply.SessionID)
	}

	if paid == nil || reply.Synthesized {
		// Synthesized protocol errors are delivered unsettled; the caller's
		// payment is not consumed by an origin failure.
		if paid != nil {
			s.recordFailure(c, res, paid, "origin protocol failure")
		}
		c.JSON(http.StatusOK, reply.Payload)
		return
	}

	inputTokens, outputTokens := tokenUsage(reply.Payload)

	// A client disconnect after the origin answered must not abort
	// settlement; value was already delivered.
	settleCtx := context.WithoutCancel(c.Request.Context())
	receipt, err := s.gate.Settle(settleCtx, paid.payment, &paid.requirements[0])
	if err != nil {
		// Degraded success: the origin answered, so the caller gets the
		// reply, just without a settlement receipt.
		s.logger.Error("settlement failed after origin success",
			zap.String("resource", res.ID),
			zap.String("payer", paid.payment.Payer),
			zap.Error(err))
		s.recordFailure(c, res, paid, err.Error())
		s.respond(c, res, paid, reply.Payload, inputTokens, outputTokens)
		return
	}

	header, err := x402.EncodeReceiptHeader(receipt)
	if err == nil {
		c.Header(x402.SettleResponseHeader, header)
	}

	tx := s.transaction(c, res, paid, ledger.StatusCompleted)
	tx.Payer = receipt.Payer
	tx.SettlementTx = receipt.Transaction
	tx.BlockNumber = receipt.BlockNumber
	tx.GasUsed = receipt.GasUsed
	tx.InputTokens = inputTokens
	tx.OutputTokens = outputTokens
	s.ledger.Record(tx)

	s.logger.Info("billable request settled",
		zap.String("resource", res.ID),
		zap.String("operation", paid.charge.Operation),
		zap.String("amount", paid.charge.Amount.String()),
		zap.String("payer", receipt.Payer),
		zap.String("tx", receipt.Transaction))

	s.respond(c, res, paid, reply.Payload, inputTokens, outputTokens)
}

// respond renders a successful billable reply. Model endpoints get the usage
// and pricing envelope; everything else passes the payload through.
func (s *Server) respond(c *gin.Context, res *resource.Resource, paid *paidContext, payload any, inputTokens, outputTokens int64) {
	if res.Kind != resource.KindModelEndpoint {
		c.JSON(http.StatusOK, payload)
		return
	}

	pricingInfo := gin.H{
		"amount":   paid.charge.Amount.String(),
		"currency": res.Pricing.Currency,
	}
	if res.Pricing.TokenPricing != nil {
		pricingInfo["tokenPricing"] = res.Pricing.TokenPricing
	}
	c.JSON(http.StatusOK, gin.H{
		"response": payload,
		"usage": gin.H{
			"inputTokens":  inputTokens,
			"outputTokens": outputTokens,
			"totalTokens":  inputTokens + outputTokens,
		},
		"pricing": pricingInfo,
	})
}

func (s *Server) recordFailure(c *gin.Context, res *resource.Resource, paid *paidContext, reason string) {
	tx := s.transaction(c, res, paid, ledger.StatusFailed)
	tx.Payer = paid.payment.Payer
	tx.ErrorReason = reason
	s.ledger.Record(tx)
}

func (s *Server) transaction(c *gin.Context, res *resource.Resource, paid *paidContext, status ledger.Status) *ledger.Transaction {
	return &ledger.Transaction{
		ResourceID:   res.ID,
		ResourceName: res.Name,
		ToAddress:    res.PayoutAddress,
		Amount:       paid.charge.Amount.String(),
		AtomicAmount: paid.charge.AtomicAmount,
		Currency:     res.Pricing.Currency,
		Network:      paid.charge.Network,
		Operation:    paid.charge.Operation,
		Status:       status,
		Request: ledger.RequestMeta{
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			UserAgent: c.Request.UserAgent(),
		},
	}
}

func (s *Server) findResource(c *gin.Context) (*resource.Resource, bool) {
	id := c.Param("resourceID")
	res, err := s.dir.Find(id)
	if errors.Is(err, directory.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("directory lookup failed", zap.String("resource", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "directory unavailable"})
		return nil, false
	}
	if !res.Active {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return nil, false
	}
	return res, true
}

// classify decides whether the request is billable and which operation prices
// it. A false return means classify already wrote the error response.
func (s *Server) classify(c *gin.Context, res *resource.Resource, body []byte) (*billing, bool) {
	switch res.Kind {
	case resource.KindToolServer:
		if c.Request.Method != http.MethodPost {
			// Session setup and stream opens are not invocations.
			return &billing{}, true
		}
		req, err := jsonrpc.ParseRequest(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not a valid JSON-RPC message"})
			return nil, false
		}
		if !req.IsInvocation() {
			return &billing{rpcID: req.ID}, true
		}
		return &billing{billable: true, operation: req.ToolName(), rpcID: req.ID}, true

	case resource.KindModelEndpoint:
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(body, &doc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
			return nil, false
		}
		if _, ok := doc["messages"]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "messages field is required"})
			return nil, false
		}
		return &billing{billable: true}, true

	default:
		return &billing{billable: true}, true
	}
}

// resourceURL reconstructs the exact externally visible URL the caller
// invoked. Challenges bind verification to it.
func (s *Server) resourceURL(c *gin.Context) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + c.Request.URL.Path
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}

// tokenUsage pulls token counts out of a model origin's reply, accepting both
// the prompt/completion and input/output field conventions.
func tokenUsage(payload any) (inputTokens, outputTokens int64) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return 0, 0
	}
	usage, ok := obj["usage"].(map[string]any)
	if !ok {
		return 0, 0
	}
	return intField(usage, "prompt_tokens", "input_tokens"),
		intField(usage, "completion_tokens", "output_tokens")
}

func intField(obj map[string]any, names ...string) int64 {
	for _, name := range names {
		if v, ok := obj[name].(float64); ok {
			return int64(v)
		}
	}
	return 0
}

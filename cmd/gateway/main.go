// Command gateway runs the payment-gated forwarding gateway.
package main

import (
	"go.uber.org/zap"

	"github.com/ai402/gateway/internal/config"
	"github.com/ai402/gateway/internal/directory"
	"github.com/ai402/gateway/internal/facilitator"
	"github.com/ai402/gateway/internal/forward"
	"github.com/ai402/gateway/internal/gate"
	"github.com/ai402/gateway/internal/ledger"
	"github.com/ai402/gateway/internal/pricing"
	"github.com/ai402/gateway/internal/proxy"
	"github.com/ai402/gateway/internal/store"
)

func main() {
	cfg := config.FromEnv()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	dir := directory.New(db, logger)
	if cfg.ResourceSeed != "" {
		n, err := dir.Seed(cfg.ResourceSeed)
		if err != nil {
			logger.Fatal("seed resources", zap.String("file", cfg.ResourceSeed), zap.Error(err))
		}
		logger.Info("resources seeded", zap.Int("count", n))
	}

	var facOpts []facilitator.Option
	if cfg.CDPAPIKey != "" && cfg.CDPAPIKeySecret != "" {
		facOpts = append(facOpts, facilitator.WithAuthProvider(
			facilitator.NewCoinbaseAuthProvider(cfg.CDPAPIKey, cfg.CDPAPIKeySecret, cfg.FacilitatorURL)))
	}
	facClient := facilitator.NewHTTPClient(cfg.FacilitatorURL, facOpts...)

	l := ledger.New(db, dir, logger)
	defer l.Flush()

	srv := proxy.NewServer(
		dir,
		pricing.NewResolver(cfg.Network),
		gate.New(facClient),
		forward.New(logger),
		l,
		logger,
		proxy.WithPublicBaseURL(cfg.PublicBaseURL),
	)
	router := proxy.NewRouter(srv)

	logger.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("network", cfg.Network),
		zap.String("facilitator", cfg.FacilitatorURL))
	if err := router.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
}

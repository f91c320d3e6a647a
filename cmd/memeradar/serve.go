package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/DelaneKay/memeradar/internal/api"
	"github.com/DelaneKay/memeradar/internal/bus"
	"github.com/DelaneKay/memeradar/internal/cache"
	"github.com/DelaneKay/memeradar/internal/collector"
	"github.com/DelaneKay/memeradar/internal/config"
	"github.com/DelaneKay/memeradar/internal/httpx"
	"github.com/DelaneKay/memeradar/internal/orchestrator"
	"github.com/DelaneKay/memeradar/internal/ratelimit"
	"github.com/DelaneKay/memeradar/internal/security"
	"github.com/DelaneKay/memeradar/internal/sentinel"
	"github.com/DelaneKay/memeradar/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the radar: collectors, sentinel, pipeline, and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config (optional)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	store := config.NewStore(cfg)

	metrics := telemetry.NewMetrics()
	limiter := ratelimit.NewLimiter(cfg.RateBuckets)
	fetcher := httpx.NewFetcher(limiter, metrics)
	fetcher.RegisterBreakers("dexscreener", "geckoterminal", "birdeye", "goplus", "honeypot")

	var c *cache.Cache
	if cfg.RedisAddr != "" {
		c = cache.NewWithRedis(cfg.RedisAddr, cfg.RedisDB)
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis cache tier enabled")
	} else {
		c = cache.New()
	}

	pairs := bus.NewPairQueue(2048)
	listings := bus.NewListingChannel(64)

	coll := collector.New(store, fetcher, c, pairs, metrics, os.Getenv("BIRDEYE_API_KEY"))
	sent := sentinel.New(store, fetcher, c, listings, metrics)
	auditor := security.NewAuditor(fetcher, c, metrics, security.Config{
		MaxTax: cfg.Thresholds.MaxTax,
	})

	orch := orchestrator.New(store, auditor, coll.Baselines(), c, pairs, listings,
		limiter, metrics, alerterFromEnv())
	orch.RegisterHealth("collector", coll.Health)
	orch.RegisterHealth("sentinel", sent.Health)
	orch.RegisterHealth("security", auditor.Health)

	srv := api.NewServer(orch, metrics, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	// Producers stop first on shutdown, then the pipeline drains, then the
	// API finishes in-flight requests.
	producerCtx, stopProducers := context.WithCancel(context.Background())
	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopProducers()
	defer stopConsumers()

	var producers, consumers sync.WaitGroup
	producers.Add(2)
	go func() { defer producers.Done(); coll.Run(producerCtx) }()
	go func() { defer producers.Done(); sent.Run(producerCtx) }()

	consumers.Add(1)
	go func() { defer consumers.Done(); orch.Run(consumerCtx) }()

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()

	log.Info().
		Interface("chains", cfg.Chains).
		Int("port", cfg.Server.Port).
		Msg("memeradar started")

	var apiErr error
	select {
	case apiErr = <-srvErr:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	stopProducers()
	producers.Wait()

	// Give the pipeline a moment to drain queued updates.
	time.Sleep(500 * time.Millisecond)
	stopConsumers()
	consumers.Wait()

	if apiErr == nil {
		apiErr = <-srvErr
	}
	log.Info().Msg("shutdown complete")
	if apiErr != nil {
		return fmt.Errorf("api server: %w", apiErr)
	}
	return nil
}

// alerterFromEnv builds a log-based alerter; a webhook URL upgrades it to
// HTTP delivery later without touching the pipeline.
func alerterFromEnv() orchestrator.Alerter {
	alertLog := log.With().Str("component", "alerts").Logger()
	return orchestrator.AlerterFunc(func(a orchestrator.Alert) {
		alertLog.Info().
			Str("kind", a.Kind).
			Str("symbol", a.Summary.Token.Symbol).
			Str("chain", string(a.Summary.ChainID)).
			Float64("score", a.Summary.Score).
			Str("exchange", a.Exchange).
			Strs("reasons", a.Summary.Reasons).
			Msg("alert")
	})
}

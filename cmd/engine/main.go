package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rawblock/launch-sentinel/internal/api"
	"github.com/rawblock/launch-sentinel/internal/config"
	"github.com/rawblock/launch-sentinel/internal/db"
	"github.com/rawblock/launch-sentinel/internal/launch"
	"github.com/rawblock/launch-sentinel/internal/notify"
	"github.com/rawblock/launch-sentinel/internal/quotes"
	"github.com/rawblock/launch-sentinel/internal/solana"
)

func main() {
	log.Println("Starting RawBlock Launch Sentinel (Microservice: launchpad-entry-pipeline)...")

	// ─── Configuration ───────────────────────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ─────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	var dbConn *db.PostgresStore
	if cfg.DatabaseURL != "" {
		dbConn, err = db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting decisions. Error: %v", err)
			dbConn = nil
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("WARNING: DATABASE_URL not set — decisions will not be persisted")
	}

	rpcClient := solana.NewClient(solana.Config{
		PrimaryURL: cfg.RPCHTTPPrimary,
		BackupURL:  cfg.RPCHTTPBackup,
	})

	// Setup WebSocket Hub for dashboard fan-out
	wsHub := api.NewHub()
	go wsHub.Run()

	notifier := notify.NewNotifier(cfg.Alerts, cfg.WebhookURL, cfg.WebhookToken, wsHub.Broadcast, nil)

	deps := launch.Deps{
		Dial: func(ctx context.Context, url string, onError func(error)) (launch.LogStreamConn, error) {
			return solana.DialLogStream(ctx, url, onError)
		},
		Accounts: rpcClient,
		Txs:      rpcClient,
		Decision: notifier,
		Watcher:  notifier,
	}
	if dbConn != nil {
		deps.Store = dbConn
		deps.Tokens = dbConn
	}

	pipeline := launch.NewPipeline(cfg, deps)
	notifier.BindCounters(pipeline.Counters)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pipeline.Run(ctx)

	// Pump-curve quote sampling against young mints
	if cfg.Quotes.Enabled && dbConn != nil {
		sampler := quotes.NewSampler(cfg.Quotes, pipeline.Micro, dbConn)
		go sampler.Run(ctx)
	}

	// Periodic decision summary — the cadence lives out here so the core
	// stays testable without a notifier.
	if cfg.Alerts.SummaryEverySec > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.Alerts.SummaryEverySec) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					notifier.EmitSummary(pipeline.Counters.DrainSummary())
				}
			}
		}()
	}

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, pipeline, notifier, wsHub)

	log.Printf("Engine running on :%s (API Node: launchpad-entry-pipeline)\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

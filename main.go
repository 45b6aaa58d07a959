package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"copytrade-core/internal/api"
	"copytrade-core/internal/events"
	"copytrade-core/internal/market"
	"copytrade-core/internal/monitor"
	"copytrade-core/internal/notify"
	"copytrade-core/internal/queue"
	"copytrade-core/internal/trade"
	"copytrade-core/pkg/config"
	"copytrade-core/pkg/exchanges/lighter"
)

// tradeAdmitter binds the HTTP admission path to the per-account queue
// and the retry runner.
type tradeAdmitter struct {
	queue   *queue.Manager
	runner  *trade.Runner
	bus     *events.Bus
	metrics *monitor.SystemMetrics
}

func (a *tradeAdmitter) Admit(req trade.Request) (string, error) {
	id, err := a.queue.Enqueue(req.AccountIndex, req, func(ctx context.Context, requestID string, payload any) {
		r := payload.(trade.Request)
		r.RequestID = requestID
		timer := monitor.NewTimer(a.metrics.TradeLatency)
		a.runner.Run(ctx, r)
		timer.Stop()
	})
	if err != nil {
		return "", err
	}

	enqueued := req
	enqueued.RequestID = id
	a.bus.Publish(events.EventTradeEnqueued, enqueued)
	return id, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting execution core on port %s (%d accounts)", cfg.Port, len(cfg.Accounts))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	client := lighter.New(lighter.Config{
		BaseURL:  cfg.BaseURL,
		Accounts: cfg.Accounts,
	})

	// Startup sanity check: the venue must be reachable and list markets.
	startupCtx, startupCancel := context.WithTimeout(ctx, 15*time.Second)
	markets, err := client.Markets(startupCtx)
	startupCancel()
	if err != nil {
		log.Fatalf("exchange unreachable at startup: %v", err)
	}
	log.Printf("exchange connected, %d markets listed", len(markets))

	marketCache := market.NewCache(client, cfg.MarketCacheTTL)

	notifier := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.TelegramThreadID)
	if notifier.Enabled() {
		log.Println("telegram notifications enabled")
	} else {
		log.Println("telegram notifications disabled (missing credentials)")
	}

	// Monitoring
	sysMetrics := monitor.NewSystemMetrics()
	(&monitor.Collector{Bus: bus, Metrics: sysMetrics}).Start(ctx)

	health := monitor.NewHealth(client, cfg.HealthInterval, bus)
	health.Latency = sysMetrics.GatewayLatency
	go health.Run(ctx)

	// Execution pipeline
	executor := trade.NewExecutor(cfg, client, marketCache, notifier, bus)
	runner := trade.NewRunner(executor, cfg.MaxRetries, cfg.RetryInterval, notifier)
	queueMgr := queue.NewManager()
	admitter := &tradeAdmitter{queue: queueMgr, runner: runner, bus: bus, metrics: sysMetrics}

	// API
	server := api.NewServer(cfg, bus, queueMgr, admitter, marketCache, health, sysMetrics)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	// Stop admissions and drain every account queue before exiting; an
	// in-flight trade must never be abandoned mid-pipeline.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer drainCancel()
	if err := queueMgr.Shutdown(drainCtx); err != nil {
		log.Printf("queue drain incomplete: %v", err)
	}

	cancel()
	bus.Close()
	log.Println("shutdown complete")
}

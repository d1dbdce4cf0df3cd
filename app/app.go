package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalhub/ai"
	"signalhub/cache"
	"signalhub/chatbot"
	"signalhub/config"
	"signalhub/database"
	"signalhub/database/channels"
	"signalhub/database/credits"
	"signalhub/database/events"
	"signalhub/delivery"
	"signalhub/entitlements"
	"signalhub/market"
	"signalhub/metrics"
	"signalhub/outcome"
	"signalhub/realtime"
	"signalhub/scheduler"
	"signalhub/service"
	"signalhub/signals"
)

// App represents the main application
type App struct {
	config    *config.Config
	db        *database.Database
	redis     *cache.RedisClient
	reporting *database.ReportingDB
	hub       *realtime.Hub
	scheduler *scheduler.Scheduler
	tracker   *outcome.Tracker
	service   *service.Service
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{
		config: cfg,
		hub:    realtime.NewHub(),
	}
}

// Service exposes the subscription operations for a request layer
func (a *App) Service() *service.Service {
	return a.service
}

// Hub exposes the broadcast hub for a request layer to mount
func (a *App) Hub() *realtime.Hub {
	return a.hub
}

// Start starts the application
func (a *App) Start() error {
	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Database connection
	fmt.Println("🗄️  Connecting to database...")
	var err error
	if a.config.UseEmbeddedStore() {
		a.db, err = database.ConnectSQLite(a.config.SQLitePath)
	} else {
		a.db, err = database.Connect(a.config.DatabaseHost, a.config.DatabasePort,
			a.config.DatabaseName, a.config.DatabaseUser, a.config.DatabasePassword)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer a.db.Close()

	if err := a.db.InitSchema(); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Println("✅ Database connected and schema ready")

	// 2. Redis connection (optional; caching, locks and kill switches degrade
	// gracefully without it)
	a.redis = cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword)
	if a.redis != nil {
		defer a.redis.Close()
	}

	// 3. Reporting connection (raw SQL, postgres only)
	if !a.config.UseEmbeddedStore() {
		a.reporting, err = database.NewReportingDB(a.config.DatabaseHost, a.config.DatabasePort,
			a.config.DatabaseName, a.config.DatabaseUser, a.config.DatabasePassword)
		if err != nil {
			log.Printf("⚠️  Reporting connection unavailable: %v", err)
		} else {
			defer a.reporting.Close()
		}
	}

	// 4. Repositories and ledger. Row locking needs postgres; the embedded
	// store runs single-process so the transaction alone suffices.
	channelsRepo := channels.NewRepository(a.db.DB())
	eventsRepo := events.NewRepository(a.db.DB())
	ledger := credits.NewLedger(a.db.DB(), !a.db.Embedded())
	entitlementStore := entitlements.NewGormStore(a.db.DB())

	// 5. Market data and signal generation
	binance := market.NewBinanceClient(a.config.MarketDataBaseURL, a.config.QuoteAsset, a.config.MaxSymbols)
	generator := signals.NewGenerator(binance, binance, a.redis,
		time.Duration(a.config.Dispatch.SignalCacheTTLMinutes)*time.Minute,
		a.config.Dispatch.MinHistoryBars)

	var analyst signals.Analyst
	if llmAnalyst := ai.NewAnalyst(a.config.LLM); llmAnalyst != nil {
		analyst = llmAnalyst
	}
	evaluator := signals.NewEvaluator(generator, eventsRepo, analyst, a.config.Dispatch.DefaultTimeframe)

	// 6. Delivery mediums
	go a.hub.Run(ctx)
	bot := chatbot.NewNotifier(a.config.Telegram.Enabled, a.config.Telegram.BotToken)
	sink := metrics.NewRedisSink(a.redis)

	dispatcher := delivery.NewDispatcher(ledger, eventsRepo, channelsRepo,
		a.hub, bot, a.config.WebhookSecret, sink)

	// 7. Subscription operations. The reporting connection is interface-typed
	// here so a nil *ReportingDB stays a nil QualityReader.
	var quality service.QualityReader
	if a.reporting != nil {
		quality = a.reporting
	}
	a.service = service.New(channelsRepo, eventsRepo, ledger, entitlementStore, nil, quality, a.config.WebhookSecret)

	// 8. Background loops: dispatch scheduler and outcome tracker
	a.scheduler = scheduler.NewScheduler(channelsRepo, eventsRepo, evaluator, dispatcher,
		cache.NewRedisLock(a.redis), a.redis, sink, a.config.Dispatch)
	go a.scheduler.Run(ctx)

	a.tracker = outcome.NewTracker(eventsRepo, binance,
		time.Duration(a.config.Dispatch.OutcomeIntervalMinutes)*time.Minute,
		time.Duration(a.config.Dispatch.OutcomeExpiryHours)*time.Hour)
	go a.tracker.Run(ctx)

	log.Println("🚀 Signal hub running")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("🛑 Shutting down...")
	cancel()

	// Give the in-flight cycle a moment to finish
	time.Sleep(2 * time.Second)
	return nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"aigateway/internal/billing"
	"aigateway/internal/cache"
	"aigateway/internal/config"
	"aigateway/internal/dispatch"
	"aigateway/internal/httpapi"
	"aigateway/internal/metrics"
	"aigateway/internal/providers"
	"aigateway/internal/queue"
	"aigateway/internal/ratelimit"
	"aigateway/internal/recorder"
	"aigateway/internal/registry"
	"aigateway/internal/rotation"
	"aigateway/internal/storage"
	"aigateway/internal/utils"
)

var logger = utils.NewLogger("main")

func main() {
	// a missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	utils.SetDefaultLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))

	if err := run(cfg); err != nil {
		logger.Error("Gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDB(storage.DBConfig{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	store := storage.NewStore(db)

	enc, err := storage.NewEncryption(cfg.CredentialSecret)
	if err != nil {
		return fmt.Errorf("credential encryption: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		rc, err := storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		redisClient = rc.Client()
		logger.Info("Connected to Redis", "address", cfg.Redis.Address)
	}

	layer := cache.NewLayer(store, cache.Config{
		Size:          cfg.Cache.Size,
		CredentialTTL: cfg.Cache.CredentialTTL,
		ProviderTTL:   cfg.Cache.ProviderTTL,
		ModelRateTTL:  cfg.Cache.ModelRateTTL,
		CreditTTL:     cfg.Cache.CreditTTL,
		MeterTTL:      cfg.Cache.MeterTTL,
	})
	janitor, err := cache.StartJanitor(layer, cfg.Cache.SweepSchedule)
	if err != nil {
		return err
	}
	defer janitor.Stop()

	reg := registry.New(nil)
	if cfg.CatalogFile != "" {
		if err := reg.LoadFile(cfg.CatalogFile); err != nil {
			return err
		}
		// vendor support may have changed; cached candidate lists are stale
		onReload := func() {
			layer.ClearProviderCache()
			layer.ClearCredentialListCache()
		}
		if err := reg.Watch(ctx, cfg.CatalogFile, onReload); err != nil {
			logger.Warn("Catalog hot reload disabled", "path", cfg.CatalogFile, "error", err)
		}
	}

	var ledger billing.Ledger = billing.NewNoopLedger()
	if cfg.Billing.Enabled {
		ledger = billing.NewHTTPLedger(cfg.Billing.LedgerURL, cfg.Billing.LedgerAPIKey, cfg.Billing.LedgerTimeout)
	}
	gate := billing.NewCreditGate(cfg.Billing.Enabled, cfg.Billing.MeterName, ledger, layer)

	queueCfg := queue.DefaultConfig("aigateway")
	queueCfg.Capacity = cfg.Recorder.QueueSize
	queueCfg.BatchSize = cfg.Recorder.BatchSize
	queueCfg.MaxRetries = cfg.Recorder.MaxRetries
	queueCfg.RetryBackoff = cfg.Recorder.RetryBackoff
	queueCfg.EnqueueTimeout = cfg.Recorder.EnqueueTimeout
	queueCfg.ProcessTimeout = cfg.Recorder.ProcessTimeout

	var meter *billing.MeterWorker
	if cfg.Billing.Enabled {
		meter, err = newMeterWorker(redisClient, queueCfg, ledger, layer)
		if err != nil {
			return err
		}
		meter.Start()
	}

	qs := recorder.MemoryQueues(queueCfg)
	if redisClient != nil {
		if qs, err = recorder.RedisQueues(redisClient, queueCfg); err != nil {
			return fmt.Errorf("recorder queues: %w", err)
		}
	}
	deps := recorder.Deps{
		Calls:       store.ModelCalls,
		Usages:      store.Usages,
		Credentials: store.Credentials,
		Rates:       layer,
	}
	if meter != nil {
		deps.Meter = meter
	}
	rec := recorder.New(deps, qs, recorder.Config{
		Queue:          queueCfg,
		BillingEnabled: cfg.Billing.Enabled,
		BasePrice:      decimal.NewFromFloat(cfg.Billing.BasePrice),
		MeterName:      cfg.Billing.MeterName,
	})
	rec.Start()

	m := metrics.New()
	m.Register("cache", func() any { return layer.Stats() })
	m.Register("recorder", func() any { return rec.Stats() })
	if meter != nil {
		m.Register("meter", func() any { return meter.Stats() })
	}

	d := dispatch.New(dispatch.Deps{
		Registry: reg,
		Selector: rotation.NewSelector(reg, layer),
		Factory:  providers.NewFactory(enc),
		Gate:     gate,
		Catalog:  layer,
		Recorder: rec,
		Metrics:  m,
	}, dispatch.Config{
		MaxRetries:        cfg.Provider.MaxRetries,
		RequestTimeout:    cfg.Provider.RequestTimeout,
		StreamIdleTimeout: cfg.Provider.StreamIdleTimeout,
		OnlyListedModels:  cfg.OnlyListedModels,
	})

	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if redisClient != nil && cfg.RateLimitPerMin > 0 {
		limiter = ratelimit.NewRateLimiter(redisClient, cfg.RateLimitPerMin)
	}

	var callerSecret []byte
	if cfg.CallerJWTSecret != "" {
		callerSecret = []byte(cfg.CallerJWTSecret)
	}

	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr: addr,
		Handler: httpapi.NewRouter(&httpapi.Dependencies{
			Dispatcher:   d,
			RateLimit:    limiter,
			Metrics:      m,
			CallerSecret: callerSecret,
		}),
		ReadTimeout: 30 * time.Second,
		// streams stay open while the vendor keeps sending; the dispatcher
		// bounds the silence between chunks
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("AI gateway listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", "error", err)
	}
	// the recorder feeds the meter worker, so it drains first
	if err := rec.Close(shutdownCtx); err != nil {
		logger.Warn("Recorder did not drain", "error", err)
	}
	if meter != nil {
		if err := meter.Stop(shutdownCtx); err != nil {
			logger.Warn("Meter worker did not drain", "error", err)
		}
	}

	logger.Info("Server exited")
	return nil
}

func newMeterWorker(client *redis.Client, base *queue.Config, ledger billing.Ledger, layer *cache.Layer) (*billing.MeterWorker, error) {
	cfg := *base
	cfg.QueueName = base.QueueName + ":meter"
	if client == nil {
		return billing.NewMeterWorker(
			queue.NewMemoryQueue[billing.MeterEvent](&cfg),
			queue.NewMemoryDeadLetterQueue[billing.MeterEvent](),
			&cfg, ledger, layer,
		), nil
	}
	q, err := queue.NewRedisQueue[billing.MeterEvent](client, &cfg)
	if err != nil {
		return nil, fmt.Errorf("meter queue: %w", err)
	}
	dlq, err := queue.NewRedisDeadLetterQueue[billing.MeterEvent](client, &cfg)
	if err != nil {
		return nil, fmt.Errorf("meter dead letter queue: %w", err)
	}
	return billing.NewMeterWorker(q, dlq, &cfg, ledger, layer), nil
}

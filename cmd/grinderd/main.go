package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"GrinderAI-Chain/internal/api"
	"GrinderAI-Chain/internal/config"
	xerrors "GrinderAI-Chain/internal/errors"
	"GrinderAI-Chain/internal/events"
	"GrinderAI-Chain/internal/grind"
	"GrinderAI-Chain/internal/market"
	"GrinderAI-Chain/internal/observability/metrics"
	"GrinderAI-Chain/internal/pricefeed"
	"GrinderAI-Chain/internal/scheduler"
	"GrinderAI-Chain/internal/storage/mysql"
	"GrinderAI-Chain/internal/storage/redis"
	"GrinderAI-Chain/internal/web3/ethereum"
	"GrinderAI-Chain/pkg/logger"
)

// main 是 grinder 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("grinderd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	if err := logger.Init(loggerConfig(cfg)); err != nil {
		return err
	}
	defer logger.Sync()
	appLogger := logger.Named("grinderd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	chain, err := ethereum.NewClient(ctx, ethereum.Config{
		RPCURL:     cfg.Chain.RPCURL,
		PrivateKey: cfg.Chain.PrivateKey,
		IntentNFT:  cfg.Chain.IntentNFTAddress,
		PoolsNFT:   cfg.Chain.PoolsNFTAddress,
		GrinderAI:  cfg.Chain.GrinderAIAddress,
	})
	if err != nil {
		return err
	}
	defer chain.Close()
	appLogger.Info("已连接链节点", slog.String("signer", chain.Signer().Hex()))

	state := market.NewState(cfg.PriceFeed.FallbackPrice)
	if err := metrics.RegisterMarketState(metrics.Registry, state); err != nil {
		return err
	}

	cycleRepo, err := openCycleRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer cycleRepo.Close()

	recorder := metrics.NewRecorder()
	engineOpts := []grind.EngineOption{
		grind.WithRecorder(cycleRepo),
		grind.WithObserver(recorder),
		grind.WithLogger(logger.Named("grind")),
		grind.WithAuditLogger(logger.Audit()),
	}

	if cfg.Storage.CursorStore.Driver == "redis" {
		cursorStore, err := redis.NewCursorStore(ctx, redis.Config{
			Address:  cfg.Storage.CursorStore.Redis.Address,
			Password: cfg.Storage.CursorStore.Redis.Password,
			DB:       cfg.Storage.CursorStore.Redis.DB,
			Key:      cfg.Storage.CursorStore.Redis.Key,
		})
		if err != nil {
			return err
		}
		defer cursorStore.Close()
		engineOpts = append(engineOpts, grind.WithCursorStore(cursorStore))
	}

	publisher, err := events.NewPublisher(ctx, eventsConfig(cfg))
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
		engineOpts = append(engineOpts, grind.WithEventSink(events.NewNotifier(publisher, logger.Named("events"))))
	}

	engine, err := buildEngine(cfg, state, chain, engineOpts)
	if err != nil {
		return err
	}
	if err := engine.RestoreCursor(ctx); err != nil {
		appLogger.Warn("恢复意图游标失败，从 0 开始", xerrors.LogAttrs(err)...)
	}

	feed := pricefeed.New(pricefeed.Config{
		URL:      cfg.PriceFeed.URL,
		Asset:    cfg.PriceFeed.Asset,
		Fiat:     cfg.PriceFeed.Fiat,
		Fallback: cfg.PriceFeed.FallbackPrice,
		Timeout:  time.Duration(cfg.PriceFeed.TimeoutSeconds) * time.Second,
	}, logger.Named("pricefeed"))
	intentRefresher := market.NewIntentCountRefresher(state, chain, logger.Named("market"))
	priceRefresher := market.NewPriceRefresher(state, feed, logger.Named("market"))

	sched := scheduler.New(
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithObserver(recorder),
	)
	jobs := []scheduler.Job{
		{
			Name:       "total-intents",
			Interval:   config.Interval(cfg.Schedule.TotalIntentsIntervalSeconds),
			Timeout:    cfg.RefreshTimeout(),
			RunAtStart: true,
			Run:        intentRefresher.Refresh,
		},
		{
			Name:       "eth-price",
			Interval:   config.Interval(cfg.Schedule.PriceIntervalSeconds),
			Timeout:    cfg.RefreshTimeout(),
			RunAtStart: true,
			Run:        priceRefresher.Refresh,
		},
		{
			Name:     "grind",
			Interval: config.Interval(cfg.Schedule.GrindIntervalSeconds),
			Timeout:  cfg.GrindTimeout(),
			Run: func(ctx context.Context) error {
				engine.RunCycle(ctx)
				return nil
			},
		},
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}

	errCh := make(chan error, 3)
	go func() {
		errCh <- api.NewServer(cfg.Server.Address, state, chain, cycleRepo).Start(ctx)
	}()
	if cfg.Observability.MetricsAddress != "" {
		go func() {
			errCh <- metrics.StartServer(ctx, cfg.Observability.MetricsAddress)
		}()
	}
	go func() {
		errCh <- sched.Run(ctx)
	}()

	appLogger.Info("grinderd 已启动",
		slog.String("api", cfg.Server.Address),
		slog.Int("intents_per_grind", cfg.Grind.IntentsPerGrind),
		slog.String("max_tx_cost_usd", cfg.Grind.MaxTxCostUSD.String()))

	select {
	case <-ctx.Done():
		appLogger.Info("收到退出信号，正在关闭")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}

func buildEngine(cfg *config.Config, state *market.State, chain *ethereum.Client, opts []grind.EngineOption) (*grind.Engine, error) {
	rotator, err := grind.NewRotator(cfg.Grind.IntentsPerGrind)
	if err != nil {
		return nil, err
	}
	validator := grind.NewValidator(chain, chain,
		grind.WithMaxConcurrency(cfg.Grind.MaxConcurrency),
		grind.WithValidatorLogger(logger.Named("validator")),
	)
	gate, err := grind.NewCostGate(cfg.Grind.MaxTxCostUSD, cfg.Grind.UnitDecimals)
	if err != nil {
		return nil, err
	}
	submitter, err := grind.NewSubmitter(chain, grind.SafetyMargin{
		Numerator:   cfg.Grind.GasMultiplierNumerator,
		Denominator: cfg.Grind.GasMultiplierDenominator,
	}, logger.Named("submitter"))
	if err != nil {
		return nil, err
	}
	return grind.NewEngine(state, chain, rotator, validator, gate, submitter, opts...)
}

func openCycleRepository(ctx context.Context, cfg *config.Config) (mysql.CycleRepository, error) {
	store := cfg.Storage.CycleStore
	switch store.Driver {
	case "memory", "":
		return mysql.NewMemoryCycleRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLCycleRepository(ctx, mysql.Config{
			DSN:             store.DSN,
			MaxOpenConns:    store.MaxOpenConns,
			MaxIdleConns:    store.MaxIdleConns,
			ConnMaxLifetime: time.Duration(store.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(store.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func loggerConfig(cfg *config.Config) logger.Config {
	lc := cfg.Logging
	auditPath := lc.AuditPath
	if auditPath != "" && !filepath.IsAbs(auditPath) {
		auditPath = filepath.Join(cfg.Runtime.DataDir, auditPath)
	}
	return logger.Config{
		Level:       lc.Level,
		Format:      lc.Format,
		OutputPaths: lc.OutputPaths,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
			Compress:   lc.Compress,
		},
		Audit: logger.AuditConfig{
			Enabled:    auditPath != "",
			Path:       auditPath,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
		},
	}
}

func eventsConfig(cfg *config.Config) events.Config {
	ec := cfg.Events
	return events.Config{
		Driver: ec.Driver,
		Redis: events.RedisConfig{
			Address:  ec.Redis.Address,
			Password: ec.Redis.Password,
			DB:       ec.Redis.DB,
			Key:      ec.Redis.Key,
		},
		RabbitMQ: events.RabbitMQConfig{
			URL:        ec.RabbitMQ.URL,
			Exchange:   ec.RabbitMQ.Exchange,
			RoutingKey: ec.RabbitMQ.RoutingKey,
			Durable:    ec.RabbitMQ.Durable,
		},
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"RebalanceSentinel/internal/config"
	"RebalanceSentinel/internal/contract"
	"RebalanceSentinel/internal/horizon"
	"RebalanceSentinel/internal/logger"
	"RebalanceSentinel/internal/model"
	"RebalanceSentinel/internal/notifier"
	"RebalanceSentinel/internal/portfolio"
	"RebalanceSentinel/internal/pricefeed"
	"RebalanceSentinel/internal/recorder"
	"RebalanceSentinel/internal/scheduler"
	"RebalanceSentinel/internal/server"
	"RebalanceSentinel/internal/session"
	"RebalanceSentinel/internal/snapshot"
)

func main() {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		boot := logger.New(logger.Config{})
		boot.Fatal().Err(err).Msg("load config")
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logger.SetGlobalLogger(log)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	log.Info().Str("network", cfg.Stellar.Network).Msg("RebalanceSentinel starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := session.NewManager(cfg.Session.StateFile, cfg.Stellar.Network, cfg.Stellar.WalletAddress, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init session")
	}

	resolver := pricefeed.NewResolver(log, cfg.Prices.AttemptTimeout,
		pricefeed.NewReflectorSource(cfg.Prices.ReflectorURL, cfg.Proxy),
		pricefeed.NewCoinGeckoSource(cfg.Prices.CoinGeckoURL, cfg.Prices.CoinGeckoAPIKey, cfg.Proxy,
			cfg.Prices.CoinGeckoIDs, cfg.Prices.CoinGeckoPerMin),
		pricefeed.NewStaticSource(cfg.StaticPrices()),
	)

	var (
		targetSources []portfolio.TargetSource
		portfolios    *contract.Client
	)
	if cfg.ContractEnabled() {
		gateway := contract.NewHTTPGateway(cfg.Contract.GatewayURL, cfg.Contract.GatewayAPIKey, cfg.Proxy)
		portfolios, err = contract.NewClient(cfg.Contract.ID, gateway, contract.NewTxTracker(cfg.Contract.RPCURL), log)
		if err != nil {
			log.Fatal().Err(err).Msg("init contract client")
		}
		targetSources = append(targetSources, &portfolio.ContractTargets{Reader: portfolios})
		log.Info().Str("contract", cfg.Contract.ID).Msg("contract targets enabled")
	}
	targetSources = append(targetSources, &portfolio.ConfigTargets{
		Allocations: cfg.TargetAllocations(),
		Threshold:   cfg.DriftThreshold(),
	})

	rec := openRecorder(cfg, log)
	defer rec.Close()

	monitor := portfolio.NewMonitor(
		sessions,
		horizon.NewClient(cfg.Stellar.HorizonURL, cfg.Proxy, log),
		portfolio.NewFallbackTargets(log, targetSources...),
		resolver,
		snapshot.NewStore(),
		rec,
		portfolio.Options{
			Watchlist:      cfg.Watchlist(),
			DriftThreshold: cfg.DriftThreshold(),
			FetchTimeout:   cfg.Prices.FetchTimeout,
		},
		log,
	)

	var (
		sender scheduler.Sender
		tn     *notifier.TelegramNotifier
	)
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		sender = tn
	}

	sched := scheduler.NewScheduler(ctx, monitor, rec, sender, scheduler.Options{
		StaleAfter:    cfg.Schedule.StaleAfter,
		RetentionDays: cfg.Database.RetentionDays,
	}, log)
	if err := sched.RegisterAll(cfg.Schedule.RefreshCron, cfg.Schedule.PruneCron); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	go func() {
		if _, err := sched.RunNow(ctx, model.TriggerInitial); err != nil {
			log.Warn().Err(err).Msg("initial refresh failed")
		}
	}()

	srvCfg := server.Config{
		Addr:      cfg.HTTP.Addr,
		Log:       log,
		Snapshots: sched,
		Sessions:  sessions,
		History:   rec,
	}
	if portfolios != nil {
		srvCfg.Contract = portfolios
	}
	srv := server.New(srvCfg)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
			stop()
		}
	}()

	log.Info().Msg("RebalanceSentinel is running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Info().Msg("shutdown signal received, stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}
}

// openRecorder falls back to the no-op recorder when SQLite cannot be opened.
func openRecorder(cfg *config.Config, log zerolog.Logger) recorder.Recorder {
	if cfg.Database.SQLitePath == "" {
		return recorder.NewNoopRecorder()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
		log.Warn().Err(err).Msg("create data directory")
	}
	sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
	if err != nil {
		log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		return recorder.NewNoopRecorder()
	}
	return sr
}

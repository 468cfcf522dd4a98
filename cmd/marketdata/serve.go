package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cryptoedge/marketdata/internal/collector"
	"github.com/cryptoedge/marketdata/internal/config"
	"github.com/cryptoedge/marketdata/internal/infrastructure/cache"
	"github.com/cryptoedge/marketdata/internal/infrastructure/db"
	"github.com/cryptoedge/marketdata/internal/infrastructure/exchange"
	httpapi "github.com/cryptoedge/marketdata/internal/interfaces/http"
	"github.com/cryptoedge/marketdata/internal/interfaces/http/handlers"
	"github.com/cryptoedge/marketdata/internal/repo"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg := db.DefaultConfig(cfg.DatabaseURL)
	dbCfg.PoolSize = cfg.DatabasePoolSize
	conn, err := db.Connect(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()
	log.Info().Msg("database connected")

	store := db.NewOHLCVStore(conn, dbCfg.QueryTimeout)

	redisCache, err := cache.NewFromURL(cfg.RedisURL, cfg.OHLCVCacheSize,
		time.Duration(cfg.TickerTTLSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisCache.Close()
	log.Info().Msg("redis connected")

	clients := make(map[string]exchange.Client, len(cfg.Exchanges))
	venues := make(map[string]collector.Venue, len(cfg.Exchanges))
	fetchers := make(map[string]repo.TickerFetcher, len(cfg.Exchanges))
	pingers := make(map[string]handlers.Pinger, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		client, err := exchange.NewClient(exchange.Config{
			ID:     ex.ID,
			APIKey: ex.APIKey,
			Secret: ex.Secret,
		})
		if err != nil {
			return fmt.Errorf("failed to build %s client: %w", ex.ID, err)
		}
		if err := client.Connect(ctx); err != nil {
			log.Warn().Err(err).Str("exchange", ex.ID).Msg("exchange unreachable at startup")
		}
		clients[ex.ID] = client
		venues[ex.ID] = client
		fetchers[ex.ID] = client
		pingers[ex.ID] = client
	}
	defer func() {
		for id, client := range clients {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Str("exchange", id).Msg("client close failed")
			}
		}
	}()

	candles := repo.NewCandleRepo(store, redisCache, cfg.OHLCVCacheSize)
	tickers := repo.NewTickerRepo(redisCache, fetchers)

	gate := collector.NewPauseGate()
	sched := collector.NewScheduler(cfg, venues, candles, tickers, gate)
	sched.Start(ctx)
	defer sched.Stop()

	server := httpapi.NewServer(cfg.ListenAddr, cfg.APIToken, httpapi.Handlers{
		OHLCV:  handlers.NewOHLCVHandler(candles, cfg),
		Ticker: handlers.NewTickerHandler(tickers, cfg),
		Admin:  handlers.NewAdminHandler(sched, cfg),
		Health: handlers.NewHealthHandler(store, redisCache, pingers, version),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	return nil
}

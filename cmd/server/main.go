package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mbraces/backend/internal/cache"
	"mbraces/backend/internal/config"
	"mbraces/backend/internal/httpapi"
	"mbraces/backend/internal/realtime"
	"mbraces/backend/internal/service"
	"mbraces/backend/internal/store"
	"mbraces/backend/internal/store/memory"
	pgstore "mbraces/backend/internal/store/postgres"
	"mbraces/backend/pkg/log"
)

func main() {
	cfg := config.Load()
	log.Init("mbraces-backend", log.WithConsole(), log.WithFile(cfg.LogFile))
	logger := log.Logger()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Msg("repository: in-memory")
	}

	statsCache := cache.StatsCache(cache.NoopStatsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStatsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop cache")
		} else {
			statsCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Msg("cache: redis")
		}
	} else {
		logger.Info().Msg("cache: noop")
	}

	hub := realtime.NewHub()
	svc := service.New(repo, statsCache, hub, time.Duration(cfg.StatsTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, hub, cfg.AllowedOrigin, cfg.MachineToken)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepStop := make(chan struct{})
	go runOfflineSweep(svc, time.Duration(cfg.OfflineAfterSeconds)*time.Second, sweepStop)

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("terminal backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	close(sweepStop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

// runOfflineSweep periodically flips terminals that stopped heartbeating to
// the offline status. The sweep interval is half the staleness threshold so a
// dead terminal is flagged within 1.5x the threshold at worst.
func runOfflineSweep(svc *service.Service, staleAfter time.Duration, stop <-chan struct{}) {
	interval := staleAfter / 2
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			svc.SweepOfflineTerminals(sweepCtx, staleAfter)
			cancel()
		case <-stop:
			return
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DatabaseURL != "" && len(cfg.MachineToken) < 16 {
		return fmt.Errorf("MACHINE_TOKEN must be set and at least 16 characters when running against postgres")
	}
	return nil
}

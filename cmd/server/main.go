package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	router "github.com/stagehall/stagehall/internal/adapters/http"
	"github.com/stagehall/stagehall/internal/adapters/ws"
	"github.com/stagehall/stagehall/internal/auth"
	"github.com/stagehall/stagehall/internal/config"
	"github.com/stagehall/stagehall/internal/core"
	"github.com/stagehall/stagehall/internal/gate"
	"github.com/stagehall/stagehall/internal/logging"
	"github.com/stagehall/stagehall/internal/store/attach"
	"github.com/stagehall/stagehall/internal/store/events"
	"github.com/stagehall/stagehall/internal/store/status"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	logging.Init(cfg.Log.Level, cfg.Log.Pretty)

	if cfg.Auth.Secret == "" {
		log.Fatal().Msg("auth.secret must be configured")
	}

	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("failed to open database")
	}
	eventStore, err := events.NewGormStore(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise event store")
	}

	var statusStore status.Store
	if cfg.RedisAddr != "" {
		rs, err := status.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		statusStore = rs
		log.Info().Str("addr", cfg.RedisAddr).Msg("livestream status backed by redis")
	} else {
		statusStore = status.NewMemoryStore()
		log.Info().Msg("livestream status kept in memory")
	}

	attachStore, err := attach.NewDiskStore(cfg.Attachments.Dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Attachments.Dir).Msg("failed to initialise attachment store")
	}

	verifier := auth.NewVerifier(cfg.Auth.Secret)
	accessGate := gate.New(eventStore, eventStore)

	registry := core.NewRegistry(eventStore, core.Options{
		ReplayDepth: cfg.Room.ReplayDepth,
		DedupWindow: cfg.Room.DedupWindow,
		Notifier:    status.NewRoomNotifier(statusStore),
	}, cfg.Room.GracePeriod)
	registry.Start(ctx)

	wsCtl := &ws.Controller{
		Verifier: verifier,
		Gate:     accessGate,
		Registry: registry,
		Cfg:      cfg,
	}
	handlers := &router.Handlers{
		Verifier:    verifier,
		Gate:        accessGate,
		Registry:    registry,
		Attachments: attachStore,
		Status:      statusStore,
		MaxBytes:    cfg.Attachments.MaxBytes,
	}

	r := router.SetupRouter(ctx, cfg, wsCtl, handlers)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("stagehall server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	registry.Close()
	log.Info().Msg("server exited gracefully")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pharmacy-order-status/config"
	"pharmacy-order-status/internal/api"
	"pharmacy-order-status/internal/broker"
	"pharmacy-order-status/internal/db"
	"pharmacy-order-status/internal/mw"
	"pharmacy-order-status/internal/notification"
	"pharmacy-order-status/internal/orders"
	"pharmacy-order-status/internal/realtime"
	"pharmacy-order-status/internal/store"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func main() {
	bootLog := zap.Must(zap.NewProduction())

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLog.Fatal("failed to load configuration", zap.String("path", configPath), zap.Error(err))
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		bootLog.Fatal("invalid log configuration", zap.Error(err))
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responseCache := mw.NewResponseCache(cfg.Server.CacheTTL)
	serviceOpts := []orders.Option{orders.WithCache(responseCache)}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			logger.Fatal("VAPID keys must be configured when push is enabled")
		}
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}

		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, webpushOptions, logger)
		pool.Start(ctx)
		serviceOpts = append(serviceOpts, orders.WithPush(pool))
		logger.Info("web push enabled", zap.Int("workers", cfg.WorkerPool.Size))
	}

	svc := orders.NewService(appStore, logger, serviceOpts...)

	hub := realtime.NewHub(realtime.HubOptions{
		MaxRoomMembers:    cfg.Realtime.MaxRoomMembers,
		MaxRoomsPerClient: cfg.Realtime.MaxRoomsPerClient,
	}, logger)
	wsServer := realtime.NewServer(hub, realtime.ServerOptions{
		SendBufferSize: cfg.Realtime.SendBufferSize,
		PingInterval:   cfg.Realtime.PingInterval,
		PongWait:       cfg.Realtime.PongWait,
	}, logger)

	relay, err := broker.New(cfg.Broker, logger)
	if err != nil {
		logger.Fatal("failed to set up broker", zap.String("kind", cfg.Broker.Kind), zap.Error(err))
	}
	go func() {
		if err := broker.RunWithRetry(ctx, relay, svc.Deliver(hub), broker.NewBackOff(), logger); err != nil {
			logger.Error("broker relay stopped, live updates are disabled", zap.Error(err))
		}
	}()
	svc.AttachRelay(relay)
	logger.Info("real-time channel ready", zap.String("path", cfg.Realtime.Path), zap.String("broker", cfg.Broker.Kind))

	handler := api.NewHandler(svc, appStore, hub, webpushOptions, logger)
	router := api.NewRouter(handler, wsServer, api.RouterOptions{
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
		Cache:           responseCache,
		WSPath:          cfg.Realtime.Path,
	}, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server Shutdown", zap.Error(err))
	}
	cancel()
	if err := relay.Close(); err != nil {
		logger.Warn("failed to close broker relay", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}

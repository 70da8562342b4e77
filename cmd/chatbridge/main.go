package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatbridge/chatbridge/server"
	"github.com/chatbridge/chatbridge/server/config"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx, nil)
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("failed to load configuration", zap.Error(err))
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Webhook.Secret == "" {
		cfg.Webhook.Secret = server.GenerateWebhookSecret()
		logger.Info("generated webhook secret for this run; set WEBHOOK_SECRET to pin it")
	}

	srv, err := server.NewFrontendServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	logger.Info("chatbridge starting",
		zap.String("agent_url", cfg.AgentURL),
		zap.String("external_url", cfg.ExternalURL),
		zap.String("port", cfg.Server.Port))

	if err := srv.Start(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
}

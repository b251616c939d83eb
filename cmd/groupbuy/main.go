// Package main запускает HTTP-сервер движка совместных закупок.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/groupbuy-engine/internal/config"
	"github.com/mmeshcher/groupbuy-engine/internal/handler"
	"github.com/mmeshcher/groupbuy-engine/internal/metrics"
	"github.com/mmeshcher/groupbuy-engine/internal/middleware"
	"github.com/mmeshcher/groupbuy-engine/internal/notify"
	"github.com/mmeshcher/groupbuy-engine/internal/repository"
	"github.com/mmeshcher/groupbuy-engine/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	var notifier service.Notifier = notify.Nop{}
	if cfg.NotifyAddress != "" {
		notifier = notify.NewClient(cfg.NotifyAddress, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := service.NewService(repo, notifier, logger,
		service.WithDecisionWindows(cfg.BuyerDecisionWindow, cfg.SellerDecisionWindow),
		service.WithPenaltyPoints(cfg.PenaltyPoints),
		service.WithSweepInterval(cfg.SweepInterval),
		service.WithMetrics(metrics.New(reg)),
	)
	defer svc.Close()

	if cfg.DevSessions {
		sugar.Warn("DEV_SESSIONS is enabled, POST /api/session issues tokens for any user")
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware,
		handler.WithAdmins(cfg.AdminIDs),
		handler.WithDevSessions(cfg.DevSessions),
		handler.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая проверка истёкших сроков
	g.Go(func() error {
		svc.StartDeadlineSweeps(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting groupbuy server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

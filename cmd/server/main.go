// Package main starts the HTTP server of the order and payment service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/config"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/handler"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/metrics"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/middleware"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/notify"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/repository"
	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	registry := notify.NewRegistry(logger)

	svc := service.NewService(repo, registry, logger, service.Deadlines{
		Tool:   cfg.ToolDeadline,
		Course: cfg.CourseDeadline,
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	h := handler.NewHandler(svc, registry, logger, authMiddleware, m)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(promRegistry),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting order server", "addr", cfg.RunAddress)
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

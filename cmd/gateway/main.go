package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendancesvc/internal/bootstrap"
	"attendancesvc/internal/config"
	"attendancesvc/internal/gateway"
	"attendancesvc/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.App, logger *zap.Logger) error {
	res := bootstrap.New(cfg, logger)
	defer res.Close()

	g, ctx := errgroup.WithContext(ctx)

	// Single-binary mode: the attendance service shares the in-memory channel.
	if cfg.TransportBackend == "memory" {
		svc, err := res.AttendanceService(ctx)
		if err != nil {
			return fmt.Errorf("attendance service: %w", err)
		}
		srv := res.AttendanceServer(svc)
		g.Go(func() error { return srv.Serve(ctx) })
		<-srv.Ready()
		logger.Info("attendance service running in-process")
	}

	photos, err := res.Photos()
	if err != nil {
		return fmt.Errorf("photo store: %w", err)
	}

	router := gateway.NewRouter(gateway.Options{
		Attendance:     res.AttendanceClient(),
		Photos:         photos,
		Log:            logger.Named("http"),
		JWTSigningKey:  cfg.JWTSigningKey,
		JWTIssuer:      cfg.JWTIssuer,
		UploadDir:      uploadDirFor(cfg),
		MaxUploadBytes: int64(cfg.MaxUploadBytes),
		Limiter:        res.Limiter(),
		MetricsEnabled: cfg.MetricsEnabled,
		CORSOrigins:    cfg.CORSOrigins,
		Health:         res.Health(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Handlers wait up to the RPC timeout for the service.
	if cfg.RPCTimeout+5*time.Second > srv.WriteTimeout {
		srv.WriteTimeout = cfg.RPCTimeout + 5*time.Second
	}

	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server")

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server forced shutdown", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("server exited")
	return err
}

func uploadDirFor(cfg config.App) string {
	if cfg.PhotoBackend == "local" {
		return cfg.UploadDir
	}
	return ""
}

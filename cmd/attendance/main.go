package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendancesvc/internal/bootstrap"
	"attendancesvc/internal/config"
	"attendancesvc/internal/logging"
)

// The attendance service consumes RPC requests from the transport and runs
// them against the state machine.
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

	if cfg.TransportBackend == "memory" {
		logger.Fatal("TRANSPORT_BACKEND=memory only works inside the gateway binary")
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("attendance service failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("attendance service stopped")
}

func run(ctx context.Context, cfg config.App, logger *zap.Logger) error {
	res := bootstrap.New(cfg, logger)
	defer res.Close()

	svc, err := res.AttendanceService(ctx)
	if err != nil {
		return err
	}
	srv := res.AttendanceServer(svc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx) })
	g.Go(func() error {
		<-srv.Ready()
		logger.Info("attendance service started",
			zap.String("service", cfg.ServiceName),
			zap.String("store", cfg.StoreBackend),
			zap.Int("workers", cfg.RPCWorkers))
		return nil
	})

	// Ops endpoint for health checks and scraping.
	ops := gin.New()
	ops.Use(gin.Recovery())
	health := res.Health()
	ops.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		status := http.StatusOK
		for name, check := range health {
			ok := check(c.Request.Context())
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	})
	if cfg.MetricsEnabled {
		ops.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	opsSrv := &http.Server{
		Addr:         ":" + cfg.OpsPort,
		Handler:      ops,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return opsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

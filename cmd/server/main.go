package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apprecon "github.com/finflow/reconciler/internal/application/recon"
	"github.com/finflow/reconciler/internal/infrastructure/config"
	"github.com/finflow/reconciler/internal/infrastructure/logger"
	"github.com/finflow/reconciler/internal/infrastructure/persistence"
	"github.com/finflow/reconciler/internal/infrastructure/scheduler"
	"github.com/finflow/reconciler/internal/interfaces/http/handler"
	"github.com/finflow/reconciler/internal/interfaces/http/middleware"
	"github.com/finflow/reconciler/internal/interfaces/http/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	log.Info("starting reconciler",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port))

	gormLogger := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLogger)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	eventRepo := persistence.NewGormEventRepository(db.DB)
	auditRepo := persistence.NewGormAuditLogRepository(db.DB)
	txManager := persistence.NewGormTransactionManager(db)

	dispatcher := apprecon.NewDispatcher(txManager, log,
		apprecon.WithBatchSize(cfg.Recon.BatchSize))

	if cfg.Recon.SweepEnabled {
		sweeper := scheduler.NewSweeper(scheduler.SweeperConfig{
			Interval: cfg.Recon.SweepInterval,
		}, dispatcher, log)
		if err := sweeper.Start(context.Background()); err != nil {
			log.Fatal("failed to start sweeper", zap.Error(err))
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sweeper.Stop(stopCtx); err != nil {
				log.Warn("sweeper did not stop cleanly", zap.Error(err))
			}
		}()
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		logger.Recovery(log),
		logger.GinMiddleware(log),
	)

	handler.NewHealthHandler(db).RegisterRoutes(engine.Group(""))

	router.NewRouter(engine, router.WithAPIVersion("v1")).
		Register(handler.NewReconciliationHandler(dispatcher, eventRepo, auditRepo)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

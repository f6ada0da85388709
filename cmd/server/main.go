package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"h2all/internal/config"
	"h2all/internal/db"
	"h2all/internal/http/handler"
	"h2all/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	if !cfg.IsProduction() {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Open(cfg)
	if err != nil {
		zap.L().Fatal("failed to open database", zap.Error(err))
	}
	if err := db.AutoMigrate(database); err != nil {
		zap.L().Fatal("failed to run automigrate", zap.Error(err))
	}

	cache := service.NewCache(cfg)
	defer cache.Close()

	r := handler.NewRouter(database, cfg, cache)

	server := &http.Server{
		Addr:           cfg.Addr(),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		// h2c serves HTTP/2 without TLS behind a terminating proxy.
		Handler: h2c.NewHandler(r, &http2.Server{
			MaxConcurrentStreams: 250,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("starting h2all server",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.Environment),
			zap.String("db_driver", cfg.DBDriver),
			zap.Bool("redis_cache", cache.Healthy()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zap.L().Error("server stopped with error", zap.Error(err))
	}
	if sqlDB, err := database.DB(); err == nil {
		_ = sqlDB.Close()
	}
	zap.L().Info("server exited")
}

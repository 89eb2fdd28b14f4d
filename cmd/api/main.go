package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/TicketWatch/internal/api"
	"github.com/LJTian/TicketWatch/internal/app"
	"github.com/LJTian/TicketWatch/internal/config"
	"github.com/LJTian/TicketWatch/internal/logging"
	"github.com/LJTian/TicketWatch/internal/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// bootstrap logger so config warnings are visible; replaced once the
	// configured level (possibly from .env) is known
	if _, err := logging.New("info"); err != nil {
		panic(err)
	}
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg)
	if err != nil {
		zap.S().Fatalf("init app failed: %v", err)
	}

	// TDF and TKTS each run on their own cadence
	s, err := scheduler.New(a.Jobs())
	if err != nil {
		zap.S().Fatalf("init scheduler failed: %v", err)
	}
	s.Start()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	api.NewServer(a.Store).RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		zap.S().Infof("starting api server at %s ...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalf("server exit: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	zap.S().Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.S().Errorf("server shutdown: %v", err)
	}
	select {
	case <-s.Stop().Done():
	case <-ctx.Done():
		zap.S().Warn("scheduler: jobs still running at exit")
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

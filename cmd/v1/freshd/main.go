package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/freshchat/fresh/internal/v1/config"
	"github.com/freshchat/fresh/internal/v1/dispatch"
	"github.com/freshchat/fresh/internal/v1/health"
	"github.com/freshchat/fresh/internal/v1/listener"
	"github.com/freshchat/fresh/internal/v1/logging"
	"github.com/freshchat/fresh/internal/v1/session"
)

func main() {
	configPath := flag.String("config", "freshd.conf", "path to the server configuration file")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.LogFile, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "could not open log file: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	accepts := make(chan *session.User)
	lst, err := listener.New(cfg.Address, accepts)
	if err != nil {
		logging.Error(ctx, "failed to bind listener", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Info(ctx, "listening for clients", zap.String("address", lst.Addr()))

	dispatcher := dispatch.New(cfg, accepts)

	// The operations surface is optional; with no ops_address configured the
	// server speaks nothing but the chat protocol.
	var ops *http.Server
	if cfg.OpsAddress != "" {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())

		router.GET("/metrics", gin.WrapH(promhttp.Handler()))

		healthHandler := health.NewHandler(dispatcher)
		router.GET("/health/live", healthHandler.Liveness)
		router.GET("/health/ready", healthHandler.Readiness)

		ops = &http.Server{
			Addr:    cfg.OpsAddress,
			Handler: router,
		}
		go func() {
			logging.Info(ctx, "operations server starting", zap.String("address", cfg.OpsAddress))
			if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error(ctx, "operations server failed", zap.Error(err))
				syscall.Kill(os.Getpid(), syscall.SIGTERM)
			}
		}()
	}

	listenerStopped := make(chan struct{})
	go func() {
		defer close(listenerStopped)
		lst.Run(ctx)
	}()

	// The dispatcher blocks here until the context is cancelled, then tells
	// every connected user goodbye on its way out.
	dispatcher.Run(ctx)

	<-listenerStopped

	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logging.Error(shutdownCtx, "operations server forced to shut down", zap.Error(err))
		}
	}

	logging.Info(context.Background(), "server exiting")
}

// Command stompd runs a STOMP broker.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nofeaturesonlybugs/stomp/v2/internal/config"
	"github.com/nofeaturesonlybugs/stomp/v2/internal/logger"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
	"github.com/nofeaturesonlybugs/stomp/v2/server/events"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (optional)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger.Config())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	tlsConfig, err := cfg.Server.TLSConfig()
	if err != nil {
		appLogger.Fatal("Failed to load TLS configuration", zap.Error(err))
	}

	eventsC := make(chan interface{}, 64)
	srv := &server.Server{
		Addr:      cfg.Server.Addr,
		Events:    eventsC,
		TLSConfig: tlsConfig,
		Logger:    appLogger,
		Options:   cfg.Server.Options(),
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		srv.Metrics = server.NewMetrics(prometheus.DefaultRegisterer)
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			appLogger.Info("Metrics endpoint listening",
				zap.String("addr", cfg.Metrics.Addr),
				zap.String("path", cfg.Metrics.Path),
			)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		logEvents(appLogger, eventsC)
	}()

	if err := srv.ListenAndServe(); err != nil {
		appLogger.Fatal("Failed to listen", zap.String("addr", cfg.Server.Addr), zap.Error(err))
	}
	appLogger.Info("STOMP broker listening",
		zap.String("addr", srv.Addr),
		zap.Bool("tls", tlsConfig != nil),
		zap.Strings("versions", cfg.Server.Versions),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info("Shutting down", zap.Stringer("signal", sig))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Broker shutdown incomplete", zap.Error(err))
	}
	<-eventsDone
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			appLogger.Error("Metrics endpoint shutdown failed", zap.Error(err))
		}
	}
	appLogger.Info("Stopped")
}

// logEvents logs server events until the channel is closed.
func logEvents(log *zap.Logger, eventsC <-chan interface{}) {
	for event := range eventsC {
		switch e := event.(type) {
		case events.ClientConnect:
			log.Info("Client connected", zap.String("session", e.SessionID))
		case events.ClientDisconnect:
			log.Info("Client disconnected", zap.String("session", e.SessionID))
		case events.ConnectionDropped:
			log.Warn("Connection dropped", zap.String("session", e.SessionID))
		case events.SubscriptionStart:
			log.Debug("Destination active", zap.String("destination", e.Destination))
		case events.SubscriptionStop:
			log.Debug("Destination idle", zap.String("destination", e.Destination))
		case events.SubscriptionRejected:
			log.Warn("Subscription rejected",
				zap.String("session", e.SessionID),
				zap.String("destination", e.Destination),
				zap.String("id", e.ID),
				zap.String("reason", e.Reason),
			)
		case events.ServerStop:
			log.Debug("Server stop event")
		}
	}
}

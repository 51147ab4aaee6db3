package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"matchrelay/internal/config"
	"matchrelay/internal/game"
	"matchrelay/internal/handlers"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer logger.Sync()

	logger.Info("loaded configuration",
		zap.String("bindAddr", cfg.Server.BindAddr),
		zap.Int("maxPlayersPerRoom", cfg.Server.MaxPlayersPerRoom),
		zap.Int("minPlayersPerRoom", cfg.Server.MinPlayersPerRoom))

	coord := game.New(cfg, logger.Named("coordinator"))
	coord.Start()

	h := handlers.New(coord, cfg, logger.Named("http"))
	r := handlers.SetupRouter(h, cfg, nil)

	// No read/write timeouts on the server itself: upgraded websocket
	// connections are long-lived and pace themselves by heartbeat.
	server := &http.Server{
		Addr:    cfg.Server.BindAddr,
		Handler: r,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Server.BindAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	coord.Stop()

	logger.Info("server gracefully stopped")
}

// buildLogger constructs the process logger from the configured level
// and format ("json" for production encoding, anything else for the
// development console encoder).
func buildLogger(cfg *config.ServerConfig) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if cfg.Server.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dileep-u-k/agent-host/internal/session"
)

// main is the composition root: it loads configuration, initializes the
// shared services, wires the HTTP handlers, and runs the server until a
// shutdown signal arrives.
func main() {
	setupLogging()
	buildInfo := GetBuildInfo()
	log.Info().
		Str("version", buildInfo.Version).
		Str("commit", buildInfo.GitCommit).
		Str("platform", buildInfo.Platform).
		Msg("starting agent host")

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	// The Redis response cache is optional. When an address is configured
	// we insist on reaching it at startup rather than failing lazily.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("could not connect to Redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("response cache enabled")
	}

	manager := session.NewManager()
	handler := NewHostHandler(manager, cfg, rdb)
	log.Info().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Int("tool_servers", len(cfg.ToolServers)).
		Msg("services initialized")

	gin.SetMode(os.Getenv("GIN_MODE"))
	engine := gin.New()
	engine.Use(gin.Recovery())

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/sessions", handler.HandleStartSession)
		v1.POST("/sessions/:id/messages", handler.HandleSubmit)
		v1.POST("/sessions/:id/approve", handler.HandleApprove)
		v1.GET("/sessions/:id/state", handler.HandleState)
		v1.DELETE("/sessions/:id", handler.HandleDelete)
	}

	srv := &http.Server{Addr: fmt.Sprintf(":%s", cfg.Port), Handler: engine}
	runServerWithGracefulShutdown(srv, manager)
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("GIN_MODE") != "release" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
}

// runServerWithGracefulShutdown handles the server lifecycle. On SIGINT or
// SIGTERM it stops accepting connections, then tears down every live
// session so external tool-server processes are not orphaned.
func runServerWithGracefulShutdown(srv *http.Server, manager *session.Manager) {
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	manager.Shutdown(ctx)

	log.Info().Int("sessions", manager.Count()).Msg("server exited")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/providers"
	"github.com/orchestra-mcp/relay/src/logging"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("", "", os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	relay := providers.NewRelayProvider(cfg, logger)
	if err := relay.Activate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to activate relay")
	}

	srv := &fasthttp.Server{
		Handler: relay.Handler(),
		Name:    relay.Name(),
	}

	done := runGracefulShutdown(srv, relay, logger)

	logger.Info().Str("addr", cfg.Addr).Msg("relay listening")
	if err := srv.ListenAndServe(cfg.Addr); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}

	<-done
}

// runGracefulShutdown ends all sessions on SIGINT/SIGTERM, then stops the listener.
func runGracefulShutdown(srv *fasthttp.Server, relay *providers.RelayProvider, logger zerolog.Logger) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("shutdown signal received, cleaning up")

		if err := relay.Deactivate(); err != nil {
			logger.Error().Err(err).Msg("relay deactivate error")
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.ShutdownWithContext(ctx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()

	return done
}

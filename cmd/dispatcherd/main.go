// Command dispatcherd runs the signal-dispatch service: it loads
// configuration, builds one broker adapter per configured account,
// starts the per-key dispatch queue, and serves the HTTP front —
// replacing the teacher's separate cmd/router and cmd/server binaries
// with a single entrypoint, grounded on cmd/server/main.go's
// load-config / build-server / signal-handling shape.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"signaldispatcher/internal/accounts"
	"signaldispatcher/internal/api"
	"signaldispatcher/internal/config"
	"signaldispatcher/internal/dispatch"
	"signaldispatcher/internal/notify"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Server.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("addr", cfg.Server.Addr).
		Int("workers", cfg.Server.Workers).
		Int("accounts", len(cfg.Accounts)).
		Msg("starting signal dispatcher")

	notifier := buildNotifier(cfg)

	registry, err := accounts.Build(cfg, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build account registry")
	}

	dispatcher := dispatch.New(cfg.Server.Workers, registry.Get, notifier)

	serverCfg := api.ServerConfig{
		Port:   portFromAddr(cfg.Server.Addr),
		APIKey: cfg.Server.APIKey,
	}
	server, err := api.NewServer(serverCfg, dispatcher, registry, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build api server")
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error().Err(err).Msg("api server error")
		}
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("api server shutdown failed")
		}
		if err := dispatcher.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("dispatcher drain timed out")
		}
		if err := registry.Close(); err != nil {
			log.Error().Err(err).Msg("price feed shutdown failed")
		}
		log.Info().Msg("shutdown complete")
	}
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		return notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	return notify.NewLogNotifier(log.Logger)
}

// portFromAddr extracts the numeric port from a ":PORT" or
// "host:PORT" address string, defaulting to 8080 on any parse error —
// ServerConfig wants the bare port, while spec §6's addr is host:port.
func portFromAddr(addr string) int {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port := 0
			for _, c := range addr[i+1:] {
				if c < '0' || c > '9' {
					return 8080
				}
				port = port*10 + int(c-'0')
			}
			if port == 0 {
				return 8080
			}
			return port
		}
	}
	return 8080
}

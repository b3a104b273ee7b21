package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/mgmtcore/cmd/mgmtctl/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		os.Exit(1)
	}
}

// setupLogging points the global logger at stderr. LOG_LEVEL overrides the
// global level; the runtime's own logger follows the config file.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if lvl, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level, err := zerolog.ParseLevel(lvl)
		if err != nil {
			log.Warn().Str("level", lvl).Msg("Ignoring invalid LOG_LEVEL")
			return
		}
		zerolog.SetGlobalLevel(level)
	}
}

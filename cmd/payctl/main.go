package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/payroll/cmd/payctl/commands"
	"github.com/openfroyo/payroll/pkg/engine"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Exit codes by failure class.
const (
	exitOK             = 0
	exitFailure        = 1
	exitScript         = 3
	exitDomain         = 4
	exitContract       = 5
	exitInfrastructure = 6
	exitInterrupted    = 130
)

func main() {
	setupLogging(os.Getenv("PAYCTL_LOG_LEVEL"))

	// Interrupts cancel running payrun jobs through the command context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err != nil {
		event := log.Error().Err(err)
		if code := engine.CodeOf(err); code != "" {
			event = event.Str("code", code)
		}
		event.Msg("Command execution failed")
	}
	stop()
	os.Exit(exitCode(err))
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	var e *engine.EngineError
	if !errors.As(err, &e) {
		return exitFailure
	}
	switch e.Class {
	case engine.ErrorClassScript:
		return exitScript
	case engine.ErrorClassDomain:
		return exitDomain
	case engine.ErrorClassContract:
		return exitContract
	case engine.ErrorClassInfrastructure:
		return exitInfrastructure
	}
	return exitFailure
}

// setupLogging configures the console logger used until a command loads
// its telemetry configuration. Unknown levels fall back to info.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

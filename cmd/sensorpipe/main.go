package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/sensorpipe/internal/config"
	"codeberg.org/mutker/sensorpipe/internal/errors"
	"codeberg.org/mutker/sensorpipe/internal/logger"
	"codeberg.org/mutker/sensorpipe/internal/pid"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	logger.Debug().Msg("Config loaded")

	pidFile := pid.New(cfg.PIDFile)
	if err := pidFile.Write(); err != nil {
		logError(err, "Failed to write pid file")
		return 1
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logError(err, "Failed to remove pid file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	a, err := newApp(cfg, os.Stdin, os.Stdout)
	if err != nil {
		logError(err, "Failed to initialize")
		return 1
	}

	if err := a.run(ctx); err != nil {
		logError(err, "Error in main loop")
		return 1
	}

	logger.Info().Msg("Exiting...")
	return 0
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func logError(err error, msg string) {
	var coded errors.Error
	if errors.As(err, &coded) {
		logger.ErrorWithCode(coded).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gosom/exposure-monitor/runner"
	"github.com/gosom/exposure-monitor/runner/batchrunner"
	"github.com/gosom/exposure-monitor/runner/installplaywright"
	"github.com/gosom/exposure-monitor/runner/pollrunner"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner.Banner()

	cfg := runner.ParseConfig()

	runnerInstance, err := runnerFactory(ctx, cfg)
	if err != nil {
		cancel()
		os.Stderr.WriteString(err.Error() + "\n")

		runner.Telemetry().Close()

		os.Exit(1)
	}

	if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		os.Stderr.WriteString(err.Error() + "\n")

		_ = runnerInstance.Close(ctx)
		runner.Telemetry().Close()

		cancel()

		os.Exit(1)
	}

	_ = runnerInstance.Close(ctx)
	runner.Telemetry().Close()

	cancel()

	log.Printf("done")

	os.Exit(0)
}

func runnerFactory(ctx context.Context, cfg *runner.Config) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeBatch:
		return batchrunner.New(ctx, cfg)
	case runner.RunModeSchedule:
		return pollrunner.New(cfg)
	case runner.RunModeInstallPlaywright:
		return installplaywright.New(cfg)
	default:
		return nil, runner.ErrInvalidRunMode
	}
}

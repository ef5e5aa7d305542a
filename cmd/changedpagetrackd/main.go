// Command changedpagetrackd runs the changed-page tracker as a
// standalone daemon: it initializes a tracker.Controller against a data
// directory and calls Follow on a fixed interval until signaled to stop.
//
// Usage:
//
//	changedpagetrackd -config /etc/changedpage/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coredb/changedpage/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "changedpagetrackd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("changedpagetrackd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML configuration file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("usage: changedpagetrackd -config <path>")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newStdLogger(cfg.LogLevel)

	ctrl, err := buildController(cfg, logger)
	if err != nil {
		return fmt.Errorf("building controller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Init(ctx); err != nil {
		return fmt.Errorf("initializing controller: %w", err)
	}
	defer ctrl.Shutdown()

	logger.Infof("changed-page tracking started, data_home=%s, tracked_lsn=%d", cfg.DataHome, ctrl.TrackedLSN())

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("shutting down, tracked_lsn=%d", ctrl.TrackedLSN())
			return nil
		case <-ticker.C:
			if err := ctrl.Follow(ctx); err != nil {
				logger.Warnf("follow failed: %v", err)
			}
		}
	}
}

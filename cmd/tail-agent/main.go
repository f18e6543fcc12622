// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2017 Datadog, Inc.

// Command tail-agent drives a Source against its host lifecycle
// contract: configure, start, poll process() in a loop with
// exponential backoff on BACKOFF, and stop cleanly on a termination
// signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/DataDog/tail-file-source/pkg/channel"
	"github.com/DataDog/tail-file-source/pkg/source"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

var configPath string

var rootCommand = &cobra.Command{
	Use:          "tail-agent",
	Short:        "Tail glob-matched files and deliver framed records downstream",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCommand.Flags().StringVar(&configPath, "config", "", "path to the configuration file (required)")
}

func run(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("tail-agent: --config is required")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("tail-agent: could not build logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("tail-agent: could not read config %s: %w", configPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)

	src := source.New(channel.NewMemoryChannel(), log)
	if err := src.Configure(ctx, v); err != nil {
		return fmt.Errorf("tail-agent: configure: %w", err)
	}
	if err := src.Start(); err != nil {
		return fmt.Errorf("tail-agent: start: %w", err)
	}

	log.Infow("tail-agent: started", "config", configPath)
	pollLoop(ctx, src, terminationSignals, log)

	log.Infow("tail-agent: stopping")
	return src.Stop()
}

func pollLoop(ctx context.Context, src *source.Source, stopSignals <-chan os.Signal, log *zap.SugaredLogger) {
	backoff := minBackoff
	for {
		select {
		case <-stopSignals:
			return
		case <-ctx.Done():
			return
		default:
		}

		status, err := src.Process()
		if err != nil {
			log.Warnw("tail-agent: process failed", "error", err)
		}
		if status == source.READY {
			backoff = minBackoff
			continue
		}

		select {
		case <-stopSignals:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

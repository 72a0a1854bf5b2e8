// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package main hosts the Coder Gateway (C9) as a standalone process: it
// owns the TCP listener the scanner endpoints dial into and bridges
// coder.start/coder.complete across the bus.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v11"
	"golang.org/x/sync/errgroup"

	"github.com/caoyingjie21/IntelligentOutboundSystem/bus"
	"github.com/caoyingjie21/IntelligentOutboundSystem/coder"
	"github.com/caoyingjie21/IntelligentOutboundSystem/config"
	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/logger"
	"github.com/caoyingjie21/IntelligentOutboundSystem/registry"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
)

const svcName = "coder"

type envConfig struct {
	LogLevel   string `env:"IOS_CODER_LOG_LEVEL" envDefault:"info"`
	ConfigPath string `env:"IOS_CODER_CONFIG_PATH" envDefault:"config.yaml"`
}

type coderStartPayload struct {
	Direction   string  `json:"direction"`
	StackHeight float64 `json:"stackHeight"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		log.Fatalf("failed to load %s configuration: %s", svcName, err)
	}

	lg, err := logger.New(os.Stdout, ec.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %s", err)
	}

	var exitCode int
	defer logger.ExitWithError(&exitCode)

	cfg, vr := config.LoadFile(ec.ConfigPath, svcName)
	if !vr.OK() {
		lg.Error(fmt.Sprintf("config validation failed: %s", vr.Error()))
		exitCode = 1
		return
	}
	for _, w := range vr.Warnings {
		lg.Warn(w)
	}

	reg := registry.New()
	rt := router.New(lg)
	busClient := bus.New(cfg, reg, rt, lg, envelope.Service{Name: svcName, Version: cfg.Messages.Version})

	gateway := coder.New(cfg.Coder, lg, func() bool {
		return busClient.HealthCheck(context.Background())
	})

	if err := bus.SubscribeTyped(busClient, "coder.start", envelope.Command, func(t envelope.Typed[coderStartPayload]) {
		handleStart(ctx, gateway, busClient, t)
	}); err != nil {
		lg.Error(fmt.Sprintf("failed to subscribe coder.start: %s", err))
		exitCode = 1
		return
	}

	g.Go(func() error {
		return gateway.Start(ctx)
	})
	g.Go(func() error {
		return busClient.Start(ctx)
	})
	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, lg)
	})

	if err := g.Wait(); err != nil {
		lg.Error(fmt.Sprintf("%s terminated: %s", svcName, err))
		exitCode = 1
	}

	_ = gateway.Stop()
	busClient.Stop(context.Background())
}

// handleStart runs a scan window on its own goroutine so the subscription
// callback returns immediately; StartScan blocks for the configured scan
// timeout.
func handleStart(ctx context.Context, gateway *coder.Gateway, c *bus.Client, t envelope.Typed[coderStartPayload]) {
	go func() {
		result, err := gateway.StartScan(ctx, t.Payload.Direction, t.Payload.StackHeight)
		if err != nil {
			c.Publish(context.Background(), "coder.complete", map[string]any{
				"direction":    t.Payload.Direction,
				"stackHeight":  t.Payload.StackHeight,
				"codes":        []string{},
				"success":      false,
				"errorMessage": err.Error(),
			}, envelope.PriorityHigh, t.MessageID())
			return
		}

		codes := splitCodes(result.Codes)
		c.Publish(context.Background(), "coder.complete", map[string]any{
			"direction":   result.Direction,
			"stackHeight": result.StackHeight,
			"codes":       codes,
			"success":     true,
		}, envelope.PriorityHigh, t.MessageID())
	}()
}

func splitCodes(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ";")
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, lg *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-c:
		defer cancel()
		lg.Info(fmt.Sprintf("%s service shutdown by signal: %s", svcName, sig))
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package main hosts the Motion Adapter (C10) as a standalone process: it
// owns the axis collaborator and bridges motion.move/motion.complete across
// the bus.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/sync/errgroup"

	"github.com/caoyingjie21/IntelligentOutboundSystem/bus"
	"github.com/caoyingjie21/IntelligentOutboundSystem/config"
	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/logger"
	"github.com/caoyingjie21/IntelligentOutboundSystem/motion"
	"github.com/caoyingjie21/IntelligentOutboundSystem/registry"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
)

const svcName = "motion"

// mmToPulses is the same legacy unit-conversion factor as
// workflow.MillimetresToPulses; the wire payload carries millimetres,
// the axis collaborator moves in pulses.
const mmToPulses = 1000 * 100

type envConfig struct {
	LogLevel   string `env:"IOS_MOTION_LOG_LEVEL" envDefault:"info"`
	ConfigPath string `env:"IOS_MOTION_CONFIG_PATH" envDefault:"config.yaml"`
}

type motionMovePayload struct {
	TaskID     string  `json:"taskId"`
	PositionMM float64 `json:"positionMm"`
	Speed      int     `json:"speed,omitempty"`
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

	axis := motion.NewSimulatedAxis()
	adapter := motion.New(axis, cfg.Motion, lg)
	if err := adapter.Initialize(ctx); err != nil {
		lg.Error(fmt.Sprintf("motion adapter: initialize failed: %s", err))
		exitCode = 1
		return
	}

	if err := bus.SubscribeTyped(busClient, "motion.move", envelope.Command, func(t envelope.Typed[motionMovePayload]) {
		handleMove(ctx, adapter, busClient, t)
	}); err != nil {
		lg.Error(fmt.Sprintf("failed to subscribe motion.move: %s", err))
		exitCode = 1
		return
	}

	g.Go(func() error {
		return busClient.Start(ctx)
	})
	g.Go(func() error {
		return publishPosition(ctx, adapter, busClient)
	})
	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, lg)
	})

	if err := g.Wait(); err != nil {
		lg.Error(fmt.Sprintf("%s terminated: %s", svcName, err))
		exitCode = 1
	}

	_ = adapter.Shutdown(context.Background())
	busClient.Stop(context.Background())
}

func handleMove(ctx context.Context, adapter *motion.Adapter, c *bus.Client, t envelope.Typed[motionMovePayload]) {
	go func() {
		target := int64(t.Payload.PositionMM * mmToPulses)
		speed := t.Payload.Speed

		err := adapter.MoveAbsolute(ctx, target, speed)
		status := adapter.GetStatus()

		c.Publish(context.Background(), "motion.complete", map[string]any{
			"taskId":        t.Payload.TaskID,
			"finalPosition": status.Position,
			"success":       err == nil,
		}, envelope.PriorityHigh, t.MessageID())
	}()
}

// publishPosition emits a live motion.position event every second, the
// process's share of §4.10's axis telemetry.
func publishPosition(ctx context.Context, adapter *motion.Adapter, c *bus.Client) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status := adapter.GetStatus()
			c.Publish(ctx, "motion.position", map[string]any{
				"x": float64(status.Position),
				"y": 0.0,
				"z": 0.0,
			}, envelope.PriorityLow, "")
		}
	}
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

// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package main contains the scheduler process's main function: it wires the
// Bus Client, Topic Registry, Router, Handler Set, and Workflow Engine into
// the single process that owns this workcell's outbound task pipeline.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/go-kit/kit/metrics/generic"
	"golang.org/x/sync/errgroup"

	"github.com/caoyingjie21/IntelligentOutboundSystem/bus"
	"github.com/caoyingjie21/IntelligentOutboundSystem/config"
	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/handlers"
	hmw "github.com/caoyingjie21/IntelligentOutboundSystem/handlers/middleware"
	"github.com/caoyingjie21/IntelligentOutboundSystem/logger"
	"github.com/caoyingjie21/IntelligentOutboundSystem/pkg/uuid"
	"github.com/caoyingjie21/IntelligentOutboundSystem/registry"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
	"github.com/caoyingjie21/IntelligentOutboundSystem/workflow"
)

const svcName = "scheduler"

type envConfig struct {
	LogLevel   string `env:"IOS_SCHEDULER_LOG_LEVEL" envDefault:"info"`
	ConfigPath string `env:"IOS_SCHEDULER_CONFIG_PATH" envDefault:"config.yaml"`
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
	handlers.RegisterTopics(reg)
	workflow.RegisterTopics(reg)

	store := state.New()
	rt := router.New(lg)
	busClient := bus.New(cfg, reg, rt, lg, envelope.Service{Name: svcName, Version: cfg.Messages.Version})

	geometry := workflow.Geometry{
		HeightInit:   cfg.Geometry.HeightInit,
		TrayHeight:   cfg.Geometry.TrayHeight,
		CameraHeight: cfg.Geometry.CameraHeight,
		CoderHeight:  cfg.Geometry.CoderHeight,
	}
	engine := workflow.New(store, busClient, geometry, uuid.New(), lg)

	effects := map[string]handlers.ConfigEffect{}
	dispatchCount := generic.NewCounter("handler_dispatch_total")
	dispatchLatency := generic.NewHistogram("handler_dispatch_latency_seconds", 50)

	instrument := func(name string, h router.Handler) router.Handler {
		return hmw.Metrics(name, hmw.Logging(name, h, lg), dispatchCount, dispatchLatency)
	}

	systemHandler := instrument("system", handlers.NewSystemHandler(store, busClient, lg, effects))
	sensorHandler := instrument("sensor", handlers.NewSensorHandler(store, busClient, lg))
	motionHandler := instrument("motion", handlers.NewMotionHandler(store, busClient, lg))
	visionHandler := instrument("vision", handlers.NewVisionHandler(store, lg))
	coderHandler := instrument("coder", handlers.NewCoderHandler(store, busClient, lg))
	defaultHandler := instrument("default", handlers.NewDefaultHandler(store, busClient, lg))

	if err := wireHandlers(busClient, rt, systemHandler, sensorHandler, motionHandler, visionHandler, coderHandler, defaultHandler); err != nil {
		lg.Error(fmt.Sprintf("failed to wire handler set: %s", err))
		exitCode = 1
		return
	}
	if err := wireWorkflow(busClient, engine, lg); err != nil {
		lg.Error(fmt.Sprintf("failed to wire workflow engine: %s", err))
		exitCode = 1
		return
	}

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

	busClient.Stop(context.Background())
}

// wireHandlers subscribes the generic Handler Set. Where a topic also drives
// the Workflow Engine (sensor.trigger, coder.complete), both consumers are
// subscribed under the same key deliberately: the handler does bookkeeping,
// the engine owns the state transition, and the Router dispatches to every
// handler registered against a matching pattern. MotionHandler and
// VisionHandler are never subscribed to the keys the engine owns exclusively
// (motion.complete, vision.height.result) to avoid a duplicate, conflicting
// state write.
func wireHandlers(c *bus.Client, rt *router.Router, system, sensor, motion, vision, coder, def router.Handler) error {
	rt.SetDefault(def)

	for _, key := range []string{"system.heartbeat", "system.status.query", "system.config.update"} {
		if err := c.Subscribe(key, system); err != nil {
			return err
		}
	}

	if err := c.Subscribe("sensor.trigger", sensor); err != nil {
		return err
	}

	if err := c.Subscribe("motion.position", motion); err != nil {
		return err
	}

	for _, key := range []string{"vision.detection", "vision.result"} {
		if err := c.Subscribe(key, vision); err != nil {
			return err
		}
	}

	for _, key := range []string{"coder.result", "coder.complete"} {
		if err := c.Subscribe(key, coder); err != nil {
			return err
		}
	}

	return nil
}

// wireWorkflow subscribes the mandatory registry topics that drive the
// outbound task pipeline directly to the Workflow Engine's state-machine
// methods, bypassing the generic Handler Set for these keys.
func wireWorkflow(c *bus.Client, engine *workflow.Engine, lg *slog.Logger) error {
	if err := bus.SubscribeTyped(c, "sensor.trigger", envelope.Event, func(t envelope.Typed[sensorTriggerPayload]) {
		direction := workflow.Direction(t.Payload.Direction)
		if _, err := engine.Trigger(context.Background(), direction, t.MessageID()); err != nil {
			lg.Warn(fmt.Sprintf("scheduler: trigger rejected: %s", err))
		}
	}); err != nil {
		return err
	}

	if err := bus.SubscribeTyped(c, "vision.height.result", envelope.Event, func(t envelope.Typed[visionHeightResultPayload]) {
		engine.HeightResult(context.Background(), t.Payload.MinHeight, t.MessageID())
	}); err != nil {
		return err
	}

	if err := bus.SubscribeTyped(c, "motion.complete", envelope.Event, func(t envelope.Typed[motionCompletePayload]) {
		engine.MotionComplete(context.Background(), t.Payload.TaskID, t.Payload.FinalPosition, t.Payload.Success, t.MessageID())
	}); err != nil {
		return err
	}

	if err := bus.SubscribeTyped(c, "coder.complete", envelope.Event, func(t envelope.Typed[coderCompletePayload]) {
		engine.CoderComplete(context.Background(), t.Payload.Codes, t.Payload.Success, t.MessageID())
	}); err != nil {
		return err
	}

	if err := bus.SubscribeTyped(c, "order.new", envelope.Command, func(t envelope.Typed[orderNewPayload]) {
		engine.OrderNew(context.Background(), t.Payload.OrderID, t.MessageID())
	}); err != nil {
		return err
	}

	return nil
}

type sensorTriggerPayload struct {
	Direction string `json:"direction"`
}

type visionHeightResultPayload struct {
	MinHeight float64 `json:"minHeight"`
}

type motionCompletePayload struct {
	TaskID        string `json:"taskId"`
	FinalPosition int64  `json:"finalPosition"`
	Success       bool   `json:"success"`
}

type coderCompletePayload struct {
	Codes   []string `json:"codes"`
	Success bool     `json:"success"`
}

type orderNewPayload struct {
	OrderID string `json:"orderId"`
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

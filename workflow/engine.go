// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package workflow implements the Workflow Engine (C8): the state machine
// that drives a single outbound task from trigger through height check,
// motion, code read, and order lookup to completion. Each event method
// checks the active task's current state before applying its transition;
// there is no separate {state, event} -> state table. The engine owns every
// write to its task, the way the teacher's domains/ state machines own every
// write to their own aggregate rather than scattering transitions across
// middleware.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/pkg/uuid"
	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
)

// Direction is the travel direction of material through the workcell.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// State is one of the outbound task's explicit states (§4.8).
type State string

const (
	Created       State = "Created"
	HeightMeasured State = "HeightMeasured"
	Moving        State = "Moving"
	Scanning      State = "Scanning"
	OrderPending  State = "OrderPending"
	Completed     State = "Completed"
	Failed        State = "Failed"
	Cancelled     State = "Cancelled"
)

// Publisher is the subset of the Bus Client's contract the engine needs.
type Publisher interface {
	Publish(ctx context.Context, topicKey string, data any, priority envelope.Priority, correlationID string) bool
}

// VisionHeightRequest is published on vision.height.request.
type VisionHeightRequest struct {
	TaskID    string `json:"taskId"`
	Direction string `json:"direction"`
}

// MotionMove is published on motion.move.
type MotionMove struct {
	TaskID      string  `json:"taskId"`
	PositionMM  float64 `json:"positionMm"`
	Speed       int     `json:"speed,omitempty"`
}

// CoderStart is published on coder.start.
type CoderStart struct {
	Direction   string  `json:"direction"`
	StackHeight float64 `json:"stackHeight"`
}

// OrderRequest is published on order.request to ask the order service for
// the next order covering the codes just scanned.
type OrderRequest struct {
	TaskID string   `json:"taskId"`
	Codes  []string `json:"codes"`
}

// CoderOdoo is the business-event payload published on task completion.
type CoderOdoo struct {
	OrderID     string   `json:"orderId"`
	Codes       []string `json:"codes"`
	Direction   string   `json:"direction"`
	StackHeight float64  `json:"stackHeight"`
	Timestamp   time.Time `json:"timestamp"`
}

// TaskError is published when a step fails fatally.
type TaskError struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

// task holds one outbound task's mutable state. Access is always mediated
// by Engine.mu plus the task's own presence as Engine.active, which
// guarantees at most one task is in flight at a time and that its events
// are processed strictly in arrival order (§5, "per-key serial execution";
// this workcell has a single axis and a single scan station, so the task
// key collapses to a single active slot rather than a per-task_id map).
type task struct {
	id            string
	direction     Direction
	correlationID string
	state         State
	minHeight     float64
	stackHeight   float64
	finalPosition int64
	codes         []string
	orderID       string
	seenMessages  map[string]struct{}
}

// Engine is the Workflow Engine (C8).
type Engine struct {
	store    *state.Store
	pub      Publisher
	geometry Geometry
	ids      uuid.IDProvider
	logger   *slog.Logger

	mu     sync.Mutex
	active *task
}

// New constructs an Engine. geometry supplies the fixed station heights used
// to turn a vision reading into a target axis position.
func New(store *state.Store, pub Publisher, geometry Geometry, ids uuid.IDProvider, logger *slog.Logger) *Engine {
	return &Engine{store: store, pub: pub, geometry: geometry, ids: ids, logger: logger}
}

// alreadyProcessed reports whether messageID was already applied to t,
// recording it if not (P6: idempotence keyed on (task_id, message_id)).
func (t *task) alreadyProcessed(messageID string) bool {
	if messageID == "" {
		return false
	}
	if _, ok := t.seenMessages[messageID]; ok {
		return true
	}
	t.seenMessages[messageID] = struct{}{}
	return false
}

func (e *Engine) persist(t *task) {
	e.store.Set(fmt.Sprintf("task:%s:status", t.id), string(t.state))
	e.store.Set(fmt.Sprintf("task:%s:direction", t.id), string(t.direction))
}

// Trigger starts a new task for direction on a grating event. It is a
// no-op, logged, if a task is already in flight: the physical workcell has
// one axis and one scan station, so only one task may occupy the pipeline
// between trigger and completion at a time.
func (e *Engine) Trigger(ctx context.Context, direction Direction, messageID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		e.logger.Warn(fmt.Sprintf("workflow: trigger for direction %s ignored, task %s already in flight", direction, e.active.id))
		return "", fmt.Errorf("task already in flight")
	}

	taskID, err := e.ids.ID()
	if err != nil {
		return "", err
	}
	correlationID, err := e.ids.ID()
	if err != nil {
		return "", err
	}

	t := &task{
		id:            taskID,
		direction:     direction,
		correlationID: correlationID,
		state:         Created,
		seenMessages:  map[string]struct{}{messageID: {}},
	}
	e.active = t
	e.persist(t)

	e.pub.Publish(ctx, "vision.height.request", VisionHeightRequest{
		TaskID: t.id, Direction: string(t.direction),
	}, envelope.PriorityNormal, t.correlationID)

	return t.id, nil
}

// HeightResult advances the active task from Created to Moving on a
// vision.height.result event, computing the target position from
// configured geometry and publishing motion.move.
func (e *Engine) HeightResult(ctx context.Context, minHeight float64, messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.active
	if t == nil || t.state != Created {
		return
	}
	if t.alreadyProcessed(messageID) {
		return
	}

	t.minHeight = minHeight
	t.stackHeight = e.geometry.StackHeight(minHeight)
	positionMM := e.geometry.TargetPositionMM(minHeight, t.direction)

	t.state = HeightMeasured
	e.persist(t)
	e.store.Set(fmt.Sprintf("task:%s:stack_height", t.id), t.stackHeight)

	t.state = Moving
	e.persist(t)

	e.pub.Publish(ctx, "motion.move", MotionMove{
		TaskID: t.id, PositionMM: positionMM,
	}, envelope.PriorityNormal, t.correlationID)
}

// MotionComplete advances the active task from Moving to Scanning on a
// motion.complete event, recording the final position and starting the
// coder scan window.
func (e *Engine) MotionComplete(ctx context.Context, taskID string, finalPosition int64, success bool, messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.active
	if t == nil || t.id != taskID || t.state != Moving {
		return
	}
	if t.alreadyProcessed(messageID) {
		return
	}

	if !success {
		e.fail(ctx, t, "motion step reported failure")
		return
	}

	t.finalPosition = finalPosition
	t.state = Scanning
	e.persist(t)
	e.store.Set(fmt.Sprintf("task:%s:final_position", t.id), finalPosition)

	e.pub.Publish(ctx, "coder.start", CoderStart{
		Direction: string(t.direction), StackHeight: t.stackHeight,
	}, envelope.PriorityNormal, t.correlationID)
}

// CoderComplete advances the active task from Scanning to OrderPending on
// the coder gateway's collect-window-closed event, recording scanned codes
// and requesting an order.
func (e *Engine) CoderComplete(ctx context.Context, codes []string, success bool, messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.active
	if t == nil || t.state != Scanning {
		return
	}
	if t.alreadyProcessed(messageID) {
		return
	}

	if !success {
		e.fail(ctx, t, "coder scan reported failure")
		return
	}

	t.codes = codes
	t.state = OrderPending
	e.persist(t)
	e.store.Set(fmt.Sprintf("task:%s:codes", t.id), codes)

	e.pub.Publish(ctx, "order.request", OrderRequest{TaskID: t.id, Codes: codes}, envelope.PriorityNormal, t.correlationID)
}

// OrderNew finalises the active task on an order.new event, publishing the
// coder.odoo business event and freeing the engine for the next trigger.
func (e *Engine) OrderNew(ctx context.Context, orderID string, messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.active
	if t == nil || t.state != OrderPending {
		return
	}
	if t.alreadyProcessed(messageID) {
		return
	}

	t.orderID = orderID
	t.state = Completed
	e.persist(t)
	e.store.Set(fmt.Sprintf("task:%s:order_id", t.id), orderID)

	e.pub.Publish(ctx, "coder.odoo", CoderOdoo{
		OrderID:     orderID,
		Codes:       t.codes,
		Direction:   string(t.direction),
		StackHeight: t.stackHeight,
		Timestamp:   time.Now().UTC(),
	}, envelope.PriorityNormal, t.correlationID)

	e.active = nil
}

// Cancel marks the active task Cancelled, publishing motion/vision stop
// commands and clearing temporary keys (§4.8).
func (e *Engine) Cancel(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.active
	if t == nil {
		return
	}

	e.pub.Publish(ctx, "motion.stop", struct{}{}, envelope.PriorityHigh, t.correlationID)
	e.pub.Publish(ctx, "vision.stop", struct{}{}, envelope.PriorityHigh, t.correlationID)

	e.clearTemp(t)
	t.state = Cancelled
	e.persist(t)
	e.active = nil
}

// fail marks t Failed, records the error, and publishes outbound.task.error.
// Caller must hold e.mu.
func (e *Engine) fail(ctx context.Context, t *task, reason string) {
	e.store.Set(fmt.Sprintf("task:%s:error", t.id), reason)
	t.state = Failed
	e.persist(t)

	e.pub.Publish(ctx, "outbound.task.error", TaskError{TaskID: t.id, Error: reason}, envelope.PriorityHigh, t.correlationID)
	e.active = nil
}

func (e *Engine) clearTemp(t *task) {
	prefix := fmt.Sprintf("task:%s:", t.id)
	for _, key := range e.store.Keys() {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if hasTempOrCacheSuffix(key) {
			e.store.Remove(key)
		}
	}
}

func hasTempOrCacheSuffix(key string) bool {
	for _, suffix := range []string{"temp", "cache"} {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// CurrentState reports the active task's id and state, or ("", "") if the
// engine is idle.
func (e *Engine) CurrentState() (taskID string, st State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return "", ""
	}
	return e.active.id, e.active.state
}

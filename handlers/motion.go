// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
)

// MotionCompletePayload is published on motion/control/complete when the
// axis finishes a commanded move.
type MotionCompletePayload struct {
	TaskID         string `json:"taskId"`
	FinalPosition  int64  `json:"finalPosition"`
	Success        bool   `json:"success"`
}

// MotionPositionPayload is published periodically with the axis's current
// Cartesian position.
type MotionPositionPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NextStepPayload notifies downstream consumers a task may proceed.
type NextStepPayload struct {
	TaskID string `json:"taskId"`
}

// MotionHandler implements the motion domain's generic bookkeeping: it
// records completion and live position into the shared store. The
// authoritative task-state transition on motion completion is owned by the
// Workflow Engine (C8); a scheduler process wires this handler only for
// motion/position so the two do not race on the same event.
type MotionHandler struct {
	store  *state.Store
	pub    Publisher
	logger *slog.Logger
}

var _ router.Handler = (*MotionHandler)(nil)

// NewMotionHandler returns a MotionHandler.
func NewMotionHandler(store *state.Store, pub Publisher, logger *slog.Logger) *MotionHandler {
	return &MotionHandler{store: store, pub: pub, logger: logger}
}

func (h *MotionHandler) CanHandle(topic string) bool {
	return strings.HasSuffix(topic, "motion/control/complete") || strings.HasSuffix(topic, "motion/position")
}

func (h *MotionHandler) SupportedTopics() []string {
	return []string{"+/+/motion/control/complete", "+/+/motion/position"}
}

func (h *MotionHandler) Handle(topic string, payload []byte) {
	env, err := envelope.Deserialize(payload)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("motion handler: dropping undecodable envelope on %s: %s", topic, err))
		return
	}

	switch {
	case strings.HasSuffix(topic, "motion/control/complete"):
		h.handleComplete(env)
	case strings.HasSuffix(topic, "motion/position"):
		h.handlePosition(env)
	default:
		h.logger.Warn(fmt.Sprintf("motion handler: unexpected topic %s", topic))
	}
}

func (h *MotionHandler) handleComplete(env envelope.Envelope) {
	var p MotionCompletePayload
	if err := env.Decode(&p); err != nil || p.TaskID == "" {
		h.logger.Warn("motion handler: malformed completion payload")
		return
	}

	h.store.Set(fmt.Sprintf("task:%s:motion_status", p.TaskID), "completed")
	h.store.Set(fmt.Sprintf("task:%s:final_position", p.TaskID), p.FinalPosition)

	h.pub.Publish(context.Background(), "motion.next_step", NextStepPayload{TaskID: p.TaskID}, envelope.PriorityNormal, env.CorrelationID())
}

func (h *MotionHandler) handlePosition(env envelope.Envelope) {
	var p MotionPositionPayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn("motion handler: malformed position payload")
		return
	}

	h.store.Set("motion:current_position", p)
	h.store.Set("motion:last_update", time.Now().UTC())
}

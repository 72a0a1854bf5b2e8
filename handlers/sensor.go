// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
)

// GratingTriggerPayload is published on sensor/grating by the grating
// fieldbus gateway whenever the entry sensor fires.
type GratingTriggerPayload struct {
	Direction string `json:"direction"`
}

// VisionHeightRequestPayload is published to ask the vision service to
// measure the current stack height.
type VisionHeightRequestPayload struct {
	TaskID    string `json:"taskId"`
	Direction string `json:"direction"`
}

// SensorHandler implements the sensor domain's generic bookkeeping: it
// records the triggered direction and echoes a height request with no
// task_id attached. The task-bearing height request that actually starts
// an outbound task is owned by the Workflow Engine's Trigger method. A
// scheduler process wires this handler and the workflow adapter to the same
// sensor/grating/trigger topic, so each trigger produces both this task-less
// height request and the engine's task-bearing one.
type SensorHandler struct {
	store  *state.Store
	pub    Publisher
	logger *slog.Logger
}

var _ router.Handler = (*SensorHandler)(nil)

// NewSensorHandler returns a SensorHandler.
func NewSensorHandler(store *state.Store, pub Publisher, logger *slog.Logger) *SensorHandler {
	return &SensorHandler{store: store, pub: pub, logger: logger}
}

func (h *SensorHandler) CanHandle(topic string) bool {
	return strings.HasSuffix(topic, "sensor/grating") || strings.HasSuffix(topic, "sensor/grating/trigger")
}

func (h *SensorHandler) SupportedTopics() []string {
	return []string{"+/+/sensor/grating/trigger"}
}

func (h *SensorHandler) Handle(topic string, payload []byte) {
	env, err := envelope.Deserialize(payload)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("sensor handler: dropping undecodable envelope on %s: %s", topic, err))
		return
	}

	var p GratingTriggerPayload
	if err := env.Decode(&p); err != nil || p.Direction == "" {
		h.logger.Warn("sensor handler: malformed grating trigger payload")
		return
	}

	h.store.Set("sensor:grating", p.Direction)

	h.pub.Publish(context.Background(), "vision.height.request", VisionHeightRequestPayload{
		Direction: p.Direction,
	}, envelope.PriorityNormal, env.CorrelationID())
}

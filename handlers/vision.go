// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
)

// DetectedObject is one entry of a vision/detection payload.
type DetectedObject struct {
	Type       string  `json:"type"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Content    string  `json:"content,omitempty"`
}

// DetectionPayload is published on vision/detection.
type DetectionPayload struct {
	TaskID          string           `json:"taskId"`
	DetectedObjects []DetectedObject `json:"detectedObjects"`
	Timestamp       time.Time        `json:"timestamp"`
}

// HeightResultPayload is published on vision/height/result.
type HeightResultPayload struct {
	MinHeight float64   `json:"minHeight"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultPayload is published on vision/camera/result.
type ResultPayload struct {
	TaskID string `json:"taskId"`
}

// ObjectClass classifies a DetectedObject.Type into one of the known
// detection categories; anything else is reported as "unknown".
func ObjectClass(objType string) string {
	switch strings.ToLower(objType) {
	case "package", "qrcode", "barcode":
		return strings.ToLower(objType)
	default:
		return "unknown"
	}
}

// VisionHandler implements the vision domain's generic bookkeeping: object
// detections, height measurements, and final results are persisted under
// task-scoped keys. The height-result transition that advances the
// outbound task is owned by the Workflow Engine (C8); a scheduler process
// wires this handler only for vision/detection and vision/result.
type VisionHandler struct {
	store  *state.Store
	logger *slog.Logger
}

var _ router.Handler = (*VisionHandler)(nil)

// NewVisionHandler returns a VisionHandler.
func NewVisionHandler(store *state.Store, logger *slog.Logger) *VisionHandler {
	return &VisionHandler{store: store, logger: logger}
}

func (h *VisionHandler) CanHandle(topic string) bool {
	return strings.HasSuffix(topic, "vision/detection") ||
		strings.HasSuffix(topic, "vision/height/result") ||
		strings.HasSuffix(topic, "vision/camera/result")
}

func (h *VisionHandler) SupportedTopics() []string {
	return []string{"+/+/vision/detection", "+/+/vision/height/result", "+/+/vision/camera/result"}
}

func (h *VisionHandler) Handle(topic string, payload []byte) {
	env, err := envelope.Deserialize(payload)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("vision handler: dropping undecodable envelope on %s: %s", topic, err))
		return
	}

	switch {
	case strings.HasSuffix(topic, "vision/detection"):
		h.handleDetection(env)
	case strings.HasSuffix(topic, "vision/height/result"):
		h.handleHeightResult(env)
	case strings.HasSuffix(topic, "vision/camera/result"):
		h.handleResult(env)
	default:
		h.logger.Warn(fmt.Sprintf("vision handler: unexpected topic %s", topic))
	}
}

func (h *VisionHandler) handleDetection(env envelope.Envelope) {
	var p DetectionPayload
	if err := env.Decode(&p); err != nil || p.TaskID == "" {
		h.logger.Warn("vision handler: malformed detection payload")
		return
	}

	classified := make([]map[string]any, 0, len(p.DetectedObjects))
	for _, obj := range p.DetectedObjects {
		classified = append(classified, map[string]any{
			"object": obj,
			"class":  ObjectClass(obj.Type),
		})
	}
	h.store.Set(fmt.Sprintf("vision:%s:detection", p.TaskID), classified)
}

func (h *VisionHandler) handleHeightResult(env envelope.Envelope) {
	var p HeightResultPayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn("vision handler: malformed height result payload")
		return
	}
	h.store.Set("min_height", p.MinHeight)
}

func (h *VisionHandler) handleResult(env envelope.Envelope) {
	var p ResultPayload
	if err := env.Decode(&p); err != nil || p.TaskID == "" {
		h.logger.Warn("vision handler: malformed result payload")
		return
	}
	h.store.Set(fmt.Sprintf("vision:%s:result", p.TaskID), env)
}

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

// CodeResultPayload is published on coder/result for a single scanned code.
type CodeResultPayload struct {
	TaskID     string  `json:"taskId"`
	Code       string  `json:"code"`
	CodeType   string  `json:"codeType"`
	Confidence float64 `json:"confidence"`
}

// CoderCompletePayload is published on coder/complete when a scan window
// closes.
type CoderCompletePayload struct {
	Direction    string   `json:"direction"`
	StackHeight  float64  `json:"stackHeight"`
	Codes        []string `json:"codes"`
	Success      bool     `json:"success"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// ValidateCodeFormat checks a scanned code against the format rules for its
// declared type (§4.7): QR length 3..1000; barcode digits-only length
// 8..20; datamatrix non-empty length >= 3. Unknown types are rejected.
func ValidateCodeFormat(codeType, code string) error {
	switch strings.ToLower(codeType) {
	case "qr", "qrcode":
		if len(code) < 3 || len(code) > 1000 {
			return fmt.Errorf("qr code length %d outside [3,1000]", len(code))
		}
	case "barcode":
		if len(code) < 8 || len(code) > 20 {
			return fmt.Errorf("barcode length %d outside [8,20]", len(code))
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				return fmt.Errorf("barcode must be all digits")
			}
		}
	case "datamatrix":
		if len(code) < 3 {
			return fmt.Errorf("datamatrix length %d below minimum 3", len(code))
		}
	default:
		return fmt.Errorf("unrecognised code type %q", codeType)
	}
	return nil
}

// CoderHandler implements the coder domain's generic bookkeeping: per-code
// format validation and the terminal coder status transition on
// coder/complete, which is keyed by the payload's direction because
// CoderCompletePayload carries no task id.
type CoderHandler struct {
	store  *state.Store
	pub    Publisher
	logger *slog.Logger
}

var _ router.Handler = (*CoderHandler)(nil)

// NewCoderHandler returns a CoderHandler.
func NewCoderHandler(store *state.Store, pub Publisher, logger *slog.Logger) *CoderHandler {
	return &CoderHandler{store: store, pub: pub, logger: logger}
}

func (h *CoderHandler) CanHandle(topic string) bool {
	return strings.HasSuffix(topic, "coder/result") || strings.HasSuffix(topic, "coder/service/complete")
}

func (h *CoderHandler) SupportedTopics() []string {
	return []string{"+/+/coder/result", "+/+/coder/service/complete"}
}

func (h *CoderHandler) Handle(topic string, payload []byte) {
	env, err := envelope.Deserialize(payload)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("coder handler: dropping undecodable envelope on %s: %s", topic, err))
		return
	}

	switch {
	case strings.HasSuffix(topic, "coder/result"):
		h.handleResult(env)
	case strings.HasSuffix(topic, "coder/service/complete"):
		h.handleComplete(env)
	default:
		h.logger.Warn(fmt.Sprintf("coder handler: unexpected topic %s", topic))
	}
}

func (h *CoderHandler) handleResult(env envelope.Envelope) {
	var p CodeResultPayload
	if err := env.Decode(&p); err != nil || p.TaskID == "" {
		h.pub.Publish(context.Background(), "coder.validation.error", map[string]string{"error": "malformed code result"}, envelope.PriorityNormal, env.CorrelationID())
		return
	}

	h.store.Set(fmt.Sprintf("task:%s:code", p.TaskID), p.Code)
	h.store.Set(fmt.Sprintf("task:%s:code_type", p.TaskID), p.CodeType)

	if err := ValidateCodeFormat(p.CodeType, p.Code); err != nil {
		h.pub.Publish(context.Background(), "coder.validation.failed", map[string]string{"taskId": p.TaskID, "reason": err.Error()}, envelope.PriorityNormal, env.CorrelationID())
		return
	}

	h.pub.Publish(context.Background(), "coder.validation.success", map[string]string{"taskId": p.TaskID}, envelope.PriorityNormal, env.CorrelationID())
}

func (h *CoderHandler) handleComplete(env envelope.Envelope) {
	var p CoderCompletePayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn("coder handler: malformed complete payload")
		return
	}

	status := "completed"
	if !p.Success {
		status = "failed"
	}
	h.store.Set(fmt.Sprintf("task:%s:coder_status", p.Direction), status)
	h.store.Set(fmt.Sprintf("coder:%s:last_complete", p.Direction), time.Now().UTC())
}

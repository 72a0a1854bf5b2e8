// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/registry"
)

// RegisterTopics adds the registry entries the generic handler set uses
// beyond the mandatory initial set (§4.2): the inbound heartbeat, status
// query, config update, vision detection, coder result and motion position
// topics it subscribes to, and the status responses, config
// acknowledgements, validation results, next-step notice and default
// handler diagnostic sink it publishes to.
func RegisterTopics(reg *registry.Registry) {
	for _, d := range []struct {
		key, pattern, desc string
		typ                envelope.Type
	}{
		{"system.heartbeat", "ios/{version}/system/heartbeat", "Per-source liveness ping", envelope.Heartbeat},
		{"system.status.query", "ios/{version}/system/status", "Request a status snapshot", envelope.Query},
		{"system.status.result", "ios/{version}/system/status/result", "Status query response", envelope.Response},
		{"system.config.update", "ios/{version}/system/config", "Update a recognised runtime setting", envelope.Command},
		{"system.config.confirm", "ios/{version}/system/config/confirm", "Config update accepted", envelope.Event},
		{"system.config.error", "ios/{version}/system/config/error", "Config update rejected", envelope.Event},
		{"system.events.unknown_topic", "ios/{version}/system/events/unknown_topic", "Default handler diagnostic", envelope.Event},
		{"vision.detection", "ios/{version}/vision/detection", "Raw object detections from the vision station", envelope.Event},
		{"coder.result", "ios/{version}/coder/result", "Per-code scan result from the coder gateway", envelope.Event},
		{"motion.position", "ios/{version}/motion/position", "Live axis Cartesian position", envelope.Event},
		{"coder.validation.success", "ios/{version}/coder/validation/success", "Scanned code passed format validation", envelope.Event},
		{"coder.validation.failed", "ios/{version}/coder/validation/failed", "Scanned code failed format validation", envelope.Event},
		{"coder.validation.error", "ios/{version}/coder/validation/error", "Malformed coder result payload", envelope.Event},
		{"motion.next_step", "ios/{version}/motion/next_step", "Downstream task may proceed", envelope.Event},
	} {
		_ = reg.Register(d.key, d.pattern, d.typ, "", d.desc)
	}
}

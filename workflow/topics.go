// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/registry"
)

// RegisterTopics adds the registry entries the workflow engine needs beyond
// the mandatory initial set (§4.2): the height-measurement round trip, the
// order request/response pair, the business-event sink, and the cancel/error
// side channels. These are supplementary, not mandatory, registrations, so
// they live alongside the engine that uses them rather than in registry's
// own defaults.
func RegisterTopics(reg *registry.Registry) {
	for _, d := range []struct {
		key, pattern, desc string
		typ                envelope.Type
	}{
		{"vision.height.request", "ios/{version}/vision/height/request", "Request a stack height measurement", envelope.Command},
		{"vision.height.result", "ios/{version}/vision/height/result", "Stack height measurement result", envelope.Event},
		{"order.request", "ios/{version}/order/system/request", "Request the next order covering scanned codes", envelope.Command},
		{"coder.odoo", "ios/{version}/coder/odoo", "Completed outbound task business event", envelope.Event},
		{"outbound.task.error", "ios/{version}/outbound/task/error", "Fatal workflow step failure", envelope.Event},
		{"motion.stop", "ios/{version}/motion/control/stop", "Cancel the current motion", envelope.Command},
		{"vision.stop", "ios/{version}/vision/camera/stop", "Cancel the current vision measurement", envelope.Command},
	} {
		_ = reg.Register(d.key, d.pattern, d.typ, "", d.desc)
	}
}

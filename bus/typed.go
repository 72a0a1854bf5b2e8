// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"log/slog"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
)

// TypedHandlerFunc is the handler signature subscribe_typed expects: a
// function over the decoded, generic payload.
type TypedHandlerFunc[T any] func(envelope.Typed[T])

// typedHandler adapts a TypedHandlerFunc into a router.Handler, dropping
// envelopes that fail to decode or, when filterType is non-empty, whose
// Type does not match it (§4.4 "filter-type ... drops envelopes of other
// types before invoking handler").
type typedHandler[T any] struct {
	fn         TypedHandlerFunc[T]
	filterType envelope.Type
	logger     *slog.Logger
}

var _ router.Handler = (*typedHandler[struct{}])(nil)

func (h *typedHandler[T]) CanHandle(string) bool { return true }

func (h *typedHandler[T]) SupportedTopics() []string { return nil }

func (h *typedHandler[T]) Handle(topic string, payload []byte) {
	env, err := envelope.Deserialize(payload)
	if err != nil {
		h.logger.Warn("bus: subscribe_typed dropping undecodable envelope on " + topic)
		return
	}
	if h.filterType != "" && env.Type() != h.filterType {
		return
	}

	typed, err := envelope.DecodeTyped[T](env)
	if err != nil {
		h.logger.Warn("bus: subscribe_typed dropping undecodable payload on " + topic)
		return
	}
	h.fn(typed)
}

// SubscribeTyped resolves topicKey to a pattern and subscribes fn to it,
// decoding every inbound payload into envelope.Typed[T] before dispatch. If
// filterType is non-empty, envelopes of any other Type are dropped before fn
// is invoked.
func SubscribeTyped[T any](c *Client, topicKey string, filterType envelope.Type, fn TypedHandlerFunc[T], params ...string) error {
	h := &typedHandler[T]{fn: fn, filterType: filterType, logger: c.logger}
	return c.Subscribe(topicKey, h, params...)
}

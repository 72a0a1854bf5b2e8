// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
)

// UnknownTopicEvent is published on system/events/unknown_topic whenever an
// inbound message matches no registered handler pattern.
type UnknownTopicEvent struct {
	Topic     string    `json:"topic"`
	MessageID string    `json:"messageId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultHandler is the Router's fallback: it never rejects a message. It
// archives the raw payload under a unique key, emits a diagnostic event, and
// additionally logs payloads arriving on the test/debug/log/ prefix at debug
// level without archiving them, since that prefix is reserved for scratch
// traffic during integration testing (§4.7).
type DefaultHandler struct {
	store  *state.Store
	pub    Publisher
	logger *slog.Logger
}

var _ router.Handler = (*DefaultHandler)(nil)

// NewDefaultHandler returns a DefaultHandler.
func NewDefaultHandler(store *state.Store, pub Publisher, logger *slog.Logger) *DefaultHandler {
	return &DefaultHandler{store: store, pub: pub, logger: logger}
}

// CanHandle always reports true: this handler is installed via
// Router.SetDefault, not Subscribe, so CanHandle is never consulted during
// normal dispatch.
func (h *DefaultHandler) CanHandle(string) bool { return true }

func (h *DefaultHandler) SupportedTopics() []string { return []string{"#"} }

func (h *DefaultHandler) Handle(topic string, payload []byte) {
	if strings.HasPrefix(topic, "test/debug/log/") {
		h.logger.Debug(fmt.Sprintf("default handler: scratch message on %s (%d bytes)", topic, len(payload)))
		return
	}

	messageID := ""
	if env, err := envelope.Deserialize(payload); err == nil {
		messageID = env.MessageID()
	}

	key := fmt.Sprintf("unknown_messages:%d:%s", time.Now().UTC().UnixNano(), uuid.NewString())
	h.store.Set(key, string(payload))

	h.logger.Warn(fmt.Sprintf("default handler: no registered handler for topic %s", topic))

	h.pub.Publish(context.Background(), "system.events.unknown_topic", UnknownTopicEvent{
		Topic:     topic,
		MessageID: messageID,
		Timestamp: time.Now().UTC(),
	}, envelope.PriorityLow, "")
}

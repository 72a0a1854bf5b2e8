// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
)

// recordingPublisher is an in-memory handlers.Publisher used by every
// handler test to assert on what would have been published.
type recordingPublisher struct {
	mu        sync.Mutex
	published []published
}

type published struct {
	TopicKey      string
	Data          any
	Priority      envelope.Priority
	CorrelationID string
}

func (p *recordingPublisher) Publish(_ context.Context, topicKey string, data any, priority envelope.Priority, correlationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, published{TopicKey: topicKey, Data: data, Priority: priority, CorrelationID: correlationID})
	return true
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.published))
	copy(out, p.published)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustEnvelope(data any) []byte {
	env, err := envelope.New(envelope.Event, envelope.PriorityNormal, envelope.Service{Name: "test"}, data)
	if err != nil {
		panic(err)
	}
	raw, err := envelope.Serialize(env)
	if err != nil {
		panic(err)
	}
	return raw
}

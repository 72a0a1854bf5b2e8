// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package middleware decorates router.Handler implementations with metrics
// and logging, the way the domains and journal services are decorated.
package middleware

import (
	"time"

	"github.com/go-kit/kit/metrics"

	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
)

type metricsMiddleware struct {
	name    string
	counter metrics.Counter
	latency metrics.Histogram
	next    router.Handler
}

// Metrics wraps next, adding one to counter per dispatch under the labels
// "handler"=name and "topic"=topic, and observing the dispatch latency in
// seconds on latency under the "handler"=name label only.
func Metrics(name string, next router.Handler, counter metrics.Counter, latency metrics.Histogram) router.Handler {
	return &metricsMiddleware{name: name, counter: counter, latency: latency, next: next}
}

func (m *metricsMiddleware) CanHandle(topic string) bool { return m.next.CanHandle(topic) }

func (m *metricsMiddleware) SupportedTopics() []string { return m.next.SupportedTopics() }

func (m *metricsMiddleware) Handle(topic string, payload []byte) {
	defer func(begin time.Time) {
		m.counter.With("handler", m.name, "topic", topic).Add(1)
		m.latency.With("handler", m.name).Observe(time.Since(begin).Seconds())
	}(time.Now())
	m.next.Handle(topic, payload)
}

var _ router.Handler = (*metricsMiddleware)(nil)

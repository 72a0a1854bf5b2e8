// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
)

type loggingMiddleware struct {
	name   string
	logger *slog.Logger
	next   router.Handler
}

// Logging wraps next, logging every dispatch at debug level with its
// duration and payload size.
func Logging(name string, next router.Handler, logger *slog.Logger) router.Handler {
	return &loggingMiddleware{name: name, logger: logger, next: next}
}

func (lm *loggingMiddleware) CanHandle(topic string) bool { return lm.next.CanHandle(topic) }

func (lm *loggingMiddleware) SupportedTopics() []string { return lm.next.SupportedTopics() }

func (lm *loggingMiddleware) Handle(topic string, payload []byte) {
	defer func(begin time.Time) {
		lm.logger.Debug("handler dispatch completed",
			slog.String("handler", lm.name),
			slog.String("topic", topic),
			slog.Int("bytes", len(payload)),
			slog.String("duration", time.Since(begin).String()),
		)
	}(time.Now())
	lm.next.Handle(topic, payload)
}

var _ router.Handler = (*loggingMiddleware)(nil)

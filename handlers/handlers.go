// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the Handler Set (C7): per-domain handlers
// (system, sensor, motion, vision, coder, default) that uniformly satisfy
// router.Handler and share state exclusively through a state.Store, never
// through package-level globals (§5).
package handlers

import (
	"context"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
)

// Publisher is the subset of the Bus Client's contract handlers need:
// wrapping a typed payload in an Envelope, addressed by registry key, and
// publishing it. It returns false on an unregistered key or serialisation
// error and never panics (§4.4).
type Publisher interface {
	Publish(ctx context.Context, topicKey string, data any, priority envelope.Priority, correlationID string) bool
}

// clock abstracts time.Now for the SystemHandler's heartbeat and liveness
// timestamps; NewSystemHandler installs realClock, and no constructor
// accepts another clock.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the process-wide Topic Registry (C2): a
// mapping from symbolic topic keys to topic-pattern templates, with
// version and positional parameter substitution.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/pkg/errors"
)

// DefaultVersion is substituted for the {version} placeholder when Resolve
// is called without an explicit version.
const DefaultVersion = "v1"

var (
	// ErrEmptyKey indicates Register was called with an empty key.
	ErrEmptyKey = errors.New("registry: key must not be empty")
	// ErrNotRegistered indicates Resolve was called for an unknown key.
	ErrNotRegistered = errors.New("registry: key not registered")
	// ErrUnderParameterised indicates Resolve left unresolved placeholders.
	ErrUnderParameterised = errors.New("registry: pattern under-parameterised")
)

// Definition describes one registered topic.
type Definition struct {
	Key          string
	Pattern      string
	MessageType  envelope.Type
	PayloadType  string
	RegisteredAt time.Time
	Description  string
}

// Registry is a concurrency-safe key -> Definition table.
type Registry struct {
	mu    sync.Mutex
	defs  map[string]Definition
}

// New returns an empty Registry with the mandatory initial keys (§4.2)
// already registered.
func New() *Registry {
	r := &Registry{defs: map[string]Definition{}}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	for _, d := range []struct {
		key, pattern, desc string
		typ                envelope.Type
	}{
		{"sensor.trigger", "ios/{version}/sensor/grating/trigger", "Grating sensor trigger event", envelope.Event},
		{"order.new", "ios/{version}/order/system/new", "New order command from the order system", envelope.Command},
		{"vision.start", "ios/{version}/vision/camera/start", "Start a vision measurement", envelope.Command},
		{"vision.result", "ios/{version}/vision/camera/result", "Vision measurement result", envelope.Event},
		{"motion.move", "ios/{version}/motion/control/move", "Command the axis to move", envelope.Command},
		{"motion.complete", "ios/{version}/motion/control/complete", "Axis move completed", envelope.Event},
		{"coder.start", "ios/{version}/coder/service/start", "Start a scan window", envelope.Command},
		{"coder.complete", "ios/{version}/coder/service/complete", "Scan window completed", envelope.Event},
		{"status.heartbeat", "ios/{version}/status/{0}/heartbeat", "Per-service heartbeat", envelope.Heartbeat},
	} {
		_ = r.Register(d.key, d.pattern, d.typ, "", d.desc)
	}
}

// Register records pattern under key. Registration is idempotent per
// (key, pattern): calling it again with the same key replaces the prior
// definition (last-write-wins), updating RegisteredAt.
func (r *Registry) Register(key, pattern string, messageType envelope.Type, payloadType, description string) error {
	if key == "" {
		return ErrEmptyKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[key] = Definition{
		Key:          key,
		Pattern:      pattern,
		MessageType:  messageType,
		PayloadType:  payloadType,
		RegisteredAt: time.Now().UTC(),
		Description:  description,
	}
	return nil
}

// Unregister removes key and reports whether it was present.
func (r *Registry) Unregister(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[key]; !ok {
		return false
	}
	delete(r.defs, key)
	return true
}

// Exists reports whether key is registered.
func (r *Registry) Exists(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.defs[key]
	return ok
}

// List returns a snapshot of all registered definitions.
func (r *Registry) List() []Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Clear removes every registered definition.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = map[string]Definition{}
}

// Resolve substitutes {version} then {0}, {1}, ... in key's pattern with
// version (or DefaultVersion if empty) and params, in order.
func (r *Registry) Resolve(key string, version string, params ...string) (string, error) {
	r.mu.Lock()
	def, ok := r.defs[key]
	r.mu.Unlock()
	if !ok {
		return "", errors.Wrap(ErrNotRegistered, fmt.Errorf("key %q", key))
	}

	if version == "" {
		version = DefaultVersion
	}

	topic := strings.ReplaceAll(def.Pattern, "{version}", version)
	for i, p := range params {
		placeholder := fmt.Sprintf("{%d}", i)
		topic = strings.ReplaceAll(topic, placeholder, p)
	}

	if strings.Contains(topic, "{version}") || containsPositionalPlaceholder(topic) {
		return "", errors.Wrap(ErrUnderParameterised, fmt.Errorf("topic %q for key %q", topic, key))
	}

	return topic, nil
}

func containsPositionalPlaceholder(topic string) bool {
	for i := 0; i < len(topic)-1; i++ {
		if topic[i] != '{' {
			continue
		}
		j := strings.IndexByte(topic[i:], '}')
		if j < 0 {
			continue
		}
		inner := topic[i+1 : i+j]
		if inner == "" {
			continue
		}
		allDigits := true
		for _, c := range inner {
			if c < '0' || c > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			return true
		}
	}
	return false
}

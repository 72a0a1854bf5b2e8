// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
)

// livenessWindow is how long a service is considered online after its last
// heartbeat (§4.7 "device considered online if now - last_seen < 5 min").
const livenessWindow = 5 * time.Minute

// HeartbeatPayload is published on system/heartbeat by every service.
type HeartbeatPayload struct {
	Source string `json:"source"`
}

// StatusQueryPayload is published on system/status to request a snapshot.
type StatusQueryPayload struct{}

// StatusSnapshot is the response published for a status query.
type StatusSnapshot struct {
	TasksByState map[string]int    `json:"tasksByState"`
	Sources      map[string]Source `json:"sources"`
	MemoryBytes  uint64            `json:"memoryBytes"`
	GeneratedAt  time.Time         `json:"generatedAt"`
}

// Source is per-source liveness in a StatusSnapshot.
type Source struct {
	LastSeen time.Time `json:"lastSeen"`
	Status   string    `json:"status"`
}

// ConfigUpdatePayload is published on system/config to change a recognised
// runtime setting.
type ConfigUpdatePayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ConfigEffect applies the side effect of a recognised config key, e.g.
// adjusting the active log level or a reconnect interval held elsewhere in
// the process. Unrecognised keys are stored but have no effect.
type ConfigEffect func(key, value string) error

// SystemHandler implements the system domain: heartbeat bookkeeping, status
// snapshots, and config updates.
type SystemHandler struct {
	store     *state.Store
	pub       Publisher
	logger    *slog.Logger
	clock     clock
	effects   map[string]ConfigEffect
}

var _ router.Handler = (*SystemHandler)(nil)

// NewSystemHandler returns a SystemHandler. effects maps recognised config
// keys (log_level, mqtt_reconnect_interval, task_timeout) to the function
// that applies them; keys absent from the map are stored without effect.
func NewSystemHandler(store *state.Store, pub Publisher, logger *slog.Logger, effects map[string]ConfigEffect) *SystemHandler {
	return &SystemHandler{store: store, pub: pub, logger: logger, clock: realClock{}, effects: effects}
}

func (h *SystemHandler) CanHandle(topic string) bool {
	for _, p := range h.SupportedTopics() {
		if router.MatchTopic(p, topic) {
			return true
		}
	}
	return false
}

func (h *SystemHandler) SupportedTopics() []string {
	return []string{"+/+/system/heartbeat", "+/+/system/status", "+/+/system/config", "system/heartbeat", "system/status", "system/config"}
}

func (h *SystemHandler) Handle(topic string, payload []byte) {
	env, err := envelope.Deserialize(payload)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("system handler: dropping undecodable envelope on %s: %s", topic, err))
		return
	}

	switch {
	case strings.HasSuffix(topic, "system/heartbeat"):
		h.handleHeartbeat(env)
	case strings.HasSuffix(topic, "system/status"):
		h.handleStatusQuery(env)
	case strings.HasSuffix(topic, "system/config"):
		h.handleConfigUpdate(env)
	default:
		h.logger.Warn(fmt.Sprintf("system handler: unexpected topic %s", topic))
	}
}

func (h *SystemHandler) handleHeartbeat(env envelope.Envelope) {
	var p HeartbeatPayload
	if err := env.Decode(&p); err != nil || p.Source == "" {
		h.logger.Warn("system handler: malformed heartbeat payload")
		return
	}
	h.store.Set(fmt.Sprintf("heartbeat:%s:last_seen", p.Source), h.clock.Now())
}

func (h *SystemHandler) handleStatusQuery(env envelope.Envelope) {
	snapshot := StatusSnapshot{
		TasksByState: h.taskCountsByState(),
		Sources:      h.sourcesLiveness(),
		MemoryBytes:  memoryInUse(),
		GeneratedAt:  h.clock.Now(),
	}
	h.pub.Publish(context.Background(), "system.status.result", snapshot, envelope.PriorityNormal, env.CorrelationID())
}

func (h *SystemHandler) taskCountsByState() map[string]int {
	counts := map[string]int{}
	for _, key := range h.store.Keys() {
		if !strings.HasPrefix(key, "task:") || !strings.HasSuffix(key, ":status") {
			continue
		}
		if status, ok := h.store.Get(key).(string); ok {
			counts[status]++
		}
	}
	return counts
}

func (h *SystemHandler) sourcesLiveness() map[string]Source {
	out := map[string]Source{}
	now := h.clock.Now()
	for _, key := range h.store.Keys() {
		if !strings.HasPrefix(key, "heartbeat:") || !strings.HasSuffix(key, ":last_seen") {
			continue
		}
		source := strings.TrimSuffix(strings.TrimPrefix(key, "heartbeat:"), ":last_seen")
		lastSeen, _ := h.store.Get(key).(time.Time)
		status := "offline"
		if now.Sub(lastSeen) < livenessWindow {
			status = "online"
		}
		out[source] = Source{LastSeen: lastSeen, Status: status}
	}
	return out
}

func memoryInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}

func (h *SystemHandler) handleConfigUpdate(env envelope.Envelope) {
	var p ConfigUpdatePayload
	if err := env.Decode(&p); err != nil || p.Key == "" {
		h.pub.Publish(context.Background(), "system.config.error", map[string]string{"error": "malformed config update"}, envelope.PriorityNormal, env.CorrelationID())
		return
	}

	h.store.Set("config:"+p.Key, p.Value)

	if effect, ok := h.effects[p.Key]; ok {
		if err := effect(p.Key, p.Value); err != nil {
			h.pub.Publish(context.Background(), "system.config.error", map[string]string{"key": p.Key, "error": err.Error()}, envelope.PriorityNormal, env.CorrelationID())
			return
		}
	}

	h.pub.Publish(context.Background(), "system.config.confirm", map[string]string{"key": p.Key, "value": p.Value}, envelope.PriorityNormal, env.CorrelationID())
}

// ParseIntConfig is a convenience ConfigEffect helper for numeric settings
// such as task_timeout (seconds).
func ParseIntConfig(apply func(int)) ConfigEffect {
	return func(_, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", value, err)
		}
		apply(n)
		return nil
	}
}

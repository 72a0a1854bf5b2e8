// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package handlers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caoyingjie21/IntelligentOutboundSystem/handlers"
	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
)

func TestSystemHandlerHeartbeatMarksLiveness(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewSystemHandler(store, pub, testLogger(), nil)

	h.Handle("workcell/1/system/heartbeat", mustEnvelope(handlers.HeartbeatPayload{Source: "motion"}))

	assert.True(t, store.Contains("heartbeat:motion:last_seen"))
}

func TestSystemHandlerStatusQueryPublishesSnapshot(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewSystemHandler(store, pub, testLogger(), nil)

	h.Handle("workcell/1/system/heartbeat", mustEnvelope(handlers.HeartbeatPayload{Source: "motion"}))
	h.Handle("system/status", mustEnvelope(handlers.StatusQueryPayload{}))

	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "system.status.result", all[0].TopicKey)
	snapshot, ok := all[0].Data.(handlers.StatusSnapshot)
	require.True(t, ok)
	assert.Contains(t, snapshot.Sources, "motion")
}

func TestSystemHandlerConfigUpdateAppliesEffect(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	applied := 0
	effects := map[string]handlers.ConfigEffect{
		"task_timeout": handlers.ParseIntConfig(func(n int) { applied = n }),
	}
	h := handlers.NewSystemHandler(store, pub, testLogger(), effects)

	h.Handle("system/config", mustEnvelope(handlers.ConfigUpdatePayload{Key: "task_timeout", Value: "30"}))

	assert.Equal(t, 30, applied)
	assert.Equal(t, "30", store.Get("config:task_timeout"))
	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "system.config.confirm", all[0].TopicKey)
}

func TestSystemHandlerConfigUpdateEffectErrorReported(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	effects := map[string]handlers.ConfigEffect{
		"task_timeout": handlers.ParseIntConfig(func(int) {}),
	}
	h := handlers.NewSystemHandler(store, pub, testLogger(), effects)

	h.Handle("system/config", mustEnvelope(handlers.ConfigUpdatePayload{Key: "task_timeout", Value: "not-a-number"}))

	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "system.config.error", all[0].TopicKey)
}

func TestSystemHandlerMalformedConfigUpdateReported(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewSystemHandler(store, pub, testLogger(), nil)

	h.Handle("system/config", mustEnvelope(struct{}{}))

	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "system.config.error", all[0].TopicKey)
}

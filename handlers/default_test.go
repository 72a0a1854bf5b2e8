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

func TestDefaultHandlerArchivesAndNotifies(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewDefaultHandler(store, pub, testLogger())

	h.Handle("workcell/1/some/unmapped/topic", mustEnvelope(struct{ X int }{X: 1}))

	found := false
	for _, key := range store.Keys() {
		if len(key) > len("unknown_messages:") && key[:len("unknown_messages:")] == "unknown_messages:" {
			found = true
		}
	}
	assert.True(t, found)

	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "system.events.unknown_topic", all[0].TopicKey)
	evt, ok := all[0].Data.(handlers.UnknownTopicEvent)
	require.True(t, ok)
	assert.Equal(t, "workcell/1/some/unmapped/topic", evt.Topic)
}

func TestDefaultHandlerScratchPrefixNotArchived(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewDefaultHandler(store, pub, testLogger())

	h.Handle("test/debug/log/probe", mustEnvelope(struct{}{}))

	assert.Equal(t, 0, store.Count())
	assert.Empty(t, pub.all())
}

func TestDefaultHandlerCanHandleAlwaysTrue(t *testing.T) {
	h := handlers.NewDefaultHandler(state.New(), &recordingPublisher{}, testLogger())
	assert.True(t, h.CanHandle("anything/at/all"))
}

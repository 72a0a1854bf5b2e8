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

func TestMotionHandlerCompleteRecordsAndAdvances(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewMotionHandler(store, pub, testLogger())

	h.Handle("workcell/1/motion/control/complete", mustEnvelope(handlers.MotionCompletePayload{
		TaskID: "task-1", FinalPosition: 12345, Success: true,
	}))

	assert.Equal(t, "completed", store.Get("task:task-1:motion_status"))
	assert.Equal(t, int64(12345), store.Get("task:task-1:final_position"))

	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "motion.next_step", all[0].TopicKey)
}

func TestMotionHandlerPositionUpdatesStore(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewMotionHandler(store, pub, testLogger())

	h.Handle("workcell/1/motion/position", mustEnvelope(handlers.MotionPositionPayload{X: 1, Y: 2, Z: 3}))

	pos, ok := store.Get("motion:current_position").(handlers.MotionPositionPayload)
	require.True(t, ok)
	assert.Equal(t, 3.0, pos.Z)
	assert.True(t, store.Contains("motion:last_update"))
}

func TestMotionHandlerMalformedCompleteIgnored(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewMotionHandler(store, pub, testLogger())

	h.Handle("workcell/1/motion/control/complete", mustEnvelope(struct{}{}))

	assert.Empty(t, pub.all())
}

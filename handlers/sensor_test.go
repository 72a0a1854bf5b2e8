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

func TestSensorHandlerTriggerRequestsHeight(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewSensorHandler(store, pub, testLogger())

	h.Handle("workcell/1/sensor/grating/trigger", mustEnvelope(handlers.GratingTriggerPayload{Direction: "inbound"}))

	assert.Equal(t, "inbound", store.Get("sensor:grating"))
	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "vision.height.request", all[0].TopicKey)
	req, ok := all[0].Data.(handlers.VisionHeightRequestPayload)
	require.True(t, ok)
	assert.Equal(t, "inbound", req.Direction)
}

func TestSensorHandlerMalformedPayloadIgnored(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewSensorHandler(store, pub, testLogger())

	h.Handle("workcell/1/sensor/grating/trigger", mustEnvelope(struct{}{}))

	assert.False(t, store.Contains("sensor:grating"))
	assert.Empty(t, pub.all())
}

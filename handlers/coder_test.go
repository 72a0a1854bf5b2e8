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

func TestValidateCodeFormat(t *testing.T) {
	assert.NoError(t, handlers.ValidateCodeFormat("qr", "abc"))
	assert.Error(t, handlers.ValidateCodeFormat("qr", "ab"))
	assert.NoError(t, handlers.ValidateCodeFormat("barcode", "12345678"))
	assert.Error(t, handlers.ValidateCodeFormat("barcode", "1234567"))
	assert.Error(t, handlers.ValidateCodeFormat("barcode", "1234567a"))
	assert.NoError(t, handlers.ValidateCodeFormat("datamatrix", "abc"))
	assert.Error(t, handlers.ValidateCodeFormat("datamatrix", "ab"))
	assert.Error(t, handlers.ValidateCodeFormat("carrier-pigeon", "abc"))
}

func TestCoderHandlerResultValidFormatPublishesSuccess(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewCoderHandler(store, pub, testLogger())

	h.Handle("workcell/1/coder/result", mustEnvelope(handlers.CodeResultPayload{
		TaskID: "task-1", Code: "12345678", CodeType: "barcode",
	}))

	assert.Equal(t, "12345678", store.Get("task:task-1:code"))
	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "coder.validation.success", all[0].TopicKey)
}

func TestCoderHandlerResultInvalidFormatPublishesFailed(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewCoderHandler(store, pub, testLogger())

	h.Handle("workcell/1/coder/result", mustEnvelope(handlers.CodeResultPayload{
		TaskID: "task-1", Code: "a", CodeType: "barcode",
	}))

	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "coder.validation.failed", all[0].TopicKey)
}

func TestCoderHandlerResultMissingTaskIDPublishesError(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewCoderHandler(store, pub, testLogger())

	h.Handle("workcell/1/coder/result", mustEnvelope(handlers.CodeResultPayload{
		Code: "12345678", CodeType: "barcode",
	}))

	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "coder.validation.error", all[0].TopicKey)
}

func TestCoderHandlerCompleteTransitionsStatus(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewCoderHandler(store, pub, testLogger())

	h.Handle("workcell/1/coder/service/complete", mustEnvelope(handlers.CoderCompletePayload{
		Direction: "inbound", Success: true,
	}))

	assert.Equal(t, "completed", store.Get("task:inbound:coder_status"))
}

func TestCoderHandlerCompleteFailure(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	h := handlers.NewCoderHandler(store, pub, testLogger())

	h.Handle("workcell/1/coder/service/complete", mustEnvelope(handlers.CoderCompletePayload{
		Direction: "outbound", Success: false, ErrorMessage: "jam",
	}))

	assert.Equal(t, "failed", store.Get("task:outbound:coder_status"))
}

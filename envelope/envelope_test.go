// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package envelope_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsUniqueMessageIDs(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		e, err := envelope.New(envelope.Event, envelope.PriorityNormal, envelope.Service{Name: "scheduler"}, map[string]string{"k": "v"})
		require.NoError(t, err)
		_, dup := seen[e.MessageID()]
		assert.False(t, dup, "message id reused")
		seen[e.MessageID()] = struct{}{}
	}
}

func TestRoundTrip(t *testing.T) {
	e, err := envelope.New(envelope.Command, envelope.PriorityHigh, envelope.Service{Name: "scheduler", Instance: "i1"}, map[string]int{"x": 1})
	require.NoError(t, err)
	e = e.WithTarget(envelope.Service{Name: "motion"}).WithCorrelationID("corr-1").WithRetries(1, 3)
	e.SetMetadata("attempt", 1)
	e.SetHeader("legacy", "yes")

	data, err := envelope.Serialize(e)
	require.NoError(t, err)

	back, err := envelope.Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, e.MessageID(), back.MessageID())
	assert.Equal(t, e.Type(), back.Type())
	assert.Equal(t, e.Priority(), back.Priority())
	assert.Equal(t, e.CorrelationID(), back.CorrelationID())
	assert.Equal(t, e.RetryCount(), back.RetryCount())
	assert.Equal(t, e.MaxRetries(), back.MaxRetries())
	assert.WithinDuration(t, e.Timestamp(), back.Timestamp(), 0)

	meta, ok := back.Metadata("attempt")
	require.True(t, ok)
	assert.EqualValues(t, 1, meta)

	hdr, ok := back.Header("legacy")
	require.True(t, ok)
	assert.Equal(t, "yes", hdr)

	var payload map[string]int
	require.NoError(t, back.Decode(&payload))
	assert.Equal(t, 1, payload["x"])
}

func TestSerializeIsStableForEqualEnvelopes(t *testing.T) {
	a, err := envelope.New(envelope.Event, envelope.PriorityNormal, envelope.Service{Name: "svc"}, "payload")
	require.NoError(t, err)
	b := a // same struct value field-for-field

	da, err := envelope.Serialize(a)
	require.NoError(t, err)
	db, err := envelope.Serialize(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(da), string(db))
}

func TestDeserializeUnknownFieldsRoundTrip(t *testing.T) {
	raw := `{
		"messageId": "m1",
		"version": "v1",
		"timestamp": "2026-01-01T00:00:00.000Z",
		"source": {"name": "svc"},
		"type": "Event",
		"priority": "Normal",
		"retryCount": 0,
		"maxRetries": 0,
		"fancyExtension": {"nested": true}
	}`

	e, err := envelope.Deserialize([]byte(raw))
	require.NoError(t, err)

	out, err := envelope.Serialize(e)
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &m))
	_, ok := m["fancyExtension"]
	assert.True(t, ok, "unknown field should round-trip")
}

func TestDeserializeFailsOnMissingRequiredFields(t *testing.T) {
	_, err := envelope.Deserialize([]byte(`{"version":"v1"}`))
	assert.Error(t, err)
}

func TestExpired(t *testing.T) {
	e, err := envelope.New(envelope.Event, envelope.PriorityNormal, envelope.Service{Name: "svc"}, nil)
	require.NoError(t, err)
	e = e.WithExpiry(time.Now().Add(-time.Minute))
	assert.True(t, e.Expired(time.Now()))

	e2, err := envelope.New(envelope.Event, envelope.PriorityNormal, envelope.Service{Name: "svc"}, nil)
	require.NoError(t, err)
	e2 = e2.WithExpiry(time.Now().Add(time.Hour))
	assert.False(t, e2.Expired(time.Now()))
}

func TestTypedDecode(t *testing.T) {
	type payload struct {
		Direction string `json:"direction"`
	}
	e, err := envelope.New(envelope.Event, envelope.PriorityNormal, envelope.Service{Name: "sensor"}, payload{Direction: "out"})
	require.NoError(t, err)

	typed, err := envelope.DecodeTyped[payload](e)
	require.NoError(t, err)
	assert.Equal(t, "out", typed.Payload.Direction)
}

// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"testing"

	"github.com/caoyingjie21/IntelligentOutboundSystem/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
standardMqtt:
  connection:
    broker: tcp://localhost
    port: 1883
    keepAliveS: 60
  topics:
    subscribe:
      - key: sensor.trigger
        pattern: ios/{version}/sensor/grating/trigger
    publish:
      - key: vision.start
        pattern: ios/{version}/vision/{serviceName}/start
  messages:
    version: v1
    maxRetries: 3
    timeoutS: 30
`

func TestLoadResolvesTemplatesAndDefaultsClientID(t *testing.T) {
	cfg, vr := config.Load([]byte(sampleDoc), "Scheduler")
	require.True(t, vr.OK(), vr.Errors)

	assert.Equal(t, "IOS.Scheduler", cfg.Connection.ClientID)
	assert.Equal(t, "ios/v1/sensor/grating/trigger", cfg.Topics.Subscribe[0].Pattern)
	assert.Equal(t, "ios/v1/vision/scheduler/start", cfg.Topics.Publish[0].Pattern)
}

func TestValidateRequiresBrokerAndPort(t *testing.T) {
	_, vr := config.Load([]byte(`standardMqtt: {connection: {port: 99999}}`), "svc")
	assert.False(t, vr.OK())
	assert.Contains(t, vr.Error(), "broker")
}

func TestValidateWarnsOnEmptyTopics(t *testing.T) {
	_, vr := config.Load([]byte(`standardMqtt: {connection: {broker: tcp://x, port: 1883}}`), "svc")
	require.True(t, vr.OK())
	assert.NotEmpty(t, vr.Warnings)
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	_, vr := config.Load([]byte(`not: [valid yaml`), "svc")
	assert.False(t, vr.OK())
}

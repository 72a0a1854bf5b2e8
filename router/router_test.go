// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package router_test

import (
	"sync"
	"testing"

	"github.com/caoyingjie21/IntelligentOutboundSystem/router"
	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	mu      sync.Mutex
	topics  []string
	payload [][]byte
	panics  bool
}

func (h *recordingHandler) Handle(topic string, payload []byte) {
	if h.panics {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics = append(h.topics, topic)
	h.payload = append(h.payload, payload)
}

func (h *recordingHandler) CanHandle(topic string) bool   { return true }
func (h *recordingHandler) SupportedTopics() []string     { return nil }
func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.topics...)
}

func TestExactMatchTakesPriority(t *testing.T) {
	r := router.New(nil)
	exact := &recordingHandler{}
	wildcard := &recordingHandler{}
	r.Subscribe("ios/v1/sensor/grating/trigger", exact)
	r.Subscribe("ios/v1/sensor/+/trigger", wildcard)

	r.Route("ios/v1/sensor/grating/trigger", []byte("x"))

	assert.Equal(t, []string{"ios/v1/sensor/grating/trigger"}, exact.seen())
	assert.Empty(t, wildcard.seen())
}

func TestWildcardPlusMatchesOneSegment(t *testing.T) {
	r := router.New(nil)
	h := &recordingHandler{}
	r.Subscribe("ios/v1/status/+/heartbeat", h)

	r.Route("ios/v1/status/motion/heartbeat", []byte("x"))
	r.Route("ios/v1/status/a/b/heartbeat", []byte("y"))

	assert.Equal(t, []string{"ios/v1/status/motion/heartbeat"}, h.seen())
}

func TestWildcardHashMatchesTrailingSegments(t *testing.T) {
	r := router.New(nil)
	h := &recordingHandler{}
	r.Subscribe("ios/v1/debug/#", h)

	r.Route("ios/v1/debug/a/b/c", []byte("x"))
	r.Route("ios/v1/debug", []byte("y"))

	assert.ElementsMatch(t, []string{"ios/v1/debug/a/b/c", "ios/v1/debug"}, h.seen())
}

func TestDefaultHandlerUsedWhenNoMatch(t *testing.T) {
	r := router.New(nil)
	def := &recordingHandler{}
	r.SetDefault(def)

	r.Route("unrelated/topic", []byte("x"))

	assert.Equal(t, []string{"unrelated/topic"}, def.seen())
}

func TestPanickingHandlerIsRecoveredAndLogged(t *testing.T) {
	r := router.New(nil)
	bad := &recordingHandler{panics: true}
	r.Subscribe("x/y", bad)

	assert.NotPanics(t, func() {
		r.Route("x/y", []byte("z"))
	})
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	r := router.New(nil)
	h := &recordingHandler{}
	r.Subscribe("a/b", h)
	r.Unsubscribe("a/b")

	def := &recordingHandler{}
	r.SetDefault(def)
	r.Route("a/b", []byte("x"))

	assert.Empty(t, h.seen())
	assert.Equal(t, []string{"a/b"}, def.seen())
}

func TestMatchTopicRules(t *testing.T) {
	assert.True(t, router.MatchTopic("a/+/c", "a/b/c"))
	assert.False(t, router.MatchTopic("a/+/c", "a/b/c/d"))
	assert.True(t, router.MatchTopic("a/#", "a/b/c/d"))
	assert.True(t, router.MatchTopic("a/#", "a"))
	assert.False(t, router.MatchTopic("a/b", "a/b/c"))
	assert.True(t, router.MatchTopic("a/b", "a/b"))
}

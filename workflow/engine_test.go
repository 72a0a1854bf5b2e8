// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caoyingjie21/IntelligentOutboundSystem/envelope"
	"github.com/caoyingjie21/IntelligentOutboundSystem/pkg/uuid"
	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
	"github.com/caoyingjie21/IntelligentOutboundSystem/workflow"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []published
}

type published struct {
	TopicKey string
	Data     any
}

func (p *recordingPublisher) Publish(_ context.Context, topicKey string, data any, _ envelope.Priority, _ string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, published{TopicKey: topicKey, Data: data})
	return true
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.published))
	copy(out, p.published)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGeometry() workflow.Geometry {
	return workflow.Geometry{HeightInit: 2.0, TrayHeight: 0.1, CameraHeight: 0.5, CoderHeight: 0.3}
}

func TestHappyPathOutboundTask(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	e := workflow.New(store, pub, testGeometry(), uuid.New(), testLogger())

	taskID, err := e.Trigger(context.Background(), workflow.DirectionOut, "m1")
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	all := pub.all()
	require.Len(t, all, 1)
	assert.Equal(t, "vision.height.request", all[0].TopicKey)

	e.HeightResult(context.Background(), 1.8, "m2")
	all = pub.all()
	require.Len(t, all, 2)
	assert.Equal(t, "motion.move", all[1].TopicKey)

	e.MotionComplete(context.Background(), taskID, 12345, true, "m3")
	all = pub.all()
	require.Len(t, all, 3)
	assert.Equal(t, "coder.start", all[2].TopicKey)

	e.CoderComplete(context.Background(), []string{"CODE-A", "CODE-B"}, true, "m4")
	all = pub.all()
	require.Len(t, all, 4)
	assert.Equal(t, "order.request", all[3].TopicKey)

	e.OrderNew(context.Background(), "ORD-1", "m5")
	all = pub.all()
	require.Len(t, all, 5)
	assert.Equal(t, "coder.odoo", all[4].TopicKey)
	odoo, ok := all[4].Data.(workflow.CoderOdoo)
	require.True(t, ok)
	assert.Equal(t, "ORD-1", odoo.OrderID)
	assert.ElementsMatch(t, []string{"CODE-A", "CODE-B"}, odoo.Codes)

	gotTaskID, st := e.CurrentState()
	assert.Empty(t, gotTaskID)
	assert.Empty(t, st)
}

func TestIdempotentReplayDoesNotAdvanceTwice(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	e := workflow.New(store, pub, testGeometry(), uuid.New(), testLogger())

	taskID, err := e.Trigger(context.Background(), workflow.DirectionIn, "m1")
	require.NoError(t, err)

	e.HeightResult(context.Background(), 1.5, "dup")
	e.HeightResult(context.Background(), 1.5, "dup")

	all := pub.all()
	require.Len(t, all, 2) // vision.height.request + one motion.move, not two

	_, st := e.CurrentState()
	assert.Equal(t, workflow.Moving, st)
	_ = taskID
}

func TestTriggerRejectedWhileTaskInFlight(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	e := workflow.New(store, pub, testGeometry(), uuid.New(), testLogger())

	_, err := e.Trigger(context.Background(), workflow.DirectionIn, "m1")
	require.NoError(t, err)

	_, err = e.Trigger(context.Background(), workflow.DirectionOut, "m2")
	assert.Error(t, err)
}

func TestMotionFailurePublishesTaskError(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	e := workflow.New(store, pub, testGeometry(), uuid.New(), testLogger())

	taskID, err := e.Trigger(context.Background(), workflow.DirectionIn, "m1")
	require.NoError(t, err)
	e.HeightResult(context.Background(), 1.5, "m2")
	e.MotionComplete(context.Background(), taskID, 0, false, "m3")

	all := pub.all()
	last := all[len(all)-1]
	assert.Equal(t, "outbound.task.error", last.TopicKey)

	gotTaskID, _ := e.CurrentState()
	assert.Empty(t, gotTaskID)
}

func TestCancelPublishesStopCommandsAndFreesEngine(t *testing.T) {
	store := state.New()
	pub := &recordingPublisher{}
	e := workflow.New(store, pub, testGeometry(), uuid.New(), testLogger())

	_, err := e.Trigger(context.Background(), workflow.DirectionIn, "m1")
	require.NoError(t, err)

	e.Cancel(context.Background())

	topics := map[string]bool{}
	for _, p := range pub.all() {
		topics[p.TopicKey] = true
	}
	assert.True(t, topics["motion.stop"])
	assert.True(t, topics["vision.stop"])

	gotTaskID, _ := e.CurrentState()
	assert.Empty(t, gotTaskID)

	_, err = e.Trigger(context.Background(), workflow.DirectionIn, "m2")
	assert.NoError(t, err)
}

func TestTargetPositionMMDiffersByDirection(t *testing.T) {
	g := testGeometry()
	in := g.TargetPositionMM(1.8, workflow.DirectionIn)
	out := g.TargetPositionMM(1.8, workflow.DirectionOut)
	assert.NotEqual(t, in, out)
}

func TestMillimetresToPulses(t *testing.T) {
	assert.Equal(t, int64(220_000_000), workflow.MillimetresToPulses(2200))
}

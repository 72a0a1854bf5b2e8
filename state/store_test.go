// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"sync"
	"testing"

	"github.com/caoyingjie21/IntelligentOutboundSystem/state"
	"github.com/stretchr/testify/assert"
)

func TestSetGetRemove(t *testing.T) {
	s := state.New()
	s.Set("k", 1)
	assert.Equal(t, 1, s.Get("k"))

	ok, v := s.TryGet("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, s.Contains("k"))
	assert.True(t, s.Remove("k"))
	assert.False(t, s.Contains("k"))
	assert.False(t, s.Remove("k"))
}

func TestUpdateIsAtomicPerKey(t *testing.T) {
	s := state.New()
	s.Set("counter", 0)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("counter", func(cur any) any {
				return cur.(int) + 1
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, s.Get("counter"))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := state.New()
	s.Set("a", 1)
	snap := s.Snapshot()
	snap["a"] = 2
	assert.Equal(t, 1, s.Get("a"))
}

func TestKeysAndCount(t *testing.T) {
	s := state.New()
	s.Set("a", 1)
	s.Set("b", 2)
	assert.Equal(t, 2, s.Count())
	assert.ElementsMatch(t, []string{"a", "b"}, s.Keys())
}

func TestClearAll(t *testing.T) {
	s := state.New()
	s.Set("a", 1)
	s.ClearAll()
	assert.Equal(t, 0, s.Count())
}

func TestConcurrentReadWriteDoesNotRace(t *testing.T) {
	s := state.New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.Set("x", i)
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Get("x")
		}()
	}
	wg.Wait()
}

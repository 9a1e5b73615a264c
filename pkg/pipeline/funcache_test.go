// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package pipeline

import "testing"

func TestFunctionCache_UpdateReportsChange(t *testing.T) {
	c := NewFunctionCache(4)

	changed, bits := c.Update(3, 0, true)
	if !changed {
		t.Error("first set should report a change")
	}
	if !bits[0] {
		t.Error("bit 0 should be set")
	}

	changed, _ = c.Update(3, 0, true)
	if changed {
		t.Error("setting an already-set bit should not report a change")
	}

	changed, bits = c.Update(3, 0, false)
	if !changed {
		t.Error("clearing a set bit should report a change")
	}
	if bits[0] {
		t.Error("bit 0 should be clear")
	}
}

func TestFunctionCache_LRUEviction(t *testing.T) {
	c := NewFunctionCache(3)

	// Fill the cache, then touch one more target: the least
	// recently used entry goes.
	c.Update(1, 0, true)
	c.Update(2, 0, true)
	c.Update(3, 0, true)
	c.Update(4, 0, true)

	if c.Get(1) != nil {
		t.Error("target 1 should have been evicted")
	}
	for _, target := range []int{2, 3, 4} {
		if c.Get(target) == nil {
			t.Errorf("target %d should still be cached", target)
		}
	}
}

func TestFunctionCache_HitPromotesToMRU(t *testing.T) {
	c := NewFunctionCache(3)
	c.Update(1, 0, true)
	c.Update(2, 0, true)
	c.Update(3, 0, true)

	// Touch the oldest: it becomes most recently used, so the next
	// eviction takes target 2 instead.
	c.Update(1, 1, true)

	order := c.MRU()
	if len(order) != 3 || order[0] != 1 {
		t.Fatalf("expected target 1 at the MRU head, got %v", order)
	}

	c.Update(4, 0, true)
	if c.Get(2) != nil {
		t.Error("target 2 should have been evicted")
	}
	if c.Get(1) == nil {
		t.Error("promoted target 1 should survive")
	}
}

func TestFunctionCache_EvictionClearsBits(t *testing.T) {
	c := NewFunctionCache(1)
	c.Update(1, 5, true)
	c.Update(2, 0, true)

	// Target 1's state is gone; re-adding it starts from all off.
	_, bits := c.Update(1, 0, true)
	if bits[5] {
		t.Error("re-allocated entry should not remember evicted state")
	}
}

func TestFunctionCache_OneEntryPerTarget(t *testing.T) {
	c := NewFunctionCache(4)
	c.Update(7, 0, true)
	c.Update(7, 1, true)
	c.Update(7, 2, true)

	if got := len(c.MRU()); got != 1 {
		t.Errorf("expected a single entry for the target, got %d", got)
	}
	bits := c.Get(7)
	if bits == nil || !bits[0] || !bits[1] || !bits[2] {
		t.Error("all three updates should land in the one entry")
	}
}

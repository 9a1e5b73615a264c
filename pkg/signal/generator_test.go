// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package signal

import (
	"bytes"
	"testing"

	"github.com/openrail/signalbox/pkg/dcc"
	"github.com/openrail/signalbox/pkg/pipeline"
)

// recordLine captures the polarity level written on every tick.
type recordLine struct {
	levels []bool
}

func (l *recordLine) SetSide(side bool) {
	l.levels = append(l.levels, side)
}

// decodeWaveform turns the captured per-tick levels back into bits: a
// half period of four ticks is a 1 half, seven ticks a 0 half, and
// two matching halves make a bit. The first run is truncated by one
// tick (the capture starts inside it) and the last run is usually
// incomplete, so both tolerate short counts.
func decodeWaveform(t *testing.T, levels []bool) []byte {
	t.Helper()

	var halves []byte
	run := 1
	for i := 1; i < len(levels); i++ {
		if levels[i] == levels[i-1] {
			run++
			continue
		}
		halves = append(halves, halfValue(t, run, len(halves) == 0))
		run = 1
	}

	var bits []byte
	for i := 0; i+1 < len(halves); i += 2 {
		if halves[i] != halves[i+1] {
			t.Fatalf("half %d and %d disagree: %d vs %d", i, i+1, halves[i], halves[i+1])
		}
		bits = append(bits, halves[i])
	}
	return bits
}

func halfValue(t *testing.T, ticks int, first bool) byte {
	t.Helper()
	switch {
	case ticks == TicksOneHalf || (first && ticks == TicksOneHalf-1):
		return 1
	case ticks == TicksZeroHalf || (first && ticks == TicksZeroHalf-1):
		return 0
	}
	t.Fatalf("half period of %d ticks is neither a 0 nor a 1", ticks)
	return 0
}

// extractPayloads walks a decoded bit sequence pulling out the byte
// payload of every complete packet.
func extractPayloads(bits []byte) [][]byte {
	var out [][]byte
	i := 0
	for i < len(bits) {
		for i < len(bits) && bits[i] == 1 {
			i++
		}
		var payload []byte
		for i < len(bits) && bits[i] == 0 {
			if i+9 > len(bits) {
				return out
			}
			var b byte
			for n := 1; n <= 8; n++ {
				b = b<<1 | bits[i+n]
			}
			payload = append(payload, b)
			i += 9
		}
		if len(payload) > 0 && i < len(bits) {
			out = append(out, payload)
		}
	}
	return out
}

var idlePayload = []byte{0xFF, 0x00, 0xFF}

func TestGenerator_IdlesWithoutARing(t *testing.T) {
	line := &recordLine{}
	g := NewGenerator(line)
	for i := 0; i < 2000; i++ {
		g.Tick()
	}

	payloads := extractPayloads(decodeWaveform(t, line.levels))
	if len(payloads) < 3 {
		t.Fatalf("expected a few idle packets, got %d", len(payloads))
	}
	for i, p := range payloads {
		if !bytes.Equal(p, idlePayload) {
			t.Errorf("packet %d should be idle, got % X", i, p)
		}
	}
}

func TestGenerator_TransmitsSlotWithFiniteDuration(t *testing.T) {
	ring := pipeline.NewRing(0, 1, 0)
	pool := pipeline.NewPool(4)
	mgr := pipeline.NewManager(ring, pool)

	slot := ring.Slot(0)
	idx, err := pool.Alloc(3, 2, dcc.ShortPreamble, dcc.ShortPostamble, []byte{0x03, 0x3F, 0x8B})
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	slot.AppendPending(pool, idx)
	slot.SetTarget(3)
	slot.SetState(pipeline.SlotLoad)
	mgr.Service()
	if slot.State() != pipeline.SlotRun {
		t.Fatalf("slot should be RUN after the manager, got %v", slot.State())
	}

	line := &recordLine{}
	g := NewGenerator(line)
	g.Jump(slot)
	for i := 0; i < 5000; i++ {
		g.Tick()
	}

	// The FIFO drained, so two transmissions return the slot to the
	// manager.
	if got := slot.State(); got != pipeline.SlotLoad {
		t.Fatalf("expected LOAD after the duration ran out, got %v", got)
	}

	speed := []byte{0x03, 0x3F, 0x8B, 0xB7}
	var count int
	payloads := extractPayloads(decodeWaveform(t, line.levels))
	for _, p := range payloads {
		switch {
		case bytes.Equal(p, speed):
			count++
		case bytes.Equal(p, idlePayload):
		default:
			t.Errorf("unexpected packet on the line: % X", p)
		}
	}
	if count != 2 {
		t.Errorf("finite duration 2 should transmit exactly twice, got %d", count)
	}
}

func TestGenerator_PersistentSlotRepeats(t *testing.T) {
	ring := pipeline.NewRing(0, 1, 0)
	pool := pipeline.NewPool(4)
	mgr := pipeline.NewManager(ring, pool)

	slot := ring.Slot(0)
	idx, err := pool.Alloc(3, 0, dcc.ShortPreamble, dcc.ShortPostamble, []byte{0x03, 0x3F, 0x8B})
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	slot.AppendPending(pool, idx)
	slot.SetTarget(3)
	slot.SetState(pipeline.SlotLoad)
	mgr.Service()

	line := &recordLine{}
	g := NewGenerator(line)
	g.Jump(slot)
	for i := 0; i < 6000; i++ {
		g.Tick()
	}

	if got := slot.State(); got != pipeline.SlotRun {
		t.Fatalf("persistent slot should stay RUN, got %v", got)
	}

	speed := []byte{0x03, 0x3F, 0x8B, 0xB7}
	var count int
	for _, p := range extractPayloads(decodeWaveform(t, line.levels)) {
		if bytes.Equal(p, speed) {
			count++
		}
	}
	if count < 5 {
		t.Errorf("persistent packet should repeat, saw %d transmissions", count)
	}
}

func TestGenerator_ReloadEmitsIdleAndHandsBack(t *testing.T) {
	ring := pipeline.NewRing(0, 1, 0)
	pool := pipeline.NewPool(4)
	mgr := pipeline.NewManager(ring, pool)

	slot := ring.Slot(0)
	idx, err := pool.Alloc(3, 0, dcc.ShortPreamble, dcc.ShortPostamble, []byte{0x03, 0x3F, 0x8B})
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	slot.AppendPending(pool, idx)
	slot.SetTarget(3)
	slot.SetState(pipeline.SlotLoad)
	mgr.Service()

	line := &recordLine{}
	g := NewGenerator(line)
	g.Jump(slot)
	for i := 0; i < 1500; i++ {
		g.Tick()
	}

	// The host supersedes the in-flight content.
	slot.SetState(pipeline.SlotReload)
	for i := 0; i < 2500; i++ {
		g.Tick()
	}

	if got := slot.State(); got != pipeline.SlotLoad {
		t.Fatalf("RELOAD should hand the slot back as LOAD, got %v", got)
	}

	// After the reload point the speed packet must disappear from
	// the line within one more transmission.
	payloads := extractPayloads(decodeWaveform(t, line.levels))
	speed := []byte{0x03, 0x3F, 0x8B, 0xB7}
	trailingIdles := 0
	for i := len(payloads) - 1; i >= 0; i-- {
		if bytes.Equal(payloads[i], speed) {
			break
		}
		trailingIdles++
	}
	if trailingIdles < 2 {
		t.Errorf("expected idle packets after the reload, got %d", trailingIdles)
	}
}

func TestGenerator_FillerWhilePendingLoads(t *testing.T) {
	ring := pipeline.NewRing(0, 1, 0)
	pool := pipeline.NewPool(4)

	// A LOAD slot with pending work and no manager: the generator
	// must hold the line with a continuous 1 run, not idle frames.
	slot := ring.Slot(0)
	idx, err := pool.Alloc(0, 1, dcc.LongPreamble, dcc.ConfirmationPostamble, []byte{0x7C, 0x00, 0x2A})
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	slot.AppendPending(pool, idx)
	slot.SetState(pipeline.SlotLoad)

	line := &recordLine{}
	g := NewGenerator(line)
	g.Jump(slot)
	for i := 0; i < 4000; i++ {
		g.Tick()
	}

	bits := decodeWaveform(t, line.levels)

	// The first packet out is the idle the generator armed at the
	// jump; everything after its last 0 must be an unbroken 1 run.
	lastZero := -1
	for i, b := range bits {
		if b == 0 {
			lastZero = i
		}
	}
	if lastZero < 0 {
		t.Fatal("expected the armed idle packet before the filler")
	}
	if run := len(bits) - lastZero - 1; run < 200 {
		t.Errorf("expected a long continuous 1 run after the idle, got %d", run)
	}
}

// TestGenerator_HandoffInterleaving drives the generator and the
// manager in alternation while the host keeps superseding the slot,
// checking that every packet reaching the line is intact: the state
// tag hand-off must never let the generator read a half-written bit
// stream.
func TestGenerator_HandoffInterleaving(t *testing.T) {
	ring := pipeline.NewRing(0, 2, 0)
	pool := pipeline.NewPool(16)
	mgr := pipeline.NewManager(ring, pool)

	line := &recordLine{}
	g := NewGenerator(line)
	g.Jump(ring.Slot(0))

	submitted := map[string]bool{string(idlePayload): true}
	submit := func(target, speed int) {
		payload, err := dcc.SpeedAndDirection(target, speed, 1)
		if err != nil {
			t.Fatalf("SpeedAndDirection failed: %v", err)
		}
		full := append(append([]byte(nil), payload...), dcc.Parity(payload))
		submitted[string(full)] = true

		base, count := ring.MobileSlots()
		slot := ring.FindSlot(base, count, target)
		if slot == nil {
			t.Fatal("no slot free")
		}
		idx, err := pool.Alloc(target, 0, dcc.ShortPreamble, dcc.ShortPostamble, payload)
		if err != nil {
			t.Fatalf("Alloc failed: %v", err)
		}
		switch slot.State() {
		case pipeline.SlotEmpty:
			slot.DrainPending(pool)
			slot.AppendPending(pool, idx)
			slot.SetTarget(target)
			slot.SetState(pipeline.SlotLoad)
		case pipeline.SlotRun:
			slot.DrainPending(pool)
			slot.AppendPending(pool, idx)
			slot.SetState(pipeline.SlotReload)
		default:
			slot.AppendPending(pool, idx)
		}
	}

	speeds := []int{10, 40, 70, 100, 20, 60}
	for step := 0; step < 60000; step++ {
		if step%9000 == 0 {
			submit(3, speeds[(step/9000)%len(speeds)])
		}
		if step%11000 == 5000 {
			submit(44, speeds[(step/11000)%len(speeds)])
		}
		g.Tick()
		if step%7 == 0 {
			mgr.Service()
		}
	}

	payloads := extractPayloads(decodeWaveform(t, line.levels))
	if len(payloads) < 20 {
		t.Fatalf("expected plenty of traffic, got %d packets", len(payloads))
	}
	for i, p := range payloads {
		if len(p) < 2 {
			t.Fatalf("packet %d too short: % X", i, p)
		}
		if dcc.Parity(p[:len(p)-1]) != p[len(p)-1] {
			t.Errorf("packet %d has bad parity: % X", i, p)
		}
		if !submitted[string(p)] {
			t.Errorf("packet %d was never submitted: % X", i, p)
		}
	}
}

func TestTimingPresets(t *testing.T) {
	for _, preset := range []Timing{Timing16MHz, Timing20MHz} {
		period := preset.Period()
		err := float64(period-TickInterval) / float64(TickInterval)
		if err < 0 {
			err = -err
		}
		if err > 0.015 {
			t.Errorf("%s period %v deviates %.1f%% from the nominal tick",
				preset.Name, period, err*100)
		}
	}
}

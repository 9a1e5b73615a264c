// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

// Package signal turns slot bit streams into the DCC track waveform.
// The generator is a per-tick state machine: a hardware timer (or the
// host shell's tick loop standing in for one) calls Tick once per
// 14.5 µs period and the generator flips the output polarity at the
// half-bit boundaries, consuming run-length cells as it goes. A 1 bit
// is four ticks per half (58 µs), a 0 bit seven (101.5 µs).
package signal

import (
	"time"

	"github.com/openrail/signalbox/pkg/dcc"
	"github.com/openrail/signalbox/pkg/pipeline"
)

// TickInterval is the nominal timer period.
const TickInterval = 14500 * time.Nanosecond

// Ticks per half bit.
const (
	TicksOneHalf  = 4
	TicksZeroHalf = 7
)

// Timing describes a supported timer configuration: the compare-match
// value programmed for a given MCU clock and prescale so the period
// lands within tolerance of the nominal tick.
type Timing struct {
	Name         string
	ClockHz      int
	Prescale     int
	CompareMatch int
}

// The two concrete presets. 16 MHz divides the tick exactly; 20 MHz
// through the divide-by-8 prescaler lands at 14.4 µs, inside the
// waveform tolerance.
var (
	Timing16MHz = Timing{Name: "16MHz/1", ClockHz: 16000000, Prescale: 1, CompareMatch: 232}
	Timing20MHz = Timing{Name: "20MHz/8", ClockHz: 20000000, Prescale: 8, CompareMatch: 36}
)

// Period returns the actual tick period the preset produces.
func (t Timing) Period() time.Duration {
	return time.Duration(int64(t.CompareMatch) * int64(t.Prescale) * int64(time.Second) / int64(t.ClockHz))
}

// Line is the output surface: one call per tick writes the polarity
// side to every enabled driver, honouring each district's phase
// inversion. Implementations are a single port-mask write when all
// direction pins share a port, or a per-pin loop otherwise.
type Line interface {
	SetSide(side bool)
}

// Generator walks the slot ring emitting each slot's bit stream, with
// idle packets wherever no useful content is ready so the carrier
// never goes silent. All fields are owned by the tick context; the
// only cross-context traffic is through slot state tags and ring
// links, which are atomic.
type Generator struct {
	line Line

	current *pipeline.Slot
	ownBits bool // stream is the current slot's bits, not idle/filler

	stream  []byte
	cursor  int
	bitOne  bool
	runLeft int

	side       bool
	secondHalf bool
	remaining  int
	reload     int

	idle   []byte
	filler []byte
}

// NewGenerator builds a generator driving the given line. It idles
// until Jump points it at a ring.
func NewGenerator(line Line) *Generator {
	idle := make([]byte, dcc.BitBufferSize)
	payload := dcc.Idle()
	payload = append(payload, dcc.Parity(payload))
	if _, err := dcc.EncodeBitstream(idle, payload, dcc.ShortPreamble, dcc.ShortPostamble); err != nil {
		panic("signal: idle packet does not encode: " + err.Error())
	}

	g := &Generator{
		line: line,
		idle: idle,
		// Filler keeps the line busy with a continuous 1 run while
		// a loading slot still has pending work, so a programming
		// sequence is not broken by stray idle frames.
		filler: []byte{255, 0},
	}
	g.arm(g.idle, false)
	return g
}

// Jump points the generator at a slot, typically a ring entry after a
// mode change. It must only be called while ticking is paused.
func (g *Generator) Jump(slot *pipeline.Slot) {
	g.current = slot
	g.arm(g.idle, false)
}

// Slot returns the slot the generator is currently visiting.
func (g *Generator) Slot() *pipeline.Slot {
	return g.current
}

// arm starts emitting a new bit stream from its first cell. The
// stream always opens with a 1 run; polarity carries straight on from
// the previous stream.
func (g *Generator) arm(stream []byte, own bool) {
	if stream[0] == 0 {
		stream = g.idle
		own = false
	}
	g.stream = stream
	g.ownBits = own
	g.cursor = 0
	g.bitOne = true
	g.runLeft = int(stream[0])
	g.secondHalf = false
	g.reload = TicksOneHalf
	g.remaining = g.reload
}

// Tick advances the waveform by one timer period. The polarity write
// happens at the same point of every invocation, whichever branch
// runs afterwards, so the edge timing does not depend on the
// bookkeeping path taken.
func (g *Generator) Tick() {
	g.remaining--
	if g.remaining > 0 {
		g.line.SetSide(g.side)
		return
	}

	// Half period complete.
	g.side = !g.side
	g.line.SetSide(g.side)

	if !g.secondHalf {
		g.secondHalf = true
		g.remaining = g.reload
		return
	}

	// A whole bit has been emitted.
	g.secondHalf = false
	g.runLeft--
	if g.runLeft > 0 {
		g.remaining = g.reload
		return
	}

	// Run complete: the next cell counts the opposite bit value.
	g.cursor++
	if next := g.stream[g.cursor]; next != 0 {
		g.bitOne = !g.bitOne
		if g.bitOne {
			g.reload = TicksOneHalf
		} else {
			g.reload = TicksZeroHalf
		}
		g.runLeft = int(next)
		g.remaining = g.reload
		return
	}

	// Stream exhausted: settle the finished slot and move on.
	g.advance()
	g.remaining = g.reload
}

// advance finishes the visit to the current slot and inspects the
// next one around the ring.
func (g *Generator) advance() {
	if s := g.current; s != nil && g.ownBits && s.State() == pipeline.SlotRun {
		if d := s.Duration(); d > 0 {
			d--
			s.SetDuration(d)
			if d == 0 {
				s.SetState(pipeline.SlotLoad)
			}
		}
	}

	if g.current == nil {
		g.arm(g.idle, false)
		return
	}

	s := g.current.Next()
	g.current = s
	switch s.State() {
	case pipeline.SlotRun:
		g.arm(s.Bits(), true)
	case pipeline.SlotReload:
		// The host superseded the slot's content: put an idle
		// packet on the line in its place and let the manager
		// reload it.
		s.SetState(pipeline.SlotLoad)
		g.arm(g.idle, false)
	case pipeline.SlotLoad:
		if s.HasPending() {
			g.arm(g.filler, false)
		} else {
			g.arm(g.idle, false)
		}
	default:
		g.arm(g.idle, false)
	}
}

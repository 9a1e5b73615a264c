// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package pipeline

import "errors"

// Mode is the global power state. Operations and programming are
// mutually exclusive: each is entered from OFF only, so a mode change
// always passes through a fully drained, unpowered track.
type Mode int

// Power modes.
const (
	ModeOff Mode = iota
	ModeMain
	ModeProg
)

// String names a mode.
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeMain:
		return "MAIN"
	case ModeProg:
		return "PROG"
	}
	return "UNKNOWN"
}

// ErrPowerNotOff rejects a MAIN or PROG transition attempted while
// another mode is live.
var ErrPowerNotOff = errors.New("power is not off")

// ModeController owns the global power mode and the ring linkage that
// follows it. Entering a mode relinks the ring so the generator
// visits only that mode's slots and reports the entry slot for the
// generator to jump to.
type ModeController struct {
	ring *Ring
	pool *Pool
	mode Mode
}

// NewModeController starts in OFF.
func NewModeController(ring *Ring, pool *Pool) *ModeController {
	return &ModeController{ring: ring, pool: pool}
}

// Mode returns the current power mode.
func (mc *ModeController) Mode() Mode {
	return mc.mode
}

// SetOff drops to OFF from any mode, clearing every slot so a later
// mode entry starts from an empty pipeline.
func (mc *ModeController) SetOff() {
	mc.mode = ModeOff
	for i := 0; i < mc.ring.Slots(); i++ {
		slot := mc.ring.Slot(i)
		slot.DrainPending(mc.pool)
		slot.SetReply(ReplyNone, "")
		slot.SetState(SlotEmpty)
	}
}

// SetMain enters operations mode. Legal from OFF only; returns the
// generator's entry slot.
func (mc *ModeController) SetMain() (*Slot, error) {
	if mc.mode != ModeOff {
		return nil, ErrPowerNotOff
	}
	mc.mode = ModeMain
	return mc.ring.LinkMain(), nil
}

// SetProg enters programming mode. Legal from OFF only; returns the
// generator's entry slot.
func (mc *ModeController) SetProg() (*Slot, error) {
	if mc.mode != ModeOff {
		return nil, ErrPowerNotOff
	}
	mc.mode = ModeProg
	return mc.ring.LinkProg(), nil
}

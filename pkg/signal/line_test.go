// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package signal

import "testing"

type recordPort struct {
	last byte
}

func (p *recordPort) WritePort(mask byte) { p.last = mask }

func TestPortLine_MasksFollowPowerAndPhase(t *testing.T) {
	port := &recordPort{}
	line := NewPortLine(port, []byte{0, 1, 2})

	// Unpowered districts never drive their pin.
	line.SetSide(true)
	if port.last != 0 {
		t.Fatalf("unpowered line should write 0, got %08b", port.last)
	}

	d0 := line.Driver(0)
	d1 := line.Driver(1)
	d0.Power(true)
	d1.Power(true)

	line.SetSide(true)
	if port.last != 0b011 {
		t.Errorf("side A should drive both pins, got %08b", port.last)
	}
	line.SetSide(false)
	if port.last != 0 {
		t.Errorf("side B should release both pins, got %08b", port.last)
	}

	// Flipping district 1 moves its pin to the opposite mask.
	d1.FlipPhase()
	line.SetSide(true)
	if port.last != 0b001 {
		t.Errorf("flipped district should leave side A, got %08b", port.last)
	}
	line.SetSide(false)
	if port.last != 0b010 {
		t.Errorf("flipped district should join side B, got %08b", port.last)
	}

	// Flipping back restores the original phasing.
	d1.FlipPhase()
	line.SetSide(true)
	if port.last != 0b011 {
		t.Errorf("double flip should restore side A, got %08b", port.last)
	}

	d0.Power(false)
	line.SetSide(true)
	if port.last != 0b010 {
		t.Errorf("powered-off district should leave the masks, got %08b", port.last)
	}
}

type recordPins struct {
	writes map[int]bool
}

func (p *recordPins) WritePin(district int, high bool) {
	if p.writes == nil {
		p.writes = map[int]bool{}
	}
	p.writes[district] = high
}

func TestPinLine_PerDistrictPhase(t *testing.T) {
	pins := &recordPins{}
	line := NewPinLine(pins, 2)
	d0 := line.Driver(0)
	d1 := line.Driver(1)
	d0.Power(true)
	d1.Power(true)
	d1.FlipPhase()

	line.SetSide(true)
	if !pins.writes[0] || pins.writes[1] {
		t.Errorf("side true: expected pin0 high pin1 low, got %v", pins.writes)
	}
	line.SetSide(false)
	if pins.writes[0] || !pins.writes[1] {
		t.Errorf("side false: expected pin0 low pin1 high, got %v", pins.writes)
	}

	// An unpowered district is skipped entirely.
	d0.Power(false)
	pins.writes = map[int]bool{}
	line.SetSide(true)
	if _, touched := pins.writes[0]; touched {
		t.Error("unpowered district pin should not be written")
	}
}

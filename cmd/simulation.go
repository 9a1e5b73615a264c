// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Openrail Contributors

package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/openrail/signalbox/pkg/signal"
)

// simRailway models the layout electrically for bench runs: it counts
// the waveform edges the generator produces and synthesizes per-
// district current readings, including injectable shorts and decoder
// acknowledgment pulses.
type simRailway struct {
	mu        sync.Mutex
	districts []simDistrict
	edges     uint64
	lastLevel map[int]bool
}

type simDistrict struct {
	powered    bool
	baseLoad   uint16
	shortUntil time.Time
	ackUntil   time.Time
}

func newSimRailway(districts int) *simRailway {
	sim := &simRailway{
		districts: make([]simDistrict, districts),
		lastLevel: make(map[int]bool),
	}
	for i := range sim.districts {
		sim.districts[i].baseLoad = 120
	}
	return sim
}

// WritePin receives the generator's polarity writes; the simulation
// only counts the edges.
func (s *simRailway) WritePin(district int, high bool) {
	s.mu.Lock()
	if last, ok := s.lastLevel[district]; !ok || last != high {
		s.edges++
		s.lastLevel[district] = high
	}
	s.mu.Unlock()
}

// Edges reports how many polarity transitions have been driven.
func (s *simRailway) Edges() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edges
}

// ReadCurrent synthesizes one conversion, pacing itself at roughly
// the hardware conversion rate.
func (s *simRailway) ReadCurrent(ctx context.Context, district int) (uint16, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(time.Millisecond):
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := &s.districts[district]
	now := time.Now()
	switch {
	case !d.powered:
		return 0, nil
	case now.Before(d.shortUntil):
		return 1023, nil
	case now.Before(d.ackUntil):
		return d.baseLoad + 60, nil
	default:
		return d.baseLoad, nil
	}
}

// simDriver is the per-district control handle: the monitor's power and
// phase actions land both on the output line and on the electrical
// model.
type simDriver struct {
	sim *simRailway
	pin *signal.PinDriver
	i   int
}

func (d *simDriver) Power(on bool) {
	d.pin.Power(on)
	d.sim.mu.Lock()
	d.sim.districts[d.i].powered = on
	d.sim.mu.Unlock()
}

func (d *simDriver) FlipPhase() {
	d.pin.FlipPhase()
}

// InjectShort drops a dead short onto a district for the given time.
func (s *simRailway) InjectShort(district int, period time.Duration) {
	s.mu.Lock()
	s.districts[district].shortUntil = time.Now().Add(period)
	s.mu.Unlock()
}

// InjectAck raises a district's current by a decoder-acknowledgment
// pulse for the given time.
func (s *simRailway) InjectAck(district int, period time.Duration) {
	s.mu.Lock()
	s.districts[district].ackUntil = time.Now().Add(period)
	s.mu.Unlock()
}

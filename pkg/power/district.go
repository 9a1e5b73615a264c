// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package power

import "time"

// Status is the operating state of one district.
type Status int

// District states. A district is DISABLED when its mode keeps the
// driver unpowered (a main driver while programming, and vice versa).
const (
	StatusDisabled Status = iota
	StatusOn
	StatusOnGrace
	StatusFlipped
	StatusBlocked
	StatusOff
)

// String returns the short name used in reports and the panel.
func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "DISABLED"
	case StatusOn:
		return "ON"
	case StatusOnGrace:
		return "GRACE"
	case StatusFlipped:
		return "FLIPPED"
	case StatusBlocked:
		return "BLOCKED"
	case StatusOff:
		return "OFF"
	}
	return "UNKNOWN"
}

// ReportValue is the per-district value carried by the district status
// event: disabled=0, enabled=1, flipped=2, blocked=3, off=4.
func (s Status) ReportValue() int {
	switch s {
	case StatusOn, StatusOnGrace:
		return 1
	case StatusFlipped:
		return 2
	case StatusBlocked:
		return 3
	case StatusOff:
		return 4
	}
	return 0
}

// Driver is the H-bridge control surface the monitor drives: power
// removal on faults and phase inversion during the flip protocol.
type Driver interface {
	Power(on bool)
	FlipPhase()
}

// Config carries the tunable thresholds and periods the monitor runs
// against.
type Config struct {
	SpikeLimit    uint16        // instant current limit on stage 1
	OverloadLimit uint16        // average current limit on the last stage
	MinDelta      uint16        // stage 2 minus stage 9 to count as an acknowledgment
	GracePeriod   time.Duration // faults ignored after power-on
	PhasePeriod   time.Duration // how long a flipped phase has to prove itself
	ResetPeriod   time.Duration // how long a dead district stays off before a retry
}

// Fault identifies why a district was shut down.
type Fault int

// Fault kinds reported through the monitor callback.
const (
	FaultSpike Fault = iota
	FaultOverload
)

// Events receives the monitor's asynchronous notifications. Any method
// may be a no-op.
type Events interface {
	DistrictStatus(district int, status Status)
	DistrictFault(district int, fault Fault, reading uint16)
}

// District is the monitor's per-driver record.
type District struct {
	avg     Average
	status  Status
	recheck time.Time
	driver  Driver
}

// Status returns the district's current state.
func (d *District) Status() Status {
	return d.status
}

// Load returns the fastest-moving average, the figure the periodic
// load report is built from.
func (d *District) Load() uint16 {
	return d.avg.First()
}

// noFlip marks the phase-flip lock as free.
const noFlip = -1

// Monitor owns every district record and the phase-flip lock. It runs
// entirely on the main loop; nothing here is called from the sampler's
// completion path.
type Monitor struct {
	cfg       Config
	districts []District
	flipLock  int
	confirm   bool
	confirmed bool
	events    Events
}

// NewMonitor builds a monitor over the given drivers.
func NewMonitor(cfg Config, drivers []Driver, events Events) *Monitor {
	m := &Monitor{cfg: cfg, districts: make([]District, len(drivers)), flipLock: noFlip, events: events}
	for i := range m.districts {
		m.districts[i].driver = drivers[i]
		m.districts[i].status = StatusDisabled
	}
	return m
}

// Districts returns the number of districts under watch.
func (m *Monitor) Districts() int {
	return len(m.districts)
}

// District exposes one record for status reporting.
func (m *Monitor) District(i int) *District {
	return &m.districts[i]
}

// FlipHolder returns the district currently holding the phase-flip
// lock, or -1 when the lock is free.
func (m *Monitor) FlipHolder() int {
	return m.flipLock
}

// SetConfirmationWindow opens or closes the acknowledgment listening
// window. While open, only the leading average stages track the
// current so the baseline the delta is measured against stays put.
// Opening the window clears any previously latched acknowledgment.
func (m *Monitor) SetConfirmationWindow(open bool) {
	m.confirm = open
	if open {
		m.confirmed = false
	}
}

// TakeConfirmed reports whether an acknowledgment pulse was seen since
// the window opened, clearing the latch.
func (m *Monitor) TakeConfirmed() bool {
	c := m.confirmed
	m.confirmed = false
	return c
}

// Activate powers a district up into its grace period, or parks it
// DISABLED, according to the active power mode. Averages restart from
// zero either way.
func (m *Monitor) Activate(district int, live bool, now time.Time) {
	d := &m.districts[district]
	d.avg.Reset()
	if live {
		d.driver.Power(true)
		m.setStatus(district, StatusOnGrace)
		d.recheck = now.Add(m.cfg.GracePeriod)
	} else {
		d.driver.Power(false)
		m.setStatus(district, StatusDisabled)
	}
}

// Shutdown powers every district down and releases the flip lock,
// used when the global power mode drops to OFF.
func (m *Monitor) Shutdown() {
	for i := range m.districts {
		m.districts[i].driver.Power(false)
		m.districts[i].avg.Reset()
		m.setStatus(i, StatusDisabled)
	}
	m.flipLock = noFlip
}

// Sample feeds one current reading for one district through the
// analyzer and the recovery state machine.
func (m *Monitor) Sample(district int, reading uint16, now time.Time) {
	d := &m.districts[district]

	if d.status == StatusDisabled {
		return
	}

	if m.confirm {
		d.avg.AddHead(reading)
	} else {
		d.avg.Add(reading)
	}

	// A fresh district gets its grace period before any fault
	// handling applies.
	if d.status == StatusOnGrace {
		if now.After(d.recheck) {
			m.setStatus(district, StatusOn)
		}
		return
	}

	switch {
	case d.avg.Read(1) > m.cfg.SpikeLimit:
		m.spike(district, now)
	case d.avg.Read(AverageSpan-1) > m.cfg.OverloadLimit:
		m.overload(district, now)
	default:
		m.nominal(district, now)
	}
}

// spike handles an instant over-current reading: try a phase flip to
// resolve a cross-district short, queue behind another district's
// flip, or give up and power off.
func (m *Monitor) spike(district int, now time.Time) {
	d := &m.districts[district]
	switch d.status {
	case StatusOn:
		if m.flipLock == noFlip {
			m.flip(district)
			d.recheck = now.Add(m.cfg.PhasePeriod)
		} else {
			m.setStatus(district, StatusBlocked)
			d.recheck = now.Add(m.cfg.PhasePeriod)
		}
		m.fault(district, FaultSpike, d.avg.Read(1))
	case StatusFlipped:
		if now.After(d.recheck) {
			// The flipped phase did not clear the short.
			m.flipLock = noFlip
			m.shutOff(district, now)
		}
	case StatusBlocked:
		if m.flipLock == noFlip {
			// Time spent blocked is lost: the phase deadline
			// is not extended.
			m.flip(district)
		} else if now.After(d.recheck) {
			m.shutOff(district, now)
		}
	case StatusOff:
		// Driver is unpowered; a stale reading means nothing.
	}
}

// overload handles a sustained over-current average.
func (m *Monitor) overload(district int, now time.Time) {
	d := &m.districts[district]
	if d.status == StatusOff {
		return
	}
	if m.flipLock == district {
		m.flipLock = noFlip
	}
	m.fault(district, FaultOverload, d.avg.Read(AverageSpan-1))
	m.shutOff(district, now)
}

// nominal handles an in-range reading: acknowledge detection, flip
// resolution and timed retry of dead districts.
func (m *Monitor) nominal(district int, now time.Time) {
	d := &m.districts[district]

	if m.confirm && int(d.avg.Read(2))-int(d.avg.Read(AverageSpan-1)) > int(m.cfg.MinDelta) {
		m.confirmed = true
	}

	switch d.status {
	case StatusFlipped:
		// The inverted phase cured the short.
		m.flipLock = noFlip
		m.grace(district, now)
	case StatusBlocked:
		// Another district's flip cured it for us.
		m.grace(district, now)
	case StatusOff:
		if now.After(d.recheck) {
			d.driver.Power(true)
			d.avg.Reset()
			m.grace(district, now)
		}
	}
}

// flip takes the lock and inverts the district's output phase.
func (m *Monitor) flip(district int) {
	m.flipLock = district
	m.districts[district].driver.FlipPhase()
	m.setStatus(district, StatusFlipped)
}

// shutOff removes power and schedules the long retry.
func (m *Monitor) shutOff(district int, now time.Time) {
	d := &m.districts[district]
	d.driver.Power(false)
	d.avg.Reset()
	m.setStatus(district, StatusOff)
	d.recheck = now.Add(m.cfg.ResetPeriod)
}

// grace re-enters the post-power-on grace period.
func (m *Monitor) grace(district int, now time.Time) {
	d := &m.districts[district]
	m.setStatus(district, StatusOnGrace)
	d.recheck = now.Add(m.cfg.GracePeriod)
}

func (m *Monitor) setStatus(district int, s Status) {
	if m.districts[district].status == s {
		return
	}
	m.districts[district].status = s
	if m.events != nil {
		m.events.DistrictStatus(district, s)
	}
}

func (m *Monitor) fault(district int, f Fault, reading uint16) {
	if m.events != nil {
		m.events.DistrictFault(district, f, reading)
	}
}

// CheckFlipInvariant verifies that exactly the lock holder, and only
// the lock holder, is in the FLIPPED state.
func (m *Monitor) CheckFlipInvariant() bool {
	for i := range m.districts {
		if (m.districts[i].status == StatusFlipped) != (m.flipLock == i) {
			return false
		}
	}
	return true
}

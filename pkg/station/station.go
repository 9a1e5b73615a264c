// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

// Package station wires the core together: the slot ring and packet
// pool, the cooperative manager, the signal generator's tick loop,
// the power monitor and the mode controller, behind the submission
// API the host layer calls. One mutex serializes everything the main
// loop owns; the generator runs in its own tick context and meets the
// rest of the core only through slot state tags and ring links.
package station

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openrail/signalbox/pkg/dcc"
	"github.com/openrail/signalbox/pkg/pipeline"
	"github.com/openrail/signalbox/pkg/power"
	"github.com/openrail/signalbox/pkg/signal"
	"github.com/openrail/signalbox/pkg/tunables"
)

// Errors surfaced synchronously by the submission API.
var (
	ErrBusy               = fmt.Errorf("no transmission slot free")
	ErrQueueFull          = fmt.Errorf("command queue full")
	ErrPowerNotOff        = pipeline.ErrPowerNotOff
	ErrWrongMode          = fmt.Errorf("command not valid in this power mode")
	ErrNoProgrammingTrack = fmt.Errorf("no programming track configured")
)

// FunctionState is the requested state for a decoder function.
type FunctionState int

// Function states. Toggle pulses the function on then off.
const (
	FunctionOff FunctionState = iota
	FunctionOn
	FunctionToggle
)

// Config assembles a station.
type Config struct {
	Tunables tunables.Tunables

	// Slot partition sizes.
	AccessorySlots   int
	MobileSlots      int
	ProgrammingSlots int

	// Pending packet pool capacity.
	PoolCapacity int

	// Line carries the generated waveform; Drivers give the monitor
	// per-district control; Reader senses per-district current. A
	// nil Line runs the station headless: the pipeline operates but
	// no waveform is generated.
	Line    signal.Line
	Drivers []power.Driver
	Reader  power.CurrentReader

	// ProgrammingDistrict is the index of the programming-track
	// driver, or -1 when the layout has none.
	ProgrammingDistrict int
}

// DefaultConfig sizes the pipeline the way the original hardware
// does.
func DefaultConfig() Config {
	return Config{
		Tunables:            tunables.Defaults(),
		AccessorySlots:      4,
		MobileSlots:         8,
		ProgrammingSlots:    1,
		PoolCapacity:        32,
		ProgrammingDistrict: -1,
	}
}

// Station is the running core.
type Station struct {
	mu sync.Mutex

	cfg   Config
	tun   tunables.Tunables
	ring  *pipeline.Ring
	pool  *pipeline.Pool
	mgr   *pipeline.Manager
	modes *pipeline.ModeController
	gen   *signal.Generator
	mon   *power.Monitor
	smp   *power.Sampler
	funcs *pipeline.FunctionCache
	errs  ErrorQueue
	stats *Stats

	events  chan Event
	replies chan string

	tickStop chan struct{}
	tickDone chan struct{}
}

// New assembles a station from a config. The station starts in OFF.
func New(cfg Config) *Station {
	s := &Station{
		cfg:     cfg,
		tun:     cfg.Tunables,
		ring:    pipeline.NewRing(cfg.AccessorySlots, cfg.MobileSlots, cfg.ProgrammingSlots),
		pool:    pipeline.NewPool(cfg.PoolCapacity),
		stats:   NewStats(),
		events:  make(chan Event, 32),
		replies: make(chan string, 16),
	}
	s.mgr = pipeline.NewManager(s.ring, s.pool)
	s.modes = pipeline.NewModeController(s.ring, s.pool)
	s.gen = signal.NewGenerator(cfg.Line)
	s.funcs = pipeline.NewFunctionCache(cfg.MobileSlots)
	s.mon = power.NewMonitor(power.Config{
		SpikeLimit:    s.tun.InstantCurrentLimit,
		OverloadLimit: s.tun.AverageCurrentLimit,
		MinDelta:      s.tun.MinimumDeltaAmps,
		GracePeriod:   s.tun.GracePeriod(),
		PhasePeriod:   s.tun.PhasePeriod(),
		ResetPeriod:   s.tun.ResetPeriod(),
	}, cfg.Drivers, (*monitorEvents)(s))
	s.smp = power.NewSampler(cfg.Reader, len(cfg.Drivers))

	// Manager callbacks run inside the main loop, under the station
	// lock.
	s.mgr.Reply = func(text string) {
		s.stats.Replies++
		s.sendReply(text)
	}
	s.mgr.Confirm = func() bool {
		confirmed := s.mon.TakeConfirmed()
		s.mon.SetConfirmationWindow(false)
		if confirmed {
			s.stats.Confirmations++
		}
		return confirmed
	}
	s.mgr.EncodeFailed = func(slot int, err error) {
		s.stats.EncodeErrors++
		s.errs.Log(CodeBitTransOverflow, slot)
	}
	s.mgr.Encoded = func(slot int) {
		s.stats.Encoded++
	}
	return s
}

// Events is the asynchronous notification channel.
func (s *Station) Events() <-chan Event {
	return s.events
}

// Replies carries the textual replies slots owe the host layer.
func (s *Station) Replies() <-chan string {
	return s.replies
}

// Tunables returns the loaded tunable set.
func (s *Station) Tunables() tunables.Tunables {
	return s.tun
}

// Mode returns the current power mode.
func (s *Station) Mode() pipeline.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modes.Mode()
}

// sendReply delivers without blocking; a stalled host loses the reply
// and gets an error record instead.
func (s *Station) sendReply(text string) {
	select {
	case s.replies <- text:
	default:
		s.errs.Log(CodeReportFail, 0)
	}
}

func (s *Station) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.errs.Log(CodeReportFail, int(e.Kind))
	}
}

// monitorEvents adapts the station to the power monitor's callback
// surface. Invoked under the station lock.
type monitorEvents Station

func (m *monitorEvents) DistrictStatus(district int, status power.Status) {
	s := (*Station)(m)
	s.emit(Event{Kind: EventDistricts, Districts: s.districtReport()})
}

func (m *monitorEvents) DistrictFault(district int, fault power.Fault, reading uint16) {
	s := (*Station)(m)
	switch fault {
	case power.FaultSpike:
		s.stats.Spikes++
		s.errs.Log(CodePowerSpike, district)
	case power.FaultOverload:
		s.stats.Overloads++
		s.errs.Log(CodePowerOverload, district)
	}
}

func (s *Station) districtReport() []int {
	report := make([]int, s.mon.Districts())
	for i := range report {
		report[i] = s.mon.District(i).Status().ReportValue()
	}
	return report
}

// SetPower changes the global power mode. MAIN and PROG are only
// reachable from OFF.
func (s *Station) SetPower(mode pipeline.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch mode {
	case pipeline.ModeOff:
		s.stopTicks()
		s.modes.SetOff()
		s.mon.Shutdown()
		s.mon.SetConfirmationWindow(false)

	case pipeline.ModeMain:
		entry, err := s.modes.SetMain()
		if err != nil {
			s.errs.Log(CodePowerNotOff, int(mode))
			return err
		}
		now := time.Now()
		for i := 0; i < s.mon.Districts(); i++ {
			s.mon.Activate(i, i != s.cfg.ProgrammingDistrict, now)
		}
		s.gen.Jump(entry)
		s.startTicks()

	case pipeline.ModeProg:
		if s.cfg.ProgrammingDistrict < 0 {
			s.errs.Log(CodeNoProgrammingTrack, 0)
			return ErrNoProgrammingTrack
		}
		entry, err := s.modes.SetProg()
		if err != nil {
			s.errs.Log(CodePowerNotOff, int(mode))
			return err
		}
		now := time.Now()
		for i := 0; i < s.mon.Districts(); i++ {
			s.mon.Activate(i, i == s.cfg.ProgrammingDistrict, now)
		}
		s.gen.Jump(entry)
		s.startTicks()
	}

	s.emit(Event{Kind: EventPower, Mode: s.modes.Mode()})
	return nil
}

// startTicks launches the generator tick loop. Real time is sliced
// into batches: each wakeup runs however many 14.5 µs ticks have
// elapsed, bounded so a scheduler stall cannot demand an unpayable
// burst.
func (s *Station) startTicks() {
	if s.tickStop != nil || s.cfg.Line == nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.tickStop = stop
	s.tickDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		last := time.Now()
		var carry time.Duration
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				carry += now.Sub(last)
				last = now
				n := int(carry / signal.TickInterval)
				carry -= time.Duration(n) * signal.TickInterval
				if n > 4000 {
					n = 4000
				}
				for i := 0; i < n; i++ {
					s.gen.Tick()
				}
			}
		}
	}()
}

// stopTicks halts the generator and waits for the tick context to
// drain, so ring relinks and jumps never race a tick.
func (s *Station) stopTicks() {
	if s.tickStop == nil {
		return
	}
	close(s.tickStop)
	<-s.tickDone
	s.tickStop = nil
	s.tickDone = nil
}

// reject logs a submission failure and returns the caller's error.
func (s *Station) reject(code Code, arg int, err error) error {
	s.errs.Log(code, arg)
	s.stats.Rejected++
	return err
}

// attach queues a packet list on a slot. Supersede drains whatever
// was queued before; an in-flight slot is asked to RELOAD so the
// generator drops its current content at the next stream end.
func (s *Station) attach(slot *pipeline.Slot, target int, packets []int32, mode pipeline.ReplyMode, template string, supersede bool) {
	switch slot.State() {
	case pipeline.SlotEmpty:
		slot.SetTarget(target)
		for _, idx := range packets {
			slot.AppendPending(s.pool, idx)
		}
		slot.SetReply(mode, template)
		slot.SetState(pipeline.SlotLoad)
	case pipeline.SlotRun:
		if supersede {
			slot.DrainPending(s.pool)
		}
		for _, idx := range packets {
			slot.AppendPending(s.pool, idx)
		}
		slot.SetReply(mode, template)
		slot.SetState(pipeline.SlotReload)
	default:
		if supersede {
			slot.DrainPending(s.pool)
		}
		for _, idx := range packets {
			slot.AppendPending(s.pool, idx)
		}
		slot.SetReply(mode, template)
	}
}

// allocAll allocates a batch of packets, unwinding on failure so a
// half-built sequence never reaches a slot.
func (s *Station) allocAll(specs []packetSpec) ([]int32, error) {
	idxs := make([]int32, 0, len(specs))
	for _, spec := range specs {
		idx, err := s.pool.Alloc(spec.target, spec.duration, spec.preamble, spec.postamble, spec.payload)
		if err != nil {
			for _, undo := range idxs {
				s.pool.FreeOne(undo)
			}
			return nil, err
		}
		idxs = append(idxs, idx)
	}
	return idxs, nil
}

type packetSpec struct {
	target    int
	duration  int
	preamble  int
	postamble int
	payload   []byte
}

// SubmitMobile queues a 128-step speed-and-direction command. Speed 0
// stops, -1 emergency stops; other speeds repeat indefinitely until
// superseded.
func (s *Station) SubmitMobile(target, speed, direction int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.modes.Mode() != pipeline.ModeMain {
		return s.reject(CodeInvalidState, int(s.modes.Mode()), ErrWrongMode)
	}
	if target < 0 || target > dcc.MaxLongAddress {
		return s.reject(CodeInvalidAddress, target, fmt.Errorf("mobile address out of range: %d", target))
	}
	if speed < dcc.EmergencyStop || speed > dcc.MaxSpeed {
		return s.reject(CodeInvalidSpeed, speed, fmt.Errorf("speed out of range: %d", speed))
	}
	if direction != 0 && direction != 1 {
		return s.reject(CodeInvalidDirection, direction, fmt.Errorf("invalid direction: %d", direction))
	}

	payload, err := dcc.SpeedAndDirection(target, speed, direction)
	if err != nil {
		return s.reject(CodeInvalidAddress, target, err)
	}

	// Stops repeat a bounded number of times; running speeds repeat
	// until superseded.
	duration := 0
	if speed <= 0 {
		duration = int(s.tun.TransientCommandRepeats)
	}

	base, count := s.ring.MobileSlots()
	slot := s.ring.FindSlot(base, count, target)
	if slot == nil {
		return s.reject(CodeTransmissionBusy, target, ErrBusy)
	}
	idxs, err := s.allocAll([]packetSpec{{target, duration, dcc.ShortPreamble, dcc.ShortPostamble, payload}})
	if err != nil {
		return s.reject(CodeCommandQueueFull, target, ErrQueueFull)
	}

	template := fmt.Sprintf("mobile %d %d %d", target, speed, direction)
	s.attach(slot, target, idxs, pipeline.ReplyOnSend, template, true)
	s.stats.Submitted++
	return nil
}

// SubmitAccessory queues a transient accessory command for the
// external address space 1..2048.
func (s *Station) SubmitAccessory(address, state int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.modes.Mode() != pipeline.ModeMain {
		return s.reject(CodeInvalidState, int(s.modes.Mode()), ErrWrongMode)
	}
	payload, err := dcc.Accessory(address, state)
	if err != nil {
		if state != 0 && state != 1 {
			return s.reject(CodeInvalidState, state, err)
		}
		return s.reject(CodeInvalidAddress, address, err)
	}

	// Accessory slots key on the negated external address so mobile
	// and accessory targets never collide.
	target := -address
	base, count := s.ring.AccessorySlots()
	slot := s.ring.FindSlot(base, count, target)
	if slot == nil {
		return s.reject(CodeTransmissionBusy, address, ErrBusy)
	}
	idxs, err := s.allocAll([]packetSpec{{target, int(s.tun.TransientCommandRepeats), dcc.ShortPreamble, dcc.ShortPostamble, payload}})
	if err != nil {
		return s.reject(CodeCommandQueueFull, address, ErrQueueFull)
	}

	template := fmt.Sprintf("accessory %d %d", address, state)
	s.attach(slot, target, idxs, pipeline.ReplyOnSend, template, true)
	s.stats.Submitted++
	return nil
}

// SubmitFunction changes one decoder function. The cache rebuilds the
// whole containing group, because group packets latch every bit they
// name; an update that changes nothing sends a single idle packet
// instead so the submission still answers.
func (s *Station) SubmitFunction(target, fn int, state FunctionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.modes.Mode() != pipeline.ModeMain {
		return s.reject(CodeInvalidState, int(s.modes.Mode()), ErrWrongMode)
	}
	if target < 1 || target > dcc.MaxLongAddress {
		return s.reject(CodeInvalidAddress, target, fmt.Errorf("mobile address out of range: %d", target))
	}
	group, err := dcc.GroupFor(fn)
	if err != nil {
		return s.reject(CodeInvalidFuncNumber, fn, err)
	}

	base, count := s.ring.MobileSlots()
	slot := s.ring.FindSlot(base, count, target)
	if slot == nil {
		return s.reject(CodeTransmissionBusy, target, ErrBusy)
	}

	repeats := int(s.tun.TransientCommandRepeats)
	var specs []packetSpec

	switch state {
	case FunctionToggle:
		// A toggle pulses the function: on, then off, back to
		// back on the same slot.
		_, bits := s.funcs.Update(target, fn, true)
		onPayload, err := dcc.Functions(target, group, bits)
		if err != nil {
			return s.reject(CodeInvalidFuncNumber, fn, err)
		}
		_, bits = s.funcs.Update(target, fn, false)
		offPayload, err := dcc.Functions(target, group, bits)
		if err != nil {
			return s.reject(CodeInvalidFuncNumber, fn, err)
		}
		specs = []packetSpec{
			{target, repeats, dcc.ShortPreamble, dcc.ShortPostamble, onPayload},
			{target, repeats, dcc.ShortPreamble, dcc.ShortPostamble, offPayload},
		}

	case FunctionOn, FunctionOff:
		changed, bits := s.funcs.Update(target, fn, state == FunctionOn)
		if changed {
			payload, err := dcc.Functions(target, group, bits)
			if err != nil {
				return s.reject(CodeInvalidFuncNumber, fn, err)
			}
			specs = []packetSpec{{target, repeats, dcc.ShortPreamble, dcc.ShortPostamble, payload}}
		} else {
			// Nothing changed on the wire; keep the slot's
			// cadence with a single idle.
			specs = []packetSpec{{target, 1, dcc.ShortPreamble, dcc.ShortPostamble, dcc.Idle()}}
		}

	default:
		return s.reject(CodeInvalidState, int(state), fmt.Errorf("invalid function state: %d", state))
	}

	idxs, err := s.allocAll(specs)
	if err != nil {
		return s.reject(CodeCommandQueueFull, target, ErrQueueFull)
	}
	template := fmt.Sprintf("function %d %d %d", target, fn, state)
	s.attach(slot, target, idxs, pipeline.ReplyOnSend, template, false)
	s.stats.Submitted++
	return nil
}

// serviceSequence queues the standard service-mode shape on the
// programming slot: leading resets, the operation twice, trailing
// resets, with the confirmation window armed and an ON_CONFIRM reply.
// Decoders are given two consecutive intact copies of the operation
// before they are expected to act, so the duplicate stays.
func (s *Station) serviceSequence(payload []byte, template string) error {
	if s.modes.Mode() != pipeline.ModeProg {
		return s.reject(CodeInvalidState, int(s.modes.Mode()), ErrWrongMode)
	}
	if s.cfg.ProgrammingSlots == 0 {
		return s.reject(CodeNoProgrammingTrack, 0, ErrNoProgrammingTrack)
	}

	base, count := s.ring.ProgrammingSlots()
	slot := s.ring.FindSlot(base, count, 0)
	if slot == nil {
		return s.reject(CodeTransmissionBusy, 0, ErrBusy)
	}

	resets := int(s.tun.ServiceModeResetRepeats)
	repeats := int(s.tun.ServiceModeCommandRepeats)
	specs := []packetSpec{
		{0, resets, dcc.LongPreamble, dcc.ShortPostamble, dcc.Reset()},
		{0, repeats, dcc.LongPreamble, dcc.ConfirmationPostamble, payload},
		{0, repeats, dcc.LongPreamble, dcc.ConfirmationPostamble, payload},
		{0, resets, dcc.LongPreamble, dcc.ShortPostamble, dcc.Reset()},
	}
	idxs, err := s.allocAll(specs)
	if err != nil {
		return s.reject(CodeCommandQueueFull, 0, ErrQueueFull)
	}

	s.attach(slot, 0, idxs, pipeline.ReplyOnConfirm, template, true)
	s.mon.SetConfirmationWindow(true)
	s.stats.Submitted++
	return nil
}

// SubmitCVWrite programs a configuration variable byte.
func (s *Station) SubmitCVWrite(cv, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := dcc.CVWrite(cv, value)
	if err != nil {
		if cv < dcc.MinCV || cv > dcc.MaxCV {
			return s.reject(CodeInvalidCVNumber, cv, err)
		}
		return s.reject(CodeInvalidByteValue, value, err)
	}
	return s.serviceSequence(payload, fmt.Sprintf("cv_write %d %d ok=%s", cv, value, pipeline.ConfirmPlaceholder))
}

// SubmitCVVerify checks a configuration variable byte; the reply
// placeholder reports whether the decoder acknowledged the match.
func (s *Station) SubmitCVVerify(cv, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := dcc.CVVerify(cv, value)
	if err != nil {
		if cv < dcc.MinCV || cv > dcc.MaxCV {
			return s.reject(CodeInvalidCVNumber, cv, err)
		}
		return s.reject(CodeInvalidByteValue, value, err)
	}
	return s.serviceSequence(payload, fmt.Sprintf("cv_verify %d %d ok=%s", cv, value, pipeline.ConfirmPlaceholder))
}

// SubmitCVWriteBit programs a single configuration variable bit.
func (s *Station) SubmitCVWriteBit(cv, bit, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := dcc.CVWriteBit(cv, bit, value)
	if err != nil {
		switch {
		case cv < dcc.MinCV || cv > dcc.MaxCV:
			return s.reject(CodeInvalidCVNumber, cv, err)
		case bit < 0 || bit > 7:
			return s.reject(CodeInvalidBitNumber, bit, err)
		default:
			return s.reject(CodeInvalidBitValue, value, err)
		}
	}
	return s.serviceSequence(payload, fmt.Sprintf("cv_write_bit %d %d %d ok=%s", cv, bit, value, pipeline.ConfirmPlaceholder))
}

// SubmitCVVerifyBit checks a single configuration variable bit.
func (s *Station) SubmitCVVerifyBit(cv, bit, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := dcc.CVVerifyBit(cv, bit, value)
	if err != nil {
		switch {
		case cv < dcc.MinCV || cv > dcc.MaxCV:
			return s.reject(CodeInvalidCVNumber, cv, err)
		case bit < 0 || bit > 7:
			return s.reject(CodeInvalidBitNumber, bit, err)
		default:
			return s.reject(CodeInvalidBitValue, value, err)
		}
	}
	return s.serviceSequence(payload, fmt.Sprintf("cv_verify_bit %d %d %d ok=%s", cv, bit, value, pipeline.ConfirmPlaceholder))
}

// SubmitNamedValue programs a named decoder value from the CV
// database, consolidating it (and its side-effect updates) into the
// fewest service-mode operations: whole-byte changes become byte
// writes, partial masks become per-bit writes.
func (s *Station) SubmitNamedValue(name string, value int) error {
	v := dcc.FindCVValue(name)
	if v == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.reject(CodeUnrecognisedCommand, 0, fmt.Errorf("unknown value name: %s", name))
	}
	changes, err := dcc.ChangesFor(v, value)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.reject(CodeInvalidByteValue, value, err)
	}

	for _, c := range changes {
		if c.Mask == 0xFF {
			if err := s.SubmitCVWrite(c.CV, int(c.Value)); err != nil {
				return err
			}
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if c.Mask&(1<<bit) == 0 {
				continue
			}
			bv := 0
			if c.Value&(1<<bit) != 0 {
				bv = 1
			}
			if err := s.SubmitCVWriteBit(c.CV, bit, bv); err != nil {
				return err
			}
		}
	}
	return nil
}

// DrainErrors empties the error queue into events.
func (s *Station) DrainErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		rec, ok := s.errs.Peek()
		if !ok {
			return
		}
		s.errs.Drop()
		s.emit(Event{Kind: EventError, Error: rec})
	}
}

// Snapshot is the station state the console status command renders.
type Snapshot struct {
	Mode      pipeline.Mode
	Districts []DistrictSnapshot
	Slots     []SlotSnapshot
	FreePool  int
	Stats     Stats
}

// DistrictSnapshot is one district's status line.
type DistrictSnapshot struct {
	Status power.Status
	Load   uint16
}

// SlotSnapshot is one transmission slot's status line.
type SlotSnapshot struct {
	State   pipeline.SlotState
	Target  int
	Pending bool
}

// Status captures the station state for display.
func (s *Station) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Mode:     s.modes.Mode(),
		FreePool: s.pool.FreeCount(),
		Stats:    s.stats.Snapshot(),
	}
	for i := 0; i < s.mon.Districts(); i++ {
		d := s.mon.District(i)
		snap.Districts = append(snap.Districts, DistrictSnapshot{Status: d.Status(), Load: d.Load()})
	}
	for i := 0; i < s.ring.Slots(); i++ {
		slot := s.ring.Slot(i)
		snap.Slots = append(snap.Slots, SlotSnapshot{
			State:   slot.State(),
			Target:  slot.Target(),
			Pending: slot.HasPending(),
		})
	}
	return snap
}

// IdleSlots counts slots available for new work, exposed to the host
// layer for its throttle displays.
func (s *Station) IdleSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := 0; i < s.ring.Slots(); i++ {
		if s.ring.Slot(i).State() == pipeline.SlotEmpty {
			n++
		}
	}
	return n
}

// Run drives the main loop: the packet manager round-robin, sample
// dispatch to the monitor, the periodic report and error draining.
// It returns when the context ends, dropping power on the way out.
func (s *Station) Run(ctx context.Context) {
	go s.smp.Run(ctx)

	periodic := time.NewTicker(s.tun.Periodic())
	defer periodic.Stop()

	idle := time.NewTicker(200 * time.Microsecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			s.SetPower(pipeline.ModeOff)
			return

		case r := <-s.smp.Ready():
			s.mu.Lock()
			if !s.mon.CheckFlipInvariant() {
				s.mu.Unlock()
				panic("station: phase-flip lock invariant broken")
			}
			if s.modes.Mode() != pipeline.ModeOff && r.District < s.mon.Districts() {
				s.mon.Sample(r.District, r.Value, time.Now())
			}
			s.mu.Unlock()

		case <-periodic.C:
			s.mu.Lock()
			district, load := 0, uint16(0)
			for i := 0; i < s.mon.Districts(); i++ {
				if l := s.mon.District(i).Load(); l > load {
					district, load = i, l
				}
			}
			s.emit(Event{Kind: EventLoadReport, District: district, Load: load})
			s.emit(Event{Kind: EventDistricts, Districts: s.districtReport()})
			s.mu.Unlock()
			s.DrainErrors()

		case <-idle.C:
			s.mu.Lock()
			s.mgr.Service()
			s.mu.Unlock()
		}
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/openrail/signalbox/pkg/dcc"
)

// SlotState is the ownership hand-off token for a transmission slot.
// Every transition has exactly one legal writer: EMPTY→LOAD the host,
// LOAD→{RUN,EMPTY} the manager, RUN→LOAD and RELOAD→LOAD the
// generator, anything→RELOAD the host. The state is stored atomically
// so writes to a slot's content published before a state change are
// visible to whoever picks the slot up after it.
type SlotState int32

// Slot states.
const (
	SlotEmpty SlotState = iota
	SlotLoad
	SlotRun
	SlotReload
)

// String names a state for reports and the panel.
func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "EMPTY"
	case SlotLoad:
		return "LOAD"
	case SlotRun:
		return "RUN"
	case SlotReload:
		return "RELOAD"
	}
	return "UNKNOWN"
}

// ReplyMode says when, if ever, a slot owes the host a reply.
type ReplyMode int

// Reply modes. ON_SEND fires when the last pending packet is encoded;
// ON_CONFIRM fires when the slot drains, with the acknowledgment
// outcome substituted into the reply template.
const (
	ReplyNone ReplyMode = iota
	ReplyOnSend
	ReplyOnConfirm
)

// ConfirmPlaceholder is the rune in a reply template replaced by the
// confirmation outcome (1 observed, 0 not observed).
const ConfirmPlaceholder = "#"

// Slot is one transmission slot: the live bit stream the generator
// reads, a FIFO of pending packets awaiting encoding, and the reply
// descriptor. Content fields are guarded by the state hand-off; only
// state, the pending-head and the ring link are touched from both
// execution contexts, and those are atomics.
type Slot struct {
	index  int
	state  atomic.Int32
	target atomic.Int32

	// Owned by the manager while LOAD, read-only to the generator
	// while RUN.
	bits     [dcc.BitBufferSize]byte
	duration int32

	// FIFO of pending packet records. Head is atomic because the
	// generator inspects emptiness when deciding between filler and
	// idle; links live in the pool.
	pendingHead atomic.Int32
	pendingTail int32

	replyMode     ReplyMode
	replyTemplate string

	next atomic.Pointer[Slot]
}

// Index returns the slot's position in the ring array.
func (s *Slot) Index() int {
	return s.index
}

// State returns the current hand-off state.
func (s *Slot) State() SlotState {
	return SlotState(s.state.Load())
}

// SetState publishes a state transition.
func (s *Slot) SetState(v SlotState) {
	s.state.Store(int32(v))
}

// Target returns the decoder the slot is currently serving.
func (s *Slot) Target() int {
	return int(s.target.Load())
}

// SetTarget records the decoder the slot serves.
func (s *Slot) SetTarget(target int) {
	s.target.Store(int32(target))
}

// Bits exposes the slot's bit-stream buffer.
func (s *Slot) Bits() []byte {
	return s.bits[:]
}

// Duration returns the remaining transmission count (0 = forever).
func (s *Slot) Duration() int {
	return int(s.duration)
}

// SetDuration stores the remaining transmission count.
func (s *Slot) SetDuration(d int) {
	s.duration = int32(d)
}

// HasPending reports whether any packet awaits encoding.
func (s *Slot) HasPending() bool {
	return s.pendingHead.Load() != nilRec
}

// PendingHead returns the head of the pending FIFO.
func (s *Slot) PendingHead() int32 {
	return s.pendingHead.Load()
}

// AppendPending links a packet record onto the tail of the FIFO.
func (s *Slot) AppendPending(pool *Pool, idx int32) {
	if s.pendingHead.Load() == nilRec {
		s.pendingTail = idx
		s.pendingHead.Store(idx)
		return
	}
	pool.recs[s.pendingTail].next = idx
	s.pendingTail = idx
}

// PopPending detaches and frees the head record, after its content
// has been consumed.
func (s *Slot) PopPending(pool *Pool) {
	head := s.pendingHead.Load()
	if head == nilRec {
		return
	}
	s.pendingHead.Store(pool.FreeOne(head))
}

// DrainPending frees the whole FIFO, cancelling queued packets.
func (s *Slot) DrainPending(pool *Pool) {
	head := s.pendingHead.Swap(nilRec)
	if head != nilRec {
		pool.FreeAll(head)
	}
}

// SetReply installs the reply descriptor for the work queued on the
// slot.
func (s *Slot) SetReply(mode ReplyMode, template string) {
	s.replyMode = mode
	s.replyTemplate = template
}

// Reply returns the current reply descriptor.
func (s *Slot) Reply() (ReplyMode, string) {
	return s.replyMode, s.replyTemplate
}

// Next returns the ring link.
func (s *Slot) Next() *Slot {
	return s.next.Load()
}

// Ring is the fixed array of transmission slots, partitioned by role:
// accessory transients first, persistent mobile slots next, the
// programming slots last. The next links form the cycle the generator
// walks; relinking happens under the ring mutex with each individual
// link updated atomically, so the generator never reads a torn
// address.
type Ring struct {
	slots       []Slot
	accessory   int
	mobile      int
	programming int

	mu sync.Mutex
}

// NewRing builds a ring with the given role partition, linked for
// operations mode.
func NewRing(accessory, mobile, programming int) *Ring {
	r := &Ring{
		slots:       make([]Slot, accessory+mobile+programming),
		accessory:   accessory,
		mobile:      mobile,
		programming: programming,
	}
	for i := range r.slots {
		r.slots[i].index = i
		r.slots[i].pendingHead.Store(nilRec)
		r.slots[i].next.Store(&r.slots[(i+1)%len(r.slots)])
	}
	r.LinkMain()
	return r
}

// Slots returns the total slot count.
func (r *Ring) Slots() int {
	return len(r.slots)
}

// Slot resolves a slot by index.
func (r *Ring) Slot(i int) *Slot {
	return &r.slots[i]
}

// AccessorySlots and friends expose the partition bounds.
func (r *Ring) AccessorySlots() (base, count int)   { return 0, r.accessory }
func (r *Ring) MobileSlots() (base, count int)      { return r.accessory, r.mobile }
func (r *Ring) ProgrammingSlots() (base, count int) { return r.accessory + r.mobile, r.programming }

// FindSlot returns a slot within a role partition, preferring one
// already serving the requested target so repeat commands coalesce,
// then the first empty slot. Returns nil when the partition is fully
// busy with other targets.
func (r *Ring) FindSlot(base, count, target int) *Slot {
	for i := base; i < base+count; i++ {
		if r.slots[i].State() != SlotEmpty && r.slots[i].Target() == target {
			return &r.slots[i]
		}
	}
	for i := base; i < base+count; i++ {
		if r.slots[i].State() == SlotEmpty {
			return &r.slots[i]
		}
	}
	return nil
}

// LinkMain closes the operations ring over the accessory and mobile
// slots and returns its entry slot.
func (r *Ring) LinkMain() *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.accessory + r.mobile - 1
	r.slots[last].next.Store(&r.slots[0])
	if r.programming > 0 {
		lastProg := len(r.slots) - 1
		r.slots[lastProg].next.Store(&r.slots[r.accessory+r.mobile])
	}
	return &r.slots[0]
}

// LinkProg closes the programming ring over the programming slots and
// returns its entry slot.
func (r *Ring) LinkProg() *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := r.accessory + r.mobile
	last := len(r.slots) - 1
	r.slots[last].next.Store(&r.slots[base])
	return &r.slots[base]
}

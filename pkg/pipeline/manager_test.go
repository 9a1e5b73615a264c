// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package pipeline

import (
	"testing"

	"github.com/openrail/signalbox/pkg/dcc"
)

func newTestManager(t *testing.T) (*Manager, *Ring, *Pool) {
	t.Helper()
	r := NewRing(1, 2, 1)
	p := NewPool(8)
	return NewManager(r, p), r, p
}

// queue allocates a packet and appends it to a slot, moving the slot
// to LOAD the way the host submission path does.
func queue(t *testing.T, p *Pool, s *Slot, target, duration, preamble, postamble int, payload []byte) {
	t.Helper()
	idx, err := p.Alloc(target, duration, preamble, postamble, payload)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	s.AppendPending(p, idx)
	if s.State() == SlotEmpty {
		s.SetTarget(target)
		s.SetState(SlotLoad)
	}
}

// service runs the manager until it has visited every slot once.
func service(m *Manager) {
	for i := 0; i < m.ring.Slots(); i++ {
		m.Service()
	}
}

func TestManager_EncodesIntoRun(t *testing.T) {
	m, r, p := newTestManager(t)
	s := r.Slot(1) // first mobile slot

	queue(t, p, s, 3, 0, dcc.ShortPreamble, dcc.ShortPostamble, []byte{0x03, 0x3F, 0x8B})
	service(m)

	if got := s.State(); got != SlotRun {
		t.Fatalf("expected RUN after encoding, got %v", got)
	}
	if got := s.Target(); got != 3 {
		t.Errorf("target should be copied from the packet, got %d", got)
	}
	if got := s.Duration(); got != 0 {
		t.Errorf("persistent packet should carry duration 0, got %d", got)
	}
	if s.HasPending() {
		t.Error("the encoded packet should have been popped")
	}
	if p.FreeCount() != 8 {
		t.Errorf("popped record should be freed, %d free", p.FreeCount())
	}

	// The bit stream decodes back to the packet that went in.
	bits, err := dcc.DecodeBitstream(s.Bits())
	if err != nil {
		t.Fatalf("DecodeBitstream failed: %v", err)
	}
	payload, err := dcc.SplitBitstream(bits, dcc.ShortPreamble)
	if err != nil {
		t.Fatalf("SplitBitstream failed: %v", err)
	}
	want := []byte{0x03, 0x3F, 0x8B, 0xB7}
	if len(payload) != len(want) {
		t.Fatalf("payload length mismatch: % X", payload)
	}
	for i := range want {
		if payload[i] != want[i] {
			t.Fatalf("payload mismatch at %d: % X", i, payload)
		}
	}
}

func TestManager_OnSendReplyFiresAtLastPacket(t *testing.T) {
	m, r, p := newTestManager(t)
	var replies []string
	m.Reply = func(text string) { replies = append(replies, text) }

	s := r.Slot(1)
	queue(t, p, s, 3, 2, dcc.ShortPreamble, dcc.ShortPostamble, []byte{0x03, 0x3F, 0x8B})
	queue(t, p, s, 3, 2, dcc.ShortPreamble, dcc.ShortPostamble, []byte{0x03, 0x3F, 0x0B})
	s.SetReply(ReplyOnSend, "speed accepted")

	// First encode leaves one packet pending: no reply yet.
	service(m)
	if len(replies) != 0 {
		t.Fatalf("reply fired early: %v", replies)
	}

	// Generator finishes the transmission; the slot comes back LOAD.
	s.SetState(SlotLoad)
	service(m)
	if len(replies) != 1 || replies[0] != "speed accepted" {
		t.Fatalf("expected the reply at the last packet, got %v", replies)
	}
}

func TestManager_OnConfirmSubstitutesOutcome(t *testing.T) {
	tests := []struct {
		name      string
		confirmed bool
		template  string
		want      []string
	}{
		{name: "ack seen", confirmed: true, template: "cv_write done #", want: []string{"cv_write done 1"}},
		{name: "no ack", confirmed: false, template: "cv_write done #", want: []string{"cv_write done 0"}},
		{name: "no placeholder ack", confirmed: true, template: "programmed", want: []string{"programmed"}},
		{name: "no placeholder no ack", confirmed: false, template: "programmed", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, r, p := newTestManager(t)
			var replies []string
			m.Reply = func(text string) { replies = append(replies, text) }
			m.Confirm = func() bool { return tt.confirmed }

			s := r.Slot(3) // programming slot
			queue(t, p, s, 0, 1, dcc.LongPreamble, dcc.ConfirmationPostamble, []byte{0x7C, 0x00, 0x2A})
			s.SetReply(ReplyOnConfirm, tt.template)

			service(m) // encodes, slot to RUN
			s.SetState(SlotLoad)
			service(m) // FIFO empty: confirmation resolution

			if got := s.State(); got != SlotEmpty {
				t.Fatalf("drained slot should be EMPTY, got %v", got)
			}
			if len(replies) != len(tt.want) {
				t.Fatalf("expected replies %v, got %v", tt.want, replies)
			}
			for i := range tt.want {
				if replies[i] != tt.want[i] {
					t.Errorf("reply %d: expected %q, got %q", i, tt.want[i], replies[i])
				}
			}
		})
	}
}

func TestManager_EncodeFailureDropsSlot(t *testing.T) {
	m, r, p := newTestManager(t)
	var failed int
	m.EncodeFailed = func(slot int, err error) { failed++ }

	s := r.Slot(1)
	// A postamble too long for a single cell forces the overflow.
	queue(t, p, s, 3, 0, dcc.ShortPreamble, dcc.MaxRun, []byte{0x03, 0x3F, 0x8B})
	queue(t, p, s, 3, 0, dcc.ShortPreamble, dcc.ShortPostamble, []byte{0x03, 0x3F, 0x0B})

	service(m)
	if got := s.State(); got != SlotEmpty {
		t.Fatalf("slot should drop to EMPTY on overflow, got %v", got)
	}
	if failed != 1 {
		t.Errorf("expected one failure report, got %d", failed)
	}
	if s.HasPending() {
		t.Error("queued packets behind the failure should be freed")
	}
	if p.FreeCount() != 8 {
		t.Errorf("all records should return to the pool, %d free", p.FreeCount())
	}
}

func TestManager_SkipsOtherStates(t *testing.T) {
	m, r, p := newTestManager(t)
	s := r.Slot(1)
	queue(t, p, s, 3, 0, dcc.ShortPreamble, dcc.ShortPostamble, []byte{0x03, 0x3F, 0x8B})
	s.SetState(SlotRun) // pretend in flight

	service(m)
	if !s.HasPending() {
		t.Error("manager must not touch a RUN slot's FIFO")
	}
}

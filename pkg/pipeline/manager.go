// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package pipeline

import (
	"strings"

	"github.com/openrail/signalbox/pkg/dcc"
)

// Manager drains slots in the LOAD state: it encodes the next pending
// packet into the slot's bit stream and hands the slot to the
// generator, or retires the slot once its FIFO is empty. It advances
// one slot per invocation so every slot makes progress and each call
// does a bounded amount of work.
type Manager struct {
	ring *Ring
	pool *Pool

	cursor int

	// Reply delivers a textual reply to the host layer.
	Reply func(text string)

	// Confirm closes the acknowledgment window and reports whether
	// a decoder acknowledgment was observed, for ON_CONFIRM slots.
	Confirm func() bool

	// EncodeFailed reports a bit-translation overflow; the offending
	// slot has already been dropped to EMPTY.
	EncodeFailed func(slot int, err error)

	// Encoded reports each packet successfully translated into a
	// slot's bit stream.
	Encoded func(slot int)
}

// NewManager builds a manager over a ring and its pool.
func NewManager(ring *Ring, pool *Pool) *Manager {
	return &Manager{ring: ring, pool: pool}
}

// Service visits the next slot. Called once per main-loop iteration.
func (m *Manager) Service() {
	slot := m.ring.Slot(m.cursor)
	m.cursor = (m.cursor + 1) % m.ring.Slots()

	if slot.State() != SlotLoad {
		return
	}

	head := slot.PendingHead()
	if head == nilRec {
		m.retire(slot)
		return
	}

	pkt := m.pool.Get(head)
	_, err := dcc.EncodeBitstream(slot.Bits(), pkt.Bytes(), pkt.Preamble, pkt.Postamble)
	if err != nil {
		// The packet cannot be translated; drop the whole slot
		// rather than transmit a malformed stream.
		slot.DrainPending(m.pool)
		slot.SetReply(ReplyNone, "")
		slot.SetState(SlotEmpty)
		if m.EncodeFailed != nil {
			m.EncodeFailed(slot.Index(), err)
		}
		return
	}

	slot.SetTarget(pkt.Target)
	slot.SetDuration(pkt.Duration)
	slot.PopPending(m.pool)
	if m.Encoded != nil {
		m.Encoded(slot.Index())
	}

	if !slot.HasPending() {
		if mode, template := slot.Reply(); mode == ReplyOnSend {
			m.emit(template)
			slot.SetReply(ReplyNone, "")
		}
	}
	slot.SetState(SlotRun)
}

// retire completes a slot whose FIFO has drained, firing any
// confirmation reply.
func (m *Manager) retire(slot *Slot) {
	if mode, template := slot.Reply(); mode == ReplyOnConfirm {
		confirmed := false
		if m.Confirm != nil {
			confirmed = m.Confirm()
		}
		if strings.Contains(template, ConfirmPlaceholder) {
			outcome := "0"
			if confirmed {
				outcome = "1"
			}
			m.emit(strings.ReplaceAll(template, ConfirmPlaceholder, outcome))
		} else if confirmed {
			m.emit(template)
		}
	}
	slot.SetReply(ReplyNone, "")
	slot.SetState(SlotEmpty)
}

func (m *Manager) emit(text string) {
	if m.Reply != nil && text != "" {
		m.Reply(text)
	}
}

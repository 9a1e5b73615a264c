// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

// Package pipeline carries DCC packets from submission to the signal
// generator: a fixed pool of pending packet records, a ring of
// transmission slots handed back and forth between the cooperative
// manager and the generator tick path, an LRU cache of mobile decoder
// function states, and the global power-mode controller that shapes
// which part of the ring the generator visits.
package pipeline

import (
	"errors"

	"github.com/openrail/signalbox/pkg/dcc"
)

// ErrPoolExhausted is returned when no pending packet records are
// free.
var ErrPoolExhausted = errors.New("pending packet pool exhausted")

// nilRec marks the end of a packet list.
const nilRec = int32(-1)

// Packet is one pending DCC frame awaiting translation into a slot's
// bit stream. Records live in the pool's arena and link into per-slot
// FIFOs by index.
type Packet struct {
	Target    int // positive mobile, negative accessory, zero broadcast/programming
	Preamble  int
	Postamble int
	Duration  int // transmissions remaining, 0 meaning forever

	bytes [dcc.MaxPayloadSize + 1]byte // payload plus parity
	size  int
	next  int32
}

// Bytes returns the parity-complete payload.
func (p *Packet) Bytes() []byte {
	return p.bytes[:p.size]
}

// Pool is a fixed-capacity free list of packet records. It is owned
// by the main loop; the generator never touches it.
type Pool struct {
	recs []Packet
	free int32
}

// NewPool builds a pool of the given capacity.
func NewPool(capacity int) *Pool {
	p := &Pool{recs: make([]Packet, capacity), free: 0}
	for i := range p.recs {
		p.recs[i].next = int32(i + 1)
	}
	p.recs[capacity-1].next = nilRec
	return p
}

// Alloc takes a free record and fills it in, appending the parity
// byte to the payload. Returns ErrPoolExhausted when every record is
// pending on a slot.
func (p *Pool) Alloc(target, duration, preamble, postamble int, payload []byte) (int32, error) {
	if len(payload) < dcc.MinPayloadSize || len(payload) > dcc.MaxPayloadSize {
		return nilRec, errors.New("payload size out of range")
	}
	idx := p.free
	if idx == nilRec {
		return nilRec, ErrPoolExhausted
	}
	r := &p.recs[idx]
	p.free = r.next

	r.Target = target
	r.Duration = duration
	r.Preamble = preamble
	r.Postamble = postamble
	copy(r.bytes[:], payload)
	r.bytes[len(payload)] = dcc.Parity(payload)
	r.size = len(payload) + 1
	r.next = nilRec
	return idx, nil
}

// Get resolves a record index.
func (p *Pool) Get(idx int32) *Packet {
	return &p.recs[idx]
}

// Next returns the link after a record.
func (p *Pool) Next(idx int32) int32 {
	return p.recs[idx].next
}

// FreeOne detaches the head of a list, returns it to the pool and
// hands back the new head.
func (p *Pool) FreeOne(head int32) int32 {
	r := &p.recs[head]
	next := r.next
	r.next = p.free
	p.free = head
	return next
}

// FreeAll drains a whole list back into the pool.
func (p *Pool) FreeAll(head int32) {
	for head != nilRec {
		head = p.FreeOne(head)
	}
}

// FreeCount reports how many records are on the free list.
func (p *Pool) FreeCount() int {
	n := 0
	for idx := p.free; idx != nilRec; idx = p.recs[idx].next {
		n++
	}
	return n
}

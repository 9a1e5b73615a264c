// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package dcc

import (
	"errors"
	"fmt"
)

// ErrRunOverflow is returned when a run of identical bits exceeds the
// capacity of a single run-length cell.
var ErrRunOverflow = errors.New("bit run exceeds cell capacity")

// ErrBufferFull is returned when the destination buffer cannot hold the
// encoded stream and its terminator.
var ErrBufferFull = errors.New("bit stream buffer full")

// encoder accumulates alternating runs of 1s and 0s into run-length
// cells. The first cell is always a 1 run (the preamble) and a zero
// cell terminates the stream, so a cell value of zero never appears in
// the body.
type encoder struct {
	dst  []byte
	used int
	run  int
	ones bool
}

// flush writes the accumulated run into the next cell, leaving room
// for the terminator.
func (e *encoder) flush() error {
	if e.run > MaxRun {
		return ErrRunOverflow
	}
	if e.used >= len(e.dst)-1 {
		return ErrBufferFull
	}
	e.dst[e.used] = byte(e.run)
	e.used++
	return nil
}

// emit folds one bit into the current run, flushing when the bit value
// changes.
func (e *encoder) emit(one bool) error {
	if one == e.ones {
		e.run++
		return nil
	}
	if err := e.flush(); err != nil {
		return err
	}
	e.ones = one
	e.run = 1
	return nil
}

// EncodeBitstream translates a parity-complete payload into the
// zero-terminated run-length form the signal generator consumes: the
// preamble 1 run, each byte MSB first behind a 0 start bit, a single 1
// end bit and the postamble. Returns the number of cells written
// including the terminator.
func EncodeBitstream(dst []byte, payload []byte, preamble, postamble int) (int, error) {
	if len(payload) < MinPayloadSize || len(payload) > MaxPayloadSize+1 {
		return 0, fmt.Errorf("payload size out of range: %d", len(payload))
	}
	if preamble < 1 || preamble > MaxRun {
		return 0, fmt.Errorf("preamble out of range: %d", preamble)
	}
	if postamble < 1 {
		return 0, fmt.Errorf("postamble out of range: %d", postamble)
	}
	e := encoder{dst: dst, run: preamble, ones: true}
	for _, b := range payload {
		if err := e.emit(false); err != nil {
			return 0, err
		}
		for bit := 7; bit >= 0; bit-- {
			if err := e.emit(b&(1<<bit) != 0); err != nil {
				return 0, err
			}
		}
	}
	// End bit and postamble coalesce into one final 1 run.
	if err := e.emit(true); err != nil {
		return 0, err
	}
	e.run += postamble
	if err := e.flush(); err != nil {
		return 0, err
	}
	dst[e.used] = 0
	return e.used + 1, nil
}

// DecodeBitstream expands a run-length stream back into individual
// bits, 1 first. It is the verification inverse of EncodeBitstream,
// used by the tests.
func DecodeBitstream(cells []byte) ([]byte, error) {
	bits := make([]byte, 0, len(cells)*8)
	ones := true
	for _, c := range cells {
		if c == 0 {
			return bits, nil
		}
		var v byte
		if ones {
			v = 1
		}
		for n := 0; n < int(c); n++ {
			bits = append(bits, v)
		}
		ones = !ones
	}
	return nil, errors.New("bit stream missing terminator")
}

// SplitBitstream recovers the payload bytes from a decoded bit
// sequence, checking the framing as it goes. Used to verify that an
// encoded stream round-trips to the submitted packet.
func SplitBitstream(bits []byte, preamble int) ([]byte, error) {
	if len(bits) < preamble {
		return nil, errors.New("bit stream shorter than preamble")
	}
	for i := 0; i < preamble; i++ {
		if bits[i] != 1 {
			return nil, fmt.Errorf("preamble bit %d is not 1", i)
		}
	}
	var payload []byte
	at := preamble
	for at < len(bits) && bits[at] == 0 {
		if at+9 > len(bits) {
			return nil, errors.New("truncated byte in bit stream")
		}
		var b byte
		for n := 1; n <= 8; n++ {
			b = b<<1 | bits[at+n]
		}
		payload = append(payload, b)
		at += 9
	}
	for ; at < len(bits); at++ {
		if bits[at] != 1 {
			return nil, fmt.Errorf("postamble bit at %d is not 1", at)
		}
	}
	if len(payload) == 0 {
		return nil, errors.New("no payload bytes in bit stream")
	}
	return payload, nil
}

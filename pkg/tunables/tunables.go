// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

// Package tunables manages the station's tunable constants: the
// thresholds and periods an operator may adjust without rebuilding
// the firmware. The set is persisted as one checksummed blob in
// non-volatile storage; a corrupt blob silently resets to defaults so
// the station always boots with a usable configuration.
package tunables

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Tunables is the complete tunable set. Values are loaded once at
// boot and treated as immutable by the running core; changing one
// rewrites the whole blob.
type Tunables struct {
	// Current thresholds, in raw converter units (0-1023).
	InstantCurrentLimit uint16 `cbor:"1,keyasint"`
	AverageCurrentLimit uint16 `cbor:"2,keyasint"`

	// Minimum positive delta between the short and long current
	// averages recognised as a decoder acknowledgment.
	MinimumDeltaAmps uint16 `cbor:"3,keyasint"`

	// Periods, in milliseconds.
	PowerGracePeriod    uint16 `cbor:"4,keyasint"`
	PeriodicInterval    uint16 `cbor:"5,keyasint"`
	PanelUpdateInterval uint16 `cbor:"6,keyasint"`
	LineRefreshInterval uint16 `cbor:"7,keyasint"`
	DriverResetPeriod   uint16 `cbor:"8,keyasint"`
	DriverPhasePeriod   uint16 `cbor:"9,keyasint"`

	// Packet repeat counts.
	TransientCommandRepeats   uint8 `cbor:"10,keyasint"`
	ServiceModeResetRepeats   uint8 `cbor:"11,keyasint"`
	ServiceModeCommandRepeats uint8 `cbor:"12,keyasint"`
}

// Defaults returns the factory settings.
func Defaults() Tunables {
	return Tunables{
		InstantCurrentLimit:       850,
		AverageCurrentLimit:       750,
		MinimumDeltaAmps:          18,
		PowerGracePeriod:          1000,
		PeriodicInterval:          1000,
		PanelUpdateInterval:       1000,
		LineRefreshInterval:       200,
		DriverResetPeriod:         10000,
		DriverPhasePeriod:         100,
		TransientCommandRepeats:   8,
		ServiceModeResetRepeats:   20,
		ServiceModeCommandRepeats: 10,
	}
}

// Duration helpers for the period fields.

func (t Tunables) GracePeriod() time.Duration {
	return time.Duration(t.PowerGracePeriod) * time.Millisecond
}

func (t Tunables) Periodic() time.Duration {
	return time.Duration(t.PeriodicInterval) * time.Millisecond
}

func (t Tunables) PanelUpdate() time.Duration {
	return time.Duration(t.PanelUpdateInterval) * time.Millisecond
}

func (t Tunables) LineRefresh() time.Duration {
	return time.Duration(t.LineRefreshInterval) * time.Millisecond
}

func (t Tunables) ResetPeriod() time.Duration {
	return time.Duration(t.DriverResetPeriod) * time.Millisecond
}

func (t Tunables) PhasePeriod() time.Duration {
	return time.Duration(t.DriverPhasePeriod) * time.Millisecond
}

// Store is where the blob lives: EEPROM on the original hardware, a
// file here.
type Store interface {
	ReadBlob() ([]byte, error)
	WriteBlob(data []byte) error
}

// ErrBadChecksum reports a blob that failed validation.
var ErrBadChecksum = errors.New("tunables blob checksum mismatch")

// checksum is the 16-bit rotate-and-XOR over the body: each byte is
// folded into the accumulator after a rotate-left by three, seeded
// all-ones.
func checksum(data []byte) uint16 {
	s := uint16(0xFFFF)
	for _, b := range data {
		s = (s << 3) | (s >> 13)
		s ^= uint16(b)
	}
	return s
}

// Encode serializes the set with its checksum trailer.
func Encode(t Tunables) ([]byte, error) {
	body, err := cbor.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tunables: %w", err)
	}
	sum := checksum(body)
	return append(body, byte(sum>>8), byte(sum)), nil
}

// Decode validates the trailer and unpacks the set.
func Decode(data []byte) (Tunables, error) {
	if len(data) < 3 {
		return Tunables{}, ErrBadChecksum
	}
	body := data[:len(data)-2]
	stored := uint16(data[len(data)-2])<<8 | uint16(data[len(data)-1])
	if checksum(body) != stored {
		return Tunables{}, ErrBadChecksum
	}
	var t Tunables
	if err := cbor.Unmarshal(body, &t); err != nil {
		return Tunables{}, fmt.Errorf("failed to decode tunables: %w", err)
	}
	return t, nil
}

// Load reads the blob from the store, falling back to defaults (and
// rewriting them) when the store is empty or the blob fails
// validation. Boot always succeeds with a usable set.
func Load(store Store) (Tunables, error) {
	data, err := store.ReadBlob()
	if err == nil {
		if t, derr := Decode(data); derr == nil {
			return t, nil
		}
	}
	t := Defaults()
	if err := Save(store, t); err != nil {
		return t, err
	}
	return t, nil
}

// Save writes the set back to the store.
func Save(store Store, t Tunables) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	return store.WriteBlob(data)
}

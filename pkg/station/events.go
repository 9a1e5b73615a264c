// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package station

import "github.com/openrail/signalbox/pkg/pipeline"

// EventKind discriminates the asynchronous notifications the station
// pushes to the host layer.
type EventKind int

// Event kinds.
const (
	// EventPower reports a power mode change.
	EventPower EventKind = iota
	// EventLoadReport is the periodic highest-load report.
	EventLoadReport
	// EventDistricts carries one report value per district.
	EventDistricts
	// EventError carries a drained error record.
	EventError
)

// Event is one asynchronous notification. The field tags fix the
// wire names used when events travel the broadcast link.
type Event struct {
	Kind EventKind `cbor:"kind"`

	// EventPower
	Mode pipeline.Mode `cbor:"mode"`

	// EventLoadReport: the busiest district and its load.
	District int    `cbor:"district"`
	Load     uint16 `cbor:"load"`

	// EventDistricts: report values per district
	// (disabled=0, enabled=1, flipped=2, blocked=3, off=4).
	Districts []int `cbor:"districts,omitempty"`

	// EventError
	Error ErrorRecord `cbor:"error"`
}

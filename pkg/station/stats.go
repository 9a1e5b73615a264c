// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package station

import (
	"fmt"
	"time"
)

// Stats tracks pipeline traffic and error rates since the station
// started. Counters are only touched under the station lock; Snapshot
// hands out a copy for the station status report.
type Stats struct {
	StartTime time.Time

	Submitted     uint64 // commands accepted
	Rejected      uint64 // commands refused at submission
	Encoded       uint64 // packets translated to bit streams
	EncodeErrors  uint64 // bit-translation overflows
	Replies       uint64 // replies delivered to the host layer
	Spikes        uint64
	Overloads     uint64
	Confirmations uint64 // decoder acknowledgments observed
}

// NewStats starts the clock.
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() Stats {
	return *s
}

// SubmitRate returns accepted commands per second since start.
func (s *Stats) SubmitRate() float64 {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Submitted) / elapsed
}

// Summary formats a one-line digest for the console status output.
func (s *Stats) Summary() string {
	return fmt.Sprintf("submitted=%d rejected=%d encoded=%d encode_errors=%d spikes=%d overloads=%d acks=%d",
		s.Submitted, s.Rejected, s.Encoded, s.EncodeErrors, s.Spikes, s.Overloads, s.Confirmations)
}

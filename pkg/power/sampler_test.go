// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package power

import (
	"context"
	"errors"
	"testing"
)

// scriptedReader returns a fixed value per district and can be told
// to fail a given district.
type scriptedReader struct {
	values  []uint16
	failing int
}

func (r *scriptedReader) ReadCurrent(ctx context.Context, district int) (uint16, error) {
	if district == r.failing {
		return 0, errors.New("conversion failed")
	}
	return r.values[district], nil
}

func TestSampler_RoundRobin(t *testing.T) {
	reader := &scriptedReader{values: []uint16{10, 20, 30}, failing: -1}
	s := NewSampler(reader, 3)

	ctx := context.Background()
	for round := 0; round < 2; round++ {
		for want := 0; want < 3; want++ {
			r, err := s.Step(ctx)
			if err != nil {
				t.Fatalf("Step failed: %v", err)
			}
			if r.District != want {
				t.Errorf("round %d: expected district %d, got %d", round, want, r.District)
			}
			if r.Value != reader.values[want] {
				t.Errorf("district %d: expected %d, got %d", want, reader.values[want], r.Value)
			}
		}
	}
}

func TestSampler_ErrorKeepsWalking(t *testing.T) {
	reader := &scriptedReader{values: []uint16{10, 20}, failing: 0}
	s := NewSampler(reader, 2)

	ctx := context.Background()
	if _, err := s.Step(ctx); err == nil {
		t.Fatal("expected conversion error")
	}
	r, err := s.Step(ctx)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if r.District != 1 {
		t.Errorf("mux should have advanced past the failed input, got %d", r.District)
	}
}

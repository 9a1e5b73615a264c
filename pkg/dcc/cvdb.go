// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package dcc

import "fmt"

// The CV database maps the commonly defined decoder configuration
// values onto the CVs (and bit fields within CVs) that store them, so
// the host shell can accept named updates and consolidate them into
// the smallest set of service-mode writes.

// CVElement describes where part of a value lives: a run of bits
// inside a single CV.
type CVElement struct {
	CV   int // which CV
	Bits int // how many bits
	LSB  int // least significant bit position
}

// CVUpdate is a side effect that must accompany an update for it to
// become effective (switching to a long address also requires the
// CV 29 addressing flag, for example).
type CVUpdate struct {
	Element CVElement
	Value   int
}

// CVValue is one named decoder value, possibly spread across several
// CV elements (listed LSB first) or an array of per-index elements.
type CVValue struct {
	Name      string
	ReadWrite bool
	Combined  bool // single value across elements, not an array
	Start     int  // valid range, inclusive
	End       int
	Data      []CVElement
	Update    []CVUpdate
}

// The standard configuration variables every decoder carries.
var cvDatabase = []CVValue{
	{Name: "address", ReadWrite: true, Combined: true, Start: 1, End: 127,
		Data:   []CVElement{{CV: 1, Bits: 7, LSB: 0}},
		Update: []CVUpdate{{Element: CVElement{CV: 29, Bits: 1, LSB: 5}, Value: 0}}},
	{Name: "long_address", ReadWrite: true, Combined: true, Start: 1, End: MaxLongAddress,
		Data: []CVElement{{CV: 18, Bits: 8, LSB: 0}, {CV: 17, Bits: 6, LSB: 0}},
		Update: []CVUpdate{
			{Element: CVElement{CV: 17, Bits: 2, LSB: 6}, Value: 3},
			{Element: CVElement{CV: 29, Bits: 1, LSB: 5}, Value: 1}}},
	{Name: "start_voltage", ReadWrite: true, Combined: true, Start: 0, End: 255,
		Data: []CVElement{{CV: 2, Bits: 8, LSB: 0}}},
	{Name: "acceleration", ReadWrite: true, Combined: true, Start: 0, End: 255,
		Data: []CVElement{{CV: 3, Bits: 8, LSB: 0}}},
	{Name: "deceleration", ReadWrite: true, Combined: true, Start: 0, End: 255,
		Data: []CVElement{{CV: 4, Bits: 8, LSB: 0}}},
	{Name: "high_voltage", ReadWrite: true, Combined: true, Start: 0, End: 255,
		Data: []CVElement{{CV: 5, Bits: 8, LSB: 0}}},
	{Name: "mid_voltage", ReadWrite: true, Combined: true, Start: 0, End: 255,
		Data: []CVElement{{CV: 6, Bits: 8, LSB: 0}}},
	{Name: "version", ReadWrite: false, Combined: true, Start: 0, End: 255,
		Data: []CVElement{{CV: 7, Bits: 8, LSB: 0}}},
	{Name: "manufacturer", ReadWrite: false, Combined: true, Start: 0, End: 255,
		Data: []CVElement{{CV: 8, Bits: 8, LSB: 0}}},
	{Name: "consist", ReadWrite: true, Combined: true, Start: 0, End: 127,
		Data: []CVElement{{CV: 19, Bits: 7, LSB: 0}}},
	{Name: "consist_reversed", ReadWrite: true, Combined: true, Start: 0, End: 1,
		Data: []CVElement{{CV: 19, Bits: 1, LSB: 7}}},
	{Name: "direction_reversed", ReadWrite: true, Combined: true, Start: 0, End: 1,
		Data: []CVElement{{CV: 29, Bits: 1, LSB: 0}}},
	{Name: "speed_steps_28", ReadWrite: true, Combined: true, Start: 0, End: 1,
		Data: []CVElement{{CV: 29, Bits: 1, LSB: 1}}},
	{Name: "analogue_enabled", ReadWrite: true, Combined: true, Start: 0, End: 1,
		Data: []CVElement{{CV: 29, Bits: 1, LSB: 2}}},
	{Name: "railcom_enabled", ReadWrite: true, Combined: true, Start: 0, End: 1,
		Data: []CVElement{{CV: 29, Bits: 1, LSB: 3}}},
	{Name: "speed_table_enabled", ReadWrite: true, Combined: true, Start: 0, End: 1,
		Data: []CVElement{{CV: 29, Bits: 1, LSB: 4}}},
	{Name: "speed_table", ReadWrite: true, Combined: false, Start: 0, End: 255,
		Data: speedTableElements()},
}

func speedTableElements() []CVElement {
	e := make([]CVElement, 28)
	for i := range e {
		e[i] = CVElement{CV: 67 + i, Bits: 8, LSB: 0}
	}
	return e
}

// FindCVValue returns the database record for a named value, or nil
// if the name is not known.
func FindCVValue(name string) *CVValue {
	for i := range cvDatabase {
		if cvDatabase[i].Name == name {
			return &cvDatabase[i]
		}
	}
	return nil
}

// CVNames returns the names of every value in the database, in table
// order.
func CVNames() []string {
	names := make([]string, len(cvDatabase))
	for i := range cvDatabase {
		names[i] = cvDatabase[i].Name
	}
	return names
}

// CVChange accumulates pending bit-level updates to a single CV so
// that several logical changes touching the same CV consolidate into
// one write.
type CVChange struct {
	CV    int
	Mask  byte
	Value byte
}

// AddCVChange folds the bits of one CV update into a change list,
// merging with an existing entry for the same CV when possible.
// The list grows as needed, so the returned flag is always true.
func AddCVChange(list []CVChange, cv int, mask, value byte) ([]CVChange, bool) {
	for i := range list {
		if list[i].CV == cv {
			list[i].Mask |= mask
			list[i].Value = (list[i].Value &^ mask) | (value & mask)
			return list, true
		}
	}
	return append(list, CVChange{CV: cv, Mask: mask, Value: value & mask}), true
}

// ChangesFor expands a named value assignment into the consolidated CV
// change list, including any side-effect updates the record demands.
func ChangesFor(v *CVValue, value int) ([]CVChange, error) {
	if !v.ReadWrite {
		return nil, fmt.Errorf("%s is read only", v.Name)
	}
	if !v.Combined {
		return nil, fmt.Errorf("%s is an array value, assign by index", v.Name)
	}
	if value < v.Start || value > v.End {
		return nil, fmt.Errorf("%s out of range: %d (valid %d..%d)", v.Name, value, v.Start, v.End)
	}
	var list []CVChange
	rest := value
	for _, e := range v.Data {
		mask := byte((1<<e.Bits - 1) << e.LSB)
		list, _ = AddCVChange(list, e.CV, mask, byte(rest<<e.LSB))
		rest >>= e.Bits
	}
	for _, u := range v.Update {
		mask := byte((1<<u.Element.Bits - 1) << u.Element.LSB)
		list, _ = AddCVChange(list, u.Element.CV, mask, byte(u.Value<<u.Element.LSB))
	}
	return list, nil
}

// ElementChange expands an array-value assignment at a given index.
func ElementChange(v *CVValue, index, value int) ([]CVChange, error) {
	if !v.ReadWrite {
		return nil, fmt.Errorf("%s is read only", v.Name)
	}
	if v.Combined {
		return nil, fmt.Errorf("%s is not an array value", v.Name)
	}
	if index < 0 || index >= len(v.Data) {
		return nil, fmt.Errorf("%s index out of range: %d", v.Name, index)
	}
	if value < v.Start || value > v.End {
		return nil, fmt.Errorf("%s out of range: %d (valid %d..%d)", v.Name, value, v.Start, v.End)
	}
	e := v.Data[index]
	mask := byte((1<<e.Bits - 1) << e.LSB)
	list, _ := AddCVChange(nil, e.CV, mask, byte(value<<e.LSB))
	return list, nil
}

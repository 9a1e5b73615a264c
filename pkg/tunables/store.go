// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Openrail Contributors

package tunables

import "os"

// FileStore keeps the blob in a single file, the workstation stand-in
// for the original EEPROM block.
type FileStore struct {
	Path string
}

// ReadBlob reads the whole file.
func (f FileStore) ReadBlob() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// WriteBlob replaces the whole file.
func (f FileStore) WriteBlob(data []byte) error {
	return os.WriteFile(f.Path, data, 0o644)
}

// MemoryStore holds the blob in memory, for the tests and for running
// without persistence.
type MemoryStore struct {
	data []byte
}

// ReadBlob returns the stored blob, or an error when nothing has been
// written yet.
func (m *MemoryStore) ReadBlob() ([]byte, error) {
	if m.data == nil {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), m.data...), nil
}

// WriteBlob replaces the stored blob.
func (m *MemoryStore) WriteBlob(data []byte) error {
	m.data = append([]byte(nil), data...)
	return nil
}

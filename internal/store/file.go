// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// FileStorage implements persistence using file operations.
// The file holds the encoded table as is: 64 slots of 16 bytes, 1024 bytes
// in total.
type FileStorage struct {
	path  string
	file  *os.File
	table *Table
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load reads the table from the file, creating it if necessary.
func (fs *FileStorage) Load() (*Table, error) {
	// Open file, creating if necessary
	f, err := os.OpenFile(fs.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	// Ensure file size
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	fs.file = f
	fs.table = mapBytesToTable(data)
	return fs.table, nil
}

// Save writes the whole table and syncs it to disk.
func (fs *FileStorage) Save(t *Table) error {
	if fs.file == nil {
		return nil
	}
	return fs.writeAt(t.snapshot(), 0)
}

// OnWrite writes the modified slot through to disk.
func (fs *FileStorage) OnWrite(slot int) {
	if fs.file == nil || validateSlot(slot) != nil {
		return
	}
	if err := fs.writeAt(fs.table.slotBytes(slot), int64(slot*SlotSize)); err != nil {
		slog.Error("Failed to sync file", "slot", slot, "err", err)
	}
}

func (fs *FileStorage) writeAt(b []byte, off int64) error {
	if _, err := fs.file.WriteAt(b, off); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// Close the file.
func (fs *FileStorage) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}

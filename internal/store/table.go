// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const (
	// Slots is the number of readings a Table holds.
	Slots = 64
	// SlotSize is the encoded size of one Entry.
	SlotSize = 16

	totalSize = Slots * SlotSize

	offsetTime   = 0
	offsetValue  = 8
	offsetStatus = 12
)

// Entry is the latest reading of one point.
type Entry struct {
	Time   time.Time
	Value  int32
	Status uint8
}

// IsZero reports whether the slot was never written.
func (e Entry) IsZero() bool {
	return e.Time.IsZero() && e.Value == 0 && e.Status == 0
}

// Table holds the latest reading per slot. Each slot is 16 bytes:
//
//	[0:8]   int64 unix nanoseconds, little-endian
//	[8:12]  int32 value, little-endian
//	[12]    status
//	[13:16] reserved
//
// The encoding is fixed so a file or mmap backed table reads the same on
// every host.
type Table struct {
	mu   sync.RWMutex
	data []byte
}

// NewTable creates an empty table in memory.
func NewTable() *Table {
	return &Table{data: make([]byte, totalSize)}
}

// mapBytesToTable constructs a Table backed by data, which must be at least
// totalSize bytes. Writes to the table go straight to data.
func mapBytesToTable(data []byte) *Table {
	return &Table{data: data[:totalSize]}
}

func validateSlot(slot int) error {
	if slot < 0 || slot >= Slots {
		return fmt.Errorf("store: slot %d out of range [0,%d)", slot, Slots)
	}
	return nil
}

// Set records e in slot.
func (t *Table) Set(slot int, e Entry) error {
	if err := validateSlot(slot); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.data[slot*SlotSize : (slot+1)*SlotSize]
	var nanos int64
	if !e.Time.IsZero() {
		nanos = e.Time.UnixNano()
	}
	binary.LittleEndian.PutUint64(b[offsetTime:], uint64(nanos))
	binary.LittleEndian.PutUint32(b[offsetValue:], uint32(e.Value))
	b[offsetStatus] = e.Status
	clear(b[offsetStatus+1:])
	return nil
}

// Get returns the entry in slot.
func (t *Table) Get(slot int) (Entry, error) {
	if err := validateSlot(slot); err != nil {
		return Entry{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return decodeEntry(t.data[slot*SlotSize : (slot+1)*SlotSize]), nil
}

func decodeEntry(b []byte) Entry {
	var e Entry
	if nanos := int64(binary.LittleEndian.Uint64(b[offsetTime:])); nanos != 0 {
		e.Time = time.Unix(0, nanos)
	}
	e.Value = int32(binary.LittleEndian.Uint32(b[offsetValue:]))
	e.Status = b[offsetStatus]
	return e
}

// slotBytes returns a copy of the encoded slot.
func (t *Table) slotBytes(slot int) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]byte(nil), t.data[slot*SlotSize:(slot+1)*SlotSize]...)
}

// snapshot returns a copy of the whole encoded table.
func (t *Table) snapshot() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]byte(nil), t.data...)
}

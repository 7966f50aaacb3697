// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package store keeps the latest reading of every sampled point.
package store

import (
	"fmt"

	"github.com/ffutop/rs485-master/internal/config"
)

// Storage defines the interface for persisting the reading table.
type Storage interface {
	// Load loads the table from storage.
	// If no data exists, it returns an empty table.
	Load() (*Table, error)

	// Save writes the whole table to storage.
	Save(t *Table) error

	// OnWrite is a hook called whenever a slot is modified.
	// It allows the storage to perform real-time persistence (e.g. sync to disk or DB).
	OnWrite(slot int)

	Close() error
}

// SQLDriver is the database/sql driver used by the "sql" store type.
// The driver must be imported by the main package.
const SQLDriver = "sqlite3"

// New returns the Storage selected by cfg. Nothing is opened until Load.
func New(cfg config.StoreConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		return NewMmapStorage(cfg.Path), nil
	case "sql":
		return NewSQLStorage(SQLDriver, cfg.Path), nil
	default:
		return nil, fmt.Errorf("store: unknown type %q", cfg.Type)
	}
}

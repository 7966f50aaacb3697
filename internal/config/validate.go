// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
)

const (
	// MinBaudRate is the slowest line speed the transceiver is driven at.
	MinBaudRate = 4800
	// MinRxBufferSize is the smallest accepted receive buffer, exclusive.
	MinRxBufferSize = 128
	// StoreSlots is the number of slots in the reading store.
	StoreSlots = 64
)

var (
	ErrBaudRate     = errors.New("config: baud rate below 4800")
	ErrRxBufferSize = errors.New("config: rx buffer must exceed 128 bytes")
)

// Validate checks the transceiver settings. It does not modify c.
func (c TransceiverConfig) Validate() error {
	if c.BaudRate < MinBaudRate {
		return fmt.Errorf("%w: %d", ErrBaudRate, c.BaudRate)
	}
	if c.RxBufferSize <= MinRxBufferSize {
		return fmt.Errorf("%w: %d", ErrRxBufferSize, c.RxBufferSize)
	}
	return nil
}

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if err := cfg.Transceiver.Validate(); err != nil {
		return fmt.Errorf("transceiver: %w", err)
	}

	if cfg.Sampler.Interval <= 0 {
		return fmt.Errorf("sampler: interval must be > 0")
	}

	names := make(map[string]bool)
	slots := make(map[int]string)
	for _, p := range cfg.Sampler.Points {
		if names[p.Name] {
			return fmt.Errorf("sampler: duplicate point name %q", p.Name)
		}
		names[p.Name] = true

		if p.Function != 3 && p.Function != 4 {
			return fmt.Errorf("point %q: function %d is not a register read", p.Name, p.Function)
		}
		if p.Scale == 0 {
			return fmt.Errorf("point %q: scale must not be zero", p.Name)
		}
		if p.Slot < 0 || p.Slot >= StoreSlots {
			return fmt.Errorf("point %q: slot %d out of range [0,%d)", p.Name, p.Slot, StoreSlots)
		}
		if prev, ok := slots[p.Slot]; ok {
			return fmt.Errorf("slot collision: slot=%d used by points %q and %q", p.Slot, prev, p.Name)
		}
		slots[p.Slot] = p.Name
	}

	switch cfg.Store.Type {
	case "memory":
	case "file", "mmap", "sql":
		if cfg.Store.Path == "" {
			return fmt.Errorf("store: type %q requires a path", cfg.Store.Type)
		}
	default:
		return fmt.Errorf("store: unknown type %q", cfg.Store.Type)
	}

	return nil
}

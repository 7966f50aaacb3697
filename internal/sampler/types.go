// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sampler

import (
	"errors"
	"fmt"
	"time"

	"github.com/ffutop/rs485-master/modbus"
)

// Point is one register sampled every cycle.
type Point struct {
	Name     string
	UnitID   uint8
	Function uint8
	Address  uint16
	Scale    float64
	Slot     int
}

// Status is the outcome of one read, as stored alongside the value.
type Status uint8

const (
	StatusOK Status = iota
	StatusNoResponse
	StatusChecksum
	StatusUndecodable
	StatusUnsupported
	StatusFailed
)

var statusNames = [...]string{"ok", "no-response", "checksum", "undecodable", "unsupported", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// statusOf maps a read error to the status recorded for it.
func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, modbus.ErrNoResponse):
		return StatusNoResponse
	case errors.Is(err, modbus.ErrChecksum):
		return StatusChecksum
	case errors.Is(err, modbus.ErrUndecodableFunction):
		return StatusUndecodable
	case errors.Is(err, modbus.ErrUnsupportedFunction):
		return StatusUnsupported
	default:
		return StatusFailed
	}
}

// Reading is the result of reading one point. Value is only meaningful when
// Status is StatusOK.
type Reading struct {
	Point  Point
	At     time.Time
	Raw    int32
	Value  float64
	Status Status
	Err    error
}

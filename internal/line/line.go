// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package line switches a half-duplex RS-485 transceiver between transmit
// and receive by driving its Driver Enable (DE) and Receiver Enable (RE) pins.
package line

import (
	"log/slog"
	"sync"
)

// Output drives a digital output pin.
type Output interface {
	Set(pin int, high bool) error
}

// Controller owns the DE/RE pin pair of one transceiver.
// RE is active low: driving it high disables the receiver.
type Controller struct {
	out   Output
	pinDE int
	pinRE int

	mu sync.Mutex
}

// NewController creates a Controller. It does not touch the pins.
func NewController(out Output, pinDE, pinRE int) *Controller {
	return &Controller{
		out:   out,
		pinDE: pinDE,
		pinRE: pinRE,
	}
}

// SetTransmit puts the transceiver in transmit mode (DE high, RE high) or in
// receive mode (DE low, RE low).
func (c *Controller) SetTransmit(enabled bool) {
	c.drive(enabled, enabled)
}

// Release disables both driver and receiver (DE low, RE high).
func (c *Controller) Release() {
	c.drive(false, true)
}

func (c *Controller) drive(de, re bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.out.Set(c.pinDE, de); err != nil {
		slog.Error("Failed to drive DE pin", "pin", c.pinDE, "level", de, "err", err)
	}
	if err := c.out.Set(c.pinRE, re); err != nil {
		slog.Error("Failed to drive RE pin", "pin", c.pinRE, "level", re, "err", err)
	}
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/rs485-master/modbus"
)

const (
	pollAttempts  = 10
	pollInterval  = 10 * time.Millisecond
	pollThreshold = 5

	responseMaxSize = 16
	readTimeout     = 2 * time.Millisecond
	drainTimeout    = 100 * time.Millisecond
)

// Transport sequences frame I/O over a Port.
type Transport struct {
	port  Port
	clock Clock
}

// NewTransport allocates a Transport. A nil clock means SystemClock.
func NewTransport(port Port, clock Clock) *Transport {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Transport{port: port, clock: clock}
}

// Flush discards any unread input.
func (t *Transport) Flush() error {
	return t.port.Flush()
}

// Write discards stale input, sends frame and waits for it to leave the
// wire. A drain that outlasts its bound is logged, not reported.
func (t *Transport) Write(frame []byte) error {
	if err := t.port.Flush(); err != nil {
		return fmt.Errorf("flush before write: %w", err)
	}

	slog.Debug("send to modbus slave", "request", hex.EncodeToString(frame))
	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	if err := t.port.Drain(drainTimeout); err != nil {
		slog.Debug("transmission not confirmed complete", "timeout", drainTimeout, "err", err)
	}
	return nil
}

// Available returns the number of buffered, unread bytes.
func (t *Transport) Available() int {
	return t.port.Buffered()
}

// ReadResponse polls the receive buffer until more than pollThreshold bytes
// are waiting, then reads up to responseMaxSize of them. It gives up with
// modbus.ErrNoResponse once the poll budget is spent or the port fails.
func (t *Transport) ReadResponse() ([]byte, error) {
	for i := 0; i < pollAttempts; i++ {
		t.clock.Sleep(pollInterval)

		if t.Available() <= pollThreshold {
			continue
		}

		buf := make([]byte, responseMaxSize)
		n, err := t.port.ReadBytes(buf, readTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: read failed: %w", modbus.ErrNoResponse, err)
		}
		slog.Debug("recv from modbus slave", "response", hex.EncodeToString(buf[:n]))
		return buf[:n], nil
	}
	return nil, modbus.ErrNoResponse
}

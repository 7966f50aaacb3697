// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"time"

	"github.com/grid-x/serial"
)

// PortConfig describes how a Port is opened. Framing is always 8N1 for the
// master; the fields are kept so adapters can pass them through unchanged.
type PortConfig struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int

	// Pin identifiers of the UART TX/RX signals. Adapters for hosts where
	// pin muxing is fixed by the OS only report them.
	PinTX int
	PinRX int

	// RxBufferSize bounds the number of unread bytes kept by the adapter.
	RxBufferSize int

	RS485 serial.RS485Config
}

// Port is the byte-level serial channel the Transport drives.
type Port interface {
	Configure(cfg PortConfig) error
	SetBaudRate(baud int) error
	Write(p []byte) (int, error)
	// Drain blocks until every written byte has left the wire or timeout elapses.
	Drain(timeout time.Duration) error
	// ReadBytes fills p from the receive buffer, waiting at most timeout for
	// len(p) bytes, and returns what it got.
	ReadBytes(p []byte, timeout time.Duration) (int, error)
	// Buffered returns the number of received, unread bytes without blocking.
	Buffered() int
	// Flush discards all received, unread bytes.
	Flush() error
	Close() error
}

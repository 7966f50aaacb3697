// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the protocol constants and error values shared by the
// RTU codec, the serial transport and the master.
package modbus

import "errors"

// Function codes handled by the master.
const (
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteMultipleRegisters = 0x10
)

var (
	// ErrNoResponse is returned when the slave did not answer within the poll budget.
	ErrNoResponse = errors.New("modbus: no response")
	// ErrChecksum is returned when a response fails CRC validation.
	ErrChecksum = errors.New("modbus: checksum mismatch")
	// ErrUnsupportedFunction is returned for a read with a function code other than 3 or 4.
	ErrUnsupportedFunction = errors.New("modbus: unsupported function")
	// ErrUndecodableFunction is returned for a checksum-valid response whose
	// function byte is not one the master knows how to decode.
	ErrUndecodableFunction = errors.New("modbus: undecodable function")
)

// IsReadFunction reports whether code selects one of the supported register reads.
func IsReadFunction(code byte) bool {
	return code == FuncCodeReadHoldingRegisters || code == FuncCodeReadInputRegisters
}

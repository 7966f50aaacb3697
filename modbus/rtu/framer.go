// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/rs485-master/modbus"
	"github.com/ffutop/rs485-master/modbus/crc"
)

// FunctionError reports a checksum-valid response carrying a function code
// the decoder does not handle.
type FunctionError struct {
	Code byte
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("modbus: response function 0x%02X not handled", e.Code)
}

func (e *FunctionError) Unwrap() error {
	return modbus.ErrUndecodableFunction
}

// BuildReadRequest encodes a single register read:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte (3 or 4)
//	Address         : 2 bytes
//	Quantity        : 2 bytes (always 1)
//	CRC             : 2 bytes
func BuildReadRequest(slaveID, functionCode byte, address uint16) ([]byte, error) {
	if !modbus.IsReadFunction(functionCode) {
		return nil, fmt.Errorf("%w: 0x%02X", modbus.ErrUnsupportedFunction, functionCode)
	}
	raw := make([]byte, ReadRequestSize)
	raw[0] = slaveID
	raw[1] = functionCode
	binary.BigEndian.PutUint16(raw[2:], address)
	binary.BigEndian.PutUint16(raw[4:], Quantity)
	appendCRC(raw)
	return raw, nil
}

// BuildWriteRequest encodes a write of one register with function 16:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte (16)
//	Address         : 2 bytes
//	Quantity        : 2 bytes (always 1)
//	Byte Count      : 1 byte (always 2)
//	Value           : 2 bytes
//	CRC             : 2 bytes
func BuildWriteRequest(slaveID byte, address, value uint16) []byte {
	raw := make([]byte, WriteRequestSize)
	raw[0] = slaveID
	raw[1] = modbus.FuncCodeWriteMultipleRegisters
	binary.BigEndian.PutUint16(raw[2:], address)
	binary.BigEndian.PutUint16(raw[4:], Quantity)
	raw[6] = 2 * Quantity
	binary.BigEndian.PutUint16(raw[7:], value)
	appendCRC(raw)
	return raw
}

// appendCRC fills the last two bytes of raw, low byte first.
func appendCRC(raw []byte) {
	length := len(raw)
	checksum := crc.Checksum(raw[:length-2])
	raw[length-2] = byte(checksum)
	raw[length-1] = byte(checksum >> 8)
}

// DecodeResponse validates the trailing CRC of raw and extracts the register
// value. Reads fold the data bytes big-endian into an int32; a write echo
// yields WriteAcknowledged.
func DecodeResponse(raw []byte) (int32, error) {
	length := len(raw)
	if length < MinSize {
		return 0, fmt.Errorf("%w: response length %d below minimum %d", modbus.ErrChecksum, length, MinSize)
	}

	want := crc.Checksum(raw[:length-2])
	got := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if got != want {
		return 0, fmt.Errorf("%w: response crc %#04x does not match expected %#04x", modbus.ErrChecksum, got, want)
	}

	switch raw[1] {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		if length < MinSize+1 {
			return 0, fmt.Errorf("%w: read response without byte count", modbus.ErrChecksum)
		}
		count := int(raw[2])
		if 3+count > length-2 {
			return 0, fmt.Errorf("%w: byte count %d overruns %d byte frame", modbus.ErrChecksum, count, length)
		}
		var value int32
		for _, b := range raw[3 : 3+count] {
			value = value<<8 | int32(b)
		}
		return value, nil
	case modbus.FuncCodeWriteMultipleRegisters:
		return WriteAcknowledged, nil
	default:
		return 0, &FunctionError{Code: raw[1]}
	}
}

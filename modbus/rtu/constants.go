// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize covers slave id, function and CRC.
	MinSize = 4

	ReadRequestSize  = 8
	WriteRequestSize = 11
)

// Quantity is the register count carried by every request. Reading or
// writing more than one register would need it as a parameter and a
// variable frame length.
const Quantity = 1

// WriteAcknowledged is the value decoded from a write echo response.
const WriteAcknowledged int32 = 1

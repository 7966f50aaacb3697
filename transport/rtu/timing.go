// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "time"

// BitsPerChar is start + 8 data + stop for 8N1 framing.
const BitsPerChar = 10

// Clock separates the two kinds of waiting the master does.
type Clock interface {
	// Sleep waits cooperatively, letting other goroutines run.
	Sleep(d time.Duration)
	// BusyWait spins until d has elapsed. Used for sub-millisecond guard
	// times where scheduler wake-up latency would distort the timing.
	BusyWait(d time.Duration)
}

// SystemClock is the Clock backed by the runtime.
type SystemClock struct{}

func (SystemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (SystemClock) BusyWait(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// BusTime returns the time needed to transmit chars characters at baud,
// rounded up to the next microsecond.
func BusTime(baud, chars int) time.Duration {
	if baud <= 0 {
		return 0
	}
	bits := int64(chars) * BitsPerChar * 1000000
	us := (bits + int64(baud) - 1) / int64(baud)
	return time.Duration(us) * time.Microsecond
}

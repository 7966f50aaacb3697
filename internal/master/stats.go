// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import "sync"

type counter int

const (
	counterTransactions counter = iota
	counterSuccess
	counterChecksum
	counterNoResponse
	counterUndecodable

	counterNum = iota
)

type counters struct {
	mu sync.Mutex
	ca [counterNum]uint64
}

func (c *counters) inc(cnt counter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ca[cnt]++
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Transactions:   c.ca[counterTransactions],
		Succeeded:      c.ca[counterSuccess],
		ChecksumErrors: c.ca[counterChecksum],
		NoResponse:     c.ca[counterNoResponse],
		Undecodable:    c.ca[counterUndecodable],
	}
}

// Stats counts transactions since the Master was created. ChecksumErrors
// counts every bad reply, including ones a later attempt recovered from.
type Stats struct {
	Transactions   uint64
	Succeeded      uint64
	ChecksumErrors uint64
	NoResponse     uint64
	Undecodable    uint64
}

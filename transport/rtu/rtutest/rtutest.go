// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtutest provides an in-memory serial port and a virtual clock for
// exercising the RTU transport without hardware.
package rtutest

import (
	"sync"
	"time"

	"github.com/ffutop/rs485-master/transport/rtu"
)

// Port is a scripted rtu.Port. Each Write makes the next entry of Replies
// appear in the receive buffer, as if the slave had answered. A nil entry
// (or running out of entries) means the slave stays silent.
type Port struct {
	mu sync.Mutex

	Replies [][]byte
	// Stale is placed in the receive buffer before the first write.
	Stale []byte

	Config     rtu.PortConfig
	Configured int
	Baud       []int
	Writes     [][]byte
	Flushes    int
	Drains     int
	Closed     bool

	// OnWrite, if set, is called with each written frame.
	OnWrite func(frame []byte)

	rx     []byte
	staged bool
}

var _ rtu.Port = (*Port)(nil)

func (p *Port) Configure(cfg rtu.PortConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Config = cfg
	p.Configured++
	return nil
}

func (p *Port) SetBaudRate(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Baud = append(p.Baud, baud)
	p.Config.BaudRate = baud
	return nil
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	frame := append([]byte{}, b...)
	p.Writes = append(p.Writes, frame)
	if len(p.Replies) > 0 {
		p.rx = append(p.rx, p.Replies[0]...)
		p.Replies = p.Replies[1:]
	}
	hook := p.OnWrite
	p.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return len(b), nil
}

func (p *Port) Drain(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Drains++
	return nil
}

func (p *Port) ReadBytes(b []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage()
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	return n, nil
}

func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage()
	return len(p.rx)
}

func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staged = true
	p.Flushes++
	p.rx = nil
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

func (p *Port) stage() {
	if !p.staged {
		p.rx = append(p.rx, p.Stale...)
		p.staged = true
	}
}

// WriteCount returns the number of frames written so far.
func (p *Port) WriteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Writes)
}

// Clock records waits instead of performing them.
type Clock struct {
	mu        sync.Mutex
	Sleeps    []time.Duration
	BusyWaits []time.Duration
}

var _ rtu.Clock = (*Clock)(nil)

func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sleeps = append(c.Sleeps, d)
}

func (c *Clock) BusyWait(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BusyWaits = append(c.BusyWaits, d)
}

// Elapsed is the virtual time spent in Sleep and BusyWait.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.Sleeps {
		total += d
	}
	for _, d := range c.BusyWaits {
		total += d
	}
	return total
}

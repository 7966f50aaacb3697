// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package line

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "rs485-master"

// Chip implements Output over a Linux GPIO character device.
// Lines are requested as outputs on first use and held until Close.
type Chip struct {
	name string

	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewChip returns a Chip for the named device, e.g. "gpiochip0".
func NewChip(name string) *Chip {
	return &Chip{
		name:  name,
		lines: make(map[int]*gpiocdev.Line),
	}
}

func (c *Chip) Set(pin int, high bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := 0
	if high {
		value = 1
	}

	l, ok := c.lines[pin]
	if !ok {
		var err error
		l, err = gpiocdev.RequestLine(c.name, pin, gpiocdev.AsOutput(value), gpiocdev.WithConsumer(consumer))
		if err != nil {
			return fmt.Errorf("could not request %s line %d: %w", c.name, pin, err)
		}
		c.lines[pin] = l
		return nil
	}
	return l.SetValue(value)
}

// Close releases all requested lines.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for pin, l := range c.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", pin, err))
		}
		delete(c.lines, pin)
	}
	return errors.Join(errs...)
}

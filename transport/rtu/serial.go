// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

const (
	// Read timeout of the OS port. Bounds how long the pump takes to notice Close.
	serialTimeout = 50 * time.Millisecond

	defaultRxBufferSize = 256
)

var (
	ErrPortClosed   = errors.New("serial: port not open")
	ErrDrainTimeout = errors.New("serial: transmission still in progress")
)

// SerialPort implements Port on top of github.com/grid-x/serial. A pump
// goroutine moves received bytes into a bounded buffer so the buffered count
// can be queried without blocking.
type SerialPort struct {
	// Serial port configuration.
	serial.Config

	PinTX int
	PinRX int

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
	rx   *rxBuffer
	stop chan struct{}
	wg   sync.WaitGroup

	// bytes written since the last Drain and when the first of them was written
	pending   int
	txStarted time.Time

	open func(*serial.Config) (io.ReadWriteCloser, error)
}

// NewSerialPort allocates an unopened SerialPort.
func NewSerialPort() *SerialPort {
	return &SerialPort{
		open: func(c *serial.Config) (io.ReadWriteCloser, error) {
			return serial.Open(c)
		},
	}
}

func (sp *SerialPort) Configure(cfg PortConfig) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.Config = serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  serialTimeout,
		RS485:    cfg.RS485,
	}
	sp.PinTX = cfg.PinTX
	sp.PinRX = cfg.PinRX

	size := cfg.RxBufferSize
	if size <= 0 {
		size = defaultRxBufferSize
	}
	sp.close()
	sp.rx = newRxBuffer(size)
	return sp.connect()
}

// SetBaudRate reopens the port at baud. Unread input is discarded.
func (sp *SerialPort) SetBaudRate(baud int) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.rx == nil {
		return ErrPortClosed
	}
	sp.Config.BaudRate = baud
	sp.close()
	sp.rx.reset()
	return sp.connect()
}

// connect opens the serial port and starts the pump. Caller must hold the mutex.
func (sp *SerialPort) connect() error {
	port, err := sp.open(&sp.Config)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", sp.Config.Address, err)
	}
	sp.port = port
	sp.stop = make(chan struct{})
	sp.pending = 0

	slog.Info("serial port opened", "device", sp.Config.Address, "baudRate", sp.Config.BaudRate,
		"pinTx", sp.PinTX, "pinRx", sp.PinRX, "rxBuffer", sp.rx.capacity())

	sp.wg.Add(1)
	go sp.pump(port, sp.rx, sp.stop, sp.Config.Address)
	return nil
}

func (sp *SerialPort) pump(port io.Reader, rx *rxBuffer, stop <-chan struct{}, device string) {
	defer sp.wg.Done()

	buf := make([]byte, 64)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			if dropped := rx.push(buf[:n]); dropped > 0 {
				slog.Warn("serial rx buffer overflow, oldest bytes dropped", "device", device, "dropped", dropped)
			}
		}
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			// grid-x reports read timeouts as errors; nothing arrived.
			if n == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

func (sp *SerialPort) Write(p []byte) (int, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.port == nil {
		return 0, ErrPortClosed
	}
	if sp.pending == 0 {
		sp.txStarted = time.Now()
	}
	n, err := sp.port.Write(p)
	sp.pending += n
	return n, err
}

// Drain waits out the character time of everything written since the last
// Drain. The OS driver does not expose its transmit queue, so this is an
// estimate from the baud rate.
func (sp *SerialPort) Drain(timeout time.Duration) error {
	sp.mu.Lock()
	done := sp.txStarted.Add(BusTime(sp.Config.BaudRate, sp.pending))
	sp.pending = 0
	sp.mu.Unlock()

	wait := time.Until(done)
	if wait <= 0 {
		return nil
	}
	if wait > timeout {
		time.Sleep(timeout)
		return ErrDrainTimeout
	}
	time.Sleep(wait)
	return nil
}

func (sp *SerialPort) ReadBytes(p []byte, timeout time.Duration) (int, error) {
	sp.mu.Lock()
	rx := sp.rx
	open := sp.port != nil
	sp.mu.Unlock()

	if !open || rx == nil {
		return 0, ErrPortClosed
	}
	return rx.read(p, timeout), nil
}

func (sp *SerialPort) Buffered() int {
	sp.mu.Lock()
	rx := sp.rx
	sp.mu.Unlock()

	if rx == nil {
		return 0
	}
	return rx.len()
}

func (sp *SerialPort) Flush() error {
	sp.mu.Lock()
	rx := sp.rx
	sp.mu.Unlock()

	if rx != nil {
		rx.reset()
	}
	return nil
}

func (sp *SerialPort) Close() (err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	return sp.close()
}

// close closes the serial port and waits for the pump. Caller must hold the mutex.
func (sp *SerialPort) close() (err error) {
	if sp.port != nil {
		close(sp.stop)
		err = sp.port.Close()
		sp.port = nil
		sp.wg.Wait()
	}
	return
}

// rxBuffer is a bounded FIFO of received bytes.
type rxBuffer struct {
	mu     sync.Mutex
	data   []byte
	size   int
	notify chan struct{}
}

func newRxBuffer(size int) *rxBuffer {
	return &rxBuffer{
		data:   make([]byte, 0, size),
		size:   size,
		notify: make(chan struct{}, 1),
	}
}

func (b *rxBuffer) capacity() int {
	return b.size
}

// push appends p and returns how many old bytes were dropped to make room.
func (b *rxBuffer) push(p []byte) (dropped int) {
	b.mu.Lock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.size; over > 0 {
		b.data = append(b.data[:0], b.data[over:]...)
		dropped = over
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return
}

func (b *rxBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *rxBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// read waits until len(p) bytes are buffered or timeout elapses, then takes
// as many as are available.
func (b *rxBuffer) read(p []byte, timeout time.Duration) int {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for b.len() < len(p) {
		select {
		case <-b.notify:
		case <-timer.C:
			return b.take(p)
		}
	}
	return b.take(p)
}

func (b *rxBuffer) take(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(p, b.data)
	b.data = append(b.data[:0], b.data[n:]...)
	return n
}

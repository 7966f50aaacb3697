// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master runs Modbus RTU transactions against a single slave over a
// half-duplex RS-485 line.
package master

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/rs485-master/internal/config"
	"github.com/ffutop/rs485-master/internal/line"
	"github.com/ffutop/rs485-master/modbus"
	rtupacket "github.com/ffutop/rs485-master/modbus/rtu"
	"github.com/ffutop/rs485-master/transport/rtu"
)

const (
	// MaxAttempts bounds how often a frame is sent when the reply fails CRC.
	MaxAttempts = 3

	// guardChars is the line silence kept around each transmission, in characters.
	guardChars = 4
)

// state is the position of one transaction in its exchange cycle.
type state int

const (
	stateIdle state = iota
	stateTransmitting
	stateLineSwitchDelay
	stateAwaitingResponse
	stateValidating
	stateDecoded
	stateRetry
	stateExhausted
)

var stateNames = [...]string{"idle", "transmitting", "line-switch-delay", "awaiting-response", "validating", "decoded", "retry", "exhausted"}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Master is a Modbus RTU master bound to one serial port and one transceiver.
// Transactions are serialised; at most one is on the wire at a time.
type Master struct {
	cfg       config.TransceiverConfig
	port      rtu.Port
	transport *rtu.Transport
	line      *line.Controller
	clock     rtu.Clock
	guard     time.Duration

	releaseAfter bool

	mu    sync.Mutex
	stats counters
}

// Option customises a Master.
type Option func(*Master)

// WithClock replaces the clock used for guard times and response polling.
func WithClock(clock rtu.Clock) Option {
	return func(m *Master) {
		m.clock = clock
	}
}

// WithReleaseAfterTransaction makes every transaction end with the driver
// and receiver disabled instead of leaving the line in transmit mode.
func WithReleaseAfterTransaction(release bool) Option {
	return func(m *Master) {
		m.releaseAfter = release
	}
}

// New validates cfg, opens port with it and puts the transceiver in its idle
// state. The returned Master owns port and out.
func New(cfg config.TransceiverConfig, port rtu.Port, out line.Output, opts ...Option) (*Master, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Master{
		cfg:          cfg,
		port:         port,
		line:         line.NewController(out, cfg.PinDE, cfg.PinRE),
		clock:        rtu.SystemClock{},
		releaseAfter: cfg.ReleaseAfterTransaction,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.transport = rtu.NewTransport(port, m.clock)
	m.guard = GuardTime(cfg.BaudRate)

	m.line.Release()

	err := port.Configure(rtu.PortConfig{
		Device:       cfg.Device,
		BaudRate:     cfg.BaudRate,
		DataBits:     8,
		Parity:       "N",
		StopBits:     1,
		PinTX:        cfg.PinTX,
		PinRX:        cfg.PinRX,
		RxBufferSize: cfg.RxBufferSize,
		RS485:        cfg.RS485.SerialConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure serial port: %w", err)
	}
	if err := m.transport.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush serial port: %w", err)
	}

	slog.Info("modbus master ready", "device", cfg.Device, "baudRate", cfg.BaudRate, "guard", m.guard, "pinDE", cfg.PinDE, "pinRE", cfg.PinRE)
	return m, nil
}

// GuardTime is the silence kept before and after a transmission: four
// character times at baud, rounded up to the microsecond.
func GuardTime(baud int) time.Duration {
	return rtu.BusTime(baud, guardChars)
}

// SetBaudRate changes the line speed. The guard time follows.
func (m *Master) SetBaudRate(baud int) error {
	if baud < config.MinBaudRate {
		return fmt.Errorf("%w: %d", config.ErrBaudRate, baud)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.port.SetBaudRate(baud); err != nil {
		return fmt.Errorf("failed to set baud rate: %w", err)
	}
	m.cfg.BaudRate = baud
	m.guard = GuardTime(baud)
	slog.Info("modbus baud rate changed", "baudRate", baud, "guard", m.guard)
	return nil
}

// Flush discards any unread input.
func (m *Master) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transport.Flush()
}

// Request reads one register with function 3 (holding) or 4 (input).
// Other function codes fail with modbus.ErrUnsupportedFunction before
// anything is sent.
func (m *Master) Request(slaveID, functionCode byte, address uint16) (int32, error) {
	frame, err := rtupacket.BuildReadRequest(slaveID, functionCode, address)
	if err != nil {
		slog.Error("Rejected read request", "slaveID", slaveID, "func", functionCode, "err", err)
		return 0, err
	}
	return m.exchange(frame)
}

// Set writes value to one register using function 16. A nil error means the
// slave acknowledged the write.
func (m *Master) Set(slaveID byte, address, value uint16) error {
	v, err := m.exchange(rtupacket.BuildWriteRequest(slaveID, address, value))
	if err != nil {
		return err
	}
	if v != rtupacket.WriteAcknowledged {
		// A read response to a write request; treat it as the wrong function.
		return fmt.Errorf("%w: write answered with a register value", modbus.ErrUndecodableFunction)
	}
	return nil
}

// exchange sends frame and waits for the decoded reply, resending while the
// reply fails CRC.
func (m *Master) exchange(frame []byte) (value int32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.inc(counterTransactions)

	st := stateIdle
	attempt := 0
	var resp []byte

	for {
		switch st {
		case stateIdle, stateRetry:
			if attempt == MaxAttempts {
				st = stateExhausted
				continue
			}
			attempt++
			st = stateTransmitting

		case stateTransmitting:
			m.line.SetTransmit(true)
			m.clock.BusyWait(m.guard)
			if werr := m.transport.Write(frame); werr != nil {
				// Nothing reached the slave; the poll below ends in no response.
				slog.Error("Failed to send request", "err", werr)
			}
			st = stateLineSwitchDelay

		case stateLineSwitchDelay:
			m.clock.BusyWait(m.guard)
			m.line.SetTransmit(false)
			st = stateAwaitingResponse

		case stateAwaitingResponse:
			resp, err = m.transport.ReadResponse()
			if err != nil {
				m.stats.inc(counterNoResponse)
				slog.Warn("No response from modbus slave", "slaveID", frame[0], "func", frame[1], "attempt", attempt)
				m.finish()
				return 0, err
			}
			st = stateValidating

		case stateValidating:
			value, err = rtupacket.DecodeResponse(resp)
			switch {
			case err == nil:
				st = stateDecoded
			case errors.Is(err, modbus.ErrChecksum):
				m.stats.inc(counterChecksum)
				slog.Warn("Wrong CRC in response", "slaveID", frame[0], "func", frame[1], "attempt", attempt, "err", err)
				st = stateRetry
			default:
				m.stats.inc(counterUndecodable)
				slog.Error("Undecodable response", "slaveID", frame[0], "func", frame[1], "err", err)
				m.finish()
				return 0, err
			}

		case stateDecoded:
			m.stats.inc(counterSuccess)
			m.finish()
			return value, nil

		case stateExhausted:
			// The line stays in receive mode here.
			if m.releaseAfter {
				m.line.Release()
			}
			return 0, fmt.Errorf("modbus: giving up after %d attempts: %w", attempt, err)
		}
	}
}

// finish sets the line state a transaction ends with: transmit mode unless
// the line is released after every transaction.
func (m *Master) finish() {
	if m.releaseAfter {
		m.line.Release()
		return
	}
	m.line.SetTransmit(true)
}

// Stats returns a snapshot of the transaction counters.
func (m *Master) Stats() Stats {
	return m.stats.snapshot()
}

// Close releases the line and closes the serial port.
func (m *Master) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.line.Release()
	return m.port.Close()
}

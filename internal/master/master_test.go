// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"bytes"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ffutop/rs485-master/internal/config"
	"github.com/ffutop/rs485-master/modbus"
	"github.com/ffutop/rs485-master/modbus/crc"
	"github.com/ffutop/rs485-master/transport/rtu/rtutest"
)

const (
	pinDE = 2
	pinRE = 3
)

type write struct {
	pin  int
	high bool
}

type recorder struct {
	mu     sync.Mutex
	writes []write
}

func (r *recorder) Set(pin int, high bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, write{pin, high})
	return nil
}

// last returns the final n pin writes.
func (r *recorder) last(n int) []write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]write{}, r.writes[len(r.writes)-n:]...)
}

var (
	transmit = []write{{pinDE, true}, {pinRE, true}}
	receive  = []write{{pinDE, false}, {pinRE, false}}
	release  = []write{{pinDE, false}, {pinRE, true}}
)

// frame appends the CRC, low byte first.
func frame(body ...byte) []byte {
	sum := crc.Checksum(body)
	return append(body, byte(sum), byte(sum>>8))
}

func corrupt(b []byte) []byte {
	c := append([]byte{}, b...)
	c[len(c)-1] ^= 0xFF
	return c
}

var (
	value100  = frame(0x01, 0x03, 0x02, 0x00, 0x64)
	writeEcho = frame(0x01, 0x10, 0x00, 0x0A, 0x00, 0x01)
)

func testConfig() config.TransceiverConfig {
	return config.TransceiverConfig{
		Device:       "/dev/ttyMock",
		BaudRate:     9600,
		RxBufferSize: 256,
		PinDE:        pinDE,
		PinRE:        pinRE,
		PinTX:        17,
		PinRX:        16,
	}
}

func newTestMaster(t *testing.T, replies [][]byte, opts ...Option) (*Master, *rtutest.Port, *rtutest.Clock, *recorder) {
	t.Helper()
	port := &rtutest.Port{Replies: replies}
	clock := &rtutest.Clock{}
	out := &recorder{}
	m, err := New(testConfig(), port, out, append([]Option{WithClock(clock)}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m, port, clock, out
}

func TestNew(t *testing.T) {
	port := &rtutest.Port{Stale: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}}
	out := &recorder{}
	m, err := New(testConfig(), port, out, WithClock(&rtutest.Clock{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if port.Configured != 1 {
		t.Errorf("Configured = %d, want 1", port.Configured)
	}
	c := port.Config
	if c.Device != "/dev/ttyMock" || c.BaudRate != 9600 || c.DataBits != 8 || c.Parity != "N" || c.StopBits != 1 {
		t.Errorf("port config = %+v, want 8N1 at 9600", c)
	}
	if c.RxBufferSize != 256 || c.PinTX != 17 || c.PinRX != 16 {
		t.Errorf("port config = %+v", c)
	}
	if port.Flushes != 1 || port.Buffered() != 0 {
		t.Errorf("stale input not flushed: Flushes = %d, Buffered = %d", port.Flushes, port.Buffered())
	}
	if !reflect.DeepEqual(out.writes, release) {
		t.Errorf("line after init = %v, want released %v", out.writes, release)
	}
	if m.guard != 4167*time.Microsecond {
		t.Errorf("guard = %v, want 4.167ms", m.guard)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.TransceiverConfig)
		wantErr error
	}{
		{"SlowBaud", func(c *config.TransceiverConfig) { c.BaudRate = 2400 }, config.ErrBaudRate},
		{"SmallBuffer", func(c *config.TransceiverConfig) { c.RxBufferSize = 128 }, config.ErrRxBufferSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			port := &rtutest.Port{}
			out := &recorder{}
			_, err := New(cfg, port, out)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if port.Configured != 0 || len(out.writes) != 0 {
				t.Errorf("invalid config touched hardware: configured=%d pins=%v", port.Configured, out.writes)
			}
		})
	}
}

func TestGuardTime(t *testing.T) {
	tests := []struct {
		baud int
		want time.Duration
	}{
		{4800, 8334 * time.Microsecond},
		{9600, 4167 * time.Microsecond},
		{19200, 2084 * time.Microsecond},
		{115200, 348 * time.Microsecond},
	}
	for _, tt := range tests {
		if got := GuardTime(tt.baud); got != tt.want {
			t.Errorf("GuardTime(%d) = %v, want %v", tt.baud, got, tt.want)
		}
	}
}

func TestRequest(t *testing.T) {
	m, port, clock, out := newTestMaster(t, [][]byte{value100})

	v, err := m.Request(1, modbus.FuncCodeReadHoldingRegisters, 10)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if v != 100 {
		t.Errorf("value = %d, want 100", v)
	}

	want := []byte{0x01, 0x03, 0x00, 0x0A, 0x00, 0x01, 0xA4, 0x08}
	if len(port.Writes) != 1 || !bytes.Equal(port.Writes[0], want) {
		t.Errorf("Writes = %X, want [%X]", port.Writes, want)
	}

	guard := 4167 * time.Microsecond
	if diff := cmp.Diff([]time.Duration{guard, guard}, clock.BusyWaits); diff != "" {
		t.Errorf("BusyWaits mismatch (-want +got):\n%s", diff)
	}

	// init release, transmit, receive, transmit re-asserted
	var wantLine []write
	for _, w := range [][]write{release, transmit, receive, transmit} {
		wantLine = append(wantLine, w...)
	}
	if diff := cmp.Diff(wantLine, out.writes, cmp.AllowUnexported(write{})); diff != "" {
		t.Errorf("line sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRequest_InputRegister(t *testing.T) {
	m, _, _, _ := newTestMaster(t, [][]byte{frame(0x07, 0x04, 0x02, 0xFF, 0xFE)})

	v, err := m.Request(7, modbus.FuncCodeReadInputRegisters, 0)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if v != 0xFFFE {
		t.Errorf("value = %d, want %d", v, 0xFFFE)
	}
}

func TestRequest_UnsupportedFunction(t *testing.T) {
	for _, fc := range []byte{0x01, 0x05, 0x06, 0x10} {
		m, port, clock, out := newTestMaster(t, [][]byte{value100})
		pins := len(out.writes)

		_, err := m.Request(1, fc, 10)
		if !errors.Is(err, modbus.ErrUnsupportedFunction) {
			t.Errorf("fc %d: err = %v, want ErrUnsupportedFunction", fc, err)
		}
		if len(port.Writes) != 0 || len(out.writes) != pins || len(clock.BusyWaits) != 0 {
			t.Errorf("fc %d: request touched the bus", fc)
		}
	}
}

func TestRequest_NoResponse(t *testing.T) {
	m, port, clock, out := newTestMaster(t, nil)

	_, err := m.Request(1, modbus.FuncCodeReadHoldingRegisters, 10)
	if !errors.Is(err, modbus.ErrNoResponse) {
		t.Fatalf("err = %v, want ErrNoResponse", err)
	}
	if len(port.Writes) != 1 {
		t.Errorf("Writes = %d, want 1 (no retry)", len(port.Writes))
	}
	if len(clock.Sleeps) != 10 {
		t.Errorf("polls = %d, want 10", len(clock.Sleeps))
	}
	if got := out.last(2); !reflect.DeepEqual(got, transmit) {
		t.Errorf("line ends %v, want transmit", got)
	}
}

func TestRequest_ShortExceptionIsNoResponse(t *testing.T) {
	// Five bytes never cross the poll threshold.
	m, _, _, _ := newTestMaster(t, [][]byte{frame(0x01, 0x83, 0x02)})

	if _, err := m.Request(1, modbus.FuncCodeReadHoldingRegisters, 10); !errors.Is(err, modbus.ErrNoResponse) {
		t.Errorf("err = %v, want ErrNoResponse", err)
	}
}

func TestRequest_Undecodable(t *testing.T) {
	m, port, _, out := newTestMaster(t, [][]byte{frame(0x01, 0x06, 0x00, 0x0A, 0x00, 0x01)})

	_, err := m.Request(1, modbus.FuncCodeReadHoldingRegisters, 10)
	if !errors.Is(err, modbus.ErrUndecodableFunction) {
		t.Fatalf("err = %v, want ErrUndecodableFunction", err)
	}
	if len(port.Writes) != 1 {
		t.Errorf("Writes = %d, want 1", len(port.Writes))
	}
	if got := out.last(2); !reflect.DeepEqual(got, transmit) {
		t.Errorf("line ends %v, want transmit", got)
	}
	if s := m.Stats(); s.Undecodable != 1 || s.Succeeded != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRequest_RetryOnChecksum(t *testing.T) {
	m, port, clock, _ := newTestMaster(t, [][]byte{corrupt(value100), corrupt(value100), value100})

	v, err := m.Request(1, modbus.FuncCodeReadHoldingRegisters, 10)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if v != 100 {
		t.Errorf("value = %d, want 100", v)
	}
	if len(port.Writes) != 3 {
		t.Errorf("Writes = %d, want 3", len(port.Writes))
	}
	for i, w := range port.Writes {
		if !bytes.Equal(w, port.Writes[0]) {
			t.Errorf("attempt %d sent %X, want the same frame", i+1, w)
		}
	}
	if len(clock.BusyWaits) != 6 {
		t.Errorf("BusyWaits = %d, want 2 per attempt", len(clock.BusyWaits))
	}
	if s := m.Stats(); s.Transactions != 1 || s.Succeeded != 1 || s.ChecksumErrors != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRequest_ChecksumExhausted(t *testing.T) {
	bad := corrupt(value100)
	m, port, _, out := newTestMaster(t, [][]byte{bad, bad, bad, value100})

	_, err := m.Request(1, modbus.FuncCodeReadHoldingRegisters, 10)
	if !errors.Is(err, modbus.ErrChecksum) {
		t.Fatalf("err = %v, want ErrChecksum", err)
	}
	if len(port.Writes) != MaxAttempts {
		t.Errorf("Writes = %d, want %d", len(port.Writes), MaxAttempts)
	}
	if got := out.last(2); !reflect.DeepEqual(got, receive) {
		t.Errorf("line ends %v, want receive", got)
	}
	if s := m.Stats(); s.ChecksumErrors != 3 || s.Succeeded != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRequest_ReleaseAfterTransaction(t *testing.T) {
	bad := corrupt(value100)
	tests := []struct {
		name    string
		replies [][]byte
	}{
		{"Value", [][]byte{value100}},
		{"NoResponse", nil},
		{"Exhausted", [][]byte{bad, bad, bad}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _, out := newTestMaster(t, tt.replies, WithReleaseAfterTransaction(true))
			_, _ = m.Request(1, modbus.FuncCodeReadHoldingRegisters, 10)
			if got := out.last(2); !reflect.DeepEqual(got, release) {
				t.Errorf("line ends %v, want released", got)
			}
		})
	}
}

func TestSet(t *testing.T) {
	m, port, _, _ := newTestMaster(t, [][]byte{writeEcho})

	if err := m.Set(1, 10, 0x1234); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	want := frame(0x01, 0x10, 0x00, 0x0A, 0x00, 0x01, 0x02, 0x12, 0x34)
	if len(port.Writes) != 1 || !bytes.Equal(port.Writes[0], want) {
		t.Errorf("Writes = %X, want [%X]", port.Writes, want)
	}
}

func TestSet_Failures(t *testing.T) {
	tests := []struct {
		name    string
		replies [][]byte
		wantErr error
	}{
		{"NoResponse", nil, modbus.ErrNoResponse},
		{"Checksum", [][]byte{corrupt(writeEcho), corrupt(writeEcho), corrupt(writeEcho)}, modbus.ErrChecksum},
		{"ReadAnswer", [][]byte{value100}, modbus.ErrUndecodableFunction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _, _ := newTestMaster(t, tt.replies)
			if err := m.Set(1, 10, 1); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetBaudRate(t *testing.T) {
	m, port, clock, _ := newTestMaster(t, [][]byte{value100})

	if err := m.SetBaudRate(19200); err != nil {
		t.Fatalf("SetBaudRate failed: %v", err)
	}
	if !reflect.DeepEqual(port.Baud, []int{19200}) {
		t.Errorf("port baud changes = %v", port.Baud)
	}

	if _, err := m.Request(1, modbus.FuncCodeReadHoldingRegisters, 10); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if clock.BusyWaits[0] != 2084*time.Microsecond {
		t.Errorf("guard = %v, want 2.084ms", clock.BusyWaits[0])
	}

	if err := m.SetBaudRate(1200); !errors.Is(err, config.ErrBaudRate) {
		t.Errorf("err = %v, want ErrBaudRate", err)
	}
	if len(port.Baud) != 1 {
		t.Errorf("rejected baud reached the port: %v", port.Baud)
	}
}

func TestFlush(t *testing.T) {
	m, port, _, _ := newTestMaster(t, nil)
	before := port.Flushes

	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if port.Flushes != before+1 {
		t.Errorf("Flushes = %d, want %d", port.Flushes, before+1)
	}
}

func TestConcurrentRequests(t *testing.T) {
	const n = 8
	replies := make([][]byte, n)
	for i := range replies {
		replies[i] = value100
	}
	m, port, _, _ := newTestMaster(t, replies)

	// Two frames written before a read would leave both replies in the
	// buffer and fail the CRC of the merged response.
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Request(1, modbus.FuncCodeReadHoldingRegisters, 10)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Request failed: %v", err)
		}
	}
	if port.WriteCount() != n {
		t.Errorf("Writes = %d, want %d", port.WriteCount(), n)
	}
	if s := m.Stats(); s.Transactions != n || s.Succeeded != n {
		t.Errorf("stats = %+v", s)
	}
}

func TestClose(t *testing.T) {
	m, port, _, out := newTestMaster(t, nil)

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !port.Closed {
		t.Error("port not closed")
	}
	if got := out.last(2); !reflect.DeepEqual(got, release) {
		t.Errorf("line after close = %v, want released", got)
	}
}

func TestStateString(t *testing.T) {
	if s := stateLineSwitchDelay.String(); s != "line-switch-delay" {
		t.Errorf("String() = %q", s)
	}
	if s := state(42).String(); s != "state(42)" {
		t.Errorf("String() = %q", s)
	}
}

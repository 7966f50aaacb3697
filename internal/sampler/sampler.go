// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package sampler reads a fixed list of registers at a fixed interval and
// keeps the latest value of each.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/rs485-master/internal/config"
	"github.com/ffutop/rs485-master/internal/store"
)

// Reader performs one register read. *master.Master implements it.
type Reader interface {
	Request(slaveID, functionCode byte, address uint16) (int32, error)
}

// Sampler is a clock-driven reader.
type Sampler struct {
	interval time.Duration
	points   []Point
	reader   Reader
	storage  store.Storage
	table    *store.Table
	sink     Sink

	now func() time.Time
}

// New validates cfg and loads the reading table from storage.
func New(cfg config.SamplerConfig, reader Reader, storage store.Storage, sink Sink) (*Sampler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("sampler: interval must be > 0")
	}
	if len(cfg.Points) == 0 {
		return nil, errors.New("sampler: at least one point required")
	}
	if reader == nil || storage == nil {
		return nil, errors.New("sampler: reader and storage are required")
	}

	points := make([]Point, 0, len(cfg.Points))
	for _, p := range cfg.Points {
		if p.Scale == 0 {
			return nil, fmt.Errorf("sampler: point %q has zero scale", p.Name)
		}
		if p.Slot < 0 || p.Slot >= store.Slots {
			return nil, fmt.Errorf("sampler: point %q slot %d out of range", p.Name, p.Slot)
		}
		points = append(points, Point{
			Name:     p.Name,
			UnitID:   p.UnitID,
			Function: p.Function,
			Address:  p.Address,
			Scale:    p.Scale,
			Slot:     p.Slot,
		})
	}

	table, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("sampler: failed to load store: %w", err)
	}

	if sink == nil {
		sink = LogSink{}
	}

	return &Sampler{
		interval: cfg.Interval,
		points:   points,
		reader:   reader,
		storage:  storage,
		table:    table,
		sink:     sink,
		now:      time.Now,
	}, nil
}

// Table returns the table readings are recorded in.
func (s *Sampler) Table() *store.Table {
	return s.table
}

// PollOnce reads every point once, in order. A failed read does not stop
// the cycle; it is recorded with its status. Cancelling ctx stops before the
// next point.
func (s *Sampler) PollOnce(ctx context.Context) []Reading {
	readings := make([]Reading, 0, len(s.points))

	for _, p := range s.points {
		if ctx.Err() != nil {
			break
		}

		raw, err := s.reader.Request(p.UnitID, p.Function, p.Address)
		r := Reading{
			Point:  p,
			At:     s.now(),
			Status: statusOf(err),
			Err:    err,
		}
		if err == nil {
			r.Raw = raw
			r.Value = float64(raw) / p.Scale
		}

		s.record(r)
		s.sink.Publish(r)
		readings = append(readings, r)
	}

	return readings
}

func (s *Sampler) record(r Reading) {
	e := store.Entry{Time: r.At, Value: r.Raw, Status: uint8(r.Status)}
	if r.Status != StatusOK {
		// Keep the last good value; only time and status move.
		if prev, err := s.table.Get(r.Point.Slot); err == nil {
			e.Value = prev.Value
		}
	}
	if err := s.table.Set(r.Point.Slot, e); err != nil {
		slog.Error("Failed to record reading", "point", r.Point.Name, "err", err)
		return
	}
	s.storage.OnWrite(r.Point.Slot)
}

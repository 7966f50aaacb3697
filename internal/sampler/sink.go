// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sampler

import "log/slog"

// Sink receives every reading as it is taken.
type Sink interface {
	Publish(r Reading)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r Reading)

func (f SinkFunc) Publish(r Reading) { f(r) }

// LogSink writes readings through the default logger.
type LogSink struct{}

func (LogSink) Publish(r Reading) {
	if r.Status != StatusOK {
		slog.Warn("reading failed", "point", r.Point.Name, "unit", r.Point.UnitID, "address", r.Point.Address, "status", r.Status, "err", r.Err)
		return
	}
	slog.Info("reading", "point", r.Point.Name, "value", r.Value, "raw", r.Raw)
}

// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sampler

import (
	"context"
	"log/slog"
	"time"
)

// Run polls immediately and then once per interval until ctx is cancelled.
// Cycles never overlap; a cycle that overruns the interval delays the next
// tick. The table is saved on the way out.
func (s *Sampler) Run(ctx context.Context) error {
	slog.Info("sampler started", "points", len(s.points), "interval", s.interval)

	s.PollOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sampler stopped")
			return s.storage.Save(s.table)
		case <-ticker.C:
			s.PollOnce(ctx)
		}
	}
}

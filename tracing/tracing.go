// Copyright © 2025 Galvanized Logic Inc.
// Use is governed by a BSD-style license found in the LICENSE file.

// Package tracing provides lightweight named span markers around the
// init steps ServerLifecycle performs, logged through log/slog at Debug
// level (the cross-cutting "tracing markers" line item of spec.md §2).
// Teardown and CompositorDriver's per-frame loop carry no spans. This is
// intentionally not
// a distributed-tracing client: no spans cross the IPC boundary, and
// there is no exporter — it is a structured-log breadcrumb trail for a
// single process.
package tracing

import (
	"log/slog"
	"time"
)

// Span logs a named step's start and, via End, its duration. Use as:
//
//	span := tracing.Start(log, "catalogue.build")
//	defer span.End()
type Span struct {
	log   *slog.Logger
	name  string
	start time.Time
}

// Start logs name at Debug and returns a Span whose End call logs how
// long the step took.
func Start(log *slog.Logger, name string) Span {
	log.Debug("span start", "span", name)
	return Span{log: log, name: name, start: time.Now()}
}

// End logs the elapsed time since Start.
func (s Span) End() {
	s.log.Debug("span end", "span", s.name, "elapsed", time.Since(s.start))
}

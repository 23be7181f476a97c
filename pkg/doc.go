// Package pkg provides shared utilities for the bladeRF streaming engine.
//
// This package contains common functionality used by every layer of the
// data path, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors and the transfer status mapping
//   - [Cond], a condition variable with bounded waits
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentSync, "worker started", "dir", "rx")
//
// A [Logger] fixes the component and a set of attributes. A sync stream
// creates one tagged with its session id and passes it down, so the worker
// and async stream records of that session share the tag:
//
//	log := pkg.NewComponentLogger(pkg.ComponentSync, "session", id)
//	log.For(pkg.ComponentWorker).Debug("start requested")
//
// Records below the current level are dropped before their attributes are
// assembled.
//
// # Errors
//
// Stream errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrTimePast) {
//	    // Requested timestamp already passed
//	}
package pkg

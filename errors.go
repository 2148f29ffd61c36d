// Package fluxdaw wires together the job pool, plugin host, transport,
// graph and audio engine packages into a single running host (spec.md
// §2, §6). This file implements the error taxonomy from spec.md §7.
package fluxdaw

import (
	"errors"
	"fmt"
)

// Sentinel errors for the spec.md §7 error taxonomy. Wrap these with
// fmt.Errorf("...: %w", ErrX) at call sites so errors.Is keeps working
// across package boundaries.
var (
	// ErrInvalidGraph: cycles or port mismatches. Fatal at prepare; the
	// host refuses to start.
	ErrInvalidGraph = errors.New("fluxdaw: invalid graph")

	// ErrPluginLoadFailed: missing symbol, version mismatch, or
	// activate returned false. Logged and recorded against the track;
	// the track falls back to silence.
	ErrPluginLoadFailed = errors.New("fluxdaw: plugin load failed")

	// ErrPluginProcessError: a plugin's process() call failed for one
	// block. The node outputs silence for that block and retries the
	// next one.
	ErrPluginProcessError = errors.New("fluxdaw: plugin process error")

	// ErrDeviceUnderrun: elapsed callback time exceeded budget.
	ErrDeviceUnderrun = errors.New("fluxdaw: device underrun")

	// ErrPoolExhausted: thread-pool bridge nesting too deep; falls
	// back to inline execution. Not user-visible on its own.
	ErrPoolExhausted = errors.New("fluxdaw: job pool exhausted")

	// ErrSnapshotUnavailable: device callback fired before the UI
	// pushed any snapshot.
	ErrSnapshotUnavailable = errors.New("fluxdaw: snapshot unavailable")
)

// ErrorHandler receives host-level errors that need UI-visible
// surfacing (failed-plugin indicator, DSP% meter feed) without
// crossing back across the audio-thread boundary as a panic.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs via fmt.Printf; callers normally replace
// this with one that feeds a UI indicator or structured logger.
type DefaultErrorHandler struct{}

func (DefaultErrorHandler) HandleError(err error) {
	fmt.Printf("fluxdaw: %v\n", err)
}

// LoggingErrorHandler forwards to an underlying handler after logging.
type LoggingErrorHandler struct {
	underlying ErrorHandler
	logger     func(error)
}

func NewLoggingErrorHandler(underlying ErrorHandler, logger func(error)) *LoggingErrorHandler {
	return &LoggingErrorHandler{underlying: underlying, logger: logger}
}

func (h *LoggingErrorHandler) HandleError(err error) {
	if h.logger != nil {
		h.logger(err)
	}
	if h.underlying != nil {
		h.underlying.HandleError(err)
	}
}

package protocol

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Transport.ReadExact when the deadline expires
// before n bytes arrive.
var ErrTimeout = errors.New("protocol: read timeout")

// ErrCancelled is returned by Transport operations that observe the
// caller's cancellation signal while blocked.
var ErrCancelled = errors.New("protocol: cancelled")

// Transport is the abstract byte-stream capability the engine drives
// (spec.md §4.3, C3). It deliberately knows nothing about UART vs TCP vs
// pipe; package serial provides the production implementation over
// github.com/tarm/serial, and package internal/fake provides an
// in-memory double for tests — mirroring the split between
// host/serial.Port (production) and a test harness in the teacher
// codebase.
type Transport interface {
	// WriteAll writes the complete buffer or returns an error; partial
	// writes are never silently accepted.
	WriteAll(ctx context.Context, data []byte) error

	// ReadExact blocks until exactly n bytes have arrived or the
	// deadline expires, returning ErrTimeout in the latter case, or
	// ErrCancelled if ctx is done first. A successful return always
	// carries exactly n bytes — no partial reads are delivered to the
	// engine.
	ReadExact(ctx context.Context, n int, deadline time.Duration) ([]byte, error)

	// ReadAvailable returns whatever bytes are immediately available
	// without blocking.
	ReadAvailable() []byte

	// SetReadTimeout adjusts the default per-read timeout used when a
	// caller doesn't supply one explicitly.
	SetReadTimeout(d time.Duration)
}

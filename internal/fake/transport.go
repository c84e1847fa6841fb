// Package fake provides an in-memory protocol.Transport double for
// exercising the bootloader engine's state machine and retry behavior
// without a real serial port.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/h4z3m/bootloader-host/protocol"
)

// Transport is a protocol.Transport double. Tests drive it by setting
// OnWrite to react to each frame the engine sends — returning bytes to
// queue for the engine's next read, or an error (typically
// protocol.ErrTimeout) to simulate a dropped response. Tests may also
// Feed bytes directly, independent of any write (used for the sync
// handshake, where the target echoes the sync byte unprompted by a
// framed command).
type Transport struct {
	mu      sync.Mutex
	writes  [][]byte
	queue   []byte
	pending error

	// OnWrite is invoked synchronously from WriteAll with a copy of the
	// written frame. If its second return value is non-nil, that error is
	// stashed and returned by the next ReadExact call that would otherwise
	// block, and the first return value is dropped; otherwise the first
	// return value is appended to the read queue.
	OnWrite func(data []byte) ([]byte, error)
}

// New returns an empty fake transport.
func New() *Transport {
	return &Transport{}
}

// WriteAll implements protocol.Transport.
func (t *Transport) WriteAll(ctx context.Context, data []byte) error {
	cp := append([]byte(nil), data...)

	t.mu.Lock()
	t.writes = append(t.writes, cp)
	t.mu.Unlock()

	if t.OnWrite == nil {
		return nil
	}
	resp, err := t.OnWrite(cp)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.pending = err
		return nil
	}
	if resp != nil {
		t.queue = append(t.queue, resp...)
	}
	return nil
}

// ReadExact implements protocol.Transport. The fake never actually
// blocks: it either has enough queued bytes already (the common case,
// since OnWrite runs synchronously before ReadExact is called) or it
// returns the pending injected error, or protocol.ErrTimeout.
func (t *Transport) ReadExact(ctx context.Context, n int, deadline time.Duration) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, protocol.ErrCancelled
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.queue) < n {
		if t.pending != nil {
			err := t.pending
			t.pending = nil
			return nil, err
		}
		return nil, protocol.ErrTimeout
	}
	out := make([]byte, n)
	copy(out, t.queue[:n])
	t.queue = t.queue[n:]
	return out, nil
}

// ReadAvailable implements protocol.Transport.
func (t *Transport) ReadAvailable() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.queue
	t.queue = nil
	return out
}

// SetReadTimeout implements protocol.Transport; the fake ignores timing.
func (t *Transport) SetReadTimeout(time.Duration) {}

// Feed appends bytes directly to the read queue, independent of any
// write — used to simulate unsolicited bytes such as the sync echo.
func (t *Transport) Feed(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, data...)
}

// Writes returns every frame written so far, in order.
func (t *Transport) Writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

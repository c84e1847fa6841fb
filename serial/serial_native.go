package serial

import (
	"context"
	"fmt"
	"time"

	tarmserial "github.com/tarm/serial"

	"github.com/h4z3m/bootloader-host/protocol"
)

// pollInterval bounds how long a single underlying tarm/serial Read call
// is allowed to block while NativeTransport.ReadExact assembles a longer
// deadline out of several short polls. tarm/serial fixes its read timeout
// at OpenPort time and doesn't expose changing it per call, so
// NativeTransport reopens nothing and instead polls in small slices —
// the same workaround the teacher's host/serial/serial_native.go takes
// for Flush(), which the underlying library also doesn't expose.
const pollInterval = 50 * time.Millisecond

// NativeTransport implements protocol.Transport over a real serial port
// via github.com/tarm/serial.
type NativeTransport struct {
	port        *tarmserial.Port
	readTimeout time.Duration
}

// Open opens cfg.Device as a serial port and returns a ready Transport.
func Open(cfg *Config) (*NativeTransport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: config cannot be nil")
	}
	port, err := tarmserial.OpenPort(&tarmserial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return &NativeTransport{port: port, readTimeout: cfg.ReadTimeout}, nil
}

// WriteAll implements protocol.Transport.
func (t *NativeTransport) WriteAll(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return protocol.ErrCancelled
	}
	n, err := t.port.Write(data)
	if err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("serial: incomplete write: %d/%d bytes", n, len(data))
	}
	return nil
}

// ReadExact implements protocol.Transport by polling the underlying port
// in pollInterval-sized slices until n bytes have accumulated or deadline
// elapses. A deadline of zero or less falls back to the configured default
// read timeout.
func (t *NativeTransport) ReadExact(ctx context.Context, n int, deadline time.Duration) ([]byte, error) {
	if deadline <= 0 {
		deadline = t.readTimeout
	}
	out := make([]byte, 0, n)
	chunk := make([]byte, n)
	expiry := time.Now().Add(deadline)

	for len(out) < n {
		select {
		case <-ctx.Done():
			return nil, protocol.ErrCancelled
		default:
		}
		if time.Now().After(expiry) {
			return nil, protocol.ErrTimeout
		}

		read, err := t.port.Read(chunk[:n-len(out)])
		if err != nil {
			return nil, fmt.Errorf("serial: read: %w", err)
		}
		out = append(out, chunk[:read]...)
	}
	return out, nil
}

// ReadAvailable implements protocol.Transport. It performs a single
// bounded poll and returns whatever arrived, which may be nothing.
func (t *NativeTransport) ReadAvailable() []byte {
	buf := make([]byte, 256)
	n, err := t.port.Read(buf)
	if err != nil || n == 0 {
		return nil
	}
	return buf[:n]
}

// SetReadTimeout implements protocol.Transport. Because tarm/serial fixes
// its own read timeout at OpenPort time, this only updates the deadline
// NativeTransport's own callers default to; ReadExact's internal poll
// granularity (pollInterval) is unaffected.
func (t *NativeTransport) SetReadTimeout(d time.Duration) {
	t.readTimeout = d
}

// DefaultReadTimeout returns the transport's currently configured default
// read timeout, for callers that want to fall back to it explicitly.
func (t *NativeTransport) DefaultReadTimeout() time.Duration {
	return t.readTimeout
}

// Close closes the underlying serial port.
func (t *NativeTransport) Close() error {
	if t.port == nil {
		return nil
	}
	return t.port.Close()
}

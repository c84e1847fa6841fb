// Package bootloader implements the host-side session: the synchronization
// handshake (C4), the session state machine (C6), and the ACK protocol
// (C5) that the command operations in commands.go (C7) are built from. It
// is adapted from the teacher's host/mcu package, which plays the
// equivalent "drive one MCU over one transport" role for the Klipper
// protocol this repo's teacher implements.
package bootloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/h4z3m/bootloader-host/protocol"
)

// State is the host's session state (spec.md §4.6, C6).
type State int

const (
	StateSync State = iota
	StateReadyToSendCommand
	StateSendingData
	StateWaitingForAck
)

func (s State) String() string {
	switch s {
	case StateSync:
		return "Sync"
	case StateReadyToSendCommand:
		return "ReadyToSendCommand"
	case StateSendingData:
		return "SendingData"
	case StateWaitingForAck:
		return "WaitingForAck"
	default:
		return "Unknown"
	}
}

// Engine drives one bootloader session over one protocol.Transport. It is
// single-owner and not internally synchronized — callers must serialize
// their own calls (spec.md §5).
type Engine struct {
	transport protocol.Transport
	state     State

	lastNackField byte

	// scratch is reused across operations to assemble a fully-read frame
	// out of its separately-read header and body, instead of allocating a
	// fresh buffer per frame (spec.md §5 — "no heap allocation is
	// required per frame").
	scratch protocol.ScratchBuffer

	log zerolog.Logger

	maxRetries         int
	writeSettleDelay   time.Duration
	syncAttemptTimeout time.Duration
	ackTimeout         time.Duration
	responseTimeout    time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger sets the engine's structured logger. The default discards
// everything, matching a library that should be silent unless a caller
// opts in (the CLI wires a console writer).
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMaxRetries sets the total number of attempts (including the first)
// allowed per DATA_PACKET during MemWrite before ErrTooManyRetries.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithWriteSettleDelay overrides the pause after MemWrite's final ACK
// (spec.md §4.7, §9 — a protocol-level pause, not a transport requirement).
func WithWriteSettleDelay(d time.Duration) Option {
	return func(e *Engine) { e.writeSettleDelay = d }
}

// WithSyncAttemptTimeout overrides the per-attempt deadline the sync
// handshake waits for an echoed sync byte before resending (spec.md §4.4).
func WithSyncAttemptTimeout(d time.Duration) Option {
	return func(e *Engine) { e.syncAttemptTimeout = d }
}

// WithAckTimeout overrides how long the engine waits for a 3-byte ACK.
func WithAckTimeout(d time.Duration) Option {
	return func(e *Engine) { e.ackTimeout = d }
}

// WithResponseTimeout overrides how long the engine waits for RESPONSE and
// DATA_PACKET frames.
func WithResponseTimeout(d time.Duration) Option {
	return func(e *Engine) { e.responseTimeout = d }
}

// NewEngine returns a new session bound to transport, starting in state
// Sync (spec.md §3 "a session begins in Sync").
func NewEngine(transport protocol.Transport, opts ...Option) *Engine {
	e := &Engine{
		transport:          transport,
		state:              StateSync,
		lastNackField:      protocol.NackSuccess,
		log:                zerolog.Nop(),
		maxRetries:         3,
		writeSettleDelay:   10 * time.Millisecond,
		syncAttemptTimeout: 200 * time.Millisecond,
		ackTimeout:         2 * time.Second,
		responseTimeout:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's current session state.
func (e *Engine) State() State { return e.state }

// LastNackField returns the field byte of the most recently received ACK
// token, whether it signalled success (0xFF) or a specific failure
// reason. Exposed as a diagnostic (spec.md §6).
func (e *Engine) LastNackField() byte { return e.lastNackField }

// Sync drives the synchronization handshake (spec.md §4.4, C4): write the
// sync byte, wait bounded time for it to be echoed back, discarding any
// other bytes observed in the meantime, and resend on timeout. The loop
// has no hard iteration cap — callers bound it via ctx.
func (e *Engine) Sync(ctx context.Context) error {
	e.log.Info().Msg("bootloader: starting sync handshake")

	if err := e.writeSyncByte(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			e.state = StateSync
			return protocol.ErrCancelled
		}

		b, err := e.transport.ReadExact(ctx, 1, e.syncAttemptTimeout)
		if err != nil {
			if errors.Is(err, protocol.ErrTimeout) {
				e.log.Debug().Msg("bootloader: sync attempt timed out, resending sync byte")
				if err := e.writeSyncByte(ctx); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, protocol.ErrCancelled) {
				e.state = StateSync
				return protocol.ErrCancelled
			}
			e.state = StateSync
			return fmt.Errorf("bootloader: sync: read: %w", err)
		}

		if b[0] == protocol.SyncByte {
			e.state = StateReadyToSendCommand
			e.log.Info().Msg("bootloader: sync acquired")
			return nil
		}
		// Not the marker: discard and keep draining without resending.
	}
}

func (e *Engine) writeSyncByte(ctx context.Context) error {
	if err := e.transport.WriteAll(ctx, []byte{protocol.SyncByte}); err != nil {
		e.state = StateSync
		return fmt.Errorf("bootloader: sync: write: %w", err)
	}
	return nil
}

// ensureReady asserts state is ReadyToSendCommand or SendingData — both are
// states from which the next frame may be sent directly per spec.md §4.6's
// transition table ("SendCommand asserts the state is ReadyToSendCommand; if
// not, it invokes the sync handshake first"; SendingData's own direct
// "send DATA_PACKET" edge needs no resync). Any other state (Sync,
// WaitingForAck left over from a prior failure) triggers the handshake.
func (e *Engine) ensureReady(ctx context.Context) error {
	if e.state == StateReadyToSendCommand || e.state == StateSendingData {
		return nil
	}
	return e.Sync(ctx)
}

// sendAck writes a 3-byte ACK/NACK token.
func (e *Engine) sendAck(ctx context.Context, a protocol.Ack) error {
	buf := protocol.EncodeAck(a)
	if err := e.transport.WriteAll(ctx, buf[:]); err != nil {
		e.state = StateSync
		return fmt.Errorf("bootloader: send ack: %w", err)
	}
	return nil
}

// recvAck reads and decodes a 3-byte ACK/NACK token, recording its field
// as the last-observed diagnostic regardless of outcome (spec.md §9
// supplemented behavior — the original updates this on every ACK, not
// just on failure).
func (e *Engine) recvAck(ctx context.Context, timeout time.Duration) (protocol.Ack, error) {
	buf, err := e.transport.ReadExact(ctx, protocol.AckFrameSize, timeout)
	if err != nil {
		return protocol.Ack{}, err
	}
	ack, err := protocol.DecodeAck(buf)
	if err != nil {
		return protocol.Ack{}, err
	}
	e.lastNackField = ack.Field
	return ack, nil
}

// sendFrameAwaitAck is the shared skeleton behind every non-streaming
// command operation (spec.md §4.7): ensure synchronized, send the frame,
// and wait for a single ACK. On success the state returns to
// ReadyToSendCommand; on any failure — transport error, ACK timeout, or
// NACK — the state machine drops back to Sync (spec.md §4.6), so the next
// send re-handshakes.
func (e *Engine) sendFrameAwaitAck(ctx context.Context, frame []byte, timeout time.Duration) (protocol.Ack, error) {
	return e.sendFrameAwaitAckState(ctx, frame, timeout, StateReadyToSendCommand)
}

// sendFrameAwaitAckState is sendFrameAwaitAck generalized over the state
// the engine lands in on a successful ACK. MemWrite's DATA_PACKET stream
// uses this directly to land in SendingData between packets rather than
// bouncing through ReadyToSendCommand (spec.md §4.6:
// "WaitingForAck --(ack received)--> ReadyToSendCommand | SendingData").
func (e *Engine) sendFrameAwaitAckState(ctx context.Context, frame []byte, timeout time.Duration, successState State) (protocol.Ack, error) {
	if err := e.ensureReady(ctx); err != nil {
		return protocol.Ack{}, err
	}
	if err := e.transport.WriteAll(ctx, frame); err != nil {
		e.state = StateSync
		return protocol.Ack{}, fmt.Errorf("bootloader: send: %w", err)
	}
	e.state = StateWaitingForAck

	ack, err := e.recvAck(ctx, timeout)
	if err != nil {
		e.state = StateSync
		if errors.Is(err, protocol.ErrTimeout) {
			return protocol.Ack{}, fmt.Errorf("bootloader: ack: %w", err)
		}
		if errors.Is(err, protocol.ErrCancelled) {
			return protocol.Ack{}, protocol.ErrCancelled
		}
		return protocol.Ack{}, fmt.Errorf("bootloader: ack: %w", err)
	}
	if !ack.OK {
		e.state = StateSync
		e.log.Warn().Uint8("field", ack.Field).Msg("bootloader: received nack")
		return ack, &NackError{Field: ack.Field}
	}
	e.state = successState
	return ack, nil
}

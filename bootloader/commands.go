package bootloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/h4z3m/bootloader-host/protocol"
)

// Version sends VER, waits for its ACK, and then reads the target's
// RESPONSE frame, returning its 8-byte payload (spec.md §4.7 Version).
func (e *Engine) Version(ctx context.Context) ([8]byte, error) {
	frame := protocol.EncodeVersion()
	if _, err := e.sendFrameAwaitAck(ctx, frame, e.ackTimeout); err != nil {
		return [8]byte{}, fmt.Errorf("bootloader: version: %w", err)
	}
	e.state = StateWaitingForAck

	header, err := e.transport.ReadExact(ctx, protocol.HeaderSize, e.responseTimeout)
	if err != nil {
		e.state = StateSync
		return [8]byte{}, fmt.Errorf("bootloader: version: read header: %w", err)
	}
	payloadSize, err := protocol.PeekPayloadSize(header)
	if err != nil {
		e.state = StateSync
		return [8]byte{}, fmt.Errorf("bootloader: version: %w", err)
	}
	if payloadSize < protocol.HeaderSize || payloadSize > protocol.ResponseFrameSize {
		e.state = StateSync
		return [8]byte{}, fmt.Errorf("bootloader: version: %w", protocol.ErrFieldOutOfRange)
	}
	rest, err := e.transport.ReadExact(ctx, int(payloadSize)-protocol.HeaderSize, e.responseTimeout)
	if err != nil {
		e.state = StateSync
		return [8]byte{}, fmt.Errorf("bootloader: version: read payload: %w", err)
	}

	full := e.scratch.Bytes(len(header) + len(rest))
	copy(full, header)
	copy(full[len(header):], rest)
	resp, err := protocol.DecodeResponse(full)
	if err != nil {
		e.state = StateSync
		return [8]byte{}, fmt.Errorf("bootloader: version: decode: %w", err)
	}
	e.state = StateReadyToSendCommand
	return resp.Payload, nil
}

// EnterCmdMode sends ENTER_CMD_MODE with the fixed protocol key and waits
// for its ACK (spec.md §4.7).
func (e *Engine) EnterCmdMode(ctx context.Context) error {
	frame := protocol.EncodeEnterCmdMode(protocol.EnterCmdModeKey)
	_, err := e.sendFrameAwaitAck(ctx, frame, e.ackTimeout)
	return err
}

// JumpToApp sends JUMP_TO_APP with the fixed protocol key and waits for
// its ACK (spec.md §4.7). A successful ACK is the last thing the host
// should expect to see before the target's application code takes over.
func (e *Engine) JumpToApp(ctx context.Context) error {
	frame := protocol.EncodeJumpToApp(protocol.JumpAppKey)
	_, err := e.sendFrameAwaitAck(ctx, frame, e.ackTimeout)
	return err
}

// GotoAddr sends GOTO_ADDR and waits for its ACK (spec.md §4.7).
func (e *Engine) GotoAddr(ctx context.Context, address uint32) error {
	frame := protocol.EncodeGotoAddr(address)
	_, err := e.sendFrameAwaitAck(ctx, frame, e.ackTimeout)
	return err
}

// FlashErase sends FLASH_ERASE and waits for two sequential ACKs: one
// confirming the command was accepted, a second confirming the erase
// itself completed (spec.md §3 supplemented behavior — the original's
// two-phase handshake is load-bearing, not a typo in the distillation).
func (e *Engine) FlashErase(ctx context.Context, pageNumber, pageCount uint32) error {
	frame := protocol.EncodeFlashErase(pageNumber, pageCount)
	if _, err := e.sendFrameAwaitAck(ctx, frame, e.ackTimeout); err != nil {
		return fmt.Errorf("bootloader: flash erase: accept: %w", err)
	}
	ack, err := e.recvAck(ctx, e.ackTimeout)
	if err != nil {
		e.state = StateSync
		return fmt.Errorf("bootloader: flash erase: completion: %w", err)
	}
	if !ack.OK {
		e.state = StateSync
		return fmt.Errorf("bootloader: flash erase: completion: %w", &NackError{Field: ack.Field})
	}
	e.state = StateReadyToSendCommand
	return nil
}

// MemRead sends MEM_READ for length bytes starting at startAddr, then
// streams the target's DATA_PACKET response into buf (which must be at
// least length bytes long), ACKing each packet and stopping at EndFlag
// (spec.md §4.7 MemRead). Unlike MemWrite there is no retry here: a bad
// CRC sends a single NACK and aborts the read immediately (confirmed from
// the original, spec.md §9).
func (e *Engine) MemRead(ctx context.Context, startAddr uint32, length int, buf []byte) (int, error) {
	if length < 0 || len(buf) < length {
		return 0, fmt.Errorf("%w: buf too small for %d bytes", ErrInvalidInput, length)
	}
	frame := protocol.EncodeMemRead(startAddr, uint32(length))
	if _, err := e.sendFrameAwaitAck(ctx, frame, e.ackTimeout); err != nil {
		return 0, fmt.Errorf("bootloader: mem read: %w", err)
	}
	e.state = StateWaitingForAck

	read := 0
	for {
		meta, err := e.transport.ReadExact(ctx, protocol.HeaderSize+protocol.DataPacketMetaSize, e.responseTimeout)
		if err != nil {
			e.state = StateSync
			return read, fmt.Errorf("bootloader: mem read: read header: %w", err)
		}
		dataLen, err := protocol.DecodeDataPacketHeaderOnly(meta)
		if err != nil {
			e.state = StateSync
			return read, fmt.Errorf("bootloader: mem read: %w", err)
		}
		rest, err := e.transport.ReadExact(ctx, dataLen, e.responseTimeout)
		if err != nil {
			e.state = StateSync
			return read, fmt.Errorf("bootloader: mem read: read data: %w", err)
		}

		full := e.scratch.Bytes(len(meta) + len(rest))
		copy(full, meta)
		copy(full[len(meta):], rest)
		pkt, err := protocol.DecodeDataPacket(full)
		if err != nil {
			// Bad CRC (or any other decode failure): NACK once, no retry.
			_ = e.sendAck(ctx, protocol.Ack{OK: false, Field: protocol.NackInvalidCrc})
			e.state = StateSync
			return read, fmt.Errorf("bootloader: mem read: decode packet: %w", err)
		}

		if read+len(pkt.Data) > len(buf) {
			e.state = StateSync
			return read, fmt.Errorf("%w: target sent more data than requested", ErrInvalidInput)
		}
		copy(buf[read:], pkt.Data)
		read += len(pkt.Data)

		if err := e.sendAck(ctx, protocol.Ack{OK: true, Field: protocol.NackSuccess}); err != nil {
			return read, fmt.Errorf("bootloader: mem read: ack packet: %w", err)
		}

		if pkt.EndFlag {
			e.state = StateReadyToSendCommand
			return read, nil
		}
	}
}

// MemWrite sends MEM_WRITE for startAddress, then streams data to the
// target as a sequence of DATA_PACKET frames of at most
// protocol.DataBlockSize bytes each, making up to e.maxRetries attempts
// (the first send included) per packet on NACK or ACK timeout before giving up with
// TooManyRetriesError (spec.md §4.7 MemWrite, §9 — the original's
// unbounded retry is redesigned here into a bounded one). After the final
// ACK the call pauses for e.writeSettleDelay before returning, mirroring
// the original implementation's post-write settle delay.
func (e *Engine) MemWrite(ctx context.Context, startAddress uint32, data []byte) error {
	frame := protocol.EncodeMemWrite(startAddress)
	acceptState := StateReadyToSendCommand
	if len(data) > 0 {
		acceptState = StateSendingData
	}
	if _, err := e.sendFrameAwaitAckState(ctx, frame, e.ackTimeout, acceptState); err != nil {
		return fmt.Errorf("bootloader: mem write: accept: %w", err)
	}

	offset := 0
	for offset < len(data) {
		n := protocol.DataBlockSize
		if remaining := len(data) - offset; remaining < n {
			n = remaining
		}
		block := data[offset : offset+n]
		offset += n

		nextLen := uint32(0)
		endFlag := offset >= len(data)
		if !endFlag {
			next := protocol.DataBlockSize
			if remaining := len(data) - offset; remaining < next {
				next = remaining
			}
			nextLen = uint32(protocol.DataPacketFrameSize(next))
		}

		if err := e.sendDataPacketWithRetry(ctx, block, nextLen, endFlag); err != nil {
			return err
		}
	}

	if e.writeSettleDelay > 0 {
		select {
		case <-ctx.Done():
			return protocol.ErrCancelled
		case <-time.After(e.writeSettleDelay):
		}
	}
	return nil
}

// sendDataPacketWithRetry sends one DATA_PACKET and waits for its ACK, up
// to e.maxRetries attempts. Each retry re-runs the shared
// sendFrameAwaitAckState skeleton, so a NACK or timeout drops the session
// back to Sync and the retry re-handshakes before resending the same
// packet (spec.md §4.6). A successful non-final packet lands back in
// SendingData, ready for the next one; the final (end_flag) packet's ACK
// lands in ReadyToSendCommand.
func (e *Engine) sendDataPacketWithRetry(ctx context.Context, data []byte, nextLen uint32, endFlag bool) error {
	frame := protocol.EncodeDataPacket(data, nextLen, endFlag)
	successState := StateSendingData
	if endFlag {
		successState = StateReadyToSendCommand
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		_, err := e.sendFrameAwaitAckState(ctx, frame, e.ackTimeout, successState)
		if err == nil {
			return nil
		}
		if errors.Is(err, protocol.ErrCancelled) {
			return err
		}
		e.log.Warn().Int("attempt", attempt+1).Err(err).Msg("bootloader: data packet attempt failed, retrying")
	}
	return &TooManyRetriesError{LastNackField: e.lastNackField}
}

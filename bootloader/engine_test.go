package bootloader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h4z3m/bootloader-host/internal/fake"
	"github.com/h4z3m/bootloader-host/protocol"
)

// syncedEngine returns an Engine already in ReadyToSendCommand, by feeding
// the fake transport one sync byte up front and running the handshake.
func syncedEngine(t *testing.T, ft *fake.Transport) *Engine {
	t.Helper()
	ft.Feed([]byte{protocol.SyncByte})
	e := NewEngine(ft)
	require.NoError(t, e.Sync(context.Background()))
	require.Equal(t, StateReadyToSendCommand, e.State())
	return e
}

func ackBytes(ok bool, field byte) []byte {
	buf := protocol.EncodeAck(protocol.Ack{OK: ok, Field: field})
	return buf[:]
}

// --- S1: Version happy path -------------------------------------------

func TestVersionHappyPath(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	var payload [8]byte
	payload[0] = 0x42

	ft.OnWrite = func(data []byte) ([]byte, error) {
		out := ackBytes(true, protocol.NackSuccess)
		out = append(out, protocol.EncodeResponse(payload)...)
		return out, nil
	}

	got, err := e.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), got[0])
	assert.Equal(t, StateReadyToSendCommand, e.State())
}

// --- S2: EnterCmdMode ---------------------------------------------------

func TestEnterCmdMode(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	ft.OnWrite = func(data []byte) ([]byte, error) {
		h, err := protocol.PeekPayloadSize(data)
		require.NoError(t, err)
		assert.EqualValues(t, protocol.EnterCmdModeFrameSize, h)
		assert.Equal(t, protocol.CmdEnterCmdMode, protocol.CommandID(data[4]))
		return ackBytes(true, protocol.NackSuccess), nil
	}

	err := e.EnterCmdMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReadyToSendCommand, e.State())
}

// --- S3: MemWrite of 300 bytes ------------------------------------------

func TestMemWrite300Bytes(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}

	var packets []protocol.DataPacket
	calls := 0
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			// MEM_WRITE command frame.
			return ackBytes(true, protocol.NackSuccess), nil
		}
		pkt, err := protocol.DecodeDataPacket(frame)
		require.NoError(t, err)
		packets = append(packets, pkt)
		return ackBytes(true, protocol.NackSuccess), nil
	}

	err := e.MemWrite(context.Background(), 0x08000000, data)
	require.NoError(t, err)

	require.Len(t, packets, 2)
	assert.EqualValues(t, 256, packets[0].DataLen)
	assert.EqualValues(t, protocol.DataPacketFrameSize(44), packets[0].NextLen)
	assert.False(t, packets[0].EndFlag)
	assert.Equal(t, data[:256], packets[0].Data)

	assert.EqualValues(t, 44, packets[1].DataLen)
	assert.EqualValues(t, 0, packets[1].NextLen)
	assert.True(t, packets[1].EndFlag)
	assert.Equal(t, data[256:], packets[1].Data)
}

func TestMemWriteZeroBytes(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	calls := 0
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		calls++
		return ackBytes(true, protocol.NackSuccess), nil
	}

	err := e.MemWrite(context.Background(), 0x08000000, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls) // just the MEM_WRITE command, no packets
}

func TestMemWriteExactMultiple(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	data := make([]byte, 512)
	var packets []protocol.DataPacket
	calls := 0
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			return ackBytes(true, protocol.NackSuccess), nil
		}
		pkt, err := protocol.DecodeDataPacket(frame)
		require.NoError(t, err)
		packets = append(packets, pkt)
		return ackBytes(true, protocol.NackSuccess), nil
	}

	require.NoError(t, e.MemWrite(context.Background(), 0, data))
	require.Len(t, packets, 2)
	assert.True(t, packets[1].EndFlag)
	assert.EqualValues(t, 0, packets[1].NextLen)
	assert.EqualValues(t, 256, packets[1].DataLen)
}

// --- S4: MemRead of 400 bytes, two packets -------------------------------

func TestMemRead400Bytes(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	full := make([]byte, 400)
	for i := range full {
		full[i] = byte(i)
	}

	var acksSeen []protocol.Ack
	calls := 0
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			// MEM_READ command: queue ACK then both data packets.
			out := ackBytes(true, protocol.NackSuccess)
			out = append(out, protocol.EncodeDataPacket(full[:256], uint32(protocol.DataPacketFrameSize(144)), false)...)
			out = append(out, protocol.EncodeDataPacket(full[256:], 0, true)...)
			return out, nil
		}
		ack, err := protocol.DecodeAck(frame)
		require.NoError(t, err)
		acksSeen = append(acksSeen, ack)
		return nil, nil
	}

	out := make([]byte, 400)
	n, err := e.MemRead(context.Background(), 0x08000000, 400, out)
	require.NoError(t, err)
	assert.Equal(t, 400, n)
	assert.Equal(t, full, out)
	require.Len(t, acksSeen, 2)
	assert.True(t, acksSeen[0].OK)
	assert.True(t, acksSeen[1].OK)
}

func TestMemReadZeroLength(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	calls := 0
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			out := ackBytes(true, protocol.NackSuccess)
			out = append(out, protocol.EncodeDataPacket(nil, 0, true)...)
			return out, nil
		}
		return nil, nil
	}

	out := make([]byte, 0)
	n, err := e.MemRead(context.Background(), 0, 0, out)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// --- S5: CRC corruption mid-read -----------------------------------------

func TestMemReadCrcCorruption(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	full := make([]byte, 400)
	var nacked bool
	calls := 0
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			out := ackBytes(true, protocol.NackSuccess)
			first := protocol.EncodeDataPacket(full[:256], uint32(protocol.DataPacketFrameSize(144)), false)
			out = append(out, first...)
			second := protocol.EncodeDataPacket(full[256:], 0, true)
			second[len(second)-1] ^= 0xFF // corrupt a data byte so the CRC no longer matches
			out = append(out, second...)
			return out, nil
		}
		ack, err := protocol.DecodeAck(frame)
		require.NoError(t, err)
		if !ack.OK {
			nacked = true
			assert.Equal(t, protocol.NackInvalidCrc, ack.Field)
		}
		return nil, nil
	}

	out := make([]byte, 400)
	_, err := e.MemRead(context.Background(), 0, 400, out)
	require.Error(t, err)
	assert.True(t, nacked)
	assert.Equal(t, StateSync, e.State())

	// Next operation must re-sync before sending.
	ft.Feed([]byte{protocol.SyncByte})
	ft.OnWrite = func(frame []byte) ([]byte, error) { return nil, nil }
	require.NoError(t, e.Sync(context.Background()))
}

// --- S6: FlashErase two-phase ACK -----------------------------------------

func TestFlashEraseTwoPhase(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	calls := 0
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			out := ackBytes(true, protocol.NackSuccess)
			out = append(out, ackBytes(true, protocol.NackSuccess)...)
			return out, nil
		}
		return nil, nil
	}

	err := e.FlashErase(context.Background(), 62, 2)
	require.NoError(t, err)
	assert.Equal(t, StateReadyToSendCommand, e.State())
}

func TestFlashEraseCompletionTimeout(t *testing.T) {
	ft := fake.New()
	e := syncedEngine(t, ft)

	ft.OnWrite = func(frame []byte) ([]byte, error) {
		// Only the accept ACK arrives; the completion ACK never shows up.
		return ackBytes(true, protocol.NackSuccess), nil
	}

	err := e.FlashErase(context.Background(), 62, 2)
	require.Error(t, err)
	assert.Equal(t, StateSync, e.State())
}

// --- S7: Retry on MemWrite NACK -------------------------------------------

func TestMemWriteRetryOnNack(t *testing.T) {
	ft := fake.New()
	ft.Feed([]byte{protocol.SyncByte})
	e := NewEngine(ft, WithMaxRetries(3))
	require.NoError(t, e.Sync(context.Background()))

	data := make([]byte, 256)

	cmdSeen := false
	dataAttempts := 0
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		if len(frame) == 1 && frame[0] == protocol.SyncByte {
			return []byte{protocol.SyncByte}, nil
		}
		if !cmdSeen {
			cmdSeen = true
			return ackBytes(true, protocol.NackSuccess), nil
		}
		dataAttempts++
		if dataAttempts < 3 {
			return ackBytes(false, 0x02), nil
		}
		return ackBytes(true, protocol.NackSuccess), nil
	}

	err := e.MemWrite(context.Background(), 0, data)
	require.NoError(t, err)
	assert.Equal(t, 3, dataAttempts)
}

func TestMemWriteTooManyRetries(t *testing.T) {
	ft := fake.New()
	e := NewEngine(ft, WithMaxRetries(3))
	ft.Feed([]byte{protocol.SyncByte})
	require.NoError(t, e.Sync(context.Background()))

	data := make([]byte, 256)
	cmdSeen := false
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		if len(frame) == 1 && frame[0] == protocol.SyncByte {
			return []byte{protocol.SyncByte}, nil
		}
		if !cmdSeen {
			cmdSeen = true
			return ackBytes(true, protocol.NackSuccess), nil
		}
		return ackBytes(false, 0x02), nil
	}

	err := e.MemWrite(context.Background(), 0, data)
	require.Error(t, err)
	var tooMany *TooManyRetriesError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, byte(0x02), tooMany.LastNackField)
	assert.ErrorIs(t, err, ErrTooManyRetries)
}

// --- MemWrite retry re-syncs between attempts -----------------------------

func TestMemWriteRetryResyncsOnTimeout(t *testing.T) {
	ft := fake.New()
	ft.Feed([]byte{protocol.SyncByte})
	e := NewEngine(ft, WithMaxRetries(2))
	require.NoError(t, e.Sync(context.Background()))

	data := make([]byte, 10)
	cmdSeen := false
	dataAttempts := 0
	ft.OnWrite = func(frame []byte) ([]byte, error) {
		if len(frame) == 1 && frame[0] == protocol.SyncByte {
			return []byte{protocol.SyncByte}, nil
		}
		if !cmdSeen {
			cmdSeen = true
			return ackBytes(true, protocol.NackSuccess), nil
		}
		dataAttempts++
		// First data packet attempt times out (no bytes queued); the
		// engine re-syncs and resends on the second attempt.
		if dataAttempts == 1 {
			return nil, protocol.ErrTimeout
		}
		return ackBytes(true, protocol.NackSuccess), nil
	}

	err := e.MemWrite(context.Background(), 0, data)
	require.NoError(t, err)
	assert.Equal(t, 2, dataAttempts)
}

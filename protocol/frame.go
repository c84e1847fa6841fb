package protocol

import "encoding/binary"

// Header is the 9-byte command header shared by every non-ACK frame
// variant (spec.md §3). It is little-endian and unaligned on the wire;
// in memory it's a plain struct, encoded/decoded explicitly field by
// field rather than cast from a byte pointer (spec.md §9 rules out the
// original's packed-union-pointer trick).
type Header struct {
	PayloadSize uint32
	CmdID       CommandID
	CRC32       uint32
}

func putHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], h.PayloadSize)
	buf[4] = byte(h.CmdID)
	binary.LittleEndian.PutUint32(buf[5:9], h.CRC32)
}

func getHeader(buf []byte) Header {
	return Header{
		PayloadSize: binary.LittleEndian.Uint32(buf[0:4]),
		CmdID:       CommandID(buf[4]),
		CRC32:       binary.LittleEndian.Uint32(buf[5:9]),
	}
}

// stampAndEncode fills payload_size, cmd_id and crc32 into buf[:n] (buf
// must already hold every other field) and returns buf[:n].
func stampAndEncode(buf []byte, n int, cmd CommandID) []byte {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(n))
	buf[4] = byte(cmd)
	crc := crcOverFrame(buf, n)
	binary.LittleEndian.PutUint32(buf[5:9], crc)
	return buf[:n]
}

// decodeHeader validates and returns the header of frame, checking it
// carries at least HeaderSize bytes, the expected command id, and — once
// payload_size is known — that the frame is long enough and its CRC
// matches.
func decodeHeader(frame []byte, want CommandID) (Header, error) {
	if len(frame) < HeaderSize {
		return Header{}, ErrShortFrame
	}
	h := getHeader(frame)
	if h.CmdID != want {
		return Header{}, &BadCmdIDError{Want: want, Got: h.CmdID}
	}
	if int(h.PayloadSize) > len(frame) {
		return Header{}, ErrShortFrame
	}
	got := crcOverFrame(frame, int(h.PayloadSize))
	if got != h.CRC32 {
		return Header{}, &BadCrcError{Want: got, Got: h.CRC32}
	}
	return h, nil
}

// PeekPayloadSize reads the payload_size field out of a raw header buffer
// without validating command id or CRC — used by readers that must learn
// a frame's total length before they can read the rest of it (the engine's
// Version reads a RESPONSE this way).
func PeekPayloadSize(header []byte) (uint32, error) {
	if len(header) < 4 {
		return 0, ErrShortFrame
	}
	return binary.LittleEndian.Uint32(header[0:4]), nil
}

// --- VER --------------------------------------------------------------

// EncodeVersion builds the 9-byte VER command frame.
func EncodeVersion() []byte {
	buf := make([]byte, VerFrameSize)
	return stampAndEncode(buf, VerFrameSize, CmdVersion)
}

// --- ENTER_CMD_MODE / JUMP_TO_APP (identical shape: header + key) ------

// EncodeEnterCmdMode builds the 13-byte ENTER_CMD_MODE command frame.
func EncodeEnterCmdMode(key uint32) []byte {
	return encodeKeyedFrame(CmdEnterCmdMode, key)
}

// EncodeJumpToApp builds the 13-byte JUMP_TO_APP command frame.
func EncodeJumpToApp(key uint32) []byte {
	return encodeKeyedFrame(CmdJumpToApp, key)
}

func encodeKeyedFrame(cmd CommandID, key uint32) []byte {
	buf := make([]byte, HeaderSize+4)
	binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], key)
	return stampAndEncode(buf, HeaderSize+4, cmd)
}

// --- GOTO_ADDR ----------------------------------------------------------

// EncodeGotoAddr builds the 13-byte GOTO_ADDR command frame.
func EncodeGotoAddr(address uint32) []byte {
	return encodeKeyedFrame(CmdGotoAddr, address)
}

// --- MEM_WRITE (command frame; data streams separately as DATA_PACKET) --

// EncodeMemWrite builds the 13-byte MEM_WRITE command frame.
func EncodeMemWrite(startAddress uint32) []byte {
	return encodeKeyedFrame(CmdMemWrite, startAddress)
}

// --- MEM_READ -----------------------------------------------------------

// EncodeMemRead builds the 17-byte MEM_READ command frame.
func EncodeMemRead(startAddr, length uint32) []byte {
	buf := make([]byte, MemReadFrameSize)
	binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], startAddr)
	binary.LittleEndian.PutUint32(buf[HeaderSize+4:HeaderSize+8], length)
	return stampAndEncode(buf, MemReadFrameSize, CmdMemRead)
}

// --- FLASH_ERASE ----------------------------------------------------------

// EncodeFlashErase builds the 17-byte FLASH_ERASE command frame.
func EncodeFlashErase(pageNumber, pageCount uint32) []byte {
	buf := make([]byte, FlashEraseFrameSize)
	binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], pageNumber)
	binary.LittleEndian.PutUint32(buf[HeaderSize+4:HeaderSize+8], pageCount)
	return stampAndEncode(buf, FlashEraseFrameSize, CmdFlashErase)
}

// --- DATA_PACKET ----------------------------------------------------------

// DataPacket is a decoded DATA_PACKET frame (spec.md §3).
type DataPacket struct {
	DataLen  uint32
	NextLen  uint32
	EndFlag  bool
	Data     []byte // DataLen bytes
}

// EncodeDataPacket builds a DATA_PACKET frame carrying data (at most
// DataBlockSize bytes). nextLen is the full frame length of the next
// packet (0 if this is the last); endFlag marks the final packet of the
// stream (spec.md §3 invariants 3 and 4).
func EncodeDataPacket(data []byte, nextLen uint32, endFlag bool) []byte {
	if len(data) > DataBlockSize {
		panic("protocol: data packet payload exceeds DataBlockSize")
	}
	n := DataPacketFrameSize(len(data))
	buf := make([]byte, n)
	binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], uint32(len(data)))
	binary.LittleEndian.PutUint32(buf[HeaderSize+4:HeaderSize+8], nextLen)
	if endFlag {
		buf[HeaderSize+8] = 1
	}
	copy(buf[HeaderSize+DataPacketMetaSize:], data)
	return stampAndEncode(buf, n, CmdDataPacket)
}

// DecodeDataPacketHeaderOnly validates and decodes the fixed-size metadata
// portion of a DATA_PACKET frame (header + data_len + next_len +
// end_flag), without requiring the data block to be present yet. Callers
// read HeaderSize+DataPacketMetaSize bytes first, call this to learn
// DataLen, then read the remaining DataLen bytes before calling
// DecodeDataPacket on the full frame (spec.md §4.7 MemRead step 1-2).
func DecodeDataPacketHeaderOnly(frame []byte) (dataLen int, err error) {
	if len(frame) < HeaderSize+DataPacketMetaSize {
		return 0, ErrShortFrame
	}
	h := getHeader(frame)
	if h.CmdID != CmdDataPacket {
		return 0, &BadCmdIDError{Want: CmdDataPacket, Got: h.CmdID}
	}
	dl := binary.LittleEndian.Uint32(frame[HeaderSize : HeaderSize+4])
	if dl > DataBlockSize {
		return 0, ErrFieldOutOfRange
	}
	return int(dl), nil
}

// DecodeDataPacket validates the CRC over the complete frame and returns
// the decoded packet.
func DecodeDataPacket(frame []byte) (DataPacket, error) {
	h, err := decodeHeader(frame, CmdDataPacket)
	if err != nil {
		return DataPacket{}, err
	}
	dataLen := binary.LittleEndian.Uint32(frame[HeaderSize : HeaderSize+4])
	nextLen := binary.LittleEndian.Uint32(frame[HeaderSize+4 : HeaderSize+8])
	endFlag := frame[HeaderSize+8] == 1
	if int(dataLen) > DataBlockSize || HeaderSize+DataPacketMetaSize+int(dataLen) > int(h.PayloadSize) {
		return DataPacket{}, ErrFieldOutOfRange
	}
	data := make([]byte, dataLen)
	copy(data, frame[HeaderSize+DataPacketMetaSize:HeaderSize+DataPacketMetaSize+int(dataLen)])
	return DataPacket{DataLen: dataLen, NextLen: nextLen, EndFlag: endFlag, Data: data}, nil
}

// --- RESPONSE -------------------------------------------------------------

// Response is a decoded RESPONSE frame (spec.md §4.7 Version).
type Response struct {
	Payload [ResponsePayloadSize]byte
}

// EncodeResponse builds a 17-byte RESPONSE frame carrying payload. The
// host side never constructs these — only the target does — but the
// codec is symmetric so test fakes can build well-formed frames without
// reaching into package internals.
func EncodeResponse(payload [ResponsePayloadSize]byte) []byte {
	buf := make([]byte, ResponseFrameSize)
	copy(buf[HeaderSize:], payload[:])
	return stampAndEncode(buf, ResponseFrameSize, CmdResponse)
}

// DecodeResponse validates the CRC over the full 17-byte RESPONSE frame
// and returns the 8-byte payload.
func DecodeResponse(frame []byte) (Response, error) {
	if len(frame) < ResponseFrameSize {
		return Response{}, ErrShortFrame
	}
	if _, err := decodeHeader(frame[:ResponseFrameSize], CmdResponse); err != nil {
		return Response{}, err
	}
	var r Response
	copy(r.Payload[:], frame[HeaderSize:ResponseFrameSize])
	return r, nil
}

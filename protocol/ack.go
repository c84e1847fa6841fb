package protocol

// Ack is the 3-byte acknowledgement token (spec.md §3, §4.5). It has no
// header and no CRC: its fixed size and fixed leading byte are enough to
// frame it, and the cost of a spurious ACK is a single retry rather than
// silent corruption.
type Ack struct {
	OK    bool
	Field byte
}

// EncodeAck builds the raw 3-byte ACK/NACK token.
func EncodeAck(a Ack) [AckFrameSize]byte {
	var buf [AckFrameSize]byte
	buf[0] = byte(CmdAck)
	if a.OK {
		buf[1] = 1
	}
	buf[2] = a.Field
	return buf
}

// DecodeAck parses a 3-byte window as an ACK token. The first byte must
// be CmdAck; otherwise the caller has drifted out of frame alignment.
func DecodeAck(buf []byte) (Ack, error) {
	if len(buf) < AckFrameSize {
		return Ack{}, ErrShortFrame
	}
	if CommandID(buf[0]) != CmdAck {
		return Ack{}, &BadCmdIDError{Want: CmdAck, Got: CommandID(buf[0])}
	}
	return Ack{OK: buf[1] == 1, Field: buf[2]}, nil
}

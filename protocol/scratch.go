package protocol

// ScratchBuffer is a fixed-capacity, reusable byte buffer sized to hold
// the largest frame on the wire (DATA_PACKET at its maximum, 274 bytes).
// The engine owns one instance and reuses it across operations so no
// heap allocation is required per frame (spec.md §5), mirroring the
// teacher's ScratchOutput/FifoBuffer pattern (protocol/buffers.go in the
// Klipper host implementation this repo is adapted from).
type ScratchBuffer struct {
	buf [DataPacketMaxFrameSize]byte
}

// Bytes returns the first n bytes of the scratch buffer as a slice. The
// returned slice aliases the buffer and is only valid until the next
// call that writes into it.
func (s *ScratchBuffer) Bytes(n int) []byte {
	if n > len(s.buf) {
		n = len(s.buf)
	}
	return s.buf[:n]
}

// Cap returns the buffer's fixed capacity.
func (s *ScratchBuffer) Cap() int {
	return len(s.buf)
}

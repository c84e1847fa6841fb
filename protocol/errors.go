package protocol

import (
	"errors"
	"fmt"
)

// Sentinel decode/transport errors. Callers should use errors.Is against
// these; the richer error types below (BadCrcError, BadCmdIDError) wrap
// them so both errors.Is and field inspection work.
var (
	ErrShortFrame      = errors.New("protocol: short frame")
	ErrBadCmdID        = errors.New("protocol: unexpected command id")
	ErrBadCrc          = errors.New("protocol: crc mismatch")
	ErrFieldOutOfRange = errors.New("protocol: field out of range")
)

// BadCrcError carries the computed and on-wire CRC values for diagnostics.
type BadCrcError struct {
	Want uint32 // computed
	Got  uint32 // as read from the frame
}

func (e *BadCrcError) Error() string {
	return fmt.Sprintf("protocol: crc mismatch: frame says 0x%08X, computed 0x%08X", e.Got, e.Want)
}

func (e *BadCrcError) Unwrap() error { return ErrBadCrc }

// BadCmdIDError carries the expected and observed command ids.
type BadCmdIDError struct {
	Want CommandID
	Got  CommandID
}

func (e *BadCmdIDError) Error() string {
	return fmt.Sprintf("protocol: expected cmd_id %s (0x%02X), got %s (0x%02X)", e.Want, byte(e.Want), e.Got, byte(e.Got))
}

func (e *BadCmdIDError) Unwrap() error { return ErrBadCmdID }

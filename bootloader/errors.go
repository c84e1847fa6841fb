package bootloader

import (
	"errors"
	"fmt"
)

// Sentinel errors for the taxonomy in spec.md §7 that don't already have
// a natural home in package protocol.
var (
	ErrTooManyRetries = errors.New("bootloader: too many retries")
	ErrInvalidInput   = errors.New("bootloader: invalid input")
)

// NackError is returned when the peer responds ack=0. Field carries the
// NACK reason byte (0xFF would mean success, so it never appears here).
type NackError struct {
	Field byte
}

func (e *NackError) Error() string {
	return fmt.Sprintf("bootloader: nack (field=0x%02X)", e.Field)
}

// TooManyRetriesError is returned when a DATA_PACKET exhausts its retry
// budget during MemWrite (spec.md §4.7, §7).
type TooManyRetriesError struct {
	LastNackField byte
}

func (e *TooManyRetriesError) Error() string {
	return fmt.Sprintf("bootloader: too many retries (last nack field=0x%02X)", e.LastNackField)
}

func (e *TooManyRetriesError) Unwrap() error { return ErrTooManyRetries }

// Package serial provides the production protocol.Transport implementation
// over a real UART/USB-CDC device, adapted from the teacher's
// host/serial package (itself a thin wrapper over github.com/tarm/serial).
package serial

import "time"

// Config holds serial port configuration.
type Config struct {
	// Device is the OS device path (e.g. "/dev/ttyACM0", "COM3").
	Device string

	// Baud is the line rate. USB CDC bootloaders usually ignore it, but
	// physical UART bridges need a real value.
	Baud int

	// ReadTimeout is the default per-read deadline used when a caller of
	// Transport.ReadExact passes a deadline of zero or less.
	ReadTimeout time.Duration
}

// DefaultConfig returns sane defaults for talking to the bootloader: a
// generous baud rate and a 500ms default read timeout. The engine's sync
// handshake passes its own per-attempt deadline and does not use this one.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 500 * time.Millisecond,
	}
}

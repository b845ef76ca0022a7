// Package serial provides a go.bug.st/serial-backed implementation of
// both the host's writer.Transport and the device's router.Transport,
// plus a port-enumeration helper for the demo CLI binaries. Grounded
// directly on internal/port/port.go, which wraps go.bug.st/serial
// behind the same Open/Close/Read/Write/SetReadTimeout/ListPorts/
// GetPortDetails surface; this package keeps that surface (except that
// the read timeout is applied inside Open rather than through a
// separate SetReadTimeout method) and adapts
// it into the two narrower interfaces hudlink's host and device
// halves actually depend on, instead of exposing the whole SerialPort
// grab-bag to callers that only need one side of it.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Config mirrors internal/port/port.go's SerialConfig.
type Config struct {
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
	Timeout  time.Duration
}

// DefaultConfig returns sane defaults for a USB CDC-ACM link between
// the host and the HUD device.
func DefaultConfig() Config {
	return Config{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		Timeout:  100 * time.Millisecond,
	}
}

// Port is a single open serial connection. It satisfies both
// writer.Transport (Write/Flush/Close) and router.Transport
// (Available/Read) so the same concrete type can sit on either side
// of a loopback or real USB CDC link.
type Port struct {
	name string
	cfg  Config
	port serial.Port
}

// Open opens portName with cfg (spec.md §6's abstract transport,
// concretely backed by go.bug.st/serial as in internal/port/port.go's
// GNSSSerialPort.Open).
func Open(portName string, cfg Config) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
	}

	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", portName, err)
	}

	if cfg.Timeout > 0 {
		if err := p.SetReadTimeout(cfg.Timeout); err != nil {
			p.Close()
			return nil, fmt.Errorf("serial: set read timeout on %s: %w", portName, err)
		}
	}

	return &Port{name: portName, cfg: cfg, port: p}, nil
}

// Write implements writer.Transport.
func (p *Port) Write(data []byte) error {
	_, err := p.port.Write(data)
	if err != nil {
		return fmt.Errorf("serial: write %s: %w", p.name, err)
	}
	return nil
}

// Flush is a no-op for go.bug.st/serial, which writes synchronously;
// present to satisfy writer.Transport.
func (p *Port) Flush() error { return nil }

// Close implements writer.Transport and releases the OS handle.
func (p *Port) Close() error {
	if err := p.port.Close(); err != nil {
		return fmt.Errorf("serial: close %s: %w", p.name, err)
	}
	return nil
}

// Available reports how many bytes the device-side router can read
// without blocking. go.bug.st/serial exposes no byte-count query, so
// this always returns 1: router.Run then always attempts a Read, and
// the read timeout set in Open bounds how long that Read blocks.
func (p *Port) Available() int {
	return 1
}

// Read implements router.Transport.
func (p *Port) Read(buf []byte, max int) (int, error) {
	if max < len(buf) {
		buf = buf[:max]
	}
	n, err := p.port.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read %s: %w", p.name, err)
	}
	return n, nil
}

// ListPorts returns the names of all detected serial ports (SPEC_FULL.md
// §C's port-enumeration helper), mirroring internal/port/port.go's
// SerialPort.ListPorts.
func ListPorts() ([]string, error) {
	details, err := GetPortDetails()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(details))
	for _, d := range details {
		names = append(names, d.Name)
	}
	return names, nil
}

// GetPortDetails returns the full detected-port detail list, useful
// for a CLI operator picking a USB CDC device by VID/PID.
func GetPortDetails() ([]*enumerator.PortDetails, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: enumerate ports: %w", err)
	}
	return details, nil
}

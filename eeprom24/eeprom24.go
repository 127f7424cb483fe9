// Package eeprom24 drives 24Cxx-class serial EEPROMs (24C01 through 24C16,
// the parts addressed with a single register byte) over any periph.io
// i2c.Bus, including this module's bit-banged bus.
//
// The device is presented as a seekable file: Read, Write and Seek maintain
// an internal position. Writes are split on the device's page boundaries
// and each page write is followed by acknowledge polling, so the caller
// never sees the device's internal write cycle.
package eeprom24

import (
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// Config describes one EEPROM geometry.
type Config struct {
	// Size is the total capacity in bytes.
	Size uint
	// PageSize is the write page size in bytes; must be a power of two.
	PageSize uint
	// WriteDelay is the worst-case internal write cycle time, used to
	// bound acknowledge polling.
	WriteDelay time.Duration
}

// Predefined geometries for common parts.
var (
	Conf24C02 = Config{Size: 256, PageSize: 8, WriteDelay: 5 * time.Millisecond}
	Conf24C04 = Config{Size: 512, PageSize: 16, WriteDelay: 5 * time.Millisecond}
	Conf24C08 = Config{Size: 1024, PageSize: 16, WriteDelay: 5 * time.Millisecond}
	Conf24C16 = Config{Size: 2048, PageSize: 16, WriteDelay: 5 * time.Millisecond}
)

// Dev is one EEPROM. Not safe for concurrent use.
type Dev struct {
	bus  i2c.Bus
	addr uint16
	cfg  Config
	pos  uint
}

// New creates a device at the given 7-bit base address. Parts larger than
// 256 bytes respond on a window of consecutive addresses (one per 256-byte
// block); addr is the lowest of them.
func New(bus i2c.Bus, addr uint16, cfg Config) (*Dev, error) {
	if addr > 0x7f {
		return nil, errors.New("eeprom24: invalid 7-bit address")
	}
	if cfg.PageSize == 0 || cfg.PageSize&(cfg.PageSize-1) != 0 {
		return nil, fmt.Errorf("eeprom24: page size %d is not a power of two", cfg.PageSize)
	}
	if cfg.Size == 0 || cfg.Size%cfg.PageSize != 0 {
		return nil, fmt.Errorf("eeprom24: size %d is not a multiple of the page size", cfg.Size)
	}

	return &Dev{bus: bus, addr: addr, cfg: cfg}, nil
}

// blockAddr returns the device address answering for position p.
func (d *Dev) blockAddr(p uint) uint16 {
	return d.addr + uint16(p>>8)
}

// Read implements io.Reader, returning io.EOF at the end of the array.
func (d *Dev) Read(b []byte) (int, error) {
	if d.pos >= d.cfg.Size {
		return 0, io.EOF
	}

	n := uint(len(b))
	if d.pos+n > d.cfg.Size {
		n = d.cfg.Size - d.pos
	}
	if n == 0 {
		return 0, nil
	}

	// A read may span block boundaries but not device addresses, so chunk
	// per 256-byte block.
	read := uint(0)
	for read < n {
		chunk := 256 - (d.pos & 0xff)
		if chunk > n-read {
			chunk = n - read
		}

		reg := [1]byte{byte(d.pos & 0xff)}
		if err := d.bus.Tx(d.blockAddr(d.pos), reg[:], b[read:read+chunk]); err != nil {
			return int(read), err
		}

		d.pos += chunk
		read += chunk
	}

	if d.pos >= d.cfg.Size && read < uint(len(b)) {
		return int(read), io.EOF
	}
	return int(read), nil
}

// Write implements io.Writer. Writing past the end of the array returns
// io.EOF with the count that fit.
func (d *Dev) Write(b []byte) (int, error) {
	written := 0

	for len(b) > 0 && d.pos < d.cfg.Size {
		// Bytes remaining in the current page; a page write that runs
		// past the boundary wraps inside the page on the device.
		room := d.cfg.PageSize - (d.pos & (d.cfg.PageSize - 1))
		chunk := uint(len(b))
		if chunk > room {
			chunk = room
		}

		addr := d.blockAddr(d.pos)
		tx := make([]byte, 1+chunk)
		tx[0] = byte(d.pos & 0xff)
		copy(tx[1:], b[:chunk])

		if err := d.bus.Tx(addr, tx, nil); err != nil {
			return written, err
		}
		if err := d.waitReady(addr); err != nil {
			return written, err
		}

		d.pos += chunk
		written += int(chunk)
		b = b[chunk:]
	}

	if len(b) > 0 {
		return written, io.EOF
	}
	return written, nil
}

// waitReady polls the device until it acknowledges again after a write
// cycle. The device NACKs its own address while the cycle is in progress.
func (d *Dev) waitReady(addr uint16) error {
	deadline := time.Now().Add(4 * d.cfg.WriteDelay)

	var err error
	for {
		var probe [1]byte
		if err = d.bus.Tx(addr, nil, probe[:]); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("eeprom24: device busy after write: %w", err)
		}
		time.Sleep(d.cfg.WriteDelay / 8)
	}
}

// Seek implements io.Seeker.
func (d *Dev) Seek(offset int64, whence int) (int64, error) {
	var np int64
	switch whence {
	case io.SeekStart:
		np = offset
	case io.SeekCurrent:
		np = int64(d.pos) + offset
	case io.SeekEnd:
		np = int64(d.cfg.Size) + offset
	default:
		return int64(d.pos), errors.New("eeprom24: invalid whence")
	}

	if np < 0 {
		return int64(d.pos), errors.New("eeprom24: negative position")
	}
	if np > int64(d.cfg.Size) {
		return int64(d.pos), errors.New("eeprom24: position beyond end of array")
	}

	d.pos = uint(np)
	return np, nil
}

var _ io.ReadWriteSeeker = &Dev{}

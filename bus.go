package softi2c

import (
	"encoding/hex"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// LogFunc receives optional trace output from a Bus.
type LogFunc func(format string, params ...interface{})

// Bus exposes the bit-bang engine as a periph.io i2c.Bus, so anything
// written against that interface (device drivers, i2c.Dev) runs on two GPIO
// lines.
type Bus struct {
	m   *Master
	src *TickerSource
	scl gpio.PinIO
	sda gpio.PinIO

	logFunc LogFunc
}

// NewBus creates a bus on two periph.io pins and runs the initial stop
// sequence that establishes an idle bus.
func NewBus(name string, scl, sda gpio.PinIO, f physic.Frequency) *Bus {
	b := NewBusLines(name, PinLine{Pin: scl}, PinLine{Pin: sda}, f)
	b.scl = scl
	b.sda = sda
	return b
}

// NewBusLines is NewBus over raw Lines, for backends that are not periph.io
// pins (see the hidgpio package).
func NewBusLines(name string, scl, sda Line, f physic.Frequency) *Bus {
	src := NewTickerSource(f)
	m := New(name, sda, scl, src.Enable, src.Disable)
	src.Attach(m.Tick)
	src.Enable()
	return &Bus{m: m, src: src}
}

// Open resolves two GPIO lines by name and creates a bus on them. It
// initializes the periph host drivers, so it can be called directly from a
// program's main.
func Open(name, sclName, sdaName string, f physic.Frequency) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("softi2c: could not init host: %v", err)
	}

	scl := gpioreg.ByName(sclName)
	if scl == nil {
		return nil, fmt.Errorf("softi2c: SCL pin %q not found", sclName)
	}
	sda := gpioreg.ByName(sdaName)
	if sda == nil {
		return nil, fmt.Errorf("softi2c: SDA pin %q not found", sdaName)
	}

	return NewBus(name, scl, sda, f), nil
}

// SetLog installs a trace logger for transfers. Pass nil to disable.
func (b *Bus) SetLog(logFunc LogFunc) {
	b.logFunc = logFunc
}

func (b *Bus) log(format string, params ...interface{}) {
	if b.logFunc != nil {
		b.logFunc(" * "+format, params...)
	}
}

func (b *Bus) String() string {
	return fmt.Sprintf("softi2c(%s)", b.m.Name())
}

// Tx implements i2c.Bus: write w to the device, then read into r. When both
// segments are present no stop is issued in between, so the read begins
// with a repeated start on the wire. A NACK anywhere surfaces as an error
// wrapping ErrNACK.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7f {
		return ErrBadAddress
	}
	if len(w) == 0 && len(r) == 0 {
		// The engine cannot clock a zero-length message; probe with a
		// one byte read instead.
		return ErrZeroLength
	}

	if len(w) > 0 {
		msg := Message{Addr: addr, Buf: w}
		n, err := b.m.Transfer(&msg, len(r) == 0)
		if err != nil {
			return fmt.Errorf("softi2c: wrote %d of %d bytes: %w", n, len(w), err)
		}
		b.log("Wrote 0x%02x: %s", addr, hex.EncodeToString(w))
	}

	if len(r) > 0 {
		msg := Message{Addr: addr, Read: true, Buf: r}
		n, err := b.m.Transfer(&msg, true)
		if err != nil {
			return fmt.Errorf("softi2c: read %d of %d bytes: %w", n, len(r), err)
		}
		b.log("Read  0x%02x: %s", addr, hex.EncodeToString(r))
	}

	return nil
}

// SetSpeed implements i2c.Bus. Bit-banging has no lower speed limit but
// ticker resolution makes anything above 1MHz meaningless.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	if f < 100*physic.Hertz || f > physic.MegaHertz {
		return fmt.Errorf("softi2c: invalid speed %s; supported range is 100Hz-1MHz", f)
	}
	b.src.SetFrequency(f)
	return nil
}

// Close implements i2c.BusCloser. The lines are left released.
func (b *Bus) Close() error {
	b.src.Disable()
	return nil
}

// SCL implements i2c.Pins. Returns gpio.INVALID for a line-based bus.
func (b *Bus) SCL() gpio.PinIO {
	if b.scl == nil {
		return gpio.INVALID
	}
	return b.scl
}

// SDA implements i2c.Pins.
func (b *Bus) SDA() gpio.PinIO {
	if b.sda == nil {
		return gpio.INVALID
	}
	return b.sda
}

var _ i2c.BusCloser = &Bus{}
var _ i2c.Pins = &Bus{}

// Package hidgpio exposes the GP pins of a Microchip MCP2221A USB adapter
// as softi2c.Line instances, so a bus can be bit-banged from a plain PC
// over USB HID. This is useful for slaves the MCP2221A's own I2C engine
// cannot talk to, such as devices that stretch the clock across a whole
// conversion.
//
// The pins must be left in their power-up GPIO operation mode; pins
// reconfigured for dedicated or alternate functions report an error.
// Every line operation is one USB HID transaction, so expect a bus in the
// tens of hertz: set the tick source frequency accordingly.
//
// Datasheet: http://ww1.microchip.com/downloads/en/devicedoc/20005565b.pdf
package hidgpio

import (
	"errors"
	"fmt"
	"sync"

	usb "github.com/karalabe/hid"

	"github.com/lowsidelabs/softi2c"
)

// VID and PID are the identifiers the MCP2221A enumerates with.
const (
	VID = 0x04D8
	PID = 0x00DD
)

// All command and response messages are 64 bytes.
const msgSize = 64

const (
	cmdGPIOSet byte = 0x50
	cmdGPIOGet byte = 0x51

	dirOutput byte = 0x00
	dirInput  byte = 0x01

	// PinCount is the number of GP pins on the chip.
	PinCount byte = 4
)

// Device is an open MCP2221A.
type Device struct {
	mu  sync.Mutex
	dev *usb.Device
}

// Open claims the first attached MCP2221A whose serial number matches, or
// the first one found if serial is empty.
func Open(serial string) (*Device, error) {
	for _, info := range usb.Enumerate(VID, PID) {
		if serial != "" && info.Serial != serial {
			continue
		}

		dev, err := info.Open()
		if err != nil {
			return nil, err
		}

		return &Device{dev: dev}, nil
	}

	return nil, errors.New("hidgpio: no MCP2221A found")
}

// Close releases the USB HID device.
func (d *Device) Close() error {
	return d.dev.Close()
}

// send transmits one command message and returns the validated response.
// Caller must hold d.mu.
func (d *Device) send(cmd byte, msg []byte) ([]byte, error) {
	msg[0] = cmd
	if _, err := d.dev.Write(msg); err != nil {
		return nil, fmt.Errorf("write [cmd=0x%02X]: %v", cmd, err)
	}

	rsp := make([]byte, msgSize)
	n, err := d.dev.Read(rsp)
	if err != nil {
		return nil, fmt.Errorf("read [cmd=0x%02X]: %v", cmd, err)
	}
	if n < msgSize {
		return rsp, fmt.Errorf("read [cmd=0x%02X]: short read (%d of %d bytes)", cmd, n, msgSize)
	}
	if rsp[0] != cmd || rsp[1] != 0x00 {
		return rsp, fmt.Errorf("command 0x%02X failed", cmd)
	}

	return rsp, nil
}

// drive sets one pin's direction and, for outputs, its value. The set
// command carries four alter/value byte pairs per pin; untouched pins keep
// their configuration.
func (d *Device) drive(pin byte, dir byte, val byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	msg := make([]byte, msgSize)
	i := 2 + 4*pin
	if dir == dirOutput {
		msg[i+0] = 0xFF // alter output value
		msg[i+1] = val
	}
	msg[i+2] = 0xFF // alter direction
	msg[i+3] = dir

	_, err := d.send(cmdGPIOSet, msg)
	return err
}

// get reads one pin's current level.
func (d *Device) get(pin byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rsp, err := d.send(cmdGPIOGet, make([]byte, msgSize))
	if err != nil {
		return false, err
	}

	i := 2 + 2*pin
	if rsp[i] == 0xEE {
		return false, fmt.Errorf("hidgpio: pin %d not in GPIO mode", pin)
	}

	return rsp[i] != 0, nil
}

// Pin is a single GP pin presented as a softi2c.Line. The Line methods are
// error-free by contract; USB transport failures latch on the pin and can
// be collected with Err after a transfer. A failed DriveLow or Release
// leaves the pin as an input, which on an I2C bus reads as a released line.
type Pin struct {
	d   *Device
	pin byte

	mu  sync.Mutex
	err error
}

// Pin returns a handle for GP pin n (0..3).
func (d *Device) Pin(n byte) (*Pin, error) {
	if n >= PinCount {
		return nil, fmt.Errorf("hidgpio: invalid GP pin: %d", n)
	}
	return &Pin{d: d, pin: n}, nil
}

func (p *Pin) setErr(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// Err returns and clears the first transport error latched since the last
// call.
func (p *Pin) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.err
	p.err = nil
	return err
}

// DriveLow implements softi2c.Line.
func (p *Pin) DriveLow() {
	p.setErr(p.d.drive(p.pin, dirOutput, 0))
}

// Release implements softi2c.Line.
func (p *Pin) Release() {
	p.setErr(p.d.drive(p.pin, dirInput, 0))
}

// Read implements softi2c.Line.
func (p *Pin) Read() bool {
	v, err := p.d.get(p.pin)
	p.setErr(err)
	return v
}

var _ softi2c.Line = &Pin{}

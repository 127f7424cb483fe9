package softi2c

import "periph.io/x/conn/v3/gpio"

// Line is one open-drain bus line (SDA or SCL). Nobody ever drives the line
// high: DriveLow pulls it to ground and Release lets the pull-up float it
// back up, so a slave can hold the line low at any time. Implementations
// must not block and must not return errors; backends with a fallible
// transport (see hidgpio) latch failures on the side.
type Line interface {
	// DriveLow configures the line as an output and pulls it low.
	DriveLow()
	// Release configures the line as an input; the pull-up reads high
	// unless somebody else is driving the line.
	Release()
	// Read reports the current level, true meaning high.
	Read() bool
}

// PinLine adapts a periph.io pin into a Line by emulating open drain: the
// pin is switched to an input with pull-up to release it, and driven low as
// an output. Pin errors are ignored - on the platforms this runs on a failed
// direction switch means the pin handle itself is unusable, which shows up
// immediately as a dead bus.
type PinLine struct {
	Pin gpio.PinIO
}

func (l PinLine) DriveLow() {
	_ = l.Pin.Out(gpio.Low)
}

func (l PinLine) Release() {
	_ = l.Pin.In(gpio.PullUp, gpio.NoEdge)
}

func (l PinLine) Read() bool {
	return l.Pin.Read() == gpio.High
}

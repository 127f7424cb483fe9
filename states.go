package softi2c

// state is the high-level transaction state. It also acts as the tag that
// selects which low-level step sequence is live: only the step field
// matching the current state means anything, and every transition re-arms
// the incoming sequence at its first step.
type state uint8

const (
	stateStart state = iota
	stateAddress
	stateDataTx
	stateDataRx
	stateStop
)

// startStep walks the start condition: float SDA, float SCL, then pull SDA
// low while SCL is high.
type startStep uint8

const (
	startSDAHigh startStep = iota
	startSCLHigh
	startSDALow
)

// next returns the following step, or done after the last one.
func (s startStep) next() (startStep, bool) {
	if s >= startSDALow {
		return s, true
	}
	return s + 1, false
}

// stopStep mirrors startStep: pull SDA low, float SCL, then float SDA while
// SCL is high.
type stopStep uint8

const (
	stopSDALow stopStep = iota
	stopSCLHigh
	stopSDAHigh
)

func (s stopStep) next() (stopStep, bool) {
	if s >= stopSDAHigh {
		return s, true
	}
	return s + 1, false
}

// txStep clocks one byte out, MSB first, and samples the acknowledge slot.
// Steps 0..15 alternate between presenting a data bit with SCL low (even
// steps) and raising SCL so the slave samples it (odd steps); the step
// number therefore encodes the bit: mask = 0x80 >> (step / 2). Steps 16..18
// run the ninth clock for the slave's (N)ACK.
type txStep uint8

const (
	txFirstBit   txStep = 0
	txAckRelease txStep = 16 // SCL low, hand SDA to the slave
	txAckClock   txStep = 17 // raise SCL
	txAckSample  txStep = 18 // wait out stretching, sample ACK, drop SCL
)

func (s txStep) next() (txStep, bool) {
	if s >= txAckSample {
		return s, true
	}
	return s + 1, false
}

// rxStep clocks one byte in. Steps 0..15 alternate between raising SCL
// (even steps) and sampling SDA then dropping SCL (odd steps); the master
// drives its ACK or leaves SDA floating for a NACK on the last bit's low
// phase. Steps 16..17 run the acknowledge clock.
type rxStep uint8

const (
	rxFirstBit   rxStep = 0
	rxLastBitEnd rxStep = 15 // sample of bit 0, where the (N)ACK is armed
	rxAckClock   rxStep = 16
	rxAckFinish  rxStep = 17
)

func (s rxStep) next() (rxStep, bool) {
	if s >= rxAckFinish {
		return s, true
	}
	return s + 1, false
}

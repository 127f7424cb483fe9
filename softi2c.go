// Package softi2c implements a bit-banged (software) I2C master for systems
// without a hardware I2C peripheral, or that need an extra bus on spare GPIO
// lines.
//
// The engine is driven by a periodic tick at one half the desired bus clock
// period: for a 100kHz bus, Tick must be called once every 5 microseconds.
// Each tick performs exactly one line transition or sample, so all bus
// timing (data stable while SCL is high, sampling on the rising edge,
// honoring slave clock stretching) falls out of the tick cadence. On a
// microcontroller the tick is a timer interrupt; on hosted platforms
// TickerSource provides a goroutine-driven equivalent, and Bus wraps the
// whole thing in a periph.io i2c.Bus.
package softi2c

import "sync"

// Message describes one transaction: a single write to, or read from, a
// 7-bit slave address. The buffer is borrowed for the duration of the
// transfer and is the source (write) or destination (read) of the data.
type Message struct {
	Addr uint16 // 7-bit slave address
	Read bool   // true to read from the slave into Buf
	Buf  []byte // must hold at least one byte
}

// Master is the bit-bang engine for one bus. The calling task side
// (Transfer) and the tick side (Tick) never run at the same time: the task
// owns all transfer state until it enables ticking, the tick context owns it
// until it disables ticking and signals the wake channel.
type Master struct {
	mu sync.Mutex // serializes Transfer callers

	name        string
	sda         Line
	scl         Line
	enableTick  func()
	disableTick func()

	// wake carries the completion signal from the tick context to the
	// blocked task. Capacity 1 so the tick side can post without
	// blocking.
	wake  chan struct{}
	ready bool // initial stop sequence consumed (task side only)

	// Transfer state, owned by the tick context while ticking is enabled.
	msg       *Message
	count     int
	err       error
	issueStop bool
	stretched bool

	state    state
	subStart startStep
	subStop  stopStep
	subTx    txStep
	subRx    rxStep
}

// New creates a master on the two given lines. The tick callbacks control
// the periodic half-bit tick source; once enabled, the environment must call
// Tick at a fixed cadence until the engine disables it again.
//
// New releases SDA and drives SCL low, and arms a stop sequence that walks
// the bus to a known idle state. The caller must enable the tick source
// once after construction to run it; the first Transfer blocks until it has
// completed.
func New(name string, sda, scl Line, enableTick, disableTick func()) *Master {
	m := &Master{
		name:        name,
		sda:         sda,
		scl:         scl,
		enableTick:  enableTick,
		disableTick: disableTick,
		wake:        make(chan struct{}, 1),
		state:       stateStop,
		subStop:     stopSDALow,
	}
	sda.Release()
	scl.DriveLow()
	return m
}

// Name returns the device identifier given to New.
func (m *Master) Name() string {
	return m.name
}

// Transfer performs one message transfer and blocks until it completes. It
// returns the number of bytes that went through. A slave NACK surfaces as
// ErrNACK with the count of bytes acknowledged before it; on a failed write
// the engine has already issued a stop so the bus is idle, on a failed read
// it has not (the caller owns recovery, see Tick).
//
// With issueStop false the bus is left mid-transaction after the last data
// byte; the next Transfer then begins with a repeated start. Only one
// goroutine may be inside Transfer at a time; concurrent callers queue on an
// internal mutex.
//
// There is no timeout: a slave stretching the clock forever blocks the
// caller forever. Bound that externally if the hardware is untrusted.
func (m *Master) Transfer(msg *Message, issueStop bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		// Wait for the initial stop sequence armed by New.
		<-m.wake
		m.ready = true
	}
	if len(msg.Buf) == 0 {
		return 0, ErrZeroLength
	}
	if msg.Addr > 0x7f {
		return 0, ErrBadAddress
	}

	m.msg = msg
	m.count = 0
	m.err = nil
	m.issueStop = issueStop
	m.state = stateStart
	m.subStart = startSDAHigh

	m.enableTick()
	<-m.wake

	m.msg = nil
	return m.count, m.err
}

// Tick advances the engine by one half-bit step. It must be invoked at a
// fixed cadence exactly while the tick source is enabled, from a single
// context, and must not be re-entered. It never allocates and never blocks,
// so it is safe to call from a timer interrupt handler.
func (m *Master) Tick() {
	done := false

	switch m.state {
	case stateStart:
		if m.tickStart() {
			m.state = stateAddress
			m.subTx = txFirstBit
		}

	case stateAddress:
		addr := byte(m.msg.Addr) << 1
		if m.msg.Read {
			addr |= 0x01
		}
		if m.tickTx(addr) {
			switch {
			case m.err != nil:
				// Address NACK. Issue a stop so the bus is
				// released before the transfer fails.
				m.state = stateStop
				m.subStop = stopSDALow
			case m.msg.Read:
				m.state = stateDataRx
				m.subRx = rxFirstBit
			default:
				m.state = stateDataTx
				m.subTx = txFirstBit
			}
		}

	case stateDataTx:
		if m.tickTx(m.msg.Buf[m.count]) {
			switch {
			case m.err != nil:
				m.state = stateStop
				m.subStop = stopSDALow
			default:
				m.count++
				if m.count >= len(m.msg.Buf) {
					if m.issueStop {
						m.state = stateStop
						m.subStop = stopSDALow
					} else {
						done = true
					}
				} else {
					m.subTx = txFirstBit
				}
			}
		}

	case stateDataRx:
		last := m.count+1 >= len(m.msg.Buf)
		if m.tickRx(&m.msg.Buf[m.count], last) {
			switch {
			case m.err != nil:
				// A failed read ends the transaction without a
				// stop; recovery differs per application, so it
				// is left to the caller.
				done = true
			case last:
				m.count++
				if m.issueStop {
					m.state = stateStop
					m.subStop = stopSDALow
				} else {
					done = true
				}
			default:
				m.count++
				m.subRx = rxFirstBit
			}
		}

	case stateStop:
		done = m.tickStop()
	}

	if done {
		m.disableTick()
		// Non-blocking post: the channel has capacity 1 and the only
		// receiver is the task blocked in Transfer (or, for the
		// initial stop, the first Transfer to come).
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}

func (m *Master) tickStart() bool {
	switch m.subStart {
	case startSDAHigh:
		m.sda.Release()
	case startSCLHigh:
		m.scl.Release()
	case startSDALow:
		// SDA falling while SCL is high is the start condition.
		m.sda.DriveLow()
	}
	var done bool
	m.subStart, done = m.subStart.next()
	return done
}

func (m *Master) tickStop() bool {
	switch m.subStop {
	case stopSDALow:
		m.sda.DriveLow()
	case stopSCLHigh:
		m.scl.Release()
	case stopSDAHigh:
		// SDA rising while SCL is high is the stop condition; the bus
		// is idle afterwards.
		m.sda.Release()
	}
	var done bool
	m.subStop, done = m.subStop.next()
	return done
}

// sclSettled deals with clock stretching on steps that expect SCL high. A
// slave pauses the master by holding SCL low; the step must then repeat
// without advancing. Once the line is released, one extra tick passes
// before the master acts on the bus again, giving the line time to settle.
// Returns true when it is safe to sample or drive.
func (m *Master) sclSettled() bool {
	if !m.scl.Read() {
		m.stretched = true
		return false
	}
	if m.stretched {
		m.stretched = false
		return false
	}
	return true
}

// tickTx runs one step of the byte-transmit sequence. Returns true when the
// byte and its acknowledge slot are finished; m.err is set if the slave did
// not acknowledge.
func (m *Master) tickTx(data byte) bool {
	switch {
	case m.subTx < txAckRelease && m.subTx&1 == 0:
		// Data may only change while SCL is low.
		m.scl.DriveLow()
		mask := byte(0x80) >> (m.subTx >> 1)
		if data&mask != 0 {
			m.sda.Release()
		} else {
			m.sda.DriveLow()
		}

	case m.subTx < txAckRelease:
		// The slave samples SDA on this rising edge.
		m.scl.Release()

	case m.subTx == txAckRelease:
		m.scl.DriveLow()
		m.sda.Release()

	case m.subTx == txAckClock:
		m.scl.Release()

	default: // txAckSample
		if !m.sclSettled() {
			return false
		}
		ack := !m.sda.Read()
		m.scl.DriveLow()
		if !ack {
			m.err = ErrNACK
		}
	}

	var done bool
	m.subTx, done = m.subTx.next()
	return done
}

// tickRx runs one step of the byte-receive sequence, shifting bits into
// *data MSB first. nack selects the master's answer in the acknowledge
// slot: low for all but the final byte of a message, released (NACK) on the
// final byte to tell the slave to stop driving.
func (m *Master) tickRx(data *byte, nack bool) bool {
	switch {
	case m.subRx < rxAckClock && m.subRx&1 == 0:
		if m.subRx == rxFirstBit {
			// Hand SDA to the slave before the first rising edge.
			m.sda.Release()
		}
		m.scl.Release()

	case m.subRx < rxAckClock:
		if !m.sclSettled() {
			return false
		}
		*data <<= 1
		if m.sda.Read() {
			*data |= 0x01
		}
		m.scl.DriveLow()
		if m.subRx == rxLastBitEnd && !nack {
			// Drive the ACK now that SCL is low. For a NACK, SDA
			// is already released.
			m.sda.DriveLow()
		}

	case m.subRx == rxAckClock:
		m.scl.Release()

	default: // rxAckFinish
		if !m.sclSettled() {
			return false
		}
		m.scl.DriveLow()
		m.sda.Release()
	}

	var done bool
	m.subRx, done = m.subRx.next()
	return done
}

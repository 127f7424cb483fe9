package softi2c

import (
	"sync"
	"sync/atomic"
)

// Test infrastructure: two open-drain lines, a byte-level simulated slave
// and a synchronous tick source. The slave is updated after every master
// tick and reacts to the line edges the master produced, so the engine is
// exercised exactly the way real hardware would see it.

// lineOp records one master-side operation for trace assertions.
type lineOp struct {
	line string // "SDA" or "SCL"
	kind string // "drive", "release", "read"
}

// testLine is an open-drain line: high unless the master or the slave
// drives it low.
type testLine struct {
	name      string
	h         *simHarness
	masterLow bool
	slaveLow  bool
}

func (l *testLine) level() bool {
	return !l.masterLow && !l.slaveLow
}

func (l *testLine) slaveSet(low bool) {
	l.slaveLow = low
}

func (l *testLine) DriveLow() {
	l.h.ops = append(l.h.ops, lineOp{l.name, "drive"})
	l.masterLow = true
}

func (l *testLine) Release() {
	l.h.ops = append(l.h.ops, lineOp{l.name, "release"})
	l.masterLow = false
}

func (l *testLine) Read() bool {
	l.h.ops = append(l.h.ops, lineOp{l.name, "read"})
	return l.level()
}

const (
	slaveIdle = iota
	slaveAddrPhase
	slaveWritePhase
	slaveReadPhase
)

// simSlave is a scripted 7-bit slave. It samples SDA on every rising clock
// edge, acknowledges bytes while present, serves readData on read
// transactions and can stretch the clock in acknowledge slots.
type simSlave struct {
	h       *simHarness
	addr    byte
	present bool

	readData    []byte
	readIdx     int
	stretchAck  int // ticks to hold SCL low in each acknowledge slot
	stretchRead int // ticks to hold SCL low before the first read data bit
	nackAfter   int // data bytes to accept before NACKing; -1 = all

	// Observations for assertions.
	addrBytes []byte // address bytes as seen on the wire (with R/W bit)
	written   []byte
	bits      []byte // SDA bits sampled at each rising clock edge
	acks      []bool // master's answer in read acknowledge slots
	starts    int
	stops     int

	mode        int
	bitCount    int
	cur         byte
	acked       bool
	rbit        int
	ackPending  bool
	lastAck     bool
	stretchLeft int
	prevSDA     bool
	prevSCL     bool
}

func (s *simSlave) update() {
	if s.stretchLeft > 0 {
		s.stretchLeft--
		if s.stretchLeft == 0 {
			s.h.scl.slaveSet(false)
		}
		s.prevSDA, s.prevSCL = s.h.sda.level(), s.h.scl.level()
		return
	}

	sda, scl := s.h.sda.level(), s.h.scl.level()

	switch {
	case scl && s.prevSCL && !sda && s.prevSDA:
		// SDA falling while SCL stays high: start (or repeated start).
		s.starts++
		s.mode = slaveAddrPhase
		s.bitCount = 0
		s.cur = 0
	case scl && s.prevSCL && sda && !s.prevSDA:
		// SDA rising while SCL stays high: stop.
		s.stops++
		s.mode = slaveIdle
	case scl && !s.prevSCL:
		s.onSCLRise(sda)
	case !scl && s.prevSCL:
		s.onSCLFall()
	}

	s.prevSDA, s.prevSCL = s.h.sda.level(), s.h.scl.level()
}

func (s *simSlave) onSCLRise(sda bool) {
	switch s.mode {
	case slaveAddrPhase, slaveWritePhase:
		if s.bitCount < 8 {
			s.cur <<= 1
			bit := byte(0)
			if sda {
				bit = 1
				s.cur |= 1
			}
			s.bits = append(s.bits, bit)
			s.bitCount++
		}
	case slaveReadPhase:
		if s.ackPending {
			s.lastAck = !sda
			s.acks = append(s.acks, s.lastAck)
			s.ackPending = false
		}
	}
}

func (s *simSlave) onSCLFall() {
	switch s.mode {
	case slaveAddrPhase, slaveWritePhase:
		if s.bitCount == 8 {
			// Byte complete; answer in the acknowledge slot while
			// SCL is low.
			s.bitCount = 9
			if s.mode == slaveAddrPhase {
				s.addrBytes = append(s.addrBytes, s.cur)
				s.acked = s.present && s.cur>>1 == s.addr
			} else {
				s.written = append(s.written, s.cur)
				s.acked = s.present &&
					(s.nackAfter < 0 || len(s.written) <= s.nackAfter)
			}
			if s.acked {
				s.h.sda.slaveSet(true)
			}
			if s.stretchAck > 0 {
				s.h.scl.slaveSet(true)
				s.stretchLeft = s.stretchAck
			}
		} else if s.bitCount == 9 {
			// The master sampled our answer on the previous high
			// phase; let go of SDA. The shift register must be
			// cleared before loadNext stages the first read byte
			// in it.
			s.h.sda.slaveSet(false)
			readBit := s.cur&1 != 0
			s.bitCount = 0
			s.cur = 0
			if !s.acked {
				s.mode = slaveIdle
			} else if s.mode == slaveAddrPhase {
				if readBit {
					s.mode = slaveReadPhase
					s.loadNext()
					if s.stretchRead > 0 {
						s.h.scl.slaveSet(true)
						s.stretchLeft = s.stretchRead
					}
				} else {
					s.mode = slaveWritePhase
				}
			}
		}
	case slaveReadPhase:
		switch {
		case s.rbit > 0:
			s.rbit--
			s.presentBit()
		case s.rbit == 0:
			// All eight bits clocked out; release SDA so the
			// master can answer.
			s.rbit = -1
			s.ackPending = true
			s.h.sda.slaveSet(false)
		case !s.ackPending:
			// Fall after the acknowledge clock.
			if s.lastAck {
				s.loadNext()
			} else {
				s.mode = slaveIdle
			}
		}
	}
}

func (s *simSlave) loadNext() {
	if s.readIdx < len(s.readData) {
		s.cur = s.readData[s.readIdx]
		s.readIdx++
	} else {
		s.cur = 0xff
	}
	s.rbit = 7
	s.presentBit()
}

func (s *simSlave) presentBit() {
	bit := s.cur >> uint(s.rbit) & 1
	s.h.sda.slaveSet(bit == 0)
}

// testTicker runs master ticks in a goroutine, interleaving a slave update
// after each one, until the engine disables it.
type testTicker struct {
	h       *simHarness
	enabled int32
	ticks   int
	wg      sync.WaitGroup
}

func (t *testTicker) Enable() {
	t.wg.Wait()
	atomic.StoreInt32(&t.enabled, 1)
	t.wg.Add(1)
	go t.run()
}

func (t *testTicker) Disable() {
	atomic.StoreInt32(&t.enabled, 0)
}

func (t *testTicker) run() {
	defer t.wg.Done()
	for atomic.LoadInt32(&t.enabled) == 1 {
		t.ticks++
		if t.ticks > 1000000 {
			panic("softi2c test: tick runaway, transfer never completed")
		}
		t.h.m.Tick()
		if atomic.LoadInt32(&t.enabled) == 0 {
			// The engine finished and signalled the task; stop
			// before touching shared state again.
			return
		}
		t.h.slave.update()
	}
}

type simHarness struct {
	sda   *testLine
	scl   *testLine
	slave *simSlave
	tick  *testTicker
	m     *Master
	ops   []lineOp
}

// newSim builds a master wired to a simulated slave and runs the initial
// stop sequence to completion, then clears all traces so tests observe only
// their own transfers.
func newSim(addr byte) *simHarness {
	h := &simHarness{}
	h.sda = &testLine{name: "SDA", h: h}
	h.scl = &testLine{name: "SCL", h: h}
	h.slave = &simSlave{h: h, addr: addr, present: true, nackAfter: -1}
	h.tick = &testTicker{h: h}

	h.m = New("simbus", h.sda, h.scl, h.tick.Enable, h.tick.Disable)

	// Run the initial stop sequence and wait for it to finish.
	h.tick.Enable()
	h.tick.wg.Wait()

	h.reset()
	return h
}

// reset clears the op trace, tick count and slave observations.
func (h *simHarness) reset() {
	h.ops = nil
	h.tick.ticks = 0
	s := h.slave
	s.addrBytes, s.written, s.bits, s.acks = nil, nil, nil, nil
	s.starts, s.stops = 0, 0
}

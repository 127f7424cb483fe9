package softi2c

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
)

// TickerSource drives a Master's Tick from a goroutine at half-bit cadence,
// for hosted platforms without a timer interrupt. Note that time.Ticker
// granularity caps the usable bus clock well below what an MCU timer gives;
// I2C has no minimum speed so correctness does not suffer, only throughput.
//
// The source starts disabled. Attach must be called before the first Enable.
type TickerSource struct {
	mu     sync.Mutex
	tick   func()
	period time.Duration
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewTickerSource creates a tick source for the given bus frequency. Two
// ticks per bit period.
func NewTickerSource(f physic.Frequency) *TickerSource {
	return &TickerSource{period: f.Period() / 2}
}

// Attach sets the function invoked on every tick.
func (t *TickerSource) Attach(tick func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tick = tick
}

// SetFrequency changes the bus frequency. It takes effect on the next
// Enable, which is always between transfers.
func (t *TickerSource) SetFrequency(f physic.Frequency) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.period = f.Period() / 2
}

// Enable starts ticking. It waits out a previous run that is still winding
// down so that two tickers never overlap.
func (t *TickerSource) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.wg.Wait()
	t.stop = make(chan struct{})
	t.wg.Add(1)
	go t.run(t.stop, t.tick, t.period)
}

// Disable stops ticking. The engine only calls this from within the tick
// handler itself, in which context no further tick can be delivered after
// Disable returns.
func (t *TickerSource) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return
	}
	close(t.stop)
	t.stop = nil
}

func (t *TickerSource) run(stop chan struct{}, tick func(), period time.Duration) {
	defer t.wg.Done()
	tk := time.NewTicker(period)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C:
			// The ticker channel may have fired concurrently with
			// Disable; re-check before delivering the tick.
			select {
			case <-stop:
				return
			default:
			}
			tick()
		}
	}
}

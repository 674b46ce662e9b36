package engine

import (
	"sync"
	"sync/atomic"

	"loopseq/seq"
)

// FrameClock converts an audio-frame counter into transport ticks:
// ticks = frames * ppqn * bpm / (rate * 60). A fractional accumulator
// carries the remainder so no pulse is ever lost to rounding. It exists so
// a realtime process callback can drive the transport: the callback calls
// Advance and the output thread drains the ring. The mutex serializes the
// callback against tempo and relocate commands arriving from the engine.
type FrameClock struct {
	mu   sync.Mutex
	rate int
	ppqn int
	bpm  float64

	tick seq.Pulse
	frac float64

	ring *tickRing
}

// NewFrameClock creates a clock at the given sample rate and resolution.
func NewFrameClock(rate, ppqn int, bpm float64) *FrameClock {
	return &FrameClock{
		rate: rate,
		ppqn: ppqn,
		bpm:  bpm,
		ring: newTickRing(256),
	}
}

// SetBPM changes the tempo; the accumulated fraction is kept so the tick
// stream stays monotonic across the change.
func (c *FrameClock) SetBPM(bpm float64) {
	if bpm <= 0 {
		return
	}
	c.mu.Lock()
	c.bpm = bpm
	c.mu.Unlock()
}

// SetPPQN changes the resolution, as when a loaded file carries a
// different division.
func (c *FrameClock) SetPPQN(ppqn int) {
	if ppqn < 1 {
		return
	}
	c.mu.Lock()
	c.ppqn = ppqn
	c.mu.Unlock()
}

// Tick returns the tick the clock has advanced to.
func (c *FrameClock) Tick() seq.Pulse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Reset rewinds the clock to a tick (transport relocate).
func (c *FrameClock) Reset(tick seq.Pulse) {
	c.mu.Lock()
	c.tick = tick
	c.frac = 0
	c.mu.Unlock()
}

// Advance accounts nframes of elapsed audio and publishes the tick the
// transport has reached. Called from the process callback; allocation-free.
func (c *FrameClock) Advance(nframes int) seq.Pulse {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frac += float64(nframes) * float64(c.ppqn) * c.bpm / (float64(c.rate) * 60.0)
	whole := seq.Pulse(c.frac)
	if whole > 0 {
		c.tick += whole
		c.frac -= float64(whole)
		c.ring.put(c.tick)
	}
	return c.tick
}

// Pending pops the most recently published tick (ok=false when the output
// thread has already drained everything).
func (c *FrameClock) Pending() (seq.Pulse, bool) {
	return c.ring.take()
}

// tickRing is a single-producer single-consumer ring of tick deadlines. The
// producer is the process callback, the consumer the output thread; both
// sides touch only their own index plus an atomic load of the other's, so
// neither ever blocks.
type tickRing struct {
	buf  []seq.Pulse
	mask uint32
	head atomic.Uint32 // next write (producer)
	tail atomic.Uint32 // next read (consumer)
}

// newTickRing creates a ring; size is rounded up to a power of two.
func newTickRing(size int) *tickRing {
	n := 1
	for n < size {
		n <<= 1
	}
	return &tickRing{
		buf:  make([]seq.Pulse, n),
		mask: uint32(n - 1),
	}
}

// put publishes one tick; a full ring overwrites the oldest slot, which is
// harmless because the consumer only cares about the newest deadline.
func (r *tickRing) put(t seq.Pulse) {
	head := r.head.Load()
	r.buf[head&r.mask] = t
	r.head.Store(head + 1)
	if head+1-r.tail.Load() > r.mask {
		r.tail.Store(head + 1 - r.mask)
	}
}

// take pops the oldest unread tick.
func (r *tickRing) take() (seq.Pulse, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return 0, false
	}
	t := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return t, true
}

package midibus

import (
	"sync"

	"loopseq/seq"
)

// WireEvent is one message as it went (or would go) onto the wire, with the
// scheduler tick it was emitted at.
type WireEvent struct {
	Tick  seq.Pulse
	Bytes []byte
}

// Capture is the in-memory bus backend: it records wire bytes instead of
// talking to an OS port. The scheduler and codec tests assert against it,
// and it doubles as a monitor sink.
type Capture struct {
	mu      sync.Mutex
	events  []WireEvent
	flushed int
}

// NewCapture creates an empty capture sink.
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) record(tick seq.Pulse, wire []byte) {
	c.mu.Lock()
	c.events = append(c.events, WireEvent{Tick: tick, Bytes: append([]byte(nil), wire...)})
	c.mu.Unlock()
}

func (c *Capture) flush() {
	c.mu.Lock()
	c.flushed = len(c.events)
	c.mu.Unlock()
}

// Flushed reports how many recorded events the last flush covered (zero
// when the bus was never flushed).
func (c *Capture) Flushed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushed
}

// Events returns a snapshot of everything recorded so far.
func (c *Capture) Events() []WireEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WireEvent(nil), c.events...)
}

// Reset drops the recording.
func (c *Capture) Reset() {
	c.mu.Lock()
	c.events = nil
	c.flushed = 0
	c.mu.Unlock()
}

// CountStatus counts recorded messages whose first byte matches status.
func (c *Capture) CountStatus(status byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if len(e.Bytes) > 0 && e.Bytes[0] == status {
			n++
		}
	}
	return n
}

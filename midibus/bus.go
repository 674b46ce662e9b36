// Package midibus owns the system MIDI ports: a bus array with per-port
// output queues, MIDI realtime clock emission, and input dispatch. Patterns
// reference a bus by id, never by handle.
package midibus

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"

	"loopseq/debug"
	"loopseq/seq"
)

// ClockMode is a bus's MIDI-clock behavior.
type ClockMode int

const (
	// ClockOff sends start/stop/continue but no F8 ticks.
	ClockOff ClockMode = iota
	// ClockOn sends F8 at the 24-PPQN cadence plus song position on continue.
	ClockOn
	// ClockMod defers the start message until the transport passes the
	// bus's mod boundary, then clocks normally.
	ClockMod
	// ClockDisabled treats the port as absent; nothing is ever sent.
	ClockDisabled
)

// backendKind tags the bus's transport variant. Dispatching on the tag
// keeps the hot path monomorphic on the selected backend.
type backendKind int

const (
	backendNone backendKind = iota
	backendRTMIDI
	backendCapture
)

// Bus is one logical MIDI endpoint bound to one system (or virtual) port.
// All wire traffic is serialized by the bus mutex.
type Bus struct {
	mu sync.Mutex

	index   int
	busID   int
	portID  int
	name    string
	virtual bool

	kind    backendKind
	send    func(gomidi.Message) error // rtmidi output
	stopIn  func()                     // rtmidi input listener
	capture *Capture

	clockMode  ClockMode
	modTicks   seq.Pulse
	modStarted bool
	lastTick   seq.Pulse

	errCount    int
	errSurfaced bool
	onError     func(bus int, err error)
}

// Name returns the composed display name: "[index] bus:port subsystem:port".
func (b *Bus) Name() string { return b.name }

// Index returns the ordinal the bus was discovered at.
func (b *Bus) Index() int { return b.index }

// Virtual reports whether the application created this port.
func (b *Bus) Virtual() bool { return b.virtual }

// Enabled reports whether the port is usable (open and not disabled).
func (b *Bus) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kind != backendNone && b.clockMode != ClockDisabled
}

// ClockMode returns the bus clock mode.
func (b *Bus) ClockMode() ClockMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clockMode
}

// SetClockMode configures clock behavior; for ClockMod, modTicks is the
// tick the deferred start fires at.
func (b *Bus) SetClockMode(mode ClockMode, modTicks seq.Pulse) {
	b.mu.Lock()
	b.clockMode = mode
	b.modTicks = modTicks
	b.mu.Unlock()
}

// Disable marks the port absent (used after an open failure).
func (b *Bus) Disable() {
	b.mu.Lock()
	b.clockMode = ClockDisabled
	b.mu.Unlock()
}

// ErrorCount returns the number of failed writes so far.
func (b *Bus) ErrorCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errCount
}

// Play emits a channel voice event. The channel nibble is composed into the
// status byte here; callers never pre-compose it.
func (b *Bus) Play(tick seq.Pulse, e *seq.Event, channel byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clockMode == ClockDisabled {
		return
	}
	wire := make([]byte, 0, 3)
	wire = append(wire, seq.Wire(e.Status, channel), e.Data[0])
	if seq.DataSize(e.Status) == 2 {
		wire = append(wire, e.Data[1])
	}
	b.writeLocked(tick, wire)
}

// Sysex emits a variable-length message: F0, payload, F7.
func (b *Bus) Sysex(tick seq.Pulse, e *seq.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clockMode == ClockDisabled {
		return
	}
	wire := make([]byte, 0, len(e.Payload)+2)
	wire = append(wire, 0xF0)
	wire = append(wire, e.Payload...)
	if len(wire) == 1 || wire[len(wire)-1] != 0xF7 {
		wire = append(wire, 0xF7)
	}
	b.writeLocked(tick, wire)
}

// Start emits FA (start from the top).
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clockMode == ClockDisabled {
		return
	}
	if b.clockMode == ClockMod {
		// deferred until the mod boundary passes
		b.modStarted = false
		return
	}
	b.writeLocked(0, []byte{0xFA})
}

// ContinueFrom emits song position (F2) then FB so the receiver resumes at
// the given tick. SPP units are sixteenth notes.
func (b *Bus) ContinueFrom(tick seq.Pulse, ppqn int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clockMode == ClockDisabled || b.clockMode == ClockMod {
		return
	}
	if b.clockMode == ClockOn {
		sixteenths := tick / seq.Pulse(ppqn/4)
		b.writeLocked(tick, []byte{0xF2, byte(sixteenths & 0x7F), byte(sixteenths >> 7 & 0x7F)})
	}
	b.writeLocked(tick, []byte{0xFB})
}

// InitClock primes the bus on Running entry: FA at tick zero, continue
// otherwise.
func (b *Bus) InitClock(tick seq.Pulse, ppqn int) {
	if tick == 0 {
		b.Start()
	} else {
		b.ContinueFrom(tick, ppqn)
	}
	b.mu.Lock()
	b.lastTick = tick
	b.mu.Unlock()
}

// Stop emits FC.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clockMode == ClockDisabled {
		return
	}
	b.modStarted = false
	b.writeLocked(b.lastTick, []byte{0xFC})
}

// Clock emits F8 on the 24-PPQN cadence when the mode calls for it. For
// ClockMod the deferred FA fires once the tick passes the mod boundary.
func (b *Bus) Clock(tick seq.Pulse, ppqn int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTick = tick
	switch b.clockMode {
	case ClockOn:
	case ClockMod:
		if !b.modStarted {
			if tick < b.modTicks {
				return
			}
			b.modStarted = true
			b.writeLocked(tick, []byte{0xFA})
		}
	default:
		return
	}
	interval := seq.Pulse(ppqn / 24)
	if interval <= 0 {
		interval = 1
	}
	if tick%interval == 0 {
		b.writeLocked(tick, []byte{0xF8})
	}
}

// ClockRange emits the F8 ticks falling in the half-open window (from, to].
// A scheduler pass may cover several pulses; every 24-PPQN tick inside the
// window is emitted, not just the endpoint.
func (b *Bus) ClockRange(from, to seq.Pulse, ppqn int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTick = to
	switch b.clockMode {
	case ClockOn:
	case ClockMod:
		if !b.modStarted {
			if to < b.modTicks {
				return
			}
			b.modStarted = true
			b.writeLocked(to, []byte{0xFA})
			if from < b.modTicks-1 {
				from = b.modTicks - 1
			}
		}
	default:
		return
	}
	interval := seq.Pulse(ppqn / 24)
	if interval <= 0 {
		interval = 1
	}
	first := (from/interval + 1) * interval
	if from < 0 {
		first = 0
	}
	for t := first; t <= to; t += interval {
		b.writeLocked(t, []byte{0xF8})
	}
}

// Flush drains the output queue to the OS. The rtmidi backend sends
// synchronously, so this only matters for queueing backends.
func (b *Bus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capture != nil {
		b.capture.flush()
	}
}

// PanicNotes sends all-notes-off (CC 123) across channels 0-15.
func (b *Bus) PanicNotes(tick seq.Pulse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clockMode == ClockDisabled {
		return
	}
	for ch := byte(0); ch < 16; ch++ {
		b.writeLocked(tick, []byte{0xB0 | ch, 0x7B, 0x00})
	}
}

// writeLocked hands raw wire bytes to the backend. A failed write counts
// and continues; the first failure is surfaced once.
func (b *Bus) writeLocked(tick seq.Pulse, wire []byte) {
	var err error
	switch b.kind {
	case backendRTMIDI:
		err = b.send(gomidi.Message(wire))
	case backendCapture:
		b.capture.record(tick, wire)
	default:
		return
	}
	if err != nil {
		b.errCount++
		debug.Log("bus", "write failed on %s: %v", b.name, err)
		if !b.errSurfaced && b.onError != nil {
			b.errSurfaced = true
			b.onError(b.index, fmt.Errorf("port %s: %w", b.name, err))
		}
	}
}

// Close releases the backend handles.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopIn != nil {
		b.stopIn()
		b.stopIn = nil
	}
	b.kind = backendNone
}

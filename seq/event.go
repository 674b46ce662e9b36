package seq

// Pulse is a tick count at the engine's active PPQN. Signed 64-bit so that
// song-editor math (which subtracts ticks) never underflows.
type Pulse int64

// MIDI status families (channel nibble stripped)
const (
	StatusNoteOff    byte = 0x80
	StatusNoteOn     byte = 0x90
	StatusAftertouch byte = 0xA0
	StatusControl    byte = 0xB0
	StatusProgram    byte = 0xC0
	StatusPressure   byte = 0xD0
	StatusPitchWheel byte = 0xE0
	StatusSysEx      byte = 0xF0
	StatusMeta       byte = 0xFF
)

// ChannelNative is the channel sentinel meaning "use the event's own channel"
// when a pattern routes to its output bus.
const ChannelNative byte = 0xFF

// Event is a single MIDI message inside a pattern. The channel nibble is held
// separately from the status byte and is authoritative for routing.
type Event struct {
	Tick    Pulse
	Status  byte // one of the Status* families
	Channel byte
	Data    [2]byte
	Payload []byte // SysEx body or meta payload
	Meta    byte   // meta type when Status == StatusMeta

	Selected bool
	Painted  bool // transient, set during live entry

	link *Event
}

// NewNoteOn builds a note-on event. A velocity of zero is canonicalized to a
// note-off, matching how the codec and the input layer normalize input.
func NewNoteOn(tick Pulse, channel, note, velocity byte) *Event {
	status := StatusNoteOn
	if velocity == 0 {
		status = StatusNoteOff
		velocity = 0x40
	}
	return &Event{
		Tick:    tick,
		Status:  status,
		Channel: channel,
		Data:    [2]byte{note, velocity},
	}
}

// NewNoteOff builds a note-off event.
func NewNoteOff(tick Pulse, channel, note, velocity byte) *Event {
	return &Event{
		Tick:    tick,
		Status:  StatusNoteOff,
		Channel: channel,
		Data:    [2]byte{note, velocity},
	}
}

// IsNoteOn reports whether the event is a (canonical) note-on.
func (e *Event) IsNoteOn() bool {
	return e.Status == StatusNoteOn
}

// IsNoteOff reports whether the event is a note-off.
func (e *Event) IsNoteOff() bool {
	return e.Status == StatusNoteOff
}

// IsNote reports whether the event is either half of a note pair.
func (e *Event) IsNote() bool {
	return e.Status == StatusNoteOn || e.Status == StatusNoteOff
}

// Note returns the pitch for note and aftertouch events.
func (e *Event) Note() byte {
	return e.Data[0]
}

// SetNote sets the pitch, clamped to the MIDI range.
func (e *Event) SetNote(n int) {
	if n < 0 {
		n = 0
	}
	if n > 127 {
		n = 127
	}
	e.Data[0] = byte(n)
}

// Velocity returns the second data byte of a note event.
func (e *Event) Velocity() byte {
	return e.Data[1]
}

// Link pairs this event with its partner (note-on with its note-off).
func (e *Event) Link(other *Event) {
	e.link = other
	other.link = e
}

// Linked reports whether the event has a partner.
func (e *Event) Linked() bool {
	return e.link != nil
}

// Partner returns the linked event (nil if unlinked).
func (e *Event) Partner() *Event {
	return e.link
}

// Unlink clears the pairing on both sides.
func (e *Event) Unlink() {
	if e.link != nil {
		e.link.link = nil
		e.link = nil
	}
}

// DataSize returns the number of data bytes the status family carries on the
// wire (0 for SysEx/meta, which take the variable-length path).
func DataSize(status byte) int {
	switch status & 0xF0 {
	case StatusProgram, StatusPressure:
		return 1
	case StatusNoteOff, StatusNoteOn, StatusAftertouch, StatusControl, StatusPitchWheel:
		return 2
	}
	return 0
}

// Wire composes the status byte with a channel nibble for emission. The
// pattern layer never pre-composes this; the bus does.
func Wire(status, channel byte) byte {
	if status >= 0xF0 {
		return status
	}
	return status&0xF0 | channel&0x0F
}

// clone returns a copy with the link dropped; links are rebuilt by
// verify-and-link after bulk restores.
func (e *Event) clone() *Event {
	c := *e
	c.link = nil
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	return &c
}

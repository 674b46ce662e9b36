package midifile

import (
	"encoding/binary"
	"fmt"
	"os"

	"loopseq/debug"
	"loopseq/seq"
)

// Read parses an SMF file with optional SeqSpec meta-events. Errors leave
// the caller's state untouched; nothing is applied until parsing succeeds.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := ReadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// ReadBytes parses SMF data from memory.
func ReadBytes(data []byte) (*Document, error) {
	p := &parser{data: data}

	headerLen, err := p.expectChunk("MThd", 6)
	if err != nil {
		return nil, err
	}
	format := p.u16()
	ntrks := p.u16()
	division := p.u16()
	p.bytes(int(headerLen) - 6) // tolerate oversized headers
	if p.err != nil {
		return nil, p.err
	}
	if format > 1 {
		return nil, fmt.Errorf("unsupported SMF format %d", format)
	}
	if division&0x8000 != 0 {
		return nil, fmt.Errorf("SMPTE division not supported")
	}
	ppqn := int(division)
	if ppqn < MinPPQN {
		debug.Log("file", "clamping PPQN %d to %d", ppqn, MinPPQN)
		ppqn = MinPPQN
	}
	if ppqn > MaxPPQN {
		debug.Log("file", "clamping PPQN %d to %d", ppqn, MaxPPQN)
		ppqn = MaxPPQN
	}

	doc := &Document{
		PPQN:     ppqn,
		BPM:      120,
		SetNotes: map[int]string{},
	}
	nextSlot := 0
	for t := 0; t < int(ntrks); t++ {
		if err := p.readTrack(doc, &nextSlot); err != nil {
			return nil, fmt.Errorf("track %d: %w", t, err)
		}
	}
	for _, s := range doc.Sequences {
		s.VerifyAndLink()
	}
	return doc, nil
}

type parser struct {
	data []byte
	pos  int
	err  error
}

func (p *parser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

func (p *parser) remaining() int {
	return len(p.data) - p.pos
}

func (p *parser) byte() byte {
	if p.err != nil {
		return 0
	}
	if p.remaining() < 1 {
		p.fail("truncated file at offset %d", p.pos)
		return 0
	}
	b := p.data[p.pos]
	p.pos++
	return b
}

func (p *parser) bytes(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || p.remaining() < n {
		p.fail("truncated file at offset %d (want %d bytes)", p.pos, n)
		return nil
	}
	b := p.data[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *parser) u16() uint16 {
	b := p.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (p *parser) u32() uint32 {
	b := p.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// vlq reads a variable-length quantity.
func (p *parser) vlq() uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		b := p.byte()
		v = v<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			return v
		}
	}
	p.fail("overlong varlen quantity at offset %d", p.pos)
	return 0
}

func (p *parser) expectChunk(id string, minLen uint32) (uint32, error) {
	got := p.bytes(4)
	if p.err != nil {
		return 0, p.err
	}
	if string(got) != id {
		return 0, fmt.Errorf("expected %s chunk, found %q", id, got)
	}
	length := p.u32()
	if p.err != nil {
		return 0, p.err
	}
	if length < minLen {
		return 0, fmt.Errorf("%s chunk too short (%d bytes)", id, length)
	}
	return length, nil
}

// trackState accumulates one MTrk's worth of events before a Sequence is
// committed to the document.
type trackState struct {
	slot        int
	hasSlot     bool
	name        string
	beatsPerBar int
	beatWidth   int
	events      []*seq.Event
	endTick     seq.Pulse

	hasBus       bool
	bus          uint8
	hasChannel   bool
	channel      byte
	key, scale   int
	background   int
	transposable bool
	triggers     []seq.Trigger
}

func (p *parser) readTrack(doc *Document, nextSlot *int) error {
	// Unknown chunk types are skipped, as the SMF standard requires.
	for {
		id := p.bytes(4)
		if p.err != nil {
			return p.err
		}
		if string(id) == "MTrk" {
			break
		}
		length := p.u32()
		p.bytes(int(length))
		if p.err != nil {
			return p.err
		}
	}
	length := p.u32()
	if p.err != nil {
		return p.err
	}
	end := p.pos + int(length)
	if end > len(p.data) {
		return fmt.Errorf("truncated track (declared %d bytes)", length)
	}

	ts := &trackState{
		background:   -1,
		transposable: true,
		channel:      0,
	}
	var tick seq.Pulse
	var running byte

	for p.pos < end {
		tick += seq.Pulse(p.vlq())
		if p.err != nil {
			return p.err
		}
		status := p.byte()
		if status < 0x80 {
			// running status: the data byte we just consumed belongs to the event
			if running == 0 {
				return fmt.Errorf("running status with no prior status at offset %d", p.pos)
			}
			p.pos--
			status = running
		}

		switch {
		case status < 0xF0:
			running = status
			family := status & 0xF0
			ch := status & 0x0F
			e := &seq.Event{Tick: tick, Status: family, Channel: ch}
			e.Data[0] = p.byte()
			if seq.DataSize(family) == 2 {
				e.Data[1] = p.byte()
			}
			// canonical representation of note-on velocity 0 is note-off
			if family == seq.StatusNoteOn && e.Data[1] == 0 {
				e.Status = seq.StatusNoteOff
			}
			ts.events = append(ts.events, e)
		case status == 0xF0 || status == 0xF7:
			running = 0
			n := p.vlq()
			payload := p.bytes(int(n))
			if p.err != nil {
				return p.err
			}
			ts.events = append(ts.events, &seq.Event{
				Tick:    tick,
				Status:  seq.StatusSysEx,
				Payload: append([]byte(nil), payload...),
			})
		case status == 0xFF:
			running = 0
			metaType := p.byte()
			n := p.vlq()
			payload := p.bytes(int(n))
			if p.err != nil {
				return p.err
			}
			p.meta(doc, ts, metaType, payload, tick)
		default:
			return fmt.Errorf("unexpected status byte %#02x at offset %d", status, p.pos)
		}
		if p.err != nil {
			return p.err
		}
	}

	p.commitTrack(doc, ts, nextSlot)
	return p.err
}

func (p *parser) meta(doc *Document, ts *trackState, metaType byte, payload []byte, tick seq.Pulse) {
	switch metaType {
	case metaSeqNumber:
		if len(payload) >= 2 {
			ts.slot = int(binary.BigEndian.Uint16(payload))
			ts.hasSlot = true
		}
	case metaTrackName:
		ts.name = string(payload)
	case metaTempo:
		if len(payload) >= 3 {
			micros := int(payload[0])<<16 | int(payload[1])<<8 | int(payload[2])
			if micros > 0 {
				doc.BPM = 60_000_000 / float64(micros)
			}
		}
	case metaTimeSig:
		if len(payload) >= 2 {
			ts.beatsPerBar = int(payload[0])
			ts.beatWidth = 1 << payload[1]
		}
	case metaEndOfTrk:
		ts.endTick = tick
	case metaSeqSpec:
		p.seqSpec(doc, ts, payload)
	default:
		// other metas (lyrics, markers, ...) are not part of the model
	}
}

// seqSpec dispatches a sequencer-specific meta-event by its 4-byte tag.
// Unknown tags are a warning, not an error.
func (p *parser) seqSpec(doc *Document, ts *trackState, payload []byte) {
	if len(payload) < 4 {
		debug.Log("file", "short SeqSpec payload (%d bytes), skipped", len(payload))
		return
	}
	tag := binary.BigEndian.Uint32(payload)
	body := payload[4:]
	switch tag {
	case tagBuss:
		if len(body) >= 1 {
			ts.bus = body[0]
			ts.hasBus = true
		}
	case tagChannel:
		if len(body) >= 1 {
			ts.channel = body[0]
			ts.hasChannel = true
		}
	case tagKey:
		if len(body) >= 1 {
			ts.key = int(body[0])
		}
	case tagScale:
		if len(body) >= 1 {
			ts.scale = int(body[0])
		}
	case tagBackground:
		if len(body) >= 1 {
			if body[0] == 0xFF {
				ts.background = -1
			} else {
				ts.background = int(body[0])
			}
		}
	case tagTransposable:
		if len(body) >= 1 {
			ts.transposable = body[0] != 0
		}
	case tagTriggers:
		for len(body) >= 12 {
			ts.triggers = append(ts.triggers, seq.Trigger{
				Start:  seq.Pulse(binary.BigEndian.Uint32(body)),
				End:    seq.Pulse(binary.BigEndian.Uint32(body[4:])),
				Offset: seq.Pulse(binary.BigEndian.Uint32(body[8:])),
			})
			body = body[12:]
		}
	case tagMuteGroups:
		p.muteGroups(doc, body)
	case tagSetNotes:
		p.setNotes(doc, body)
	case tagPPQN:
		// informational duplicate of the header division
	case tagBPM:
		if v, ok := readVLQBytes(body); ok && v > 0 {
			doc.BPM = float64(v) / 1000
		}
	default:
		debug.Log("file", "unknown SeqSpec tag %#08x, skipped", tag)
	}
}

func (p *parser) muteGroups(doc *Document, body []byte) {
	if len(body) < 2 {
		return
	}
	count := int(body[0])
	size := int(body[1])
	body = body[2:]
	perGroup := (size + 7) / 8
	groups := make([][]bool, 0, count)
	for g := 0; g < count; g++ {
		if len(body) < perGroup {
			debug.Log("file", "short mute-group table, kept %d of %d groups", g, count)
			break
		}
		mask := make([]bool, size)
		for i := 0; i < size; i++ {
			if body[i/8]&(1<<(i%8)) != 0 {
				mask[i] = true
			}
		}
		groups = append(groups, mask)
		body = body[perGroup:]
	}
	doc.MuteGroups = groups
}

func (p *parser) setNotes(doc *Document, body []byte) {
	if len(body) < 2 {
		return
	}
	count := int(binary.BigEndian.Uint16(body))
	body = body[2:]
	for i := 0; i < count; i++ {
		if len(body) < 4 {
			return
		}
		set := int(binary.BigEndian.Uint16(body))
		n := int(binary.BigEndian.Uint16(body[2:]))
		body = body[4:]
		if len(body) < n {
			return
		}
		doc.SetNotes[set] = string(body[:n])
		body = body[n:]
	}
}

// commitTrack turns an accumulated track into a Sequence, unless it was a
// pure conductor track (no channel events and no pattern SeqSpec).
func (p *parser) commitTrack(doc *Document, ts *trackState, nextSlot *int) {
	if len(ts.events) == 0 && !ts.hasBus && !ts.hasChannel && len(ts.triggers) == 0 && !ts.hasSlot {
		return
	}
	slot := ts.slot
	if !ts.hasSlot {
		slot = *nextSlot
	}
	if slot >= *nextSlot {
		*nextSlot = slot + 1
	}

	s := seq.NewSequence(slot, doc.PPQN)
	if ts.beatsPerBar > 0 && ts.beatWidth > 0 {
		s.SetTimeSignature(ts.beatsPerBar, ts.beatWidth)
	}
	s.SetName(ts.name)
	s.SetBus(ts.bus)
	s.SetChannel(ts.channel)
	s.SetKeyScale(ts.key, ts.scale)
	s.SetBackground(ts.background)
	s.SetTransposable(ts.transposable)

	length := ts.endTick
	if length <= 0 {
		var maxTick seq.Pulse
		for _, e := range ts.events {
			if e.Tick > maxTick {
				maxTick = e.Tick
			}
		}
		length = maxTick + 1
	}
	s.SetLength(length, false)
	for _, e := range ts.events {
		s.AddEvent(e)
	}
	for _, tr := range ts.triggers {
		s.AddTrigger(tr)
	}
	doc.Sequences = append(doc.Sequences, s)
}

// readVLQBytes decodes a variable-length quantity from a standalone buffer.
func readVLQBytes(b []byte) (uint32, bool) {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v = v<<7 | uint32(b[i]&0x7F)
		if b[i]&0x80 == 0 {
			return v, true
		}
	}
	return 0, false
}

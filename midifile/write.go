package midifile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"loopseq/seq"
)

// maxFileTick is the largest tick a 4-byte trigger field can carry; spans
// beyond it are a write error rather than a silent truncation.
const maxFileTick = seq.Pulse(math.MaxUint32)

// Write serializes the document to path.
func Write(path string, doc *Document, mode Mode) error {
	data, err := WriteBytes(doc, mode)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteBytes serializes the document to SMF-1 bytes. The writer never uses
// running status, so write(read(f)) == f for any file it produced.
func WriteBytes(doc *Document, mode Mode) ([]byte, error) {
	seqs := append([]*seq.Sequence(nil), doc.Sequences...)
	sort.Slice(seqs, func(i, j int) bool { return seqs[i].Slot() < seqs[j].Slot() })

	var out bytes.Buffer
	out.WriteString("MThd")
	writeU32(&out, 6)
	writeU16(&out, 1) // format
	writeU16(&out, uint16(1+len(seqs)))
	writeU16(&out, uint16(doc.PPQN))

	w := &trackWriter{}
	conductorTrack(w, doc, mode)
	w.flush(&out)

	for _, s := range seqs {
		if err := patternTrack(w, doc, s, mode); err != nil {
			return nil, err
		}
		w.flush(&out)
	}
	return out.Bytes(), nil
}

// maxEventDelta is the largest delta time a standard 4-byte varlen can
// carry (28 bits of payload).
const maxEventDelta = seq.Pulse(0x0FFFFFFF)

// trackWriter buffers one MTrk and tracks the previous absolute tick for
// delta-time computation. An out-of-range delta sets the sticky error and
// the track is rejected when it is checked.
type trackWriter struct {
	buf  bytes.Buffer
	last seq.Pulse
	err  error
}

func (w *trackWriter) delta(tick seq.Pulse) {
	if tick < w.last {
		tick = w.last
	}
	d := tick - w.last
	if d > maxEventDelta {
		if w.err == nil {
			w.err = fmt.Errorf("delta time %d exceeds the varlen range", d)
		}
		d = 0
	}
	writeVLQ(&w.buf, uint32(d))
	w.last = tick
}

func (w *trackWriter) meta(tick seq.Pulse, metaType byte, payload []byte) {
	w.delta(tick)
	w.buf.WriteByte(0xFF)
	w.buf.WriteByte(metaType)
	writeVLQ(&w.buf, uint32(len(payload)))
	w.buf.Write(payload)
}

func (w *trackWriter) seqSpec(tick seq.Pulse, tag uint32, body []byte) {
	payload := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(payload, tag)
	copy(payload[4:], body)
	w.meta(tick, metaSeqSpec, payload)
}

func (w *trackWriter) event(tick seq.Pulse, e *seq.Event, channel byte) {
	w.delta(tick)
	if e.Status == seq.StatusSysEx {
		w.buf.WriteByte(0xF0)
		writeVLQ(&w.buf, uint32(len(e.Payload)))
		w.buf.Write(e.Payload)
		return
	}
	w.buf.WriteByte(seq.Wire(e.Status, channel))
	w.buf.WriteByte(e.Data[0])
	if seq.DataSize(e.Status) == 2 {
		w.buf.WriteByte(e.Data[1])
	}
}

func (w *trackWriter) flush(out *bytes.Buffer) {
	out.WriteString("MTrk")
	writeU32(out, uint32(w.buf.Len()))
	out.Write(w.buf.Bytes())
	w.buf.Reset()
	w.last = 0
}

// conductorTrack carries the global tempo and time signature, plus the
// global SeqSpec state in normal mode.
func conductorTrack(w *trackWriter, doc *Document, mode Mode) {
	// BPM is quantized to milli-BPM first and the tempo meta derived from
	// the quantized value, so a reread document writes identical bytes.
	milliBPM := uint32(doc.BPM*1000 + 0.5)
	if milliBPM == 0 {
		milliBPM = 1000
	}
	micros := int(60_000_000_000 / uint64(milliBPM))
	w.meta(0, metaTempo, []byte{byte(micros >> 16), byte(micros >> 8), byte(micros)})
	w.meta(0, metaTimeSig, []byte{4, 2, 24, 8})

	if mode == ModeNormal {
		var ppqn bytes.Buffer
		writeVLQ(&ppqn, uint32(doc.PPQN))
		w.seqSpec(0, tagPPQN, ppqn.Bytes())

		var bpm bytes.Buffer
		writeVLQ(&bpm, milliBPM)
		w.seqSpec(0, tagBPM, bpm.Bytes())

		if len(doc.MuteGroups) > 0 {
			w.seqSpec(0, tagMuteGroups, packMuteGroups(doc.MuteGroups))
		}
		if len(doc.SetNotes) > 0 {
			w.seqSpec(0, tagSetNotes, packSetNotes(doc.SetNotes))
		}
	}
	w.meta(0, metaEndOfTrk, nil)
}

func patternTrack(w *trackWriter, doc *Document, s *seq.Sequence, mode Mode) error {
	var slot [2]byte
	binary.BigEndian.PutUint16(slot[:], uint16(s.Slot()))
	w.meta(0, metaSeqNumber, slot[:])
	w.meta(0, metaTrackName, []byte(s.Name()))
	bpb, bw := s.TimeSignature()
	w.meta(0, metaTimeSig, []byte{byte(bpb), byte(log2(bw)), 24, 8})

	var endTick seq.Pulse
	if mode == ModeExportSong {
		endTick = writeExpandedEvents(w, s)
	} else {
		for _, e := range s.EventsSnapshot() {
			ev := e
			w.event(ev.Tick, &ev, ev.Channel)
		}
		endTick = s.Length()
	}

	if mode == ModeNormal {
		w.seqSpec(w.last, tagBuss, []byte{s.Bus()})
		w.seqSpec(w.last, tagChannel, []byte{s.Channel()})
		key, scale := s.KeyScale()
		w.seqSpec(w.last, tagKey, []byte{byte(key)})
		w.seqSpec(w.last, tagScale, []byte{byte(scale)})
		bg := s.Background()
		if bg < 0 || bg > maxBackgroundSlot {
			bg = 0xFF
		}
		w.seqSpec(w.last, tagBackground, []byte{byte(bg)})
		tr := byte(0)
		if s.Transposable() {
			tr = 1
		}
		w.seqSpec(w.last, tagTransposable, []byte{tr})
		if triggers := s.Triggers(); len(triggers) > 0 {
			body, err := packTriggers(triggers)
			if err != nil {
				return fmt.Errorf("pattern %d: %w", s.Slot(), err)
			}
			w.seqSpec(w.last, tagTriggers, body)
		}
	}

	// The end-of-track delta positions the track end exactly at the pattern
	// length, which is how the length round-trips.
	w.meta(endTick, metaEndOfTrk, nil)
	if w.err != nil {
		return fmt.Errorf("pattern %d: %w", s.Slot(), w.err)
	}
	return nil
}

// writeExpandedEvents flattens the pattern's triggers into physical event
// copies on the song timeline and returns the arrangement end tick.
func writeExpandedEvents(w *trackWriter, s *seq.Sequence) seq.Pulse {
	cap := &expandCapture{}
	last := s.LastTick()
	s.SetLastTick(-1) // the playback window is half-open, tick 0 must sound
	var end seq.Pulse
	for _, tr := range s.Triggers() {
		if tr.End > end {
			end = tr.End
		}
	}
	s.PlayTo(end+1, true, cap)
	s.SetLastTick(last)
	for _, oc := range cap.events {
		w.event(oc.at, &oc.ev, oc.ch)
	}
	return end + 1
}

type expandOccurrence struct {
	at seq.Pulse
	ev seq.Event
	ch byte
}

type expandCapture struct {
	events []expandOccurrence
}

func (c *expandCapture) Play(bus uint8, tick seq.Pulse, ev *seq.Event, channel byte) {
	c.events = append(c.events, expandOccurrence{at: tick, ev: *ev, ch: channel})
}

func packTriggers(triggers []seq.Trigger) ([]byte, error) {
	body := make([]byte, 0, 12*len(triggers))
	for _, tr := range triggers {
		if tr.Start < 0 || tr.End > maxFileTick || tr.Offset > maxFileTick {
			return nil, fmt.Errorf("trigger span %d..%d exceeds the 32-bit file range", tr.Start, tr.End)
		}
		var rec [12]byte
		binary.BigEndian.PutUint32(rec[0:], uint32(tr.Start))
		binary.BigEndian.PutUint32(rec[4:], uint32(tr.End))
		binary.BigEndian.PutUint32(rec[8:], uint32(tr.Offset))
		body = append(body, rec[:]...)
	}
	return body, nil
}

func packMuteGroups(groups [][]bool) []byte {
	size := 0
	if len(groups) > 0 {
		size = len(groups[0])
	}
	perGroup := (size + 7) / 8
	body := make([]byte, 2, 2+perGroup*len(groups))
	body[0] = byte(len(groups))
	body[1] = byte(size)
	for _, mask := range groups {
		packed := make([]byte, perGroup)
		for i, on := range mask {
			if on {
				packed[i/8] |= 1 << (i % 8)
			}
		}
		body = append(body, packed...)
	}
	return body
}

func packSetNotes(notes map[int]string) []byte {
	sets := make([]int, 0, len(notes))
	for set := range notes {
		sets = append(sets, set)
	}
	sort.Ints(sets)
	var body bytes.Buffer
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(sets)))
	body.Write(u16[:])
	for _, set := range sets {
		binary.BigEndian.PutUint16(u16[:], uint16(set))
		body.Write(u16[:])
		binary.BigEndian.PutUint16(u16[:], uint16(len(notes[set])))
		body.Write(u16[:])
		body.WriteString(notes[set])
	}
	return body.Bytes()
}

func writeU16(out *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	out.Write(b[:])
}

func writeU32(out *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	out.Write(b[:])
}

// writeVLQ emits a variable-length quantity.
func writeVLQ(out *bytes.Buffer, v uint32) {
	var stack [4]byte
	n := 0
	for {
		stack[n] = byte(v & 0x7F)
		v >>= 7
		n++
		if v == 0 {
			break
		}
	}
	for n > 1 {
		n--
		out.WriteByte(stack[n] | 0x80)
	}
	out.WriteByte(stack[0])
}

func log2(v int) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

package midifile

import (
	"bytes"
	"testing"

	"loopseq/seq"
)

func testDocument() *Document {
	s := seq.NewSequence(3, 192)
	s.SetName("bass")
	s.SetBus(2)
	s.SetChannel(5)
	s.SetKeyScale(2, seq.ScaleMinor)
	s.SetTransposable(false)
	s.AddEvent(seq.NewNoteOn(0, 5, 36, 100))
	s.AddEvent(seq.NewNoteOff(96, 5, 36, 64))
	s.AddEvent(&seq.Event{Tick: 48, Status: seq.StatusControl, Channel: 5, Data: [2]byte{7, 90}})
	s.AddTrigger(seq.Trigger{Start: 0, End: 1535, Offset: 96})
	s.VerifyAndLink()

	lead := seq.NewSequence(7, 192)
	lead.SetName("lead")
	lead.AddEvent(seq.NewNoteOn(192, 0, 72, 110))
	lead.AddEvent(seq.NewNoteOff(384, 0, 72, 64))
	lead.VerifyAndLink()

	groups := make([][]bool, 2)
	for g := range groups {
		groups[g] = make([]bool, 32)
	}
	groups[0][3] = true
	groups[1][0] = true
	groups[1][31] = true

	return &Document{
		PPQN:       384,
		BPM:        137.25,
		Sequences:  []*seq.Sequence{s, lead},
		MuteGroups: groups,
		SetNotes:   map[int]string{0: "intro", 2: "drop"},
	}
}

func TestRoundTrip(t *testing.T) {
	doc := testDocument()
	data, err := WriteBytes(doc, ModeNormal)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadBytes(data)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	if got.PPQN != 384 {
		t.Errorf("PPQN %d, want 384", got.PPQN)
	}
	if got.BPM != 137.25 {
		t.Errorf("BPM %v, want 137.25", got.BPM)
	}
	if len(got.Sequences) != 2 {
		t.Fatalf("%d sequences, want 2", len(got.Sequences))
	}

	s := got.Sequences[0]
	if s.Slot() != 3 || s.Name() != "bass" {
		t.Errorf("slot/name %d/%q", s.Slot(), s.Name())
	}
	if s.Bus() != 2 || s.Channel() != 5 {
		t.Errorf("bus/channel %d/%d, want 2/5", s.Bus(), s.Channel())
	}
	if key, scale := s.KeyScale(); key != 2 || scale != seq.ScaleMinor {
		t.Errorf("key/scale %d/%d", key, scale)
	}
	if s.Transposable() {
		t.Error("transposable flag lost")
	}
	if s.EventCount() != 3 {
		t.Errorf("event count %d, want 3", s.EventCount())
	}
	trs := s.Triggers()
	if len(trs) != 1 || trs[0].Start != 0 || trs[0].End != 1535 || trs[0].Offset != 96 {
		t.Errorf("triggers %+v", trs)
	}

	if len(got.MuteGroups) != 2 || !got.MuteGroups[0][3] || !got.MuteGroups[1][31] {
		t.Errorf("mute groups %+v", got.MuteGroups)
	}
	if got.SetNotes[0] != "intro" || got.SetNotes[2] != "drop" {
		t.Errorf("set notes %+v", got.SetNotes)
	}
}

func TestRoundTripByteExact(t *testing.T) {
	doc := testDocument()
	first, err := WriteBytes(doc, ModeNormal)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	reread, err := ReadBytes(first)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	second, err := WriteBytes(reread, ModeNormal)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("rewrite differs: %d vs %d bytes", len(first), len(second))
	}
}

func TestLengthRoundTrip(t *testing.T) {
	// the end-of-track delta encodes the pattern length, even past the
	// last event
	s := seq.NewSequence(0, 192)
	s.SetLengthBars(4) // 3072 ticks
	s.AddEvent(seq.NewNoteOn(0, 0, 60, 100))
	s.AddEvent(seq.NewNoteOff(96, 0, 60, 64))

	doc := &Document{PPQN: 192, BPM: 120, Sequences: []*seq.Sequence{s}}
	data, err := WriteBytes(doc, ModeNormal)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadBytes(data)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Sequences[0].Length() != 3072 {
		t.Errorf("length %d, want 3072", got.Sequences[0].Length())
	}
}

func TestReadRunningStatus(t *testing.T) {
	// hand-built SMF-0: two note-ons sharing one status byte
	var buf bytes.Buffer
	buf.WriteString("MThd")
	buf.Write([]byte{0, 0, 0, 6, 0, 0, 0, 1, 0, 192})

	var trk bytes.Buffer
	trk.Write([]byte{0x00, 0x90, 60, 100}) // note-on c4
	trk.Write([]byte{0x60, 62, 100})       // running status note-on d4
	trk.Write([]byte{0x20, 0xFF, 0x2F, 0x00})

	buf.WriteString("MTrk")
	buf.Write([]byte{0, 0, 0, byte(trk.Len())})
	buf.Write(trk.Bytes())

	doc, err := ReadBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(doc.Sequences) != 1 {
		t.Fatalf("%d sequences, want 1", len(doc.Sequences))
	}
	events := doc.Sequences[0].EventsSnapshot()
	if len(events) != 2 {
		t.Fatalf("%d events, want 2", len(events))
	}
	if events[1].Note() != 62 || events[1].Tick != 0x60 {
		t.Errorf("running-status event: note %d tick %d", events[1].Note(), events[1].Tick)
	}
}

func TestWriterNeverUsesRunningStatus(t *testing.T) {
	s := seq.NewSequence(0, 192)
	s.AddEvent(seq.NewNoteOn(0, 0, 60, 100))
	s.AddEvent(seq.NewNoteOn(0, 0, 64, 100))
	s.AddEvent(seq.NewNoteOff(96, 0, 60, 64))
	s.AddEvent(seq.NewNoteOff(96, 0, 64, 64))

	doc := &Document{PPQN: 192, BPM: 120, Sequences: []*seq.Sequence{s}}
	data, err := WriteBytes(doc, ModeNormal)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n := bytes.Count(data, []byte{0x90, 60, 100}); n != 1 {
		t.Errorf("first note-on occurs %d times", n)
	}
	if n := bytes.Count(data, []byte{0x90, 64, 100}); n != 1 {
		t.Errorf("second same-tick note-on occurs %d times", n)
	}
}

func TestReadErrors(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		doc := testDocument()
		data, err := WriteBytes(doc, ModeNormal)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := ReadBytes(data[:len(data)-7]); err == nil {
			t.Error("truncated file accepted")
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		if _, err := ReadBytes([]byte("RIFFxxxxxxxxxxxx")); err == nil {
			t.Error("non-SMF accepted")
		}
	})

	t.Run("format 2 rejected", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteString("MThd")
		buf.Write([]byte{0, 0, 0, 6, 0, 2, 0, 0, 0, 192})
		if _, err := ReadBytes(buf.Bytes()); err == nil {
			t.Error("format 2 accepted")
		}
	})

	t.Run("smpte rejected", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteString("MThd")
		buf.Write([]byte{0, 0, 0, 6, 0, 0, 0, 1, 0xE7, 0x28})
		if _, err := ReadBytes(buf.Bytes()); err == nil {
			t.Error("SMPTE division accepted")
		}
	})
}

func TestUnknownSeqSpecTagSkipped(t *testing.T) {
	var trk bytes.Buffer
	trk.Write([]byte{0x00, 0x90, 60, 100})
	trk.Write([]byte{0x00, 0x80, 60, 64})
	// unknown vendor tag: must be ignored, not fatal
	trk.Write([]byte{0x00, 0xFF, 0x7F, 0x06, 0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02})
	trk.Write([]byte{0x00, 0xFF, 0x2F, 0x00})

	var buf bytes.Buffer
	buf.WriteString("MThd")
	buf.Write([]byte{0, 0, 0, 6, 0, 0, 0, 1, 0, 192})
	buf.WriteString("MTrk")
	buf.Write([]byte{0, 0, 0, byte(trk.Len())})
	buf.Write(trk.Bytes())

	doc, err := ReadBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(doc.Sequences) != 1 || doc.Sequences[0].EventCount() != 2 {
		t.Errorf("events lost around unknown tag")
	}
}

func TestExportModes(t *testing.T) {
	t.Run("midi only omits seqspec", func(t *testing.T) {
		doc := testDocument()
		data, err := WriteBytes(doc, ModeExportMIDIOnly)
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Contains(data, []byte{0xFF, 0x7F}) {
			t.Error("export contains SeqSpec meta-events")
		}
	})

	t.Run("song export expands triggers", func(t *testing.T) {
		s := seq.NewSequence(0, 192)
		s.AddEvent(seq.NewNoteOn(0, 0, 60, 100))
		s.AddEvent(seq.NewNoteOff(96, 0, 60, 64))
		s.VerifyAndLink()
		// two loops worth of trigger
		s.AddTrigger(seq.Trigger{Start: 0, End: 1535, Offset: 0})

		doc := &Document{PPQN: 192, BPM: 120, Sequences: []*seq.Sequence{s}}
		data, err := WriteBytes(doc, ModeExportSong)
		if err != nil {
			t.Fatal(err)
		}
		got, err := ReadBytes(data)
		if err != nil {
			t.Fatal(err)
		}
		// 768-tick pattern over a 1536-tick trigger: each note doubled
		if n := got.Sequences[0].EventCount(); n != 4 {
			t.Errorf("expanded to %d events, want 4", n)
		}
	})
}

func TestOverlongDeltaRejected(t *testing.T) {
	// a delta past the 28-bit varlen range is a write error, not a panic
	s := seq.NewSequence(0, 192)
	s.AddEvent(seq.NewNoteOn(0, 0, 60, 100))
	s.SetLength(seq.Pulse(1<<28+100), false)

	doc := &Document{PPQN: 192, BPM: 120, Sequences: []*seq.Sequence{s}}
	if _, err := WriteBytes(doc, ModeNormal); err == nil {
		t.Error("end-of-track delta past the varlen range accepted")
	}
}

func TestOversizedHeaderTolerated(t *testing.T) {
	var trk bytes.Buffer
	trk.Write([]byte{0x00, 0x90, 60, 100})
	trk.Write([]byte{0x00, 0xFF, 0x2F, 0x00})

	var buf bytes.Buffer
	buf.WriteString("MThd")
	buf.Write([]byte{0, 0, 0, 8, 0, 1, 0, 1, 0, 192, 0xAA, 0xBB})
	buf.WriteString("MTrk")
	buf.Write([]byte{0, 0, 0, byte(trk.Len())})
	buf.Write(trk.Bytes())

	if _, err := ReadBytes(buf.Bytes()); err != nil {
		t.Fatalf("oversized header rejected: %v", err)
	}
}

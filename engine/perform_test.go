package engine

import (
	"path/filepath"
	"testing"

	"loopseq/config"
	"loopseq/midibus"
	"loopseq/midifile"
	"loopseq/seq"
)

func testPerformer(t *testing.T) (*Performer, *midibus.Capture) {
	t.Helper()
	master := midibus.NewMaster(192)
	_, cap := master.AddCaptureOut("test")
	p := NewPerformer(config.Defaults(), master)
	return p, cap
}

func TestSlotMappingFollowsActiveSet(t *testing.T) {
	p, _ := testPerformer(t)
	if got := p.GlobalSlot(5); got != 5 {
		t.Errorf("set 0 slot 5 -> %d", got)
	}
	p.SetActiveSet(2)
	if got := p.GlobalSlot(5); got != 2*32+5 {
		t.Errorf("set 2 slot 5 -> %d, want %d", got, 2*32+5)
	}
	p.SetActiveSet(99)
	if p.ActiveSet() != 31 {
		t.Errorf("active set %d after clamp, want 31", p.ActiveSet())
	}
	p.SetActiveSet(-1)
	if p.ActiveSet() != 0 {
		t.Errorf("active set %d after clamp, want 0", p.ActiveSet())
	}
}

func TestToggleSlotOnlyTouchesActiveSet(t *testing.T) {
	p, _ := testPerformer(t)
	a := p.NewPattern(5)        // set 0
	b := p.NewPattern(2*32 + 5) // same position, set 2
	a.SetArmed(true)

	p.SetActiveSet(2)
	p.ToggleSlot(5)
	if !b.Armed() {
		t.Error("active-set slot not toggled")
	}
	if !a.Armed() {
		t.Error("pattern in another set was disturbed")
	}
}

func TestQueueSlotActsImmediatelyWhenStopped(t *testing.T) {
	p, _ := testPerformer(t)
	s := p.NewPattern(0)
	p.QueueSlot(0)
	if !s.Armed() {
		t.Error("stopped transport should toggle immediately")
	}
	if s.Queued() {
		t.Error("no boundary queue should be pending while stopped")
	}
}

func TestMuteGroupLearnRecall(t *testing.T) {
	p, _ := testPerformer(t)
	a := p.NewPattern(0)
	b := p.NewPattern(1)
	c := p.NewPattern(2)
	a.SetArmed(true)
	c.SetArmed(true)

	// learn the current mask into group 7
	p.BeginLearn()
	if !p.Learning() {
		t.Fatal("learn mode not armed")
	}
	p.GroupKey(7)
	if p.Learning() {
		t.Fatal("learn mode did not consume the key")
	}
	mask := p.Group(7)
	if mask == nil || !mask[0] || mask[1] || !mask[2] {
		t.Fatalf("learned mask %+v", mask)
	}

	// scramble, then recall
	a.SetArmed(false)
	b.SetArmed(true)
	c.SetArmed(false)
	p.GroupKey(7)
	if !a.Armed() || b.Armed() || !c.Armed() {
		t.Errorf("recall did not restore the mask: %t %t %t",
			a.Armed(), b.Armed(), c.Armed())
	}
}

func TestLearnConsumesSlotKey(t *testing.T) {
	p, _ := testPerformer(t)
	s := p.NewPattern(4)
	s.SetArmed(true)
	p.BeginLearn()
	p.ToggleSlot(4) // group selector, not an arm toggle
	if !s.Armed() {
		t.Error("slot key toggled the pattern instead of naming the group")
	}
	if p.Group(4) == nil {
		t.Error("group 4 not captured")
	}
}

func TestHandleInput(t *testing.T) {
	t.Run("records into recording patterns", func(t *testing.T) {
		p, _ := testPerformer(t)
		s := p.NewPattern(0)
		s.SetRecording(true)
		p.handleInput(midibus.InEvent{Status: seq.StatusNoteOn, Channel: 0, Data: [2]byte{60, 100}})
		if s.EventCount() != 1 {
			t.Fatalf("count %d, want 1", s.EventCount())
		}
	})

	t.Run("channel filter routes by pattern channel", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.FilterByChannel = true
		master := midibus.NewMaster(192)
		master.AddCaptureOut("test")
		p := NewPerformer(cfg, master)

		ch0 := p.NewPattern(0)
		ch0.SetRecording(true)
		ch1 := p.NewPattern(1)
		ch1.SetChannel(1)
		ch1.SetRecording(true)

		p.handleInput(midibus.InEvent{Status: seq.StatusNoteOn, Channel: 1, Data: [2]byte{60, 100}})
		if ch0.EventCount() != 0 {
			t.Error("channel 0 pattern recorded channel 1 input")
		}
		if ch1.EventCount() != 1 {
			t.Error("channel 1 pattern missed its input")
		}
	})

	t.Run("thru echoes to the pattern bus", func(t *testing.T) {
		p, cap := testPerformer(t)
		s := p.NewPattern(0)
		s.SetThru(true)
		p.handleInput(midibus.InEvent{Status: seq.StatusNoteOn, Channel: 0, Data: [2]byte{64, 90}})
		got := cap.Events()
		if len(got) != 1 || got[0].Bytes[1] != 64 {
			t.Fatalf("thru echo: %+v", got)
		}
		if s.EventCount() != 0 {
			t.Error("thru-only pattern recorded")
		}
	})

	t.Run("each pattern records its own copy", func(t *testing.T) {
		p, _ := testPerformer(t)
		a := p.NewPattern(0)
		b := p.NewPattern(1)
		a.SetRecording(true)
		b.SetRecording(true)
		p.handleInput(midibus.InEvent{Status: seq.StatusNoteOn, Channel: 0, Data: [2]byte{60, 100}})
		ea := a.EventsSnapshot()
		eb := b.EventsSnapshot()
		if len(ea) != 1 || len(eb) != 1 {
			t.Fatal("fan-out failed")
		}
		ea[0].SetNote(70)
		if eb[0].Note() != 60 {
			t.Error("patterns share one event instance")
		}
	})
}

func TestStopSilencesEverything(t *testing.T) {
	p, cap := testPerformer(t)
	s := p.NewPattern(0)
	s.SetArmed(true)
	s.AddEvent(seq.NewNoteOn(0, 0, 60, 100))

	p.PlayFrom(0)
	if p.State() != Running {
		t.Fatal("not running")
	}
	cap.Reset()
	p.Stop()
	if p.State() != Stopped {
		t.Fatal("not stopped")
	}
	if cap.CountStatus(0xFC) != 1 {
		t.Error("FC missing on stop")
	}
	if cap.Flushed() == 0 {
		t.Error("stop did not flush the output queue")
	}
	n := 0
	for _, e := range cap.Events() {
		if len(e.Bytes) == 3 && e.Bytes[0]&0xF0 == 0xB0 && e.Bytes[1] == 0x7B {
			n++
		}
	}
	if n != 16 {
		t.Errorf("%d all-notes-off, want 16", n)
	}
	if s.LastTick() != 0 {
		t.Error("playhead not rewound on stop")
	}
}

func TestPausePreservesPosition(t *testing.T) {
	p, _ := testPerformer(t)
	s := p.NewPattern(0)
	s.SetArmed(true)

	p.PlayFrom(0)
	s.PlayTo(500, false, nil) // simulate scheduler progress
	p.mu.Lock()
	p.tick = 500
	p.mu.Unlock()

	p.Pause()
	if p.State() != Paused {
		t.Fatal("not paused")
	}
	if s.LastTick() != 500 {
		t.Errorf("pause moved the playhead to %d", s.LastTick())
	}
	if p.Tick() != 500 {
		t.Errorf("pause moved the transport to %d", p.Tick())
	}

	p.Continue()
	if p.State() != Running {
		t.Fatal("continue failed")
	}
	if p.Tick() != 500 {
		t.Error("continue relocated the transport")
	}
}

func TestSetTempoClamps(t *testing.T) {
	p, _ := testPerformer(t)
	p.SetTempo(10000)
	if p.BPM() != 600 {
		t.Errorf("bpm %v, want max 600", p.BPM())
	}
	p.SetTempo(0)
	if p.BPM() != 1 {
		t.Errorf("bpm %v, want min 1", p.BPM())
	}
}

func TestSaveOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.midi")

	p, _ := testPerformer(t)
	s := p.NewPattern(3)
	s.SetName("keys")
	s.AddEvent(seq.NewNoteOn(0, 0, 60, 100))
	s.AddEvent(seq.NewNoteOff(96, 0, 60, 64))
	s.AddTrigger(seq.Trigger{Start: 0, End: 1535, Offset: 0})
	mask := make([]bool, 32)
	mask[3] = true
	p.SetGroup(7, mask)
	p.SetSetNote(0, "verse")
	p.SetTempo(133)

	if err := p.SaveAs(path, midifile.ModeNormal); err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.Modified() {
		t.Error("dirty after save")
	}

	q, _ := testPerformer(t)
	if err := q.Open(path); err != nil {
		t.Fatalf("open: %v", err)
	}
	got := q.Pattern(3)
	if got == nil {
		t.Fatal("pattern 3 missing after open")
	}
	if got.Name() != "keys" || got.EventCount() != 2 {
		t.Errorf("pattern state: %q/%d", got.Name(), got.EventCount())
	}
	if len(got.Triggers()) != 1 {
		t.Error("triggers lost")
	}
	if m := q.Group(7); m == nil || !m[3] {
		t.Errorf("group 7 after open: %+v", m)
	}
	if q.SetNote(0) != "verse" {
		t.Errorf("set note %q", q.SetNote(0))
	}
	if q.BPM() != 133 {
		t.Errorf("bpm %v, want 133", q.BPM())
	}
}

func TestOpenRefusedWhileRunning(t *testing.T) {
	p, _ := testPerformer(t)
	p.PlayFrom(0)
	if err := p.Open("whatever.midi"); err == nil {
		t.Error("open accepted with transport running")
	}
}

func TestPlayFromEmitsClockAtStartTick(t *testing.T) {
	master := midibus.NewMaster(192)
	b, cap := master.AddCaptureOut("test")
	b.SetClockMode(midibus.ClockOn, 0)
	p := NewPerformer(config.Defaults(), master)

	p.PlayFrom(0)
	cap.Reset() // drop the FA
	p.advanceTo(191)

	if n := cap.CountStatus(0xF8); n != 24 {
		t.Errorf("%d F8 in the first beat, want 24", n)
	}
	got := cap.Events()
	if len(got) == 0 || got[0].Tick != 0 || got[0].Bytes[0] != 0xF8 {
		t.Error("no clock pulse at the start tick")
	}

	// a pause/continue must not repeat the pulse the pause ended on
	p.Pause()
	cap.Reset()
	p.Continue()
	p.advanceTo(291)
	if n := cap.CountStatus(0xF8); n != 13 {
		t.Errorf("%d F8 in (191, 291], want 13", n)
	}
	for _, e := range cap.Events() {
		if e.Bytes[0] == 0xF8 && e.Tick <= 191 {
			t.Errorf("repeated clock pulse at tick %d", e.Tick)
		}
	}
}

func TestOpenAdoptsFilePPQN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hires.midi")
	s := seq.NewSequence(0, 384)
	s.AddEvent(seq.NewNoteOn(0, 0, 60, 100))
	s.AddEvent(seq.NewNoteOff(96, 0, 60, 64))
	doc := &midifile.Document{PPQN: 384, BPM: 120, Sequences: []*seq.Sequence{s}}
	if err := midifile.Write(path, doc, midifile.ModeNormal); err != nil {
		t.Fatalf("write: %v", err)
	}

	master := midibus.NewMaster(192)
	b, cap := master.AddCaptureOut("test")
	b.SetClockMode(midibus.ClockOn, 0)
	p := NewPerformer(config.Defaults(), master)
	if err := p.Open(path); err != nil {
		t.Fatalf("open: %v", err)
	}

	if master.PPQN() != 384 {
		t.Fatalf("bus array still at %d PPQN", master.PPQN())
	}
	master.ClockRange(-1, 383)
	if n := cap.CountStatus(0xF8); n != 24 {
		t.Errorf("%d F8 in one beat at the file's resolution, want 24", n)
	}
}

func TestFrameClockDrivesTransport(t *testing.T) {
	cfg := config.Defaults()
	cfg.JackRole = config.JackSlave
	master := midibus.NewMaster(192)
	_, cap := master.AddCaptureOut("test")
	p := NewPerformer(cfg, master)

	fc := p.FrameClock()
	if fc == nil {
		t.Fatal("no frame clock with a JACK role configured")
	}
	if q := NewPerformer(config.Defaults(), midibus.NewMaster(192)); q.FrameClock() != nil {
		t.Fatal("frame clock present without a JACK role")
	}

	s := p.NewPattern(0)
	s.SetArmed(true)
	s.AddEvent(seq.NewNoteOn(0, 0, 60, 100))
	s.AddEvent(seq.NewNoteOff(96, 0, 60, 64))
	s.VerifyAndLink()

	p.PlayFrom(0)
	cap.Reset()
	fc.Advance(24000) // one beat at 48 kHz / 120 BPM
	if !p.framePass(fc) {
		t.Fatal("no pending frame ticks")
	}
	if p.Tick() != 192 {
		t.Errorf("transport at %d after one beat of frames, want 192", p.Tick())
	}
	if cap.CountStatus(0x90) != 1 || cap.CountStatus(0x80) != 1 {
		t.Error("pattern did not sound under the frame clock")
	}

	p.SetTempo(240)
	fc.Advance(24000) // same frames, twice the ticks
	p.framePass(fc)
	if p.Tick() != 192+384 {
		t.Errorf("tempo change not adopted by the frame clock: tick %d", p.Tick())
	}
}

func TestFrameClock(t *testing.T) {
	t.Run("frame to tick conversion", func(t *testing.T) {
		// 48000 Hz, 192 PPQN, 120 BPM: one quarter = 24000 frames
		c := NewFrameClock(48000, 192, 120)
		if got := c.Advance(24000); got != 192 {
			t.Errorf("one beat of frames -> tick %d, want 192", got)
		}
	})

	t.Run("fraction carries across calls", func(t *testing.T) {
		c := NewFrameClock(48000, 192, 120)
		// 125 frames per tick at these settings; feed 1000 ticks worth
		// in awkward chunks
		total := seq.Pulse(0)
		for i := 0; i < 1000; i++ {
			total = c.Advance(125)
		}
		if total != 1000 {
			t.Errorf("accumulated tick %d, want 1000", total)
		}
	})

	t.Run("ring hands ticks to the consumer", func(t *testing.T) {
		c := NewFrameClock(48000, 192, 120)
		c.Advance(250) // 2 ticks
		got, ok := c.Pending()
		if !ok || got != 2 {
			t.Errorf("pending %d/%t, want 2/true", got, ok)
		}
		if _, ok := c.Pending(); ok {
			t.Error("ring not drained")
		}
	})
}

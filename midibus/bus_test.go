package midibus

import (
	"bytes"
	"testing"

	"loopseq/seq"
)

func captureBus(t *testing.T) (*Bus, *Capture) {
	t.Helper()
	m := NewMaster(192)
	return m.AddCaptureOut("test")
}

func TestPlayComposesChannelNibble(t *testing.T) {
	b, cap := captureBus(t)

	e := seq.NewNoteOn(0, 9, 60, 100) // event's own channel is ignored here
	b.Play(0, e, 3)

	got := cap.Events()
	if len(got) != 1 {
		t.Fatalf("%d messages, want 1", len(got))
	}
	if !bytes.Equal(got[0].Bytes, []byte{0x93, 60, 100}) {
		t.Errorf("wire %x, want 93 3c 64", got[0].Bytes)
	}
}

func TestPlayProgramChangeOneDataByte(t *testing.T) {
	b, cap := captureBus(t)
	e := &seq.Event{Status: seq.StatusProgram, Data: [2]byte{42, 0}}
	b.Play(0, e, 0)
	if got := cap.Events()[0].Bytes; !bytes.Equal(got, []byte{0xC0, 42}) {
		t.Errorf("wire %x, want c0 2a", got)
	}
}

func TestSysexFraming(t *testing.T) {
	b, cap := captureBus(t)
	e := &seq.Event{Status: seq.StatusSysEx, Payload: []byte{0x7E, 0x00, 0x09}}
	b.Sysex(0, e)
	if got := cap.Events()[0].Bytes; !bytes.Equal(got, []byte{0xF0, 0x7E, 0x00, 0x09, 0xF7}) {
		t.Errorf("wire %x", got)
	}
}

func TestClockModes(t *testing.T) {
	t.Run("off sends start but no ticks", func(t *testing.T) {
		b, cap := captureBus(t)
		b.SetClockMode(ClockOff, 0)
		b.Start()
		b.ClockRange(-1, 192, 192)
		if cap.CountStatus(0xFA) != 1 {
			t.Error("FA missing")
		}
		if cap.CountStatus(0xF8) != 0 {
			t.Errorf("clock-off bus emitted %d F8", cap.CountStatus(0xF8))
		}
	})

	t.Run("on emits 24 per quarter", func(t *testing.T) {
		b, cap := captureBus(t)
		b.SetClockMode(ClockOn, 0)
		b.Start()
		// one quarter note at 192 PPQN, tick 0 included
		b.ClockRange(-1, 191, 192)
		if n := cap.CountStatus(0xF8); n != 24 {
			t.Errorf("%d F8 in one beat, want 24", n)
		}
	})

	t.Run("multi tick pass emits every pulse", func(t *testing.T) {
		b, cap := captureBus(t)
		b.SetClockMode(ClockOn, 0)
		// window (7, 40] at interval 8: pulses at 8,16,24,32,40
		b.ClockRange(7, 40, 192)
		if n := cap.CountStatus(0xF8); n != 5 {
			t.Errorf("%d F8, want 5", n)
		}
	})

	t.Run("mod defers start to boundary", func(t *testing.T) {
		b, cap := captureBus(t)
		b.SetClockMode(ClockMod, 768)
		b.Start() // deferred
		if cap.CountStatus(0xFA) != 0 {
			t.Fatal("mod bus started early")
		}
		b.ClockRange(-1, 500, 192)
		if cap.CountStatus(0xFA) != 0 || cap.CountStatus(0xF8) != 0 {
			t.Fatal("mod bus emitted before its boundary")
		}
		b.ClockRange(500, 800, 192)
		if cap.CountStatus(0xFA) != 1 {
			t.Error("deferred FA missing after boundary")
		}
		if cap.CountStatus(0xF8) == 0 {
			t.Error("no clock after deferred start")
		}
	})

	t.Run("disabled sends nothing", func(t *testing.T) {
		b, cap := captureBus(t)
		b.SetClockMode(ClockDisabled, 0)
		b.Start()
		b.Play(0, seq.NewNoteOn(0, 0, 60, 100), 0)
		b.ClockRange(-1, 192, 192)
		b.Stop()
		if len(cap.Events()) != 0 {
			t.Errorf("disabled bus emitted %d messages", len(cap.Events()))
		}
	})
}

func TestContinueSendsSongPosition(t *testing.T) {
	b, cap := captureBus(t)
	b.SetClockMode(ClockOn, 0)
	// resume at two bars (1536 ticks = 32 sixteenths at 192 PPQN)
	b.ContinueFrom(1536, 192)

	got := cap.Events()
	if len(got) != 2 {
		t.Fatalf("%d messages, want SPP then FB", len(got))
	}
	if !bytes.Equal(got[0].Bytes, []byte{0xF2, 32, 0}) {
		t.Errorf("SPP %x, want f2 20 00", got[0].Bytes)
	}
	if got[1].Bytes[0] != 0xFB {
		t.Errorf("second message %x, want FB", got[1].Bytes)
	}
}

func TestInitClock(t *testing.T) {
	t.Run("from top sends FA", func(t *testing.T) {
		b, cap := captureBus(t)
		b.SetClockMode(ClockOn, 0)
		b.InitClock(0, 192)
		if cap.CountStatus(0xFA) != 1 || cap.CountStatus(0xFB) != 0 {
			t.Errorf("events %+v", cap.Events())
		}
	})
	t.Run("mid song continues", func(t *testing.T) {
		b, cap := captureBus(t)
		b.SetClockMode(ClockOn, 0)
		b.InitClock(960, 192)
		if cap.CountStatus(0xFA) != 0 || cap.CountStatus(0xFB) != 1 {
			t.Errorf("events %+v", cap.Events())
		}
	})
}

func TestPanicNotes(t *testing.T) {
	b, cap := captureBus(t)
	b.PanicNotes(0)
	got := cap.Events()
	if len(got) != 16 {
		t.Fatalf("%d messages, want 16 channels", len(got))
	}
	if !bytes.Equal(got[0].Bytes, []byte{0xB0, 0x7B, 0x00}) {
		t.Errorf("channel 0: %x", got[0].Bytes)
	}
	if !bytes.Equal(got[15].Bytes, []byte{0xBF, 0x7B, 0x00}) {
		t.Errorf("channel 15: %x", got[15].Bytes)
	}
}

func TestMasterPlayRoutesByBus(t *testing.T) {
	m := NewMaster(192)
	_, cap0 := m.AddCaptureOut("a")
	_, cap1 := m.AddCaptureOut("b")

	e := seq.NewNoteOn(0, 0, 60, 100)
	m.Play(1, 0, e, 0)
	if len(cap0.Events()) != 0 {
		t.Error("bus 0 received bus 1 traffic")
	}
	if len(cap1.Events()) != 1 {
		t.Error("bus 1 missed its event")
	}
	// out-of-range bus is dropped, not a panic
	m.Play(9, 0, e, 0)
}

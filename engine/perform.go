// Package engine drives playback: an output goroutine walks the transport
// tick by tick against wall-clock deadlines and asks every pattern to sound
// its window, an input goroutine fans recorded events into armed patterns,
// and screen-sets/mute groups shape what the hotkeys address.
package engine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"loopseq/config"
	"loopseq/debug"
	"loopseq/midibus"
	"loopseq/midifile"
	"loopseq/seq"
)

// TransportState is the playback state machine.
type TransportState int

const (
	// Stopped: no output, playheads at the start position.
	Stopped TransportState = iota
	// Running: the output loop is emitting.
	Running
	// Paused: no output, playheads preserved for continue.
	Paused
)

// tickNotifyInterval throttles playhead progress updates to the front-end.
const tickNotifyInterval = time.Second / 30

// Performer owns the pattern store and the transport. Lock order is
// engine, then pattern, then bus; callbacks running the other way
// (pattern dirty marks) touch only atomics.
type Performer struct {
	mu  sync.RWMutex
	cfg config.Options

	master   *midibus.Master
	patterns []*seq.Sequence

	state    TransportState
	songMode bool
	bpm      float64
	ppqn     int

	tick       seq.Pulse
	clockTick  seq.Pulse // last tick MIDI clock was emitted through
	origin     time.Time
	originTick seq.Pulse
	frameClock *FrameClock

	activeSet int
	setNotes  map[int]string
	groups    [MaxGroups][]bool
	learning  bool

	notifyCh chan Notification
	stopChan chan struct{}
	started  bool

	dirty    atomic.Bool
	filename string
}

// NewPerformer builds an engine over the given bus array. The options are
// sanitized once; the engine never re-reads configuration.
func NewPerformer(cfg config.Options, master *midibus.Master) *Performer {
	cfg = cfg.Sanitized()
	p := &Performer{
		cfg:      cfg,
		master:   master,
		patterns: make([]*seq.Sequence, cfg.Capacity()),
		bpm:      cfg.BPM,
		ppqn:     cfg.PPQN,
		setNotes: make(map[int]string),
		notifyCh: make(chan Notification, notifyQueueSize),
		stopChan: make(chan struct{}),
	}
	if cfg.JackRole != config.JackOff {
		p.frameClock = NewFrameClock(cfg.SampleRate, cfg.PPQN, cfg.BPM)
	}
	master.SetErrorSink(func(bus int, err error) {
		p.push(Notification{Kind: NotePortError, Bus: bus, Err: err})
	})
	return p
}

// FrameClock returns the frame-driven tick source (nil unless a JACK role
// is configured). A process callback feeds it with Advance; the output
// loop drains it instead of sleeping against the wall clock.
func (p *Performer) FrameClock() *FrameClock { return p.frameClock }

// Options returns the engine's effective configuration.
func (p *Performer) Options() config.Options { return p.cfg }

// StartRuntime starts the output and input goroutines (called once).
func (p *Performer) StartRuntime() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()
	go p.outputLoop()
	go p.inputLoop()
}

// Shutdown stops the goroutines and silences the buses.
func (p *Performer) Shutdown() {
	p.Stop()
	p.mu.Lock()
	if p.started {
		close(p.stopChan)
		p.started = false
	}
	p.mu.Unlock()
}

// Pattern store.

// Pattern returns the pattern at a slot (nil when empty or out of range).
func (p *Performer) Pattern(slot int) *seq.Sequence {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if slot < 0 || slot >= len(p.patterns) {
		return nil
	}
	return p.patterns[slot]
}

// NewPattern creates an empty pattern at the slot, replacing what was there.
func (p *Performer) NewPattern(slot int) *seq.Sequence {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.patterns) {
		return nil
	}
	s := seq.NewSequence(slot, p.ppqn)
	s.SetNotifier(p)
	p.patterns[slot] = s
	p.dirty.Store(true)
	return s
}

// InstallPattern places a loaded pattern at its slot.
func (p *Performer) InstallPattern(s *seq.Sequence) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot := s.Slot()
	if slot < 0 || slot >= len(p.patterns) {
		return false
	}
	s.SetNotifier(p)
	p.patterns[slot] = s
	return true
}

// RemovePattern deletes the pattern at a slot.
func (p *Performer) RemovePattern(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.patterns) {
		return
	}
	p.patterns[slot] = nil
	p.dirty.Store(true)
}

// Capacity returns the total number of pattern slots.
func (p *Performer) Capacity() int { return len(p.patterns) }

// patternsSnapshot returns the non-nil patterns without holding the lock
// during playback.
func (p *Performer) patternsSnapshot() []*seq.Sequence {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*seq.Sequence, 0, len(p.patterns))
	for _, s := range p.patterns {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Transport.

// State returns the transport state.
func (p *Performer) State() TransportState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// SongMode reports whether playback follows triggers instead of armed flags.
func (p *Performer) SongMode() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.songMode
}

// SetSongMode switches between live and song playback.
func (p *Performer) SetSongMode(on bool) {
	p.mu.Lock()
	p.songMode = on
	p.mu.Unlock()
}

// Tick returns the current transport tick.
func (p *Performer) Tick() seq.Pulse {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tick
}

// BPM returns the running tempo.
func (p *Performer) BPM() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bpm
}

// SetTempo changes the tempo, clamped to the configured bounds. The timing
// origin is re-latched at the current tick so elapsed time stays coherent.
func (p *Performer) SetTempo(bpm float64) {
	p.mu.Lock()
	if bpm < p.cfg.BPMMin {
		bpm = p.cfg.BPMMin
	}
	if bpm > p.cfg.BPMMax {
		bpm = p.cfg.BPMMax
	}
	p.bpm = bpm
	p.origin = time.Now()
	p.originTick = p.tick
	p.mu.Unlock()
	if p.frameClock != nil {
		p.frameClock.SetBPM(bpm)
	}
}

// Play starts the transport from the top.
func (p *Performer) Play() { p.PlayFrom(0) }

// PlayFrom starts the transport at an arbitrary tick. Pattern playheads and
// the clock cursor are positioned one tick before so the window
// (from-1, from] sounds the first tick's events and its F8 pulse.
func (p *Performer) PlayFrom(from seq.Pulse) {
	p.mu.Lock()
	if p.state == Running {
		p.mu.Unlock()
		return
	}
	p.state = Running
	p.tick = from
	p.clockTick = from - 1
	p.origin = time.Now()
	p.originTick = from
	patterns := p.livePatternsLocked()
	p.mu.Unlock()

	for _, s := range patterns {
		s.SetLastTick(from - 1)
	}
	if p.frameClock != nil {
		p.frameClock.Reset(from)
	}
	p.master.InitClocks(from)
	debug.Log("engine", "play from tick %d", from)
}

// Continue resumes a paused transport at the preserved position.
func (p *Performer) Continue() {
	p.mu.Lock()
	if p.state != Paused {
		p.mu.Unlock()
		return
	}
	p.state = Running
	p.origin = time.Now()
	p.originTick = p.tick
	// tick at was already sounded and clocked before the pause
	p.clockTick = p.tick
	at := p.tick
	p.mu.Unlock()

	if p.frameClock != nil {
		p.frameClock.Reset(at)
	}
	p.master.InitClocks(at)
	debug.Log("engine", "continue at tick %d", at)
}

// Pause halts output but preserves every playhead for Continue. Sounding
// notes are released so nothing hangs while paused.
func (p *Performer) Pause() {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	p.state = Paused
	at := p.tick
	p.mu.Unlock()

	p.master.Stop()
	p.master.PanicNotes(at)
	p.master.Flush()
}

// Stop halts output and rewinds every playhead to the top. Queued toggles
// are left pending; sounding notes are released.
func (p *Performer) Stop() {
	p.mu.Lock()
	if p.state == Stopped {
		p.mu.Unlock()
		return
	}
	p.state = Stopped
	at := p.tick
	p.tick = 0
	p.clockTick = 0
	patterns := p.livePatternsLocked()
	p.mu.Unlock()

	if p.frameClock != nil {
		p.frameClock.Reset(0)
	}
	p.master.Stop()
	p.master.PanicNotes(at)
	p.master.Flush()
	for _, s := range patterns {
		s.SetLastTick(0)
	}
	p.push(Notification{Kind: NoteTickProgress, Tick: 0})
}

func (p *Performer) livePatternsLocked() []*seq.Sequence {
	out := make([]*seq.Sequence, 0, len(p.patterns))
	for _, s := range p.patterns {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// outputLoop is the scheduler: it sleeps until the next tick deadline, then
// plays every pattern's window up to the target tick and emits clock.
// Deadlines derive from the latched origin, never from sleep arithmetic, so
// timing does not drift.
func (p *Performer) outputLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if fc := p.frameClock; fc != nil {
		p.frameLoop(fc)
		return
	}

	lastNotify := time.Time{}
	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		p.mu.RLock()
		running := p.state == Running
		bpm := p.bpm
		ppqn := p.ppqn
		origin := p.origin
		originTick := p.originTick
		prev := p.tick
		p.mu.RUnlock()

		if !running {
			time.Sleep(time.Millisecond)
			continue
		}

		nsPerTick := 60e9 / (bpm * float64(ppqn))
		next := prev + 1
		deadline := origin.Add(time.Duration(float64(next-originTick) * nsPerTick))
		if wait := time.Until(deadline); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-p.stopChan:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		// The pass target is wherever the wall clock says we are, so a
		// late wakeup catches up in one pass instead of lagging forever.
		target := originTick + seq.Pulse(float64(time.Since(origin))/nsPerTick)
		if target < next {
			target = next
		}

		p.mu.RLock()
		stillRunning := p.state == Running
		p.mu.RUnlock()
		if !stillRunning {
			continue
		}

		p.advanceTo(target)

		if time.Since(lastNotify) >= tickNotifyInterval {
			lastNotify = time.Now()
			p.push(Notification{Kind: NoteTickProgress, Tick: target})
		}
	}
}

// advanceTo is one scheduler pass: every pattern sounds its window up to
// target, the clock pulses the pass covers go out, and the transport
// position is published. The clock window picks up at the stored cursor,
// which PlayFrom primes one tick early so the start tick's F8 is emitted.
func (p *Performer) advanceTo(target seq.Pulse) {
	p.mu.RLock()
	song := p.songMode
	clockFrom := p.clockTick
	p.mu.RUnlock()

	for _, s := range p.patternsSnapshot() {
		s.PlayTo(target, song, p.master)
	}
	p.master.ClockRange(clockFrom, target)
	p.master.Flush()

	p.mu.Lock()
	if p.state == Running {
		p.tick = target
		p.clockTick = target
	}
	p.mu.Unlock()
}

// frameLoop drives the transport from the frame clock: the process
// callback publishes tick deadlines through the ring and this thread
// drains them, so playback follows the audio clock instead of the wall
// clock.
func (p *Performer) frameLoop(fc *FrameClock) {
	lastNotify := time.Time{}
	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		p.mu.RLock()
		running := p.state == Running
		p.mu.RUnlock()
		if !running {
			time.Sleep(time.Millisecond)
			continue
		}

		if !p.framePass(fc) {
			time.Sleep(200 * time.Microsecond)
			continue
		}

		if time.Since(lastNotify) >= tickNotifyInterval {
			lastNotify = time.Now()
			p.push(Notification{Kind: NoteTickProgress, Tick: p.Tick()})
		}
	}
}

// framePass drains the pending frame ticks and advances to the newest one.
// It reports whether anything was pending.
func (p *Performer) framePass(fc *FrameClock) bool {
	var target seq.Pulse
	ok := false
	for {
		t, more := fc.Pending()
		if !more {
			break
		}
		target, ok = t, true
	}
	if !ok {
		return false
	}
	p.advanceTo(target)
	return true
}

// inputLoop fans incoming MIDI into the recording patterns.
func (p *Performer) inputLoop() {
	for {
		select {
		case <-p.stopChan:
			return
		case ev := <-p.master.Input():
			p.handleInput(ev)
		}
	}
}

// handleInput routes one incoming event: every recording pattern that
// accepts the channel records a copy, and thru patterns echo it to their
// own bus immediately.
func (p *Performer) handleInput(ev midibus.InEvent) {
	p.mu.RLock()
	tick := p.tick
	running := p.state == Running
	filter := p.cfg.FilterByChannel
	p.mu.RUnlock()
	if !running {
		tick = 0
	}

	for _, s := range p.patternsSnapshot() {
		recording := s.Recording()
		thru := s.Thru()
		if !recording && !thru {
			continue
		}
		if filter {
			ch := s.Channel()
			if ch != seq.ChannelNative && ch != ev.Channel {
				continue
			}
		}
		e := &seq.Event{
			Status:  ev.Status,
			Channel: ev.Channel,
			Data:    ev.Data,
		}
		if ev.Status == seq.StatusSysEx {
			e.Payload = append([]byte(nil), ev.Payload...)
		}
		if thru {
			p.master.Play(s.Bus(), tick, e, resolveChannel(s, e))
		}
		if recording {
			s.RecordEvent(e, tick)
		}
	}
}

func resolveChannel(s *seq.Sequence, e *seq.Event) byte {
	if ch := s.Channel(); ch != seq.ChannelNative {
		return ch
	}
	return e.Channel
}

// File I/O.

// Filename returns the path of the loaded file ("" when untitled).
func (p *Performer) Filename() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filename
}

// Modified reports unsaved changes.
func (p *Performer) Modified() bool { return p.dirty.Load() }

// Open replaces the whole pattern store with the file's contents. The
// transport must be stopped; prior state is untouched when the read fails.
func (p *Performer) Open(path string) error {
	if p.State() != Stopped {
		return fmt.Errorf("open: transport must be stopped")
	}
	doc, err := midifile.Read(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	for i := range p.patterns {
		p.patterns[i] = nil
	}
	for _, s := range doc.Sequences {
		if slot := s.Slot(); slot >= 0 && slot < len(p.patterns) {
			s.SetNotifier(p)
			p.patterns[slot] = s
		} else {
			debug.Log("engine", "dropping pattern at out-of-range slot %d", slot)
		}
	}
	for g := range p.groups {
		if g < len(doc.MuteGroups) {
			p.groups[g] = append([]bool(nil), doc.MuteGroups[g]...)
		} else {
			p.groups[g] = nil
		}
	}
	p.setNotes = make(map[int]string)
	for set, note := range doc.SetNotes {
		p.setNotes[set] = note
	}
	if doc.PPQN >= midifile.MinPPQN && doc.PPQN <= midifile.MaxPPQN {
		p.ppqn = doc.PPQN
	}
	bpm := doc.BPM
	if bpm < p.cfg.BPMMin {
		bpm = p.cfg.BPMMin
	}
	if bpm > p.cfg.BPMMax {
		bpm = p.cfg.BPMMax
	}
	p.bpm = bpm
	p.filename = path
	ppqn := p.ppqn
	p.mu.Unlock()

	// the bus array and frame clock emit at the file's resolution now
	p.master.SetPPQN(ppqn)
	if p.frameClock != nil {
		p.frameClock.SetPPQN(ppqn)
		p.frameClock.SetBPM(bpm)
	}
	p.dirty.Store(false)
	return nil
}

// Save writes the pattern store to the loaded file.
func (p *Performer) Save() error {
	path := p.Filename()
	if path == "" {
		return fmt.Errorf("save: no filename")
	}
	return p.SaveAs(path, midifile.ModeNormal)
}

// SaveAs writes the pattern store to a path in the given export mode.
// Export modes do not claim the filename or the dirty flag; only a normal
// save does.
func (p *Performer) SaveAs(path string, mode midifile.Mode) error {
	doc := p.document()
	if err := midifile.Write(path, doc, mode); err != nil {
		return err
	}
	if mode == midifile.ModeNormal {
		p.mu.Lock()
		p.filename = path
		p.mu.Unlock()
		p.dirty.Store(false)
	}
	return nil
}

// document snapshots the store for the codec.
func (p *Performer) document() *midifile.Document {
	p.mu.RLock()
	defer p.mu.RUnlock()
	doc := &midifile.Document{
		PPQN:     p.ppqn,
		BPM:      p.bpm,
		SetNotes: make(map[int]string, len(p.setNotes)),
	}
	for _, s := range p.patterns {
		if s != nil {
			doc.Sequences = append(doc.Sequences, s)
		}
	}
	// the file format indexes groups by position, so unset groups are
	// written as zero masks of the set size
	any := false
	for _, g := range p.groups {
		if g != nil {
			any = true
			break
		}
	}
	if any {
		groups := make([][]bool, MaxGroups)
		for i, g := range p.groups {
			if g == nil {
				groups[i] = make([]bool, p.cfg.SetSize())
			} else {
				groups[i] = g
			}
		}
		doc.MuteGroups = groups
	}
	for set, note := range p.setNotes {
		doc.SetNotes[set] = note
	}
	return doc
}

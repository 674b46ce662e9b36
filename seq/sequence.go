package seq

import "sync"

// Outputs is what a pattern plays into: the bus array. The bus composes the
// channel nibble into the status byte; the pattern only chooses the channel.
type Outputs interface {
	Play(bus uint8, tick Pulse, ev *Event, channel byte)
}

// Notifier receives pattern-dirty notifications. Patterns never hold the
// scheduler; the scheduler registers itself as the sink.
type Notifier interface {
	PatternDirty(slot int)
}

// SelectMode controls what SelectEvents does with matching events.
type SelectMode int

const (
	SelectWould  SelectMode = iota // count matches only
	SelectIs                       // count matches already selected
	SelectDo                       // select all matches
	SelectOne                      // select the first match only
	SelectToggle                   // flip selection on matches
)

// maxUndo bounds the undo/redo history per pattern.
const maxUndo = 32

// Sequence is one pattern: an event container with live state, triggers and
// an undo history. All public methods lock the pattern mutex; the scheduler
// holds it for the duration of one pass.
type Sequence struct {
	mu sync.Mutex

	slot int
	name string

	events *EventList
	length Pulse
	ppqn   int

	beatsPerBar int
	beatWidth   int

	bus     uint8
	channel byte // 0-15, or ChannelNative

	key          int
	scale        int
	background   int // advisory GUI hint: slot drawn behind the piano roll
	transposable bool

	armed      bool
	queued     bool
	queuedTick Pulse
	oneShot    bool

	recording       bool
	thru            bool
	quantizedRecord bool
	overwriteRecord bool
	expandRecord    bool
	snap            Pulse

	lastTick       Pulse
	lastRecordTick Pulse

	triggers Triggers

	clipboard []Event
	undoStack [][]Event
	redoStack [][]Event

	paintStash *Event      // pending note-on while painting
	recentOns  [128]*Event // unmatched note-ons per pitch during recording

	notify Notifier
	dirty  bool
}

// NewSequence creates an empty one-bar 4/4 pattern at the given slot.
func NewSequence(slot, ppqn int) *Sequence {
	s := &Sequence{
		slot:         slot,
		events:       NewEventList(),
		ppqn:         ppqn,
		beatsPerBar:  4,
		beatWidth:    4,
		channel:      0,
		transposable: true,
		background:   -1,
	}
	s.length = s.barTicks()
	s.snap = Pulse(ppqn / 4)
	return s
}

// barTicks returns the tick length of one bar at the pattern's own signature.
func (s *Sequence) barTicks() Pulse {
	return Pulse(s.beatsPerBar) * s.beatTicks()
}

// beatTicks returns the tick value of one beat at the pattern's beat width.
func (s *Sequence) beatTicks() Pulse {
	return Pulse(s.ppqn * 4 / s.beatWidth)
}

// Slot returns the pattern's grid index.
func (s *Sequence) Slot() int { return s.slot }

// SetSlot reassigns the grid index (used when loading into a different set).
func (s *Sequence) SetSlot(n int) {
	s.mu.Lock()
	s.slot = n
	s.mu.Unlock()
}

// Name returns the display name.
func (s *Sequence) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName sets the display name.
func (s *Sequence) SetName(n string) {
	s.mu.Lock()
	s.name = n
	s.markDirtyLocked()
	s.mu.Unlock()
}

// SetNotifier registers the dirty-notification sink.
func (s *Sequence) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notify = n
	s.mu.Unlock()
}

func (s *Sequence) markDirtyLocked() {
	s.dirty = true
	if s.notify != nil {
		s.notify.PatternDirty(s.slot)
	}
}

// Dirty reports and clears the dirty flag.
func (s *Sequence) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirty
	s.dirty = false
	return d
}

// Length returns the pattern length in ticks.
func (s *Sequence) Length() Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// PPQN returns the resolution the pattern was built at.
func (s *Sequence) PPQN() int { return s.ppqn }

// TimeSignature returns the pattern-local beats per bar and beat width.
func (s *Sequence) TimeSignature() (beatsPerBar, beatWidth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beatsPerBar, s.beatWidth
}

// SetTimeSignature sets the local signature; invalid values are a no-op.
func (s *Sequence) SetTimeSignature(beatsPerBar, beatWidth int) {
	if beatsPerBar < 1 || beatWidth < 1 {
		return
	}
	s.mu.Lock()
	s.beatsPerBar = beatsPerBar
	s.beatWidth = beatWidth
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Bus returns the output bus id.
func (s *Sequence) Bus() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus
}

// SetBus sets the output bus id.
func (s *Sequence) SetBus(b uint8) {
	s.mu.Lock()
	s.bus = b
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Channel returns the output channel (ChannelNative = use event's own).
func (s *Sequence) Channel() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// SetChannel sets the output channel; values other than 0-15 mean native.
func (s *Sequence) SetChannel(c byte) {
	s.mu.Lock()
	if c > 15 {
		c = ChannelNative
	}
	s.channel = c
	s.markDirtyLocked()
	s.mu.Unlock()
}

// KeyScale returns the advisory key and scale hints.
func (s *Sequence) KeyScale() (key, scale int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key, s.scale
}

// SetKeyScale stores the advisory key and scale hints.
func (s *Sequence) SetKeyScale(key, scale int) {
	s.mu.Lock()
	s.key, s.scale = key, scale
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Background returns the background pattern hint (-1 = none).
func (s *Sequence) Background() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.background
}

// SetBackground stores the background pattern hint.
func (s *Sequence) SetBackground(slot int) {
	s.mu.Lock()
	s.background = slot
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Transposable reports whether global transpose applies to this pattern.
func (s *Sequence) Transposable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transposable
}

// SetTransposable marks the pattern as melodic (true) or drum (false).
func (s *Sequence) SetTransposable(t bool) {
	s.mu.Lock()
	s.transposable = t
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Armed reports whether the pattern plays in live mode.
func (s *Sequence) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// SetArmed arms or disarms immediately, clearing any pending queue.
func (s *Sequence) SetArmed(a bool) {
	s.mu.Lock()
	s.armed = a
	s.queued = false
	s.oneShot = false
	s.mu.Unlock()
}

// ToggleArmed flips the armed flag immediately.
func (s *Sequence) ToggleArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = !s.armed
	s.queued = false
	s.oneShot = false
	return s.armed
}

// Queue requests an armed toggle at the next pattern-length boundary.
func (s *Sequence) Queue() {
	s.mu.Lock()
	s.queued = true
	s.oneShot = false
	s.mu.Unlock()
}

// QueueOneShot requests a single play-through: arm at the next boundary,
// disarm at the one after.
func (s *Sequence) QueueOneShot() {
	s.mu.Lock()
	if !s.armed {
		s.queued = true
		s.oneShot = true
	}
	s.mu.Unlock()
}

// Queued reports a pending boundary toggle.
func (s *Sequence) Queued() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Recording state accessors.

func (s *Sequence) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *Sequence) SetRecording(r bool) {
	s.mu.Lock()
	s.recording = r
	if !r {
		s.recentOns = [128]*Event{}
	}
	s.mu.Unlock()
}

func (s *Sequence) Thru() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thru
}

func (s *Sequence) SetThru(t bool) {
	s.mu.Lock()
	s.thru = t
	s.mu.Unlock()
}

func (s *Sequence) SetQuantizedRecord(q bool) {
	s.mu.Lock()
	s.quantizedRecord = q
	s.mu.Unlock()
}

func (s *Sequence) SetOverwriteRecord(o bool) {
	s.mu.Lock()
	s.overwriteRecord = o
	s.mu.Unlock()
}

func (s *Sequence) SetExpandRecord(e bool) {
	s.mu.Lock()
	s.expandRecord = e
	s.mu.Unlock()
}

// Snap returns the record/quantize grid in ticks.
func (s *Sequence) Snap() Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// SetSnap sets the record/quantize grid; non-positive values are a no-op.
func (s *Sequence) SetSnap(snap Pulse) {
	if snap <= 0 {
		return
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// LastTick returns the absolute transport tick of the most recent pass.
func (s *Sequence) LastTick() Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// Playhead returns the pattern-local playhead (last tick modulo length).
func (s *Sequence) Playhead() Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mod(s.lastTick, s.length)
}

// SetLastTick positions the playhead cursor (used on stop-from-top and when
// relocating the transport).
func (s *Sequence) SetLastTick(t Pulse) {
	s.mu.Lock()
	s.lastTick = t
	s.mu.Unlock()
}

// EventCount returns the number of events in the pattern.
func (s *Sequence) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}

// EventsSnapshot returns value copies of the events in timestamp order.
func (s *Sequence) EventsSnapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Snapshot()
}

// AddEvent inserts an event preserving timestamp order. While painting, a
// note-on is stashed so the matching FinishPaintedNote can link the pair. In
// expand-record mode a tick beyond the current length grows the pattern to
// the next bar boundary instead of being trimmed.
func (s *Sequence) AddEvent(e *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Tick < 0 {
		return
	}
	if e.Tick >= s.length {
		if s.expandRecord {
			s.growToLocked(e.Tick + 1)
		} else {
			e.Tick = mod(e.Tick, s.length)
		}
	}
	s.events.Insert(e)
	if e.Painted && e.IsNoteOn() {
		s.paintStash = e
	}
	s.markDirtyLocked()
}

// FinishPaintedNote inserts the note-off that completes a painted note-on
// and links the pair.
func (s *Sequence) FinishPaintedNote(off *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off.Tick >= s.length {
		off.Tick = mod(off.Tick, s.length)
	}
	s.events.Insert(off)
	if s.paintStash != nil && s.paintStash.Note() == off.Note() {
		s.paintStash.Link(off)
		s.paintStash.Painted = false
		s.paintStash = nil
	}
	off.Painted = false
	s.markDirtyLocked()
}

// growToLocked extends the pattern so at least minLen ticks fit, rounded up
// to a whole bar.
func (s *Sequence) growToLocked(minLen Pulse) {
	bar := s.barTicks()
	bars := (minLen + bar - 1) / bar
	s.length = bars * bar
}

// RecordEvent is the input thread's entry point. The tick is the absolute
// transport tick at arrival; it is folded into the pattern, snapped when
// quantized-record is on, and note-offs are linked to the most recent
// unmatched note-on of the same pitch.
func (s *Sequence) RecordEvent(e *Event, tick Pulse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}

	local := mod(tick, s.length)
	if s.expandRecord && tick >= s.length {
		s.growToLocked(tick + 1)
		local = tick
	}
	if s.quantizedRecord && s.snap > 0 && e.IsNote() {
		local = quantizeTick(local, s.snap, s.length)
	}
	e.Tick = local

	if s.overwriteRecord && e.IsNoteOn() {
		// A fresh pass over the loop replaces what was there.
		if local < mod(s.lastRecordTick, s.length) || s.events.Len() == 0 {
			s.events.Clear()
			s.recentOns = [128]*Event{}
		}
	}
	s.lastRecordTick = tick

	s.events.Insert(e)
	switch {
	case e.IsNoteOn():
		s.recentOns[e.Note()&0x7F] = e
	case e.IsNoteOff():
		if on := s.recentOns[e.Note()&0x7F]; on != nil {
			on.Link(e)
			s.recentOns[e.Note()&0x7F] = nil
		}
	}
	s.markDirtyLocked()
}

// SelectEvents applies a selection mode over the inclusive tick window
// [lo, hi] filtered by status family (0 = any) and, for control changes, the
// controller number. It returns the number of events the mode touched.
func (s *Sequence) SelectEvents(lo, hi Pulse, status, cc byte, mode SelectMode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.events.Events() {
		if e.Tick < lo || e.Tick > hi {
			continue
		}
		if status != 0 {
			if e.Status != status {
				continue
			}
			if status == StatusControl && e.Data[0] != cc {
				continue
			}
		}
		switch mode {
		case SelectWould:
			count++
		case SelectIs:
			if e.Selected {
				count++
			}
		case SelectDo:
			e.Selected = true
			count++
		case SelectOne:
			e.Selected = true
			return 1
		case SelectToggle:
			e.Selected = !e.Selected
			count++
		}
	}
	return count
}

// UnselectAll clears the selection.
func (s *Sequence) UnselectAll() {
	s.mu.Lock()
	s.events.UnselectAll()
	s.mu.Unlock()
}

// SelectedCount returns the number of selected events.
func (s *Sequence) SelectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.SelectedCount()
}

// RemoveSelected deletes the selected events and returns the count.
func (s *Sequence) RemoveSelected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushUndoLocked()
	n := s.events.RemoveIf(func(e *Event) bool { return !e.Selected })
	if n > 0 {
		s.markDirtyLocked()
	}
	return n
}

// CopySelected copies the selected events to the pattern clipboard.
func (s *Sequence) CopySelected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copySelectedLocked()
}

func (s *Sequence) copySelectedLocked() int {
	s.clipboard = s.clipboard[:0]
	for _, e := range s.events.Events() {
		if e.Selected {
			s.clipboard = append(s.clipboard, *e.clone())
		}
	}
	return len(s.clipboard)
}

// CutSelected removes the selected events, optionally copying them first.
func (s *Sequence) CutSelected(copy bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if copy {
		s.copySelectedLocked()
	}
	s.pushUndoLocked()
	n := s.events.RemoveIf(func(e *Event) bool { return !e.Selected })
	if n > 0 {
		s.markDirtyLocked()
	}
	return n
}

// PasteSelected inserts the clipboard at the given tick with notes shifted
// by noteDelta. Clipboard timestamps are rebased so the earliest event lands
// exactly on tick.
func (s *Sequence) PasteSelected(tick Pulse, noteDelta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clipboard) == 0 {
		return 0
	}
	s.pushUndoLocked()
	minTick := s.clipboard[0].Tick
	for _, e := range s.clipboard {
		if e.Tick < minTick {
			minTick = e.Tick
		}
	}
	for i := range s.clipboard {
		e := s.clipboard[i].clone()
		e.Tick = e.Tick - minTick + tick
		if e.Tick >= s.length {
			e.Tick = mod(e.Tick, s.length)
		}
		if e.IsNote() {
			e.SetNote(int(e.Note()) + noteDelta)
		}
		e.Selected = false
		s.events.Insert(e)
	}
	s.events.VerifyAndLink(s.length)
	s.markDirtyLocked()
	return len(s.clipboard)
}

// QuantizeSelected snaps matching selected events to the nearest multiple of
// snap/divide. With linked set, a note-on drags its note-off by the same
// delta so the duration is preserved. Quantizing twice with the same grid is
// a no-op.
func (s *Sequence) QuantizeSelected(status, cc byte, snap, divide Pulse, linked bool) {
	if snap <= 0 || divide <= 0 {
		return
	}
	grid := snap / divide
	if grid <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushUndoLocked()
	for _, e := range s.events.Events() {
		if !e.Selected {
			continue
		}
		if status != 0 {
			if e.Status != status {
				continue
			}
			if status == StatusControl && e.Data[0] != cc {
				continue
			}
		}
		old := e.Tick
		e.Tick = quantizeTick(e.Tick, grid, s.length)
		if linked && e.IsNoteOn() && e.Linked() {
			delta := e.Tick - old
			off := e.Partner()
			off.Tick = mod(off.Tick+delta, s.length)
		}
	}
	s.events.Sort()
	s.markDirtyLocked()
}

// quantizeTick rounds tick to the nearest multiple of grid, wrapped into
// [0, length).
func quantizeTick(tick, grid, length Pulse) Pulse {
	snapped := (tick + grid/2) / grid * grid
	return mod(snapped, length)
}

// TransposeSelected shifts selected notes by steps: semitones when scale is
// ScaleOff, scale degrees otherwise. Non-transposable (drum) patterns are
// skipped entirely.
func (s *Sequence) TransposeSelected(steps, scale int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transposable || steps == 0 {
		return
	}
	s.pushUndoLocked()
	for _, e := range s.events.Events() {
		if !e.Selected || !e.IsNote() {
			continue
		}
		if scale == ScaleOff {
			e.SetNote(int(e.Note()) + steps)
		} else {
			e.Data[0] = HarmonicTranspose(e.Note(), steps, scale, s.key)
		}
	}
	s.markDirtyLocked()
}

// StretchSelected rescales selected timestamps proportionally between the
// selection's earliest and latest event, widening (or narrowing) the span by
// delta ticks.
func (s *Sequence) StretchSelected(delta Pulse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lo, hi Pulse
	first := true
	for _, e := range s.events.Events() {
		if !e.Selected {
			continue
		}
		if first {
			lo, hi = e.Tick, e.Tick
			first = false
			continue
		}
		if e.Tick < lo {
			lo = e.Tick
		}
		if e.Tick > hi {
			hi = e.Tick
		}
	}
	span := hi - lo
	if first || span <= 0 || span+delta <= 0 {
		return
	}
	s.pushUndoLocked()
	for _, e := range s.events.Events() {
		if !e.Selected {
			continue
		}
		e.Tick = lo + (e.Tick-lo)*(span+delta)/span
		if e.Tick >= s.length {
			e.Tick = mod(e.Tick, s.length)
		}
	}
	s.events.Sort()
	s.markDirtyLocked()
}

// GrowSelected moves only the linked note-offs of selected note-ons by
// delta, lengthening or shortening the notes.
func (s *Sequence) GrowSelected(delta Pulse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushUndoLocked()
	for _, e := range s.events.Events() {
		if !e.Selected || !e.IsNoteOn() || !e.Linked() {
			continue
		}
		off := e.Partner()
		off.Tick = mod(off.Tick+delta, s.length)
	}
	s.events.Sort()
	s.markDirtyLocked()
}

// SetLength changes the pattern length. Events at or beyond the new length
// are deleted; with adjustTriggers the trigger spans are clamped and
// compacted. A non-positive length is a no-op.
func (s *Sequence) SetLength(newLength Pulse, adjustTriggers bool) {
	if newLength <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushUndoLocked()
	s.length = newLength
	s.events.RemoveIf(func(e *Event) bool { return e.Tick < newLength })
	if adjustTriggers {
		s.triggers.ClampTo(newLength - 1)
	}
	s.events.VerifyAndLink(s.length)
	s.markDirtyLocked()
}

// SetLengthBars sets the length to a whole number of bars at the pattern's
// own time signature.
func (s *Sequence) SetLengthBars(bars int) {
	if bars < 1 {
		return
	}
	s.SetLength(Pulse(bars)*s.barTicks(), true)
}

// VerifyAndLink rebuilds all note pair links.
func (s *Sequence) VerifyAndLink() {
	s.mu.Lock()
	s.events.VerifyAndLink(s.length)
	s.mu.Unlock()
}

// UnlinkedNoteOns counts note-ons left without a partner after a link pass.
func (s *Sequence) UnlinkedNoteOns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events.Events() {
		if e.IsNoteOn() && !e.Linked() {
			n++
		}
	}
	return n
}

// Triggers returns a copy of the trigger spans.
func (s *Sequence) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Trigger(nil), s.triggers.Spans()...)
}

// AddTrigger inserts a song-mode span, splitting overlapped spans.
func (s *Sequence) AddTrigger(tr Trigger) {
	s.mu.Lock()
	s.triggers.Add(tr)
	s.markDirtyLocked()
	s.mu.Unlock()
}

// RemoveTrigger deletes the span containing tick.
func (s *Sequence) RemoveTrigger(tick Pulse) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.triggers.Remove(tick)
	if ok {
		s.markDirtyLocked()
	}
	return ok
}

// SplitTrigger cuts the span containing tick in two, phase-preserving.
func (s *Sequence) SplitTrigger(tick Pulse) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.triggers.Split(tick, s.length)
	if ok {
		s.markDirtyLocked()
	}
	return ok
}

// MoveTrigger shifts the span containing tick by delta.
func (s *Sequence) MoveTrigger(tick, delta Pulse) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.triggers.Move(tick, delta)
	if ok {
		s.markDirtyLocked()
	}
	return ok
}

// ClearTriggers drops every span.
func (s *Sequence) ClearTriggers() {
	s.mu.Lock()
	s.triggers.Clear()
	s.markDirtyLocked()
	s.mu.Unlock()
}

// Undo / redo: snapshot-based, bounded.

// PushUndo snapshots the event list onto the undo stack.
func (s *Sequence) PushUndo() {
	s.mu.Lock()
	s.pushUndoLocked()
	s.mu.Unlock()
}

func (s *Sequence) pushUndoLocked() {
	s.undoStack = append(s.undoStack, s.events.Snapshot())
	if len(s.undoStack) > maxUndo {
		s.undoStack = s.undoStack[1:]
	}
	s.redoStack = nil
}

// PopUndo restores the most recent snapshot, pushing the current state onto
// the redo stack.
func (s *Sequence) PopUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undoStack) == 0 {
		return false
	}
	s.redoStack = append(s.redoStack, s.events.Snapshot())
	snap := s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	s.events.Restore(snap)
	s.events.VerifyAndLink(s.length)
	s.markDirtyLocked()
	return true
}

// PopRedo reverses the most recent PopUndo.
func (s *Sequence) PopRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.redoStack) == 0 {
		return false
	}
	s.undoStack = append(s.undoStack, s.events.Snapshot())
	snap := s.redoStack[len(s.redoStack)-1]
	s.redoStack = s.redoStack[:len(s.redoStack)-1]
	s.events.Restore(snap)
	s.events.VerifyAndLink(s.length)
	s.markDirtyLocked()
	return true
}

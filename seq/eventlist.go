package seq

import "sort"

// EventList is an ordered multiset of events keyed by (timestamp, insertion
// order). Events at the same tick keep insertion order so that CC/program
// changes inserted before a note-on are also emitted before it.
type EventList struct {
	events []*Event
}

// NewEventList creates an empty list.
func NewEventList() *EventList {
	return &EventList{}
}

// Len returns the number of events.
func (l *EventList) Len() int {
	return len(l.events)
}

// Events returns the backing slice. Callers must not reorder it.
func (l *EventList) Events() []*Event {
	return l.events
}

// Insert adds an event, keeping timestamp order. Among equal timestamps the
// new event goes last.
func (l *EventList) Insert(e *Event) {
	i := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].Tick > e.Tick
	})
	l.events = append(l.events, nil)
	copy(l.events[i+1:], l.events[i:])
	l.events[i] = e
}

// Remove erases the given event (by identity). Its link partner, if any, is
// left in the list unlinked.
func (l *EventList) Remove(e *Event) {
	for i, ev := range l.events {
		if ev == e {
			e.Unlink()
			l.events = append(l.events[:i], l.events[i+1:]...)
			return
		}
	}
}

// RemoveIf erases every event the predicate accepts and returns the count.
func (l *EventList) RemoveIf(keep func(*Event) bool) int {
	out := l.events[:0]
	removed := 0
	for _, e := range l.events {
		if keep(e) {
			out = append(out, e)
		} else {
			e.Unlink()
			removed++
		}
	}
	l.events = out
	return removed
}

// Clear drops all events.
func (l *EventList) Clear() {
	l.events = nil
}

// Sort restores timestamp order after a bulk timestamp mutation. The sort is
// stable, so same-tick insertion order survives.
func (l *EventList) Sort() {
	sort.SliceStable(l.events, func(i, j int) bool {
		return l.events[i].Tick < l.events[j].Tick
	})
}

// Clone deep-copies the list. Links are dropped; run VerifyAndLink on the
// copy if pairing matters.
func (l *EventList) Clone() *EventList {
	c := &EventList{events: make([]*Event, len(l.events))}
	for i, e := range l.events {
		c.events[i] = e.clone()
	}
	return c
}

// Snapshot copies the events by value (for the undo stack).
func (l *EventList) Snapshot() []Event {
	snap := make([]Event, len(l.events))
	for i, e := range l.events {
		snap[i] = *e.clone()
	}
	return snap
}

// Restore replaces the contents with a snapshot taken by Snapshot.
func (l *EventList) Restore(snap []Event) {
	l.events = make([]*Event, len(snap))
	for i := range snap {
		e := snap[i]
		l.events[i] = e.clone()
	}
	l.Sort()
}

// ShiftSelected moves every selected event by delta ticks, wrapping at
// length. The list is re-sorted afterwards.
func (l *EventList) ShiftSelected(delta, length Pulse) {
	if length <= 0 {
		return
	}
	for _, e := range l.events {
		if !e.Selected {
			continue
		}
		e.Tick = mod(e.Tick+delta, length)
	}
	l.Sort()
}

// SelectedCount returns the number of selected events.
func (l *EventList) SelectedCount() int {
	n := 0
	for _, e := range l.events {
		if e.Selected {
			n++
		}
	}
	return n
}

// UnselectAll clears the selection flag everywhere.
func (l *EventList) UnselectAll() {
	for _, e := range l.events {
		e.Selected = false
	}
}

// VerifyAndLink rebuilds all note-on/note-off pairings. For each note-on in
// timestamp order it walks forward, wrapping at most once, to the first
// unlinked note-off of the same pitch. A note-on with no partner within one
// wrap stays unlinked and is emitted as a hanging note by consumers.
func (l *EventList) VerifyAndLink(length Pulse) {
	for _, e := range l.events {
		e.link = nil
	}
	n := len(l.events)
	for i, on := range l.events {
		if !on.IsNoteOn() {
			continue
		}
		for k := 1; k <= n; k++ {
			off := l.events[(i+k)%n]
			if off.IsNoteOff() && off.Note() == on.Note() && !off.Linked() && off != on {
				on.Link(off)
				break
			}
		}
	}
}

// mod is a floored modulo: the result is always in [0, m).
func mod(x, m Pulse) Pulse {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}

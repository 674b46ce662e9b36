package seq

import "sort"

// Trigger schedules a pattern in song mode: the pattern plays during
// [Start, End], entering at pattern-local tick Offset so mid-pattern entry
// stays phase-coherent.
type Trigger struct {
	Start  Pulse
	End    Pulse
	Offset Pulse
}

// Length returns the span length in ticks (inclusive of both ends).
func (t Trigger) Length() Pulse {
	return t.End - t.Start + 1
}

// Triggers is an ordered list of non-overlapping trigger spans.
type Triggers struct {
	spans []Trigger
}

// Spans returns the sorted spans.
func (ts *Triggers) Spans() []Trigger {
	return ts.spans
}

// Count returns the number of spans.
func (ts *Triggers) Count() int {
	return len(ts.spans)
}

// Add inserts a trigger. Existing spans overlapping the new one are
// truncated or split at its boundaries so the list stays non-overlapping.
func (ts *Triggers) Add(tr Trigger) {
	if tr.End <= tr.Start {
		return
	}
	var out []Trigger
	for _, old := range ts.spans {
		switch {
		case old.End < tr.Start || old.Start > tr.End:
			out = append(out, old)
		case old.Start < tr.Start && old.End > tr.End:
			// new span splits the old one in two
			out = append(out, Trigger{Start: old.Start, End: tr.Start - 1, Offset: old.Offset})
			out = append(out, Trigger{Start: tr.End + 1, End: old.End, Offset: old.Offset})
		case old.Start < tr.Start:
			out = append(out, Trigger{Start: old.Start, End: tr.Start - 1, Offset: old.Offset})
		case old.End > tr.End:
			out = append(out, Trigger{Start: tr.End + 1, End: old.End, Offset: old.Offset})
			// else: old span fully covered, dropped
		}
	}
	out = append(out, tr)
	ts.spans = out
	ts.sort()
}

// Remove deletes the span containing the given tick, if any.
func (ts *Triggers) Remove(tick Pulse) bool {
	for i, tr := range ts.spans {
		if tick >= tr.Start && tick <= tr.End {
			ts.spans = append(ts.spans[:i], ts.spans[i+1:]...)
			return true
		}
	}
	return false
}

// Split cuts the span containing tick into two spans at that tick. The
// second half keeps phase: its offset is advanced by the first half's length
// modulo the pattern length.
func (ts *Triggers) Split(tick, patLength Pulse) bool {
	if patLength <= 0 {
		return false
	}
	for i, tr := range ts.spans {
		if tick > tr.Start && tick < tr.End {
			first := Trigger{Start: tr.Start, End: tick - 1, Offset: tr.Offset}
			second := Trigger{
				Start:  tick,
				End:    tr.End,
				Offset: mod(tr.Offset+(tick-tr.Start), patLength),
			}
			ts.spans = append(ts.spans[:i], append([]Trigger{first, second}, ts.spans[i+1:]...)...)
			return true
		}
	}
	return false
}

// Move shifts the span containing tick by delta, re-resolving overlaps the
// same way Add does.
func (ts *Triggers) Move(tick, delta Pulse) bool {
	for i, tr := range ts.spans {
		if tick >= tr.Start && tick <= tr.End {
			moved := Trigger{Start: tr.Start + delta, End: tr.End + delta, Offset: tr.Offset}
			if moved.Start < 0 {
				return false
			}
			ts.spans = append(ts.spans[:i], ts.spans[i+1:]...)
			ts.Add(moved)
			return true
		}
	}
	return false
}

// ClampTo trims spans whose end exceeds maxEnd and drops spans that start
// past it. Used when a pattern is shortened with trigger adjustment on.
func (ts *Triggers) ClampTo(maxEnd Pulse) {
	out := ts.spans[:0]
	for _, tr := range ts.spans {
		if tr.Start > maxEnd {
			continue
		}
		if tr.End > maxEnd {
			tr.End = maxEnd
		}
		if tr.End > tr.Start {
			out = append(out, tr)
		}
	}
	ts.spans = out
}

// Clear drops all spans.
func (ts *Triggers) Clear() {
	ts.spans = nil
}

// Overlapping returns the spans intersecting the half-open window (lo, hi].
func (ts *Triggers) Overlapping(lo, hi Pulse) []Trigger {
	var out []Trigger
	for _, tr := range ts.spans {
		if tr.End > lo && tr.Start <= hi {
			out = append(out, tr)
		}
	}
	return out
}

func (ts *Triggers) sort() {
	sort.Slice(ts.spans, func(i, j int) bool {
		return ts.spans[i].Start < ts.spans[j].Start
	})
}

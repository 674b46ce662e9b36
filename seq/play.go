package seq

// PlayTo advances the pattern's playhead from its stored last tick to t,
// emitting every event whose occurrence falls in the half-open window
// (last, t]. In live mode the pattern loops at its own length; in song mode
// it sounds only inside its trigger spans, entering each span at the span's
// offset. The pattern mutex is held for the whole pass.
func (s *Sequence) PlayTo(t Pulse, songMode bool, out Outputs) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.lastTick
	if t <= start {
		s.lastTick = t
		return
	}

	if songMode {
		s.playSongLocked(start, t, out)
		s.lastTick = t
		return
	}

	// A queued toggle fires at the first pattern-length boundary inside the
	// window; the window is split so the boundary tick itself (local tick 0
	// of the next loop) plays under the new state.
	if s.queued {
		boundary := start - mod(start, s.length) + s.length
		if boundary <= t {
			s.playLiveLocked(start, boundary-1, out)
			s.armed = !s.armed
			s.queued = false
			if s.oneShot {
				if s.armed {
					s.queued = true // disarm at the following boundary
				} else {
					s.oneShot = false
				}
			}
			start = boundary - 1
		}
	}
	s.playLiveLocked(start, t, out)
	s.lastTick = t
}

// playLiveLocked emits looped occurrences of the events in (start, end].
func (s *Sequence) playLiveLocked(start, end Pulse, out Outputs) {
	if !s.armed || start >= end || s.events.Len() == 0 {
		return
	}
	length := s.length
	for loop := start / length; loop*length <= end; loop++ {
		base := loop * length
		for _, e := range s.events.Events() {
			at := base + e.Tick
			if at > end {
				break
			}
			if at > start {
				s.emitLocked(at, e, out)
			}
		}
	}
}

// playSongLocked emits occurrences governed by the trigger spans. Inside a
// span [S, E] with offset O, the pattern-local position at absolute tick x
// is (x - S + O) mod length, so an event with tick T sounds at
// x = S - O + T + k*length.
func (s *Sequence) playSongLocked(start, end Pulse, out Outputs) {
	if s.events.Len() == 0 {
		return
	}
	length := s.length
	for _, tr := range s.triggers.Overlapping(start, end) {
		lo := start
		if tr.Start-1 > lo {
			lo = tr.Start - 1
		}
		hi := end
		if tr.End < hi {
			hi = tr.End
		}
		if lo >= hi {
			continue
		}
		origin := tr.Start - tr.Offset
		for loop := (lo - origin) / length; origin+loop*length <= hi; loop++ {
			base := origin + loop*length
			for _, e := range s.events.Events() {
				at := base + e.Tick
				if at > hi {
					break
				}
				if at > lo {
					s.emitLocked(at, e, out)
				}
			}
		}
	}
}

func (s *Sequence) emitLocked(at Pulse, e *Event, out Outputs) {
	if out == nil {
		return
	}
	ch := s.channel
	if ch == ChannelNative {
		ch = e.Channel
	}
	out.Play(s.bus, at, e, ch)
}

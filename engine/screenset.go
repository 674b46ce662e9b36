package engine

// MaxGroups is the number of mute groups that can be stored.
const MaxGroups = 32

// ActiveSet returns the screen-set the hotkeys currently address.
func (p *Performer) ActiveSet() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeSet
}

// SetActiveSet switches the hotkey mapping to another set. Armed patterns in
// other sets keep playing; only the key addressing changes.
func (p *Performer) SetActiveSet(set int) {
	p.mu.Lock()
	if set < 0 {
		set = 0
	}
	if set >= p.cfg.Sets {
		set = p.cfg.Sets - 1
	}
	p.activeSet = set
	p.mu.Unlock()
}

// NextSet moves the active set by delta, clamped.
func (p *Performer) NextSet(delta int) {
	p.SetActiveSet(p.ActiveSet() + delta)
}

// SetNote returns the user label for a screen-set.
func (p *Performer) SetNote(set int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.setNotes[set]
}

// SetSetNote stores the user label for a screen-set.
func (p *Performer) SetSetNote(set int, note string) {
	p.mu.Lock()
	if note == "" {
		delete(p.setNotes, set)
	} else {
		p.setNotes[set] = note
	}
	p.mu.Unlock()
	p.dirty.Store(true)
}

// GlobalSlot maps a hotkey position in the active set to a pattern slot.
func (p *Performer) GlobalSlot(local int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activeSet*p.cfg.SetSize() + local
}

// ToggleSlot flips the armed flag of the active-set slot immediately.
// During group learn the key is consumed as the group selector instead.
func (p *Performer) ToggleSlot(local int) {
	p.mu.Lock()
	if p.learning {
		p.mu.Unlock()
		p.GroupKey(local)
		return
	}
	slot := p.activeSet*p.cfg.SetSize() + local
	p.mu.Unlock()
	if s := p.Pattern(slot); s != nil {
		s.ToggleArmed()
	}
	p.push(Notification{Kind: NotePatternDirty, Slot: slot})
}

// QueueSlot requests an armed toggle of the active-set slot at the pattern's
// next length boundary. When stopped this acts immediately.
func (p *Performer) QueueSlot(local int) {
	slot := p.GlobalSlot(local)
	s := p.Pattern(slot)
	if s == nil {
		return
	}
	if p.State() == Stopped {
		s.ToggleArmed()
	} else {
		s.Queue()
	}
	p.push(Notification{Kind: NotePatternDirty, Slot: slot})
}

// QueueSlotOneShot requests a single play-through of the active-set slot.
func (p *Performer) QueueSlotOneShot(local int) {
	if s := p.Pattern(p.GlobalSlot(local)); s != nil {
		s.QueueOneShot()
	}
}

// BeginLearn arms group-learn mode: the next slot key names the group that
// captures the active set's armed mask.
func (p *Performer) BeginLearn() {
	p.mu.Lock()
	p.learning = true
	p.mu.Unlock()
}

// CancelLearn leaves learn mode without capturing.
func (p *Performer) CancelLearn() {
	p.mu.Lock()
	p.learning = false
	p.mu.Unlock()
}

// Learning reports whether the next slot key is a group selector.
func (p *Performer) Learning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.learning
}

// GroupKey handles a group hotkey: in learn mode it captures the active
// set's armed mask into the group, otherwise it recalls the group's mask
// over the active set.
func (p *Performer) GroupKey(group int) {
	if group < 0 || group >= MaxGroups {
		p.CancelLearn()
		return
	}
	p.mu.Lock()
	learning := p.learning
	p.learning = false
	base := p.activeSet * p.cfg.SetSize()
	size := p.cfg.SetSize()
	p.mu.Unlock()

	if learning {
		mask := make([]bool, size)
		for i := 0; i < size; i++ {
			if s := p.Pattern(base + i); s != nil {
				mask[i] = s.Armed()
			}
		}
		p.mu.Lock()
		p.groups[group] = mask
		p.mu.Unlock()
		p.dirty.Store(true)
		return
	}

	p.mu.RLock()
	mask := p.groups[group]
	p.mu.RUnlock()
	if mask == nil {
		return
	}
	for i := 0; i < size && i < len(mask); i++ {
		if s := p.Pattern(base + i); s != nil {
			s.SetArmed(mask[i])
		}
	}
	p.push(Notification{Kind: NotePatternDirty, Slot: base})
}

// Group returns a copy of a stored mute-group mask (nil when unset).
func (p *Performer) Group(group int) []bool {
	if group < 0 || group >= MaxGroups {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.groups[group] == nil {
		return nil
	}
	return append([]bool(nil), p.groups[group]...)
}

// SetGroup installs a mute-group mask directly (used when loading a file).
func (p *Performer) SetGroup(group int, mask []bool) {
	if group < 0 || group >= MaxGroups {
		return
	}
	p.mu.Lock()
	if mask == nil {
		p.groups[group] = nil
	} else {
		p.groups[group] = append([]bool(nil), mask...)
	}
	p.mu.Unlock()
}

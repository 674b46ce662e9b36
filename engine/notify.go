package engine

import "loopseq/seq"

// NotificationKind discriminates the engine's asynchronous updates.
type NotificationKind int

const (
	// NoteTickProgress is the throttled playhead position update.
	NoteTickProgress NotificationKind = iota
	// NotePatternDirty means the slot's pattern content changed.
	NotePatternDirty
	// NotePortError means a bus write or open failed (surfaced once per bus).
	NotePortError
)

// Notification is one asynchronous engine update. The front-end drains these
// at its own repaint cadence; the engine never blocks producing them.
type Notification struct {
	Kind NotificationKind
	Tick seq.Pulse // NoteTickProgress
	Slot int       // NotePatternDirty
	Bus  int       // NotePortError
	Err  error     // NotePortError
}

// notifyQueueSize bounds the notification channel. Overflow drops the update;
// the next tick or dirty pass repeats the information anyway.
const notifyQueueSize = 64

func (p *Performer) push(n Notification) {
	select {
	case p.notifyCh <- n:
	default:
	}
}

// Notifications returns the channel engine updates arrive on.
func (p *Performer) Notifications() <-chan Notification {
	return p.notifyCh
}

// PatternDirty implements seq.Notifier: a pattern edit landed.
func (p *Performer) PatternDirty(slot int) {
	p.push(Notification{Kind: NotePatternDirty, Slot: slot})
}

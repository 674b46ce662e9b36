// Package midifile reads and writes Standard MIDI Files (SMF-0/1) carrying
// the sequencer's own SeqSpec meta-events, which persist per-pattern state
// (bus, channel, triggers, hints) and the global mute-group table.
package midifile

import (
	"loopseq/seq"
)

// Mode selects what the writer emits.
type Mode int

const (
	// ModeNormal writes the full round-trip file including SeqSpec.
	ModeNormal Mode = iota
	// ModeExportSong expands triggers into literal event copies so players
	// without trigger support hear the arrangement; SeqSpec is omitted.
	ModeExportSong
	// ModeExportMIDIOnly omits SeqSpec, producing a plain SMF that plays
	// identically anywhere but loses round-trip fidelity.
	ModeExportMIDIOnly
)

// Document is the codec's view of the pattern store plus the global state
// that rides along in SeqSpec meta-events.
type Document struct {
	PPQN       int
	BPM        float64
	Sequences  []*seq.Sequence
	MuteGroups [][]bool
	SetNotes   map[int]string
}

// SeqSpec meta-events are FF 7F <vlq-len> <4-byte big-endian tag> <payload>.
// Tag values are stable identifiers; unknown tags are skipped on read.
const (
	tagBuss         = 0x4C530001 // 1 byte: output bus id
	tagChannel      = 0x4C530002 // 1 byte: output channel, 0xFF = native
	tagTriggers     = 0x4C530004 // 12-byte records {start, end, offset}
	tagKey          = 0x4C530005 // 1 byte: musical key hint
	tagScale        = 0x4C530006 // 1 byte: scale hint
	tagBackground   = 0x4C530007 // 1 byte: background pattern slot, 0xFF = none
	tagTransposable = 0x4C530008 // 1 byte: 0 = drum track
	tagMuteGroups   = 0x4C530010 // count, size, packed bits per group
	tagSetNotes     = 0x4C530011 // count, then {set u16, len u16, utf-8}
	tagPPQN         = 0x4C530012 // varlen int
	tagBPM          = 0x4C530013 // varlen int, BPM x 1000
)

// The background-pattern slot is persisted as a single byte; slots above
// 0xFE cannot be recorded and are written as "none".
const maxBackgroundSlot = 0xFE

// PPQN bounds the codec documents as valid; out-of-range values in a file
// header are clamped with a warning rather than rejected.
const (
	MinPPQN = 32
	MaxPPQN = 19200
)

const (
	metaSeqNumber = 0x00
	metaTrackName = 0x03
	metaEndOfTrk  = 0x2F
	metaTempo     = 0x51
	metaTimeSig   = 0x58
	metaSeqSpec   = 0x7F
)

// Package config holds the engine's effective configuration as a struct of
// plain values, loaded once at startup. The rc/usr style option files are
// the front-end's concern; the core only sees this.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JackRole selects how the transport relates to a JACK transport master.
type JackRole string

const (
	JackOff               JackRole = "off"
	JackSlave             JackRole = "slave"
	JackMaster            JackRole = "master"
	JackMasterConditional JackRole = "master-conditional"
)

// ClockSetting is a per-output-port clock preference by port name.
type ClockSetting struct {
	PortName string `json:"portName"`
	Mode     string `json:"mode"`              // "off", "on", "mod"
	ModBars  int    `json:"modBars,omitempty"` // for "mod": start after N*16 beats
}

// Options is the immutable configuration the engine is constructed with.
// The transport owns a mutable runtime copy of the tempo.
type Options struct {
	PPQN            int      `json:"ppqn"`
	BPM             float64  `json:"bpm"`
	BPMMin          float64  `json:"bpmMin"`
	BPMMax          float64  `json:"bpmMax"`
	SetRows         int      `json:"setRows"`
	SetCols         int      `json:"setCols"`
	Sets            int      `json:"sets"`
	JackRole        JackRole `json:"jackRole"`
	JackMIDI        bool     `json:"jackMidi"`
	SampleRate      int      `json:"sampleRate"`
	FilterByChannel bool     `json:"filterByChannel"`

	Clocks      []ClockSetting `json:"clocks,omitempty"`
	InputPorts  []string       `json:"inputPorts,omitempty"`
	DefaultPort string         `json:"defaultPort,omitempty"`
}

// Defaults returns the stock configuration: 192 PPQN, 120 BPM, a 4x8 grid
// of 32 screen-sets.
func Defaults() Options {
	return Options{
		PPQN:       192,
		BPM:        120,
		BPMMin:     1,
		BPMMax:     600,
		SetRows:    4,
		SetCols:    8,
		Sets:       32,
		JackRole:   JackOff,
		SampleRate: 48000,
	}
}

// SetSize returns the number of slots per screen-set.
func (o Options) SetSize() int {
	return o.SetRows * o.SetCols
}

// Capacity returns the total number of pattern slots.
func (o Options) Capacity() int {
	return o.SetSize() * o.Sets
}

// Sanitized clamps out-of-range values to the documented bounds.
func (o Options) Sanitized() Options {
	if o.PPQN < 32 {
		o.PPQN = 32
	}
	if o.PPQN > 19200 {
		o.PPQN = 19200
	}
	if o.BPMMin < 1 {
		o.BPMMin = 1
	}
	if o.BPMMax > 600 || o.BPMMax < o.BPMMin {
		o.BPMMax = 600
	}
	if o.BPM < o.BPMMin {
		o.BPM = o.BPMMin
	}
	if o.BPM > o.BPMMax {
		o.BPM = o.BPMMax
	}
	if o.SetRows < 1 {
		o.SetRows = 4
	}
	if o.SetCols < 1 {
		o.SetCols = 8
	}
	if o.Sets < 1 {
		o.Sets = 32
	}
	if o.SampleRate < 1 {
		o.SampleRate = 48000
	}
	return o
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "loopseq"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (Options, error) {
	path, err := ConfigPath()
	if err != nil {
		return Defaults(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return Defaults(), err
	}

	opts := Defaults()
	if err := json.Unmarshal(data, &opts); err != nil {
		return Defaults(), err
	}
	return opts.Sanitized(), nil
}

// Save writes the config to disk
func (o Options) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ClockFor returns the clock setting for a port name (nil if unset).
func (o Options) ClockFor(portName string) *ClockSetting {
	for i := range o.Clocks {
		if o.Clocks[i].PortName == portName {
			return &o.Clocks[i]
		}
	}
	return nil
}

package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"loopseq/config"
	"loopseq/debug"
	"loopseq/engine"
	"loopseq/midibus"
	"loopseq/seq"
	"loopseq/tui"
)

func main() {
	debugFlag := flag.Bool("debug", false, "log to ~/.config/loopseq/debug.log")
	flag.Parse()

	if *debugFlag {
		if err := debug.Enable(); err != nil {
			fmt.Fprintf(os.Stderr, "debug log: %v\n", err)
		}
		defer debug.Disable()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v (using defaults)\n", err)
	}
	cfg = cfg.Sanitized()

	master := midibus.NewMaster(cfg.PPQN)
	if err := master.InitSystemPorts(); err != nil {
		fmt.Fprintf(os.Stderr, "midi: %v\n", err)
	}
	defer master.Close()

	// Apply per-port clock preferences from the options file.
	for id, name := range master.OutNames() {
		cs := cfg.ClockFor(name)
		if cs == nil {
			continue
		}
		b := master.Out(id)
		switch cs.Mode {
		case "on":
			b.SetClockMode(midibus.ClockOn, 0)
		case "mod":
			b.SetClockMode(midibus.ClockMod, modTicks(cs.ModBars, cfg.PPQN))
		case "off":
			b.SetClockMode(midibus.ClockOff, 0)
		}
	}

	perf := engine.NewPerformer(cfg, master)
	perf.StartRuntime()
	defer perf.Shutdown()

	if path := flag.Arg(0); path != "" {
		if err := perf.Open(path); err != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	m := tui.NewModel(perf)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// modTicks converts a mod-clock bar count into ticks (16 beats per mod
// unit, matching hardware sequencer conventions).
func modTicks(bars, ppqn int) seq.Pulse {
	if bars < 1 {
		bars = 1
	}
	return seq.Pulse(bars) * 16 * seq.Pulse(ppqn)
}

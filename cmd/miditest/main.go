package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"loopseq/midibus"
	"loopseq/seq"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "clock":
		clockBurst()
	case "note":
		testNote()
	default:
		usage()
	}
}

func usage() {
	fmt.Println("loopseq MIDI smoke tests")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list         - list all MIDI ports as buses")
	fmt.Println("  clock [bus]  - send a 2-bar clock burst at 120bpm")
	fmt.Println("  note [bus]   - send middle C on channel 0")
}

func listPorts() {
	master := midibus.NewMaster(192)
	defer master.Close()

	fmt.Println("=== Output buses ===")
	fmt.Println("(waiting up to 2 seconds...)")
	if err := master.InitSystemPorts(); err != nil {
		fmt.Printf("scan failed: %v\n", err)
		return
	}
	for _, name := range master.OutNames() {
		fmt.Printf("  %s\n", name)
	}
}

func busArg() int {
	if len(os.Args) > 2 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil {
			return n
		}
	}
	return 0
}

// clockBurst emits FA, two bars of F8 at 120bpm, then FC on one bus. A
// clock-following device should run for four seconds.
func clockBurst() {
	const ppqn = 192
	master := midibus.NewMaster(ppqn)
	defer master.Close()
	if err := master.InitSystemPorts(); err != nil {
		fmt.Printf("scan failed: %v\n", err)
		return
	}

	b := master.Out(busArg())
	if b == nil {
		fmt.Println("no such bus")
		return
	}
	fmt.Printf("Clocking %s for two bars...\n", b.Name())
	b.SetClockMode(midibus.ClockOn, 0)
	b.Start()

	interval := time.Minute / (120 * 24) // 24 pulses per quarter at 120bpm
	for tick := seq.Pulse(0); tick < 2*4*ppqn; tick += ppqn / 24 {
		b.Clock(tick, ppqn)
		time.Sleep(interval)
	}
	b.Stop()
	fmt.Println("Done")
}

func testNote() {
	master := midibus.NewMaster(192)
	defer master.Close()
	if err := master.InitSystemPorts(); err != nil {
		fmt.Printf("scan failed: %v\n", err)
		return
	}

	b := master.Out(busArg())
	if b == nil {
		fmt.Println("no such bus")
		return
	}
	fmt.Printf("Middle C on %s channel 1\n", b.Name())

	on := seq.NewNoteOn(0, 0, 60, 100)
	b.Play(0, on, 0)
	time.Sleep(500 * time.Millisecond)
	off := seq.NewNoteOff(0, 0, 60, 0)
	b.Play(0, off, 0)
	b.PanicNotes(0)
	fmt.Println("Done")
}

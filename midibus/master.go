package midibus

import (
	"fmt"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"loopseq/debug"
	"loopseq/seq"
)

// scanTimeout bounds port enumeration and opening; some OS MIDI services
// can hang, and a hung scan must not wedge the engine.
const scanTimeout = 2 * time.Second

// InEvent is one incoming MIDI message, routed by the input dispatcher. The
// channel is kept beside the status, never collapsed into it.
type InEvent struct {
	Bus     int
	Status  byte
	Channel byte
	Data    [2]byte
	Payload []byte
}

// Master is the bus array: it owns every open port handle and multiplexes
// pattern output and recorded input across them.
type Master struct {
	mu   sync.Mutex
	outs []*Bus
	ins  []*Bus
	ppqn int

	inCh    chan InEvent
	onError func(bus int, err error)
}

// NewMaster creates an empty bus array at the given resolution.
func NewMaster(ppqn int) *Master {
	return &Master{
		ppqn: ppqn,
		inCh: make(chan InEvent, 256),
	}
}

// SetErrorSink registers the one-shot port error callback (the engine
// forwards it to the notification queue).
func (m *Master) SetErrorSink(f func(bus int, err error)) {
	m.mu.Lock()
	m.onError = f
	for _, b := range m.outs {
		b.onError = f
	}
	m.mu.Unlock()
}

// Input returns the channel incoming events arrive on.
func (m *Master) Input() <-chan InEvent {
	return m.inCh
}

// PPQN returns the clock resolution the array emits at.
func (m *Master) PPQN() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ppqn
}

// SetPPQN adopts a new clock resolution, as when a loaded file carries a
// different division than the array was built with.
func (m *Master) SetPPQN(ppqn int) {
	if ppqn < 1 {
		return
	}
	m.mu.Lock()
	m.ppqn = ppqn
	m.mu.Unlock()
}

// OutCount returns the number of output buses.
func (m *Master) OutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outs)
}

// Out returns the output bus with the given id (nil if out of range).
func (m *Master) Out(id int) *Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.outs) {
		return nil
	}
	return m.outs[id]
}

// OutNames lists the composed display names of all output buses.
func (m *Master) OutNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.outs))
	for i, b := range m.outs {
		names[i] = b.name
	}
	return names
}

// InitSystemPorts enumerates and opens every system port. Ports that fail
// to open are left disabled; the rest of the array keeps working.
func (m *Master) InitSystemPorts() error {
	ins, outs, err := scanPorts()
	if err != nil {
		return err
	}
	for i, port := range outs {
		m.InitOut(i, port)
	}
	for i, port := range ins {
		m.InitIn(i, port)
	}
	return nil
}

// scanPorts asks the driver for its port lists with a timeout, since the
// underlying OS call can block indefinitely.
func scanPorts() ([]drivers.In, []drivers.Out, error) {
	type portsResult struct {
		inPorts  []drivers.In
		outPorts []drivers.Out
	}
	ch := make(chan portsResult, 1)
	go func() {
		inPorts := gomidi.GetInPorts()
		outPorts := gomidi.GetOutPorts()
		ch <- portsResult{inPorts: inPorts, outPorts: outPorts}
	}()
	select {
	case r := <-ch:
		return r.inPorts, r.outPorts, nil
	case <-time.After(scanTimeout):
		return nil, nil, fmt.Errorf("MIDI port scan timed out after %s", scanTimeout)
	}
}

// InitOut opens a connection to a pre-existing system output port and
// appends it to the array. On failure the bus is registered port-disabled.
func (m *Master) InitOut(portID int, port drivers.Out) *Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &Bus{
		index:     len(m.outs),
		busID:     len(m.outs),
		portID:    portID,
		name:      fmt.Sprintf("[%d] %d:%d %s", len(m.outs), len(m.outs), portID, port.String()),
		clockMode: ClockOff,
		onError:   m.onError,
	}
	sender, err := openWithTimeout(port)
	if err != nil {
		debug.Log("bus", "open out %s failed: %v", port.String(), err)
		b.clockMode = ClockDisabled
		if m.onError != nil {
			m.onError(b.index, fmt.Errorf("open %s: %w", port.String(), err))
		}
	} else {
		b.kind = backendRTMIDI
		b.send = sender
	}
	m.outs = append(m.outs, b)
	return b
}

// openWithTimeout opens an output port, bounding the OS call.
func openWithTimeout(port drivers.Out) (func(gomidi.Message) error, error) {
	type result struct {
		send func(gomidi.Message) error
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		send, err := gomidi.SendTo(port)
		ch <- result{send: send, err: err}
	}()
	select {
	case r := <-ch:
		return r.send, r.err
	case <-time.After(scanTimeout):
		return nil, fmt.Errorf("open timed out after %s", scanTimeout)
	}
}

// InitIn connects to a system input port; received events land on the
// master input channel tagged with the bus index.
func (m *Master) InitIn(portID int, port drivers.In) *Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &Bus{
		index:     len(m.ins),
		busID:     len(m.ins),
		portID:    portID,
		name:      fmt.Sprintf("[%d] %d:%d %s", len(m.ins), len(m.ins), portID, port.String()),
		clockMode: ClockOff,
	}
	busIdx := b.index
	stop, err := gomidi.ListenTo(port, func(msg gomidi.Message, timestampms int32) {
		m.dispatchIn(busIdx, []byte(msg))
	})
	if err != nil {
		debug.Log("bus", "open in %s failed: %v", port.String(), err)
		b.clockMode = ClockDisabled
	} else {
		b.kind = backendRTMIDI
		b.stopIn = stop
	}
	m.ins = append(m.ins, b)
	return b
}

// virtualDriver is the subset of the rtmidi driver that creates
// application-owned ports.
type virtualDriver interface {
	OpenVirtualIn(name string) (drivers.In, error)
	OpenVirtualOut(name string) (drivers.Out, error)
}

// InitOutSub creates a virtual output port owned by the application.
func (m *Master) InitOutSub(name string) (*Bus, error) {
	drv, ok := drivers.Get().(virtualDriver)
	if !ok {
		return nil, fmt.Errorf("driver does not support virtual ports")
	}
	port, err := drv.OpenVirtualOut(name)
	if err != nil {
		return nil, fmt.Errorf("open virtual out %s: %w", name, err)
	}
	b := m.InitOut(-1, port)
	b.virtual = true
	return b, nil
}

// InitInSub creates a virtual input port owned by the application.
func (m *Master) InitInSub(name string) (*Bus, error) {
	drv, ok := drivers.Get().(virtualDriver)
	if !ok {
		return nil, fmt.Errorf("driver does not support virtual ports")
	}
	port, err := drv.OpenVirtualIn(name)
	if err != nil {
		return nil, fmt.Errorf("open virtual in %s: %w", name, err)
	}
	b := m.InitIn(-1, port)
	b.virtual = true
	return b, nil
}

// AddCaptureOut appends an in-memory output bus and returns its sink.
func (m *Master) AddCaptureOut(name string) (*Bus, *Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cap := NewCapture()
	b := &Bus{
		index:     len(m.outs),
		busID:     len(m.outs),
		portID:    -1,
		name:      fmt.Sprintf("[%d] %d:-1 capture:%s", len(m.outs), len(m.outs), name),
		kind:      backendCapture,
		capture:   cap,
		clockMode: ClockOff,
		onError:   m.onError,
	}
	m.outs = append(m.outs, b)
	return b, cap
}

// DeinitIn disconnects a system input.
func (m *Master) DeinitIn(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.ins) {
		return
	}
	m.ins[id].Close()
}

// dispatchIn normalizes a raw incoming message onto the input channel. The
// channel buffer keeps the OS callback from ever blocking; overflow drops.
func (m *Master) dispatchIn(bus int, raw []byte) {
	if len(raw) == 0 {
		return
	}
	status := raw[0]
	if status < 0x80 || status >= 0xF0 && status != 0xF0 {
		return // realtime and partial messages are not recorded
	}
	ev := InEvent{Bus: bus}
	if status == 0xF0 {
		ev.Status = seq.StatusSysEx
		if len(raw) > 1 {
			payload := raw[1:]
			if payload[len(payload)-1] == 0xF7 {
				payload = payload[:len(payload)-1]
			}
			ev.Payload = append([]byte(nil), payload...)
		}
	} else {
		ev.Status = status & 0xF0
		ev.Channel = status & 0x0F
		if len(raw) > 1 {
			ev.Data[0] = raw[1]
		}
		if len(raw) > 2 {
			ev.Data[1] = raw[2]
		}
		// canonical form: note-on velocity 0 is a note-off
		if ev.Status == seq.StatusNoteOn && ev.Data[1] == 0 {
			ev.Status = seq.StatusNoteOff
		}
	}
	select {
	case m.inCh <- ev:
	default:
		debug.LogEvery(100, "bus", "input queue full, dropping")
	}
}

// Play implements seq.Outputs: route one pattern event to its bus.
func (m *Master) Play(bus uint8, tick seq.Pulse, ev *seq.Event, channel byte) {
	b := m.Out(int(bus))
	if b == nil {
		return
	}
	if ev.Status == seq.StatusSysEx {
		b.Sysex(tick, ev)
		return
	}
	b.Play(tick, ev, channel)
}

// InitClocks primes every enabled bus on Running entry.
func (m *Master) InitClocks(tick seq.Pulse) {
	ppqn := m.PPQN()
	for _, b := range m.snapshot() {
		b.InitClock(tick, ppqn)
	}
}

// ClockRange emits the 24-PPQN ticks in (from, to] on every enabled bus.
func (m *Master) ClockRange(from, to seq.Pulse) {
	ppqn := m.PPQN()
	for _, b := range m.snapshot() {
		b.ClockRange(from, to, ppqn)
	}
}

// Stop emits FC everywhere.
func (m *Master) Stop() {
	for _, b := range m.snapshot() {
		b.Stop()
	}
}

// Flush drains every output queue.
func (m *Master) Flush() {
	for _, b := range m.snapshot() {
		b.Flush()
	}
}

// PanicNotes sends all-notes-off on every enabled bus so no note hangs
// after a transport stop.
func (m *Master) PanicNotes(tick seq.Pulse) {
	for _, b := range m.snapshot() {
		b.PanicNotes(tick)
	}
}

// Close releases every port handle.
func (m *Master) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.outs {
		b.Close()
	}
	for _, b := range m.ins {
		b.Close()
	}
}

func (m *Master) snapshot() []*Bus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Bus(nil), m.outs...)
}

// Package tui is the terminal front-end: a grid of the active screen-set's
// pattern slots plus a transport line, driven by the engine's notification
// channel.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loopseq/engine"
	"loopseq/midifile"
	"loopseq/seq"
)

// slotKeys maps keyboard rows onto the active set's slots, row-major.
var slotKeys = []string{
	"1", "2", "3", "4", "5", "6", "7", "8",
	"q", "w", "e", "r", "t", "y", "u", "i",
	"a", "s", "d", "f", "g", "h", "j", "k",
	"z", "x", "c", "v", "b", "n", "m", ",",
}

type Model struct {
	Performer *engine.Performer

	tick      seq.Pulse
	status    string
	queueMode bool // slot keys queue at the boundary instead of toggling
	groupMode bool // next slot key recalls a mute group
	quitting  bool
}

// NotifyMsg carries one engine notification into the bubbletea loop.
type NotifyMsg engine.Notification

func NewModel(p *engine.Performer) Model {
	return Model{Performer: p}
}

// ListenForNotifications forwards the next engine update as a message.
func ListenForNotifications(p *engine.Performer) tea.Cmd {
	return func() tea.Msg {
		return NotifyMsg(<-p.Notifications())
	}
}

func (m Model) Init() tea.Cmd {
	return ListenForNotifications(m.Performer)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case NotifyMsg:
		switch msg.Kind {
		case engine.NoteTickProgress:
			m.tick = msg.Tick
		case engine.NotePortError:
			m.status = fmt.Sprintf("port %d: %v", msg.Bus, msg.Err)
		}
		return m, ListenForNotifications(m.Performer)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "esc":
		m.quitting = true
		m.Performer.Shutdown()
		return m, tea.Quit

	case " ", "space":
		if m.Performer.State() == engine.Running {
			m.Performer.Stop()
		} else {
			m.Performer.Play()
		}

	case ".":
		switch m.Performer.State() {
		case engine.Running:
			m.Performer.Pause()
		case engine.Paused:
			m.Performer.Continue()
		}

	case "+", "=":
		m.Performer.SetTempo(m.Performer.BPM() + 1)
	case "-", "_":
		m.Performer.SetTempo(m.Performer.BPM() - 1)

	case "[":
		m.Performer.NextSet(-1)
	case "]":
		m.Performer.NextSet(1)

	case "tab":
		m.queueMode = !m.queueMode

	case "L":
		m.Performer.BeginLearn()
		m.status = "learn: press a slot key to store the group"
	case "G":
		m.groupMode = true
		m.status = "group: press a slot key to recall"

	case "M":
		m.Performer.SetSongMode(!m.Performer.SongMode())

	case "S":
		if err := m.save(); err != nil {
			m.status = err.Error()
		} else {
			m.status = "saved " + m.Performer.Filename()
		}

	default:
		if local := slotIndex(key); local >= 0 {
			m.pressSlot(local)
		}
	}
	return m, nil
}

func (m *Model) pressSlot(local int) {
	switch {
	case m.groupMode:
		m.groupMode = false
		m.Performer.GroupKey(local)
	case m.Performer.Learning():
		m.Performer.GroupKey(local)
		m.status = fmt.Sprintf("group %d stored", local)
	case m.queueMode:
		m.Performer.QueueSlot(local)
	default:
		m.Performer.ToggleSlot(local)
	}
}

func (m Model) save() error {
	path := m.Performer.Filename()
	if path == "" {
		path = "loopseq.midi"
	}
	return m.Performer.SaveAs(path, midifile.ModeNormal)
}

func slotIndex(key string) int {
	for i, k := range slotKeys {
		if k == key {
			return i
		}
	}
	return -1
}

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	armedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("205"))
	queuedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Underline(true)
	emptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	p := m.Performer
	opts := p.Options()

	state := "STOP"
	switch p.State() {
	case engine.Running:
		state = "PLAY"
	case engine.Paused:
		state = "PAUSE"
	}
	mode := "live"
	if p.SongMode() {
		mode = "song"
	}
	flags := ""
	if m.queueMode {
		flags += " [queue]"
	}
	if p.Learning() {
		flags += " [learn]"
	}
	if m.groupMode {
		flags += " [group]"
	}

	beat := int64(m.tick) / int64(opts.PPQN)
	header := headerStyle.Render(fmt.Sprintf(
		"loopseq  %s  %.1fbpm  %s  set %d  bar %d:%d%s",
		state, p.BPM(), mode, p.ActiveSet(),
		beat/4+1, beat%4+1, flags))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	if note := p.SetNote(p.ActiveSet()); note != "" {
		out.WriteString("  ")
		out.WriteString(dimStyle.Render(note))
	}
	out.WriteString("\n\n")

	base := p.ActiveSet() * opts.SetSize()
	for row := 0; row < opts.SetRows; row++ {
		for col := 0; col < opts.SetCols; col++ {
			local := row*opts.SetCols + col
			if local >= len(slotKeys) {
				break
			}
			out.WriteString(m.renderSlot(base+local, slotKeys[local]))
			out.WriteString(" ")
		}
		out.WriteString("\n")
	}

	out.WriteString("\n")
	out.WriteString(dimStyle.Render(
		"space:play/stop  .:pause  tab:queue  L:learn  G:group  [ ]:set  +/-:tempo  M:mode  S:save  esc:quit"))
	if m.status != "" {
		out.WriteString("\n")
		out.WriteString(errStyle.Render(m.status))
	}
	return out.String()
}

// renderSlot draws one grid cell: the hotkey plus the pattern name, styled
// by armed/queued state.
func (m Model) renderSlot(slot int, key string) string {
	s := m.Performer.Pattern(slot)
	if s == nil {
		return emptyStyle.Render(fmt.Sprintf("[%s ----]", key))
	}
	name := s.Name()
	if name == "" {
		name = fmt.Sprintf("p%02d", slot)
	}
	if len(name) > 4 {
		name = name[:4]
	}
	cell := fmt.Sprintf("[%s %-4s]", key, name)
	switch {
	case s.Queued():
		return queuedStyle.Render(cell)
	case s.Armed():
		return armedStyle.Render(cell)
	default:
		return dimStyle.Render(cell)
	}
}

// Package monitor is a terminal live view of the controller.
package monitor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/itohio/godispense/pkg/control"
	"github.com/itohio/godispense/pkg/dispenser"
)

// StatusMsg carries a controller snapshot.
type StatusMsg struct {
	Status dispenser.Status
}

// LogMsg carries one diagnostic line.
type LogMsg struct {
	Time time.Time
	Text string
}

type logEntry struct {
	time    time.Time
	text    string
	isState bool
}

// Model is the bubbletea model of the live view.
type Model struct {
	title      string
	status     dispenser.Status
	hasStatus  bool
	log        []logEntry
	maxLog     int
	width      int
	height     int
	quitting   bool
	transition int
}

// New creates the live view model.
func New(title string) Model {
	return Model{
		title:  title,
		maxLog: 100,
		width:  80,
		height: 24,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case StatusMsg:
		if m.hasStatus && msg.Status.State != m.status.State {
			m.transition++
			m.addLog(msg.Status.Time, fmt.Sprintf("%s -> %s", m.status.State, msg.Status.State), true)
		}
		m.status = msg.Status
		m.hasStatus = true

	case LogMsg:
		m.addLog(msg.Time, msg.Text, false)
	}

	return m, nil
}

func (m *Model) addLog(t time.Time, text string, isState bool) {
	m.log = append(m.log, logEntry{time: t, text: text, isState: isState})
	if len(m.log) > m.maxLog {
		m.log = m.log[len(m.log)-m.maxLog:]
	}
}

// Status returns the last snapshot shown.
func (m Model) Status() (dispenser.Status, bool) { return m.status, m.hasStatus }

// Transitions returns the number of state changes seen.
func (m Model) Transitions() int { return m.transition }

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	alertStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

var stateColors = map[control.State]lipgloss.Color{
	control.StateDetect:    "244",
	control.StateConfigure: "11",
	control.StateVerify:    "14",
	control.StateMeasure:   "10",
	control.StateWait:      "13",
}

func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("Press 'q' to quit"))
	s.WriteString("\n\n")

	if !m.hasStatus {
		s.WriteString(stateStyle.Render("Waiting for the controller..."))
		s.WriteString("\n")
		return s.String()
	}

	st := &m.status
	state := lipgloss.NewStyle().Bold(true).Foreground(stateColors[st.State]).Render(st.State.String())

	var c strings.Builder
	fmt.Fprintf(&c, "%s %s   %s %d   %s %d\n",
		labelStyle.Render("State:"), state,
		labelStyle.Render("Confirm:"), st.Confirm,
		labelStyle.Render("Verify:"), st.Verify)
	fmt.Fprintf(&c, "%s %s   %s %s   %s %s\n",
		labelStyle.Render("Filtered:"), valueStyle.Render(fmt.Sprint(st.Filtered)),
		labelStyle.Render("Last:"), valueStyle.Render(fmt.Sprintf("%d/%d", st.Primary, st.Secondary)),
		labelStyle.Render("Window:"), valueStyle.Render(fmt.Sprintf("%d/%d", st.Samples, st.Window)))
	fmt.Fprintf(&c, "%s S3=%d S4=%d T2=%d T3=%d\n",
		labelStyle.Render("Sensor:"),
		st.Params.NearBoundary, st.Params.FarBoundary, st.Params.NearThreshold, st.Params.FarThreshold)
	fmt.Fprintf(&c, "%s %d   %s %d   %s %t\n",
		labelStyle.Render("Stop at:"), st.Params.StopDistance,
		labelStyle.Render("Alarm check:"), st.Params.AlarmCheckDistance,
		labelStyle.Render("Strong echo:"), st.Params.RequireStrongEcho)
	fmt.Fprintf(&c, "%s %s   %s %s   %s %s\n",
		labelStyle.Render("Pump:"), output(st.Outputs.Pump, valueStyle),
		labelStyle.Render("Alert:"), output(st.Outputs.Alert, alertStyle),
		labelStyle.Render("Armed:"), output(st.Outputs.Armed, valueStyle))
	fmt.Fprintf(&c, "%s %d parsed, %d failed   %s %d timeouts",
		labelStyle.Render("Frames:"), st.Frames.Parsed, st.Frames.Failed,
		labelStyle.Render("Link:"), st.Link.Timeouts)
	s.WriteString(boxStyle.Render(c.String()))
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Echo profile:"))
	s.WriteString("\n")
	profile := Downsample(nil, st.Profile[:], max(m.width-6, 8))
	top := 0
	for _, v := range profile {
		top = max(top, v)
	}
	s.WriteString(boxStyle.Render(Sparkline(profile, top)))
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	logHeight := max(m.height-20, 5)
	start := max(len(m.log)-logHeight, 0)

	var l strings.Builder
	if len(m.log) == 0 {
		l.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, e := range m.log[start:] {
		ts := headerStyle.Render(e.time.Format("15:04:05.000"))
		if e.isState {
			fmt.Fprintf(&l, "%s %s\n", ts, stateStyle.Render(e.text))
		} else {
			fmt.Fprintf(&l, "%s %s\n", ts, e.text)
		}
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(l.String()))

	return s.String()
}

func output(on bool, style lipgloss.Style) string {
	if on {
		return style.Render("on")
	}
	return headerStyle.Render("off")
}

// Forwarder passes controller snapshots and log lines to a running
// program. Snapshots are rate limited except on state changes. It is safe
// for concurrent use.
type Forwarder struct {
	send  func(tea.Msg)
	every time.Duration

	mu    sync.Mutex
	last  time.Time
	state control.State
	sent  bool
}

// NewForwarder creates a forwarder sending through send, typically
// (*tea.Program).Send.
func NewForwarder(send func(tea.Msg), every time.Duration) *Forwarder {
	return &Forwarder{send: send, every: every}
}

// Status forwards a copy of s when due.
func (f *Forwarder) Status(s *dispenser.Status) {
	f.mu.Lock()
	due := !f.sent || s.State != f.state || s.Time.Sub(f.last) >= f.every
	if due {
		f.sent = true
		f.last = s.Time
		f.state = s.State
	}
	f.mu.Unlock()

	if due {
		f.send(StatusMsg{Status: *s})
	}
}

// Logf forwards a formatted log line.
func (f *Forwarder) Logf(format string, args ...any) {
	f.send(LogMsg{Time: time.Now(), Text: strings.TrimRight(fmt.Sprintf(format, args...), "\n")})
}

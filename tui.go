package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"typeless/transcriber"
)

// TUI message types
type HeaderMsg struct {
	Endpoint string
	Language string
	Session  string
	Source   string
	Encoding string
}
type StateMsg struct {
	State transcriber.State
	Err   error
}
type StatsMsg struct{ Stats transcriber.Stats }
type SilenceMsg struct{ Silent bool }
type AudioLevelMsg struct{ Level float64 }
type TranscriptMsg struct {
	Seq  int
	Text string
}
type tickMsg time.Time

const (
	historySize = 8
	meterWidth  = 30
)

type tuiModel struct {
	width, height int
	frame         int

	header    HeaderMsg
	state     transcriber.State
	lastErr   error
	since     time.Time
	stats     transcriber.Stats
	level     float64
	silent    bool

	history []TranscriptMsg // newest last
}

var (
	stateColors = map[transcriber.State]string{
		transcriber.StateIdle:       "241",
		transcriber.StateConnecting: "214",
		transcriber.StateOpen:       "42",
		transcriber.StateClosing:    "245",
		transcriber.StateClosed:     "241",
		transcriber.StateFailed:     "196",
	}
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	oldTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	meterOn      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	meterHot     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	meterOff     = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
)

func newTUIProgram() *tea.Program {
	return tea.NewProgram(newTUIModel(), tea.WithAltScreen())
}

func newTUIModel() tuiModel {
	return tuiModel{since: time.Now()}
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}

	case tickMsg:
		m.frame++
		m.level *= 0.85
		return m, tuiTick()

	case HeaderMsg:
		m.header = msg

	case StateMsg:
		if msg.State != m.state {
			m.since = time.Now()
		}
		m.state = msg.State
		if msg.Err != nil {
			m.lastErr = msg.Err
		} else if msg.State == transcriber.StateOpen {
			m.lastErr = nil
		}

	case StatsMsg:
		m.stats = msg.Stats

	case AudioLevelMsg:
		m.level = math.Max(m.level*0.6+msg.Level*0.4, msg.Level)

	case SilenceMsg:
		m.silent = msg.Silent

	case TranscriptMsg:
		m.history = append(m.history, msg)
		if len(m.history) > historySize {
			m.history = m.history[len(m.history)-historySize:]
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder
	stateStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(stateColors[m.state]))
	dot := "●"
	if m.state == transcriber.StateConnecting && m.frame%4 >= 2 {
		dot = "○"
	}
	b.WriteString(stateStyle.Render(fmt.Sprintf("%s %s", dot, strings.ToUpper(m.state.String()))))
	b.WriteString(labelStyle.Render(fmt.Sprintf("  %.0fs", time.Since(m.since).Seconds())))
	b.WriteString("\n")
	if m.lastErr != nil {
		b.WriteString(errStyle.Render("  ⚠ "+m.lastErr.Error()) + "\n")
	}

	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-9s", label)) + valueStyle.Render(value) + "\n")
	}
	field("endpoint", m.header.Endpoint)
	field("language", m.header.Language)
	field("session", m.header.Session)
	field("source", m.header.Source)
	field("encoding", m.header.Encoding)
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("level    ") + renderMeter(m.level, meterWidth) + "\n")
	if m.silent {
		b.WriteString(errStyle.Render("  ⚠ no voice detected") + "\n")
	}
	b.WriteString(labelStyle.Render(fmt.Sprintf(
		"sent %d (%.1f KB)  dropped %d  recv %d  reconnects %d",
		m.stats.SentChunks, float64(m.stats.SentBytes)/1024,
		m.stats.DroppedChunks, m.stats.ReceivedMessages, m.stats.Reconnects,
	)) + "\n\n")

	wrapWidth := max(m.width-4, 10)
	if len(m.history) == 0 {
		b.WriteString(labelStyle.Render("No messages yet") + "\n")
	}
	for i, t := range m.history {
		style := oldTextStyle
		if i == len(m.history)-1 {
			style = textStyle
		}
		prefix := labelStyle.Render(fmt.Sprintf("#%d ", t.Seq))
		for j, line := range wrapText(t.Text, wrapWidth) {
			if j > 0 {
				prefix = "   "
			}
			b.WriteString(prefix + style.Render(line) + "\n")
		}
	}

	b.WriteString("\n" + helpStyle.Render("q / Ctrl+C to stop  ·  typeless "+version))
	return lipgloss.NewStyle().Width(m.width).MaxHeight(m.height).PaddingLeft(1).Render(b.String())
}

// renderMeter draws level in [0, 1] as a bar on a log scale so speech
// fills most of it.
func renderMeter(level float64, width int) string {
	filled := 0
	if level > 0 {
		db := 20 * math.Log10(level)
		filled = int(math.Round((db + 60) / 60 * float64(width)))
	}
	filled = min(max(filled, 0), width)
	hot := width * 9 / 10

	var b strings.Builder
	for i := range width {
		switch {
		case i >= filled:
			b.WriteString(meterOff.Render("▏"))
		case i >= hot:
			b.WriteString(meterHot.Render("█"))
		default:
			b.WriteString(meterOn.Render("█"))
		}
	}
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	runes := []rune(text)
	var lines []string
	for len(runes) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(runes[:splitAt]))
		runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}

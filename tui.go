package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"glot/clipboard"
	"glot/session"
	"glot/translate"
)

type tickMsg time.Time

var (
	styleTitle     = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	styleStatus    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleHelp      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleRecording = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleIdle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleTrans     = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleRemote    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleLocal     = lipgloss.NewStyle().Foreground(lipgloss.Color("135"))
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleWarn      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleBar       = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	styleMeter     = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
)

type tuiModel struct {
	ctrl *session.Controller

	width, height int
	frame         int

	status     string
	fatal      string
	ready      bool
	capturing  bool
	items      []session.ProgressItem
	streaming  bool
	transcript string
	tps        float64
	numTokens  int

	remoteText    string
	remoteTarget  string
	remoteLatency time.Duration
	localText     string
	localTarget   string
	localLatency  time.Duration

	translator       session.TranslatorState
	translatorDetail string

	level  float64
	copied bool
	lang   string
}

func NewTUIProgram(ctrl *session.Controller, lang string) *tea.Program {
	m := tuiModel{ctrl: ctrl, lang: lang, status: "starting"}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
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
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ":
			m.ctrl.ToggleCapture()
		case "t":
			m.ctrl.LoadTranslator()
		case "c":
			if m.transcript != "" {
				if err := clipboard.Copy(m.transcript); err == nil {
					m.copied = true
				}
			}
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case StatusMsg:
		m.status = msg.Text

	case FatalMsg:
		m.fatal = msg.Text

	case ProgressMsg:
		m.items = msg.Items

	case ReadyMsg:
		m.ready = true
		m.status = "ready"
		m.items = nil

	case CaptureMsg:
		m.capturing = msg.Active
		if !msg.Active {
			m.level = 0
		}

	case TranscribeStartMsg:
		m.streaming = true

	case TranscriptMsg:
		m.transcript = msg.Text
		m.tps = msg.Tps
		m.numTokens = msg.NumTokens
		if msg.Final {
			m.streaming = false
			m.copied = false
		}

	case RemoteTranslationMsg:
		m.remoteText = msg.Text
		m.remoteTarget = msg.Target
		m.remoteLatency = msg.Latency

	case LocalTranslationMsg:
		m.localText = msg.Text
		m.localTarget = msg.Target
		m.localLatency = msg.Latency

	case TranslatorMsg:
		m.translator = msg.State
		m.translatorDetail = msg.Detail

	case AudioLevelMsg:
		m.level = m.level*0.6 + msg.Level*0.4
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(styleTitle.Render("glot "+version) + "\n\n")

	// Status line
	switch {
	case m.fatal != "":
		b.WriteString(styleError.Render("✗ "+m.fatal) + "\n")
	case m.capturing:
		spin := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧"}[m.frame%8]
		line := styleRecording.Render("● LIVE " + spin)
		if m.streaming {
			line += styleStatus.Render("  transcribing...")
		}
		b.WriteString(line + "\n")
		b.WriteString(renderLevelMeter(m.level) + "\n")
	case m.ready:
		b.WriteString(styleIdle.Render("○ IDLE (space to capture)") + "\n")
	default:
		b.WriteString(styleStatus.Render(m.status) + "\n")
	}

	// Model download progress bars
	for _, it := range m.items {
		b.WriteString(renderProgressBar(it) + "\n")
	}

	b.WriteString("\n")

	wrap := m.width - 4
	if wrap < 20 {
		wrap = 20
	}

	// Transcript pane
	title := "Transcript (" + langName(m.lang) + ")"
	if m.streaming && m.tps > 0 {
		title += fmt.Sprintf("  %.1f tok/s · %d tokens", m.tps, m.numTokens)
	}
	b.WriteString(styleDim.Render(title) + "\n")
	if m.transcript != "" {
		for _, line := range wrapText(m.transcript, wrap) {
			b.WriteString(styleTrans.Render(line) + "\n")
		}
		if m.copied {
			b.WriteString(styleRemote.Render("[✓ copied]") + "\n")
		}
	} else {
		b.WriteString(styleDim.Render("—") + "\n")
	}
	b.WriteString("\n")

	// Remote translation pane
	if m.remoteTarget != "" {
		head := fmt.Sprintf("Remote → %s  (%dms)", langName(m.remoteTarget), m.remoteLatency.Milliseconds())
		b.WriteString(styleDim.Render(head) + "\n")
		style := styleRemote
		if m.remoteText == translate.Sentinel {
			style = styleWarn
		}
		for _, line := range wrapText(m.remoteText, wrap) {
			b.WriteString(style.Render(line) + "\n")
		}
		b.WriteString("\n")
	}

	// Local translation pane
	switch m.translator {
	case session.TranslatorLoading:
		b.WriteString(styleDim.Render("Local translator: loading...") + "\n\n")
	case session.TranslatorFailed:
		b.WriteString(styleError.Render("Local translator failed: "+m.translatorDetail) + "\n\n")
	case session.TranslatorLoaded:
		if m.localTarget != "" {
			head := fmt.Sprintf("Local  → %s  (%dms)", langName(m.localTarget), m.localLatency.Milliseconds())
			b.WriteString(styleDim.Render(head) + "\n")
			style := styleLocal
			if m.localText == translate.Sentinel {
				style = styleWarn
			}
			for _, line := range wrapText(m.localText, wrap) {
				b.WriteString(style.Render(line) + "\n")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(styleHelp.Render("space capture · t local translator · c copy · q quit") + "\n")

	return b.String()
}

func renderProgressBar(it session.ProgressItem) string {
	const width = 24
	filled := 0
	pct := 0.0
	if it.Total > 0 {
		pct = float64(it.Loaded) / float64(it.Total)
		filled = int(pct * width)
		if filled > width {
			filled = width
		}
	}
	bar := styleBar.Render(strings.Repeat("█", filled)) + styleDim.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("  %s %3.0f%%  %s", bar, pct*100, styleDim.Render(it.File))
}

func renderLevelMeter(level float64) string {
	const width = 24
	filled := int(level * 6 * width)
	if filled > width {
		filled = width
	}
	return "  " + styleMeter.Render(strings.Repeat("▰", filled)) + styleDim.Render(strings.Repeat("▱", width-filled))
}

func langName(code string) string {
	return translate.Name(code)
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

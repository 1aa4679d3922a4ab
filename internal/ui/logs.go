package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/c8yview/internal/logtail"
)

func readLogsCmd(path string) tea.Cmd {
	return func() tea.Msg {
		if path == "" {
			return logLinesMsg{}
		}
		lines, err := logtail.Read(path, logTailLines)
		return logLinesMsg{lines: lines, err: err}
	}
}

func (m *Model) updateLogView() {
	if m.logView.Width == 0 {
		return
	}
	styles := m.theme.Styles()
	var content string
	switch {
	case m.logErr != nil:
		content = styles.DangerText.Render(m.logErr.Error())
	case m.logPath == "":
		content = styles.MutedText.Render("Logging to stderr; no log file to show.")
	case len(m.logLines) == 0:
		content = styles.MutedText.Render("No log entries yet.")
	default:
		formatted := make([]string, 0, len(m.logLines))
		for _, line := range m.logLines {
			formatted = append(formatted, m.formatLogLine(line))
		}
		content = strings.Join(formatted, "\n")
	}
	m.logView.SetContent(content)
	if m.logFollow {
		m.logView.GotoBottom()
	}
}

// formatLogLine renders one zap JSON line as
// "15:04:05 LEVEL [collection] message key=value ... error=...".
func (m Model) formatLogLine(line string) string {
	styles := m.theme.Styles()
	e, ok := logtail.Parse(line)
	if !ok {
		return styles.Text.Render(e.Message)
	}

	parts := make([]string, 0, 6)
	if ts := shortTime(e.Time); ts != "" {
		parts = append(parts, styles.FaintText.Render(ts))
	}
	parts = append(parts, styles.LevelStyle(e.Level).Render(padRight(e.Level, 5)))
	if e.Collection != "" {
		parts = append(parts, styles.AccentText.Render("["+e.Collection+"]"))
	}
	parts = append(parts, styles.Text.Render(e.Message))
	for _, k := range e.FieldKeys() {
		parts = append(parts, styles.MutedText.Render(k+"="+e.Fields[k]))
	}
	if e.Error != "" {
		parts = append(parts, styles.DangerText.UnsetBold().Render("error="+e.Error))
	}
	return strings.Join(parts, " ")
}

// shortTime keeps the clock part of an ISO8601 timestamp.
func shortTime(ts string) string {
	if i := strings.IndexByte(ts, 'T'); i >= 0 && len(ts) >= i+9 {
		return ts[i+1 : i+9]
	}
	return ts
}

func (m Model) renderLogs() string {
	return m.theme.Styles().FocusPane.
		Width(max(m.width-2, 1)).
		Height(max(m.height-chrome-2, 1)).
		Render(m.logView.View())
}

func (m Model) renderLogStatus() string {
	styles := m.theme.Styles()
	path := m.logPath
	if path == "" {
		path = "stderr"
	}
	follow := "paused"
	if m.logFollow {
		follow = "following"
	}
	return styles.AccentText.Render("Log") + styles.FaintText.Render(" · ") +
		styles.MutedText.Render(path) + styles.FaintText.Render(" · ") +
		styles.MutedText.Render(follow)
}

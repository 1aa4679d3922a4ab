package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/five82/c8yview/internal/entity"
	"github.com/five82/c8yview/internal/pipeline"
)

// chrome is the number of rows used outside the panes: tabs, status, footer.
const chrome = 3

func (m *Model) resize() {
	_, detailW := m.paneWidths()
	inner := m.paneHeight()
	if m.detail.Width == 0 && m.detail.Height == 0 {
		m.detail = viewport.New(max(detailW-2, 1), inner)
	} else {
		m.detail.Width = max(detailW-2, 1)
		m.detail.Height = inner
	}
	logH := max(m.height-chrome-2, 1)
	if m.logView.Width == 0 && m.logView.Height == 0 {
		m.logView = viewport.New(max(m.width-2, 1), logH)
	} else {
		m.logView.Width = max(m.width-2, 1)
		m.logView.Height = logH
	}
}

func (m Model) paneWidths() (list, detail int) {
	list = m.width * 2 / 5
	if list < 28 {
		list = min(28, m.width)
	}
	return list, max(m.width-list, 0)
}

// paneHeight is the inner height of the tree and detail panes.
func (m Model) paneHeight() int {
	return max(m.height-chrome-2, 1)
}

func (m Model) selectedNode() entity.Node {
	if len(m.views) == 0 {
		return nil
	}
	nodes := m.views[m.active].Nodes
	i := m.selected[m.active]
	if i < 0 || i >= len(nodes) {
		return nil
	}
	return nodes[i]
}

// renderMain renders the full UI.
func (m Model) renderMain() string {
	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	if m.screen == ScreenLogs {
		b.WriteString(m.renderLogs())
	} else {
		b.WriteString(m.renderTree())
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderTabs() string {
	styles := m.theme.Styles()
	parts := []string{styles.Logo.Render("c8yview")}
	for i, h := range m.collections {
		v := m.views[i]
		label := fmt.Sprintf("%s %d", h.Title(), len(v.Nodes))
		switch {
		case !v.Enabled && v.Seq > 0:
			label = h.Title() + " off"
		case v.Phase == pipeline.PhaseFetching || v.Phase == pipeline.PhaseReconciling:
			label += " ⟳"
		case v.LastError != nil:
			label += " !"
		}
		if i == m.active && m.screen == ScreenTree {
			parts = append(parts, styles.ActiveTab.Render(label))
		} else {
			parts = append(parts, styles.Tab.Render(label))
		}
	}
	if m.screen == ScreenLogs {
		parts = append(parts, styles.ActiveTab.Render("Logs"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) renderStatus() string {
	styles := m.theme.Styles()
	if m.screen == ScreenLogs {
		return m.renderLogStatus()
	}
	if len(m.collections) == 0 {
		return styles.MutedText.Render("no collections configured")
	}
	v := m.views[m.active]

	parts := []string{styles.AccentText.Render(v.Title), styles.MutedText.Render(v.Phase.String())}
	if v.Seq > 0 {
		parts = append(parts, styles.MutedText.Render(fmt.Sprintf("gen %d", v.Seq)))
	}
	if !v.PublishedAt.IsZero() {
		parts = append(parts, styles.MutedText.Render("updated "+ago(m.now, v.PublishedAt)))
	}
	if v.Offline() {
		parts = append(parts, styles.DangerText.Render("OFFLINE"))
	}
	if v.LastError != nil {
		parts = append(parts, styles.DangerText.Render(truncate(v.LastError.Error(), max(m.width/2, 20))))
	}
	return strings.Join(parts, styles.FaintText.Render(" · "))
}

func (m Model) renderTree() string {
	styles := m.theme.Styles()
	listW, detailW := m.paneWidths()
	inner := m.paneHeight()

	list := styles.FocusPane.
		Width(max(listW-2, 1)).
		Height(inner).
		Render(m.renderList(max(listW-2, 1), inner))
	detail := styles.Pane.
		Width(max(detailW-2, 1)).
		Height(inner).
		Render(m.detail.View())
	return lipgloss.JoinHorizontal(lipgloss.Top, list, detail)
}

func (m Model) renderList(width, height int) string {
	styles := m.theme.Styles()
	if len(m.views) == 0 {
		return ""
	}
	v := m.views[m.active]

	switch {
	case !v.Enabled && v.Seq > 0:
		return styles.MutedText.Render("Collection disabled.\nPress t to enable it.")
	case v.Seq == 0 && v.LastError == nil:
		return styles.MutedText.Render("Loading…")
	case len(v.Nodes) == 0 && v.LastError != nil:
		return styles.DangerText.Render("Refresh failed.") + "\n" + styles.MutedText.Render("Press r to retry.")
	case len(v.Nodes) == 0:
		return styles.MutedText.Render("No entries.")
	}

	sel := m.selected[m.active]
	start := 0
	if sel >= height {
		start = sel - height + 1
	}
	end := min(start+height, len(v.Nodes))

	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		node := v.Nodes[i]
		badge := styles.StatusBadge(node.Status())
		room := width - lipgloss.Width(badge) - 1
		label := truncate(node.Label(), max(room, 1))
		if len(node.Errors()) > 0 {
			label = truncate("✗ "+node.Label(), max(room, 1))
		}
		line := badge + " " + label
		if i == sel {
			line = badge + " " + styles.Selected.Render(padRight(label, max(room, 1)))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) updateDetail() {
	if !m.ready && m.detail.Width == 0 {
		return
	}
	m.detail.SetContent(m.renderDetail(m.selectedNode()))
	m.detail.GotoTop()
}

func (m Model) renderDetail(node entity.Node) string {
	styles := m.theme.Styles()
	if node == nil {
		return styles.MutedText.Render("Nothing selected.")
	}

	var b strings.Builder
	b.WriteString(styles.Text.Bold(true).Render(node.Label()))
	b.WriteString("\n")
	b.WriteString(styles.MutedText.Render(node.Tooltip()))
	b.WriteString("\n\n")

	row := func(name, value string) {
		if value == "" {
			return
		}
		b.WriteString(styles.FaintText.Render(padRight(name, 12)))
		b.WriteString(styles.Text.Render(value))
		b.WriteString("\n")
	}
	row("Key", node.Key())
	row("Kind", node.Kind().String())
	row("Status", node.Status())
	row("Description", node.Description())
	if a, ok := node.(entity.Alarm); ok {
		row("Source", a.Source())
		row("Lifecycle", a.AlarmStatus())
	}

	if errs := node.Errors(); len(errs) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.DangerText.Render("Errors"))
		b.WriteString("\n")
		for _, e := range errs {
			b.WriteString(styles.DangerText.UnsetBold().Render("  " + e))
			b.WriteString("\n")
		}
	}
	if warns := node.Warnings(); len(warns) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.WarningText.Bold(true).Render("Warnings"))
		b.WriteString("\n")
		for _, w := range warns {
			b.WriteString(styles.WarningText.Render("  " + w))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.showRecord {
		b.WriteString(styles.AccentText.Render("Record"))
		b.WriteString("\n")
		b.WriteString(node.Record())
	} else {
		b.WriteString(styles.AccentText.Render("Detail"))
		b.WriteString("\n")
		b.WriteString(node.Detail())
	}
	return b.String()
}

func (m Model) renderFooter() string {
	styles := m.theme.Styles()
	if m.flash != "" {
		if m.flashErr {
			return styles.DangerText.Render(truncate(m.flash, max(m.width, 10)))
		}
		return styles.InfoText.Render(truncate(m.flash, max(m.width, 10)))
	}
	hints := make([]string, 0, 8)
	for _, k := range m.keys.ShortHelp() {
		h := k.Help()
		hints = append(hints, styles.WarningText.Render(h.Key)+" "+styles.MutedText.Render(h.Desc))
	}
	return strings.Join(hints, "  ")
}

func ago(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0 || d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return t.Format("15:04:05")
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func padRight(s string, n int) string {
	if w := lipgloss.Width(s); w < n {
		return s + strings.Repeat(" ", n-w)
	}
	return s
}

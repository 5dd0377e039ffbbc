package chat

import (
	"fmt"
	"strings"

	"github.com/adamavenir/frayline/internal/realtime"
	"github.com/adamavenir/frayline/internal/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

func (m *Model) View() string {
	state := m.session.ViewportState()
	statusLine := lipgloss.NewStyle().Foreground(statusColor).Render(m.statusLine(state))
	lines := []string{
		m.viewport.View(),
		m.renderNewMessagesBar(state),
		m.input.View(),
		statusLine,
	}
	return m.zones.Scan(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) refreshViewport() {
	state := m.session.ViewportState()
	m.viewport.SetContent(m.renderMessages(state))
	m.viewport.SetYOffset(state.Offset)
}

func (m *Model) renderNewMessagesBar(state types.ViewportState) string {
	if state.NewMessages == 0 || state.Anchor.Mode == types.AnchorBottom {
		return ""
	}
	label := fmt.Sprintf("%d new message", state.NewMessages)
	if state.NewMessages != 1 {
		label += "s"
	}
	label += " · end to jump"
	return lipgloss.NewStyle().
		Background(newMessagesBg).
		Foreground(lipgloss.Color("231")).
		Padding(0, 1).
		Width(m.mainWidth()).
		Render(label)
}

func (m *Model) statusLine(state types.ViewportState) string {
	left := m.session.ChannelID()
	if m.projectName != "" {
		left = m.projectName + " · " + left
	}
	if reducer := m.session.Reducer(); reducer.State() != realtime.Connected {
		left += " · " + string(reducer.State())
	}
	if m.status != "" {
		left = fmt.Sprintf("%s · %s", m.status, left)
	}
	right := ""
	if state.Anchor.Mode != types.AnchorBottom {
		right = string(state.Anchor.Mode)
	}
	return alignStatusLine(left, right, m.mainWidth())
}

func alignStatusLine(left, right string, width int) string {
	if width <= 0 || right == "" {
		return left
	}
	leftWidth := ansi.StringWidth(left)
	rightWidth := ansi.StringWidth(right)
	if leftWidth+rightWidth+1 > width {
		return ansi.Truncate(left, max(width-rightWidth-1, 0), "…") + " " + right
	}
	return left + strings.Repeat(" ", width-leftWidth-rightWidth) + right
}

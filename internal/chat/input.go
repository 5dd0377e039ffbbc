package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/lipgloss"
)

const inputMaxHeight = 6

func newInputModel() textarea.Model {
	input := textarea.New()
	input.Placeholder = "message, or /help"
	input.Prompt = "│ "
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(1)
	input.FocusedStyle.CursorLine = lipgloss.NewStyle()
	input.FocusedStyle.Prompt = lipgloss.NewStyle().Foreground(inputBorderCol)
	input.BlurredStyle.Prompt = lipgloss.NewStyle().Foreground(inputBorderCol)
	input.KeyMap.InsertNewline.SetEnabled(false)
	input.Focus()
	return input
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// inputHeight grows with the number of lines typed, up to inputMaxHeight.
func (m *Model) inputHeight() int {
	lines := strings.Count(m.input.Value(), "\n") + 1
	return min(max(lines, 1), inputMaxHeight)
}

func (m *Model) insertInputText(text string) {
	if text == "" {
		return
	}
	m.input.InsertString(text)
	m.resize()
}

package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/pagination"
	"github.com/adamavenir/frayline/internal/types"
	tea "github.com/charmbracelet/bubbletea"
)

// nearTopLines is how close to the top a scroll must land to fetch history.
const nearTopLines = 3

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.MouseMsg:
		return m.handleMouseMsg(msg)
	case refreshMsg:
		m.refreshViewport()
		return m, m.waitForUpdate()
	case loadResultMsg:
		m.status = loadStatus(msg)
		return m, nil
	case jumpResultMsg:
		m.status = jumpStatus(msg)
		return m, nil
	case actionResultMsg:
		m.status = ""
		if msg.err != nil {
			m.status = msg.err.Error()
		} else if msg.label != "" {
			m.status = msg.label
		}
		return m, nil
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlJ {
		m.insertInputText("\n")
		return m, nil
	}
	if msg.Type == tea.KeyRunes && msg.Paste {
		m.insertInputText(normalizeNewlines(string(msg.Runes)))
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.input.Value() != "" {
			m.input.Reset()
			m.resize()
			return m, nil
		}
		return m, tea.Quit
	case tea.KeyEsc:
		m.session.Tracker().ClearHighlight()
		m.status = ""
		return m, nil
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyPgUp, tea.KeyCtrlU:
		m.viewport.HalfPageUp()
		return m, m.userScrolled()
	case tea.KeyPgDown, tea.KeyCtrlD:
		m.viewport.HalfPageDown()
		return m, m.userScrolled()
	case tea.KeyEnd:
		if m.input.Value() == "" {
			m.session.Viewport().ScrollToBottom()
			m.refreshViewport()
			return m, nil
		}
	case tea.KeyUp:
		if m.input.Value() == "" {
			m.viewport.ScrollUp(1)
			return m, m.userScrolled()
		}
	case tea.KeyDown:
		if m.input.Value() == "" {
			m.viewport.ScrollDown(1)
			return m, m.userScrolled()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.inputHeight() != m.input.Height() {
		m.resize()
	}
	return m, cmd
}

func (m *Model) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
	case tea.MouseButtonLeft:
		if msg.Action == tea.MouseActionRelease {
			m.handleClick(msg)
		}
		return m, nil
	default:
		return m, nil
	}
	return m, m.userScrolled()
}

// handleClick inserts a reference to the message whose footer id was
// clicked, or the retry command when that message failed to send.
func (m *Model) handleClick(msg tea.MouseMsg) {
	prefixLen := core.GetDisplayPrefixLength(m.session.Store().Count())
	for rec := range m.session.Store().Range(nil, nil) {
		if info := m.zones.Get(footerZoneID(rec.ID)); info == nil || !info.InBounds(msg) {
			continue
		}
		ref := "#" + core.GetGUIDPrefix(rec.ID, prefixLen)
		if rec.Status == types.StatusFailed {
			m.input.SetValue("/retry " + ref)
		} else {
			m.insertInputText(ref + " ")
		}
		m.resize()
		return
	}
}

// userScrolled reports the new offset to the coordinator and fetches more
// history when the view is close to either end of what is loaded.
func (m *Model) userScrolled() tea.Cmd {
	m.session.Viewport().UserScrolled(m.viewport.YOffset)
	m.refreshViewport()
	if m.viewport.YOffset <= nearTopLines {
		return m.loadOlder()
	}
	if m.viewport.AtBottom() {
		return m.loadNewer()
	}
	return nil
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil
	}
	if strings.HasPrefix(value, "/") {
		cmd, err := m.runSlashCommand(value)
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.input.Reset()
		m.resize()
		return m, cmd
	}
	m.input.Reset()
	m.resize()
	m.status = ""
	return m, m.send(value)
}

func loadStatus(msg loadResultMsg) string {
	switch {
	case errors.Is(msg.err, types.ErrNoOp) && msg.dir == pagination.Newer:
		return ""
	case errors.Is(msg.err, types.ErrNoOp):
		return "beginning of conversation"
	case errors.Is(msg.err, types.ErrAlreadyLoading), errors.Is(msg.err, types.ErrClosed):
		return ""
	case msg.err != nil:
		return "could not load history: " + msg.err.Error()
	case msg.count == 0:
		return ""
	}
	return fmt.Sprintf("loaded %d %s messages", msg.count, msg.dir)
}

func jumpStatus(msg jumpResultMsg) string {
	switch {
	case msg.err == nil:
		return ""
	case errors.Is(msg.err, types.ErrSuperseded):
		return ""
	case errors.Is(msg.err, types.ErrTargetNotFound):
		return fmt.Sprintf("#%s not found", msg.id)
	}
	return msg.err.Error()
}

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adamavenir/frayline/internal/pagination"
	"github.com/adamavenir/frayline/internal/session"
	"github.com/adamavenir/frayline/internal/types"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"
)

// Actions are backend writes the chat exposes as slash commands.
type Actions interface {
	Edit(ctx context.Context, id, body string) (types.MessageRecord, error)
	Delete(ctx context.Context, id string) error
	React(ctx context.Context, id, reaction, user string, add bool) error
}

// Options configure chat.
type Options struct {
	Session     *session.Session
	Actions     Actions
	ProjectName string
	Username    string
	Logger      *slog.Logger
}

// Run starts the chat UI and blocks until the user quits. The caller owns
// the session and closes it afterwards.
func Run(opts Options) error {
	model, err := NewModel(opts)
	if err != nil {
		return err
	}
	title := "frayline"
	if opts.ProjectName != "" {
		title = "frayline · " + opts.ProjectName
	}
	fmt.Printf("\033]0;%s\007", title)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = program.Run()
	model.Close()
	return err
}

// Model implements the chat UI.
type Model struct {
	session     *session.Session
	actions     Actions
	projectName string
	username    string
	logger      *slog.Logger
	zones       *zone.Manager

	viewport viewport.Model
	input    textarea.Model
	width    int
	height   int
	status   string

	// Read by the height func on the session's dispatcher goroutine.
	renderWidth atomic.Int64

	updates     chan struct{}
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
}

type refreshMsg struct{}

type loadResultMsg struct {
	dir   pagination.Direction
	count int
	err   error
}

type jumpResultMsg struct {
	id  string
	err error
}

type actionResultMsg struct {
	label string
	err   error
}

// NewModel creates a chat model over an open session.
func NewModel(opts Options) (*Model, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("chat needs an open conversation")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		session:     opts.Session,
		actions:     opts.Actions,
		projectName: opts.ProjectName,
		username:    opts.Username,
		logger:      opts.Logger.With("component", "chat"),
		viewport:    viewport.New(0, 0),
		input:       newInputModel(),
		zones:       zone.New(),
		updates:     make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	m.unsubscribe = m.session.Subscribe(func(types.Change) { m.poke() })
	m.session.Viewport().OnChange(func(types.ViewportState) { m.poke() })
	m.session.Viewport().Rebuild(m.measure)
	return m, nil
}

// Close stops background commands and stores the read position.
func (m *Model) Close() {
	m.cancel()
	m.zones.Close()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.session.MarkRead(ctx); err != nil {
		m.logger.Warn("could not save read position", "error", err)
	}
}

func (m *Model) poke() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForUpdate())
}

func (m *Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.updates:
			return refreshMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) loadOlder() tea.Cmd {
	pager := m.session.Pager()
	window := pager.Window()
	if !(window.HasOlder || window.HasGap) || pager.Loading(pagination.Older) {
		return nil
	}
	m.status = "loading older messages"
	return func() tea.Msg {
		count, err := pager.LoadOlder(m.ctx)
		return loadResultMsg{dir: pagination.Older, count: count, err: err}
	}
}

// loadNewer walks back toward the live edge after a jump moved the window
// away from it.
func (m *Model) loadNewer() tea.Cmd {
	pager := m.session.Pager()
	if !pager.Window().HasNewer || pager.Loading(pagination.Newer) {
		return nil
	}
	m.status = "loading newer messages"
	return func() tea.Msg {
		count, err := pager.LoadNewer(m.ctx)
		return loadResultMsg{dir: pagination.Newer, count: count, err: err}
	}
}

func (m *Model) jump(id string) tea.Cmd {
	m.status = "jumping to #" + id
	return func() tea.Msg {
		return jumpResultMsg{id: id, err: m.session.Viewport().JumpTo(m.ctx, id)}
	}
}

func (m *Model) send(body string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.session.Sender().Send(m.ctx, body)
		return actionResultMsg{err: err}
	}
}

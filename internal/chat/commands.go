package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/types"
	tea "github.com/charmbracelet/bubbletea"
)

const helpText = "/jump #id · /retry #id · /discard #id · /edit #id text · /rm #id · /react #id :+1: · /unreact #id :+1: · /bottom · /read · /quit"

// parseCommand splits "/name arg rest..." into the name and its fields.
func parseCommand(input string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "/")), fields[1:]
}

func (m *Model) runSlashCommand(input string) (tea.Cmd, error) {
	name, args := parseCommand(input)
	switch name {
	case "help", "?":
		m.status = helpText
		return nil, nil
	case "quit", "q":
		return tea.Quit, nil
	case "bottom":
		m.session.Viewport().ScrollToBottom()
		m.refreshViewport()
		return nil, nil
	case "read":
		return m.action("marked read", func(ctx context.Context) error {
			return m.session.MarkRead(ctx)
		}), nil
	case "jump":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: /jump #id")
		}
		id, err := m.resolveID(args[0], true)
		if err != nil {
			return nil, err
		}
		return m.jump(id), nil
	case "retry":
		id, err := m.localArg(args)
		if err != nil {
			return nil, err
		}
		return m.action("", func(ctx context.Context) error {
			_, err := m.session.Sender().Retry(ctx, id)
			return err
		}), nil
	case "discard":
		id, err := m.localArg(args)
		if err != nil {
			return nil, err
		}
		if err := m.session.Sender().Discard(id); err != nil {
			return nil, err
		}
		return nil, nil
	case "edit":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: /edit #id text")
		}
		id, err := m.remoteArg(args[0])
		if err != nil {
			return nil, err
		}
		body := strings.Join(args[1:], " ")
		return m.action("", func(ctx context.Context) error {
			_, err := m.actions.Edit(ctx, id, body)
			return err
		}), nil
	case "rm":
		if len(args) != 1 {
			return nil, fmt.Errorf("usage: /rm #id")
		}
		id, err := m.remoteArg(args[0])
		if err != nil {
			return nil, err
		}
		return m.action("", func(ctx context.Context) error {
			return m.actions.Delete(ctx, id)
		}), nil
	case "react", "unreact":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: /%s #id reaction", name)
		}
		id, err := m.remoteArg(args[0])
		if err != nil {
			return nil, err
		}
		add := name == "react"
		return m.action("", func(ctx context.Context) error {
			return m.actions.React(ctx, id, args[1], m.username, add)
		}), nil
	}
	return nil, fmt.Errorf("unknown command /%s (try /help)", name)
}

func (m *Model) action(label string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{label: label, err: fn(m.ctx)}
	}
}

func (m *Model) localArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: #id of a failed message")
	}
	id, err := m.resolveID(args[0], false)
	if err != nil {
		return "", err
	}
	if !types.IsTemporaryID(id) {
		return "", fmt.Errorf("#%s was already sent", args[0])
	}
	return id, nil
}

func (m *Model) remoteArg(ref string) (string, error) {
	if m.actions == nil {
		return "", fmt.Errorf("this conversation is read-only")
	}
	id, err := m.resolveID(ref, false)
	if err != nil {
		return "", err
	}
	if types.IsTemporaryID(id) {
		return "", fmt.Errorf("#%s has not been sent yet", strings.TrimPrefix(ref, "#"))
	}
	return id, nil
}

// resolveID maps a typed reference (full id or displayed prefix) to a loaded
// record id. With allowUnloaded, a full-looking id that is not loaded is
// returned as-is so a jump can fetch it.
func (m *Model) resolveID(ref string, allowUnloaded bool) (string, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if ref == "" {
		return "", fmt.Errorf("missing message id")
	}
	store := m.session.Store()
	if _, ok := store.Get(ref); ok {
		return ref, nil
	}
	if _, ok := store.Get("msg-" + ref); ok {
		return "msg-" + ref, nil
	}

	var matches []string
	for rec := range store.Range(nil, nil) {
		if core.GetGUIDPrefix(rec.ID, len(ref)) == ref {
			matches = append(matches, rec.ID)
		}
	}
	switch {
	case len(matches) == 1:
		return matches[0], nil
	case len(matches) > 1:
		return "", fmt.Errorf("#%s is ambiguous (%d matches)", ref, len(matches))
	case allowUnloaded && strings.Contains(ref, "-"):
		return ref, nil
	}
	return "", fmt.Errorf("#%s not found", ref)
}

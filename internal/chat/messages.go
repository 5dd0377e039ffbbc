package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	zone "github.com/lrstanley/bubblezone"
)

// renderOptions is everything formatMessage needs besides the record. Height
// must not depend on highlighted so measuring can skip it.
type renderOptions struct {
	width       int
	self        string
	prefixLen   int
	boundary    bool
	highlighted bool
	now         time.Time
	// zones marks clickable ids. Nil when measuring.
	zones *zone.Manager
}

// measure is the viewport height func. It runs on the session's dispatcher
// goroutine, so it only reads thread-safe state.
func (m *Model) measure(rec types.MessageRecord) int {
	opts := renderOptions{
		width:     int(m.renderWidth.Load()),
		self:      m.username,
		prefixLen: core.GetDisplayPrefixLength(m.session.Store().Count()),
		boundary:  rec.ID == m.session.Tracker().BoundaryID(),
		now:       time.Now(),
	}
	return lipgloss.Height(formatMessage(rec, opts))
}

// renderMessages renders every visible record in order. Its line count
// matches the coordinator's content height.
func (m *Model) renderMessages(state types.ViewportState) string {
	base := renderOptions{
		width:     m.mainWidth(),
		self:      m.username,
		prefixLen: core.GetDisplayPrefixLength(m.session.Store().Count()),
		now:       time.Now(),
		zones:     m.zones,
	}
	var chunks []string
	for rec := range m.session.Store().Range(nil, nil) {
		opts := base
		opts.boundary = rec.ID == state.UnreadBoundaryID
		opts.highlighted = rec.ID == state.HighlightedID
		chunks = append(chunks, formatMessage(rec, opts))
	}
	return strings.Join(chunks, "\n")
}

func formatMessage(rec types.MessageRecord, opts renderOptions) string {
	color := colorForAgent(rec.FromAgent, opts.self)

	var lines []string
	if opts.boundary {
		lines = append(lines, renderDivider("new", opts.width))
	}

	byline := lipgloss.NewStyle().Background(color).Foreground(contrastTextColor(color)).Bold(true).
		Render(fmt.Sprintf(" @%s ", rec.FromAgent))
	when := lipgloss.NewStyle().Foreground(metaColor).Render(" " + humanize.RelTime(time.UnixMilli(rec.TS), opts.now, "ago", "from now"))
	lines = append(lines, byline+when)

	body := normalizeNewlines(rec.Body)
	if opts.width > 0 {
		body = ansi.Wrap(body, opts.width, "")
	}
	bodyStyle := lipgloss.NewStyle()
	if rec.Status == types.StatusPending {
		bodyStyle = bodyStyle.Faint(true)
	}
	if opts.highlighted {
		bodyStyle = bodyStyle.Background(highlightBg)
	}
	lines = append(lines, bodyStyle.Render(body))

	if reactions := formatReactionSummary(rec.Reactions); reactions != "" {
		if opts.width > 0 {
			reactions = ansi.Wrap(reactions, opts.width, "")
		}
		lines = append(lines, reactions)
	}

	lines = append(lines, formatFooter(rec, opts, color), "")
	return strings.Join(lines, "\n")
}

func formatFooter(rec types.MessageRecord, opts renderOptions, color lipgloss.Color) string {
	meta := "#" + core.GetGUIDPrefix(rec.ID, opts.prefixLen)
	if rec.EditedAt != nil {
		meta += " (edited)"
	}
	footer := lipgloss.NewStyle().Foreground(color).Faint(true).Render(meta)

	switch rec.Status {
	case types.StatusPending:
		footer += lipgloss.NewStyle().Foreground(pendingColor).Render(" · sending")
	case types.StatusFailed:
		footer += lipgloss.NewStyle().Foreground(failedColor).Render(" · failed, /retry or /discard")
	}
	if opts.width > 0 && ansi.StringWidth(footer) > opts.width {
		footer = ansi.Truncate(footer, opts.width, "…")
	}
	if opts.zones != nil {
		footer = opts.zones.Mark(footerZoneID(rec.ID), footer)
	}
	return footer
}

func renderDivider(label string, width int) string {
	text := " " + label + " "
	if width <= ansi.StringWidth(text)+2 {
		return lipgloss.NewStyle().Foreground(dividerColor).Render(strings.TrimSpace(text))
	}
	side := (width - ansi.StringWidth(text)) / 2
	line := strings.Repeat("─", side) + text + strings.Repeat("─", width-side-ansi.StringWidth(text))
	return lipgloss.NewStyle().Foreground(dividerColor).Render(line)
}

func formatReactionSummary(reactions map[string][]string) string {
	if len(reactions) == 0 {
		return ""
	}
	keys := make([]string, 0, len(reactions))
	for reaction := range reactions {
		keys = append(keys, reaction)
	}
	sort.Strings(keys)

	pillBg := lipgloss.Color("236")
	reactionStyle := lipgloss.NewStyle().Foreground(reactionColor).Background(pillBg).Bold(true)
	signoffStyle := lipgloss.NewStyle().Foreground(metaColor).Background(pillBg)
	pad := lipgloss.NewStyle().Background(pillBg).Render(" ")
	treeBar := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("└─")

	pills := make([]string, 0, len(keys))
	for _, reaction := range keys {
		users := reactions[reaction]
		if len(users) == 0 {
			continue
		}
		var signoff string
		if len(users) == 1 {
			signoff = " --@" + users[0]
		} else {
			signoff = fmt.Sprintf(" x%d", len(users))
		}
		pills = append(pills, pad+reactionStyle.Render(reaction)+signoffStyle.Render(signoff)+pad)
	}
	if len(pills) == 0 {
		return ""
	}
	return treeBar + " " + strings.Join(pills, " ")
}

func footerZoneID(id string) string {
	return "footer-" + id
}

package command

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/db"
	"github.com/adamavenir/frayline/internal/types"
	"github.com/dustin/go-humanize"
)

func stripHash(value string) string {
	return strings.TrimPrefix(strings.TrimSpace(value), "#")
}

func stripAt(value string) string {
	return strings.TrimPrefix(strings.TrimSpace(value), "@")
}

// resolveMessageRef accepts a full id, an id without the msg- prefix, or a
// unique displayed prefix within the conversation.
func resolveMessageRef(ctx *CommandContext, ref string) (types.MessageRecord, error) {
	ref = stripHash(ref)
	if ref == "" {
		return types.MessageRecord{}, fmt.Errorf("missing message id")
	}
	for _, candidate := range []string{ref, "msg-" + ref} {
		msg, err := db.GetMessage(ctx.DB, candidate)
		if err != nil {
			return types.MessageRecord{}, err
		}
		if msg != nil {
			return *msg, nil
		}
	}

	rows, err := ctx.DB.Query(`
		SELECT guid FROM frayline_messages
		WHERE channel_id = ? AND guid LIKE ?
		LIMIT 2
	`, ctx.ChannelID, "msg-"+ref+"%")
	if err != nil {
		return types.MessageRecord{}, err
	}
	var matches []string
	for rows.Next() {
		var guid string
		if err := rows.Scan(&guid); err != nil {
			_ = rows.Close()
			return types.MessageRecord{}, err
		}
		matches = append(matches, guid)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return types.MessageRecord{}, err
	}
	switch len(matches) {
	case 0:
		return types.MessageRecord{}, fmt.Errorf("message %s not found", ref)
	case 1:
		msg, err := db.GetMessage(ctx.DB, matches[0])
		if err != nil || msg == nil {
			return types.MessageRecord{}, fmt.Errorf("message %s not found", ref)
		}
		return *msg, nil
	}
	return types.MessageRecord{}, fmt.Errorf("message prefix %s is ambiguous", ref)
}

func requireUser(ctx *CommandContext) error {
	if ctx.Username == "" {
		return fmt.Errorf("--as is required (or set username in %s)", ctx.Project.ConfigPath)
	}
	return nil
}

func writeJSON(out io.Writer, value any) error {
	return json.NewEncoder(out).Encode(value)
}

func formatMessageLine(msg types.MessageRecord, prefixLength int, now time.Time) string {
	id := "#" + core.GetGUIDPrefix(msg.ID, prefixLength)
	when := humanize.RelTime(time.UnixMilli(msg.TS), now, "ago", "from now")
	if msg.Deleted() {
		return fmt.Sprintf("%s [%s] (deleted)", id, when)
	}
	line := fmt.Sprintf("%s [%s] @%s: %s", id, when, msg.FromAgent, msg.Body)
	if msg.EditedAt != nil {
		line += " (edited)"
	}
	if summary := formatReactions(msg.Reactions); summary != "" {
		line += "  " + summary
	}
	return line
}

func formatReactions(reactions map[string][]string) string {
	if len(reactions) == 0 {
		return ""
	}
	keys := make([]string, 0, len(reactions))
	for key := range reactions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s x%d", key, len(reactions[key])))
	}
	return strings.Join(parts, " ")
}

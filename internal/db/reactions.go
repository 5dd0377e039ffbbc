package db

import (
	"strings"

	"github.com/adamavenir/frayline/internal/types"
)

// AddReaction records a reaction. It reports whether the set changed.
func AddReaction(db DBTX, messageGUID, emoji, agentID string, reactedAt int64) (bool, error) {
	result, err := db.Exec(`
		INSERT OR IGNORE INTO frayline_reactions (message_guid, emoji, agent_id, reacted_at)
		VALUES (?, ?, ?, ?)
	`, messageGUID, emoji, agentID, reactedAt)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RemoveReaction deletes a reaction. It reports whether the set changed.
func RemoveReaction(db DBTX, messageGUID, emoji, agentID string) (bool, error) {
	result, err := db.Exec(`
		DELETE FROM frayline_reactions
		WHERE message_guid = ? AND emoji = ? AND agent_id = ?
	`, messageGUID, emoji, agentID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetReactionsForMessages loads reactor sets keyed by message guid.
func GetReactionsForMessages(db DBTX, messageGUIDs []string) (map[string]map[string][]string, error) {
	result := make(map[string]map[string][]string)
	if len(messageGUIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(messageGUIDs))
	args := make([]any, len(messageGUIDs))
	for i, guid := range messageGUIDs {
		placeholders[i] = "?"
		args[i] = guid
	}

	rows, err := db.Query(`
		SELECT message_guid, emoji, agent_id
		FROM frayline_reactions
		WHERE message_guid IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY reacted_at ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var guid, emoji, agentID string
		if err := rows.Scan(&guid, &emoji, &agentID); err != nil {
			return nil, err
		}
		if result[guid] == nil {
			result[guid] = make(map[string][]string)
		}
		result[guid][emoji] = append(result[guid][emoji], agentID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func loadReactionsForMessages(db DBTX, records []types.MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	guids := make([]string, len(records))
	for i, rec := range records {
		guids[i] = rec.ID
	}
	reactions, err := GetReactionsForMessages(db, guids)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].Deleted() {
			continue
		}
		records[i].Reactions = types.NormalizeReactions(reactions[records[i].ID])
	}
	return nil
}

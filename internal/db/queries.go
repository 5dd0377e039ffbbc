package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/types"
)

// ReadTo is a user's last-seen watermark in a conversation.
type ReadTo struct {
	AgentID     string
	ChannelID   string
	MessageGUID string
	MessageTS   int64
	SetAt       int64
}

// SetReadTo moves a watermark forward. Older positions are ignored.
func SetReadTo(db DBTX, agentID, channelID string, key types.SequenceKey) error {
	_, err := db.Exec(`
		INSERT INTO frayline_read_to (agent_id, channel_id, message_guid, message_ts, set_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, channel_id) DO UPDATE SET
			message_guid = excluded.message_guid,
			message_ts = excluded.message_ts,
			set_at = excluded.set_at
		WHERE excluded.message_ts > frayline_read_to.message_ts
		   OR (excluded.message_ts = frayline_read_to.message_ts AND excluded.message_guid > frayline_read_to.message_guid)
	`, agentID, channelID, key.ID, key.TS, time.Now().UnixMilli())
	return err
}

// GetReadTo returns the watermark for a user, or nil when none is set.
func GetReadTo(db DBTX, agentID, channelID string) (*ReadTo, error) {
	row := db.QueryRow(`
		SELECT agent_id, channel_id, message_guid, message_ts, set_at
		FROM frayline_read_to
		WHERE agent_id = ? AND channel_id = ?
	`, agentID, channelID)

	var readTo ReadTo
	if err := row.Scan(&readTo.AgentID, &readTo.ChannelID, &readTo.MessageGUID, &readTo.MessageTS, &readTo.SetAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &readTo, nil
}

// Key returns the watermark as a sequence key.
func (r ReadTo) Key() types.SequenceKey {
	return types.SequenceKey{TS: r.MessageTS, ID: r.MessageGUID}
}

func generateUniqueGUIDForTable(db DBTX, table, prefix string) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		guid, err := core.GenerateGUID(prefix)
		if err != nil {
			return "", err
		}
		row := db.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE guid = ?", table), guid)
		var exists int
		err = row.Scan(&exists)
		if err == sql.ErrNoRows {
			return guid, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("failed to generate unique %s GUID", prefix)
}

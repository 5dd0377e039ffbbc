package db

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/adamavenir/frayline/internal/pagination"
	"github.com/adamavenir/frayline/internal/types"
)

// messageColumns is the explicit column list for SELECT queries.
const messageColumns = `guid, ts, channel_id, correlation_id, from_agent, body, edited_at, deleted_at`

type messageRow struct {
	GUID          string
	TS            int64
	ChannelID     string
	CorrelationID sql.NullString
	FromAgent     string
	Body          string
	EditedAt      sql.NullInt64
	DeletedAt     sql.NullInt64
}

func (row messageRow) toRecord() types.MessageRecord {
	rec := types.MessageRecord{
		ID:        row.GUID,
		ChannelID: row.ChannelID,
		TS:        row.TS,
		FromAgent: row.FromAgent,
		Body:      row.Body,
		Status:    types.StatusConfirmed,
	}
	if row.CorrelationID.Valid {
		rec.CorrelationID = row.CorrelationID.String
	}
	if row.EditedAt.Valid {
		editedAt := row.EditedAt.Int64
		rec.EditedAt = &editedAt
	}
	if row.DeletedAt.Valid {
		rec.Status = types.StatusDeleted
		rec.Body = ""
	}
	return rec
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (types.MessageRecord, error) {
	var row messageRow
	if err := scanner.Scan(&row.GUID, &row.TS, &row.ChannelID, &row.CorrelationID, &row.FromAgent, &row.Body, &row.EditedAt, &row.DeletedAt); err != nil {
		return types.MessageRecord{}, err
	}
	return row.toRecord(), nil
}

func scanMessages(rows *sql.Rows) ([]types.MessageRecord, error) {
	var records []types.MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CreateMessage inserts a new message and returns it with its assigned id.
func CreateMessage(db DBTX, rec types.MessageRecord) (types.MessageRecord, error) {
	if rec.ChannelID == "" {
		return types.MessageRecord{}, fmt.Errorf("%w: missing channel", types.ErrInvalidRecord)
	}
	if rec.FromAgent == "" {
		return types.MessageRecord{}, fmt.Errorf("%w: missing author", types.ErrInvalidRecord)
	}
	ts := rec.TS
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	guid, err := generateUniqueGUIDForTable(db, "frayline_messages", "msg")
	if err != nil {
		return types.MessageRecord{}, err
	}

	var correlationID any
	if rec.CorrelationID != "" {
		correlationID = rec.CorrelationID
	}

	_, err = db.Exec(`
		INSERT INTO frayline_messages (guid, ts, channel_id, correlation_id, from_agent, body, edited_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL)
	`, guid, ts, rec.ChannelID, correlationID, rec.FromAgent, rec.Body)
	if err != nil {
		return types.MessageRecord{}, err
	}

	return types.MessageRecord{
		ID:            guid,
		ChannelID:     rec.ChannelID,
		CorrelationID: rec.CorrelationID,
		TS:            ts,
		FromAgent:     rec.FromAgent,
		Body:          rec.Body,
		Status:        types.StatusConfirmed,
	}, nil
}

// GetMessage returns a message with its reactions, or nil when missing.
func GetMessage(db DBTX, guid string) (*types.MessageRecord, error) {
	row := db.QueryRow(fmt.Sprintf("SELECT %s FROM frayline_messages WHERE guid = ?", messageColumns), guid)
	return scanOne(db, row)
}

// GetMessageByCorrelation returns the message created for a correlation id,
// or nil when none exists.
func GetMessageByCorrelation(db DBTX, correlationID string) (*types.MessageRecord, error) {
	row := db.QueryRow(fmt.Sprintf("SELECT %s FROM frayline_messages WHERE correlation_id = ?", messageColumns), correlationID)
	return scanOne(db, row)
}

func scanOne(db DBTX, row *sql.Row) (*types.MessageRecord, error) {
	rec, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	records := []types.MessageRecord{rec}
	if err := loadReactionsForMessages(db, records); err != nil {
		return nil, err
	}
	return &records[0], nil
}

// GetMessagePage returns up to limit messages of a channel on one side of
// cursor, ascending. A nil cursor selects the newest messages for Older and
// Latest and the oldest for Newer. Deleted messages are included as
// tombstones so callers can drop them from their caches.
func GetMessagePage(ctx context.Context, db *sql.DB, channelID string, dir pagination.Direction, cursor *types.SequenceKey, limit int) (pagination.Page, error) {
	if limit <= 0 {
		return pagination.Page{}, fmt.Errorf("invalid page size %d", limit)
	}

	query := fmt.Sprintf("SELECT %s FROM frayline_messages WHERE channel_id = ?", messageColumns)
	args := []any{channelID}
	descending := dir != pagination.Newer
	if cursor != nil {
		if descending {
			query += " AND (ts < ? OR (ts = ? AND guid < ?))"
		} else {
			query += " AND (ts > ? OR (ts = ? AND guid > ?))"
		}
		args = append(args, cursor.TS, cursor.TS, cursor.ID)
	}
	if descending {
		query += " ORDER BY ts DESC, guid DESC"
	} else {
		query += " ORDER BY ts ASC, guid ASC"
	}
	query += " LIMIT ?"
	args = append(args, limit+1)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return pagination.Page{}, err
	}
	defer rows.Close()

	records, err := scanMessages(rows)
	if err != nil {
		return pagination.Page{}, err
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	if descending {
		slices.Reverse(records)
	}
	if err := loadReactionsForMessages(db, records); err != nil {
		return pagination.Page{}, err
	}
	return pagination.Page{Records: records, HasMore: hasMore}, nil
}

// EditMessage replaces a message body and returns the updated record.
func EditMessage(db DBTX, guid, body string, editedAt int64) (*types.MessageRecord, error) {
	result, err := db.Exec(`
		UPDATE frayline_messages SET body = ?, edited_at = ?
		WHERE guid = ? AND deleted_at IS NULL
	`, body, editedAt, guid)
	if err != nil {
		return nil, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, guid)
	}
	return GetMessage(db, guid)
}

// DeleteMessage marks a message as deleted. The row keeps its position.
func DeleteMessage(db DBTX, guid string, deletedAt int64) error {
	result, err := db.Exec(`
		UPDATE frayline_messages SET deleted_at = ?
		WHERE guid = ? AND deleted_at IS NULL
	`, deletedAt, guid)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", types.ErrNotFound, guid)
	}
	return nil
}

// CountMessages returns the number of live messages in a channel.
func CountMessages(db DBTX, channelID string) (int, error) {
	row := db.QueryRow(`
		SELECT COUNT(*) FROM frayline_messages
		WHERE channel_id = ? AND deleted_at IS NULL
	`, channelID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

package types

import (
	"sort"
	"strings"
)

// TemporaryIDPrefix namespaces ids assigned to optimistic records before the
// backend acknowledges them. Backend ids never use this prefix.
const TemporaryIDPrefix = "tmp-"

// IsTemporaryID reports whether id belongs to the optimistic namespace.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryIDPrefix)
}

// MessageStatus represents the lifecycle of a record in a conversation.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusConfirmed MessageStatus = "confirmed"
	StatusFailed    MessageStatus = "failed"
	StatusDeleted   MessageStatus = "deleted"
)

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// IsLocal reports whether the status belongs to a record the backend has not
// acknowledged yet.
func (s MessageStatus) IsLocal() bool {
	return s == StatusPending || s == StatusFailed
}

// SequenceKey totally orders records: timestamp first, id breaks ties.
type SequenceKey struct {
	TS int64  `json:"ts"`
	ID string `json:"id"`
}

// Compare returns -1, 0 or 1.
func (k SequenceKey) Compare(other SequenceKey) int {
	switch {
	case k.TS < other.TS:
		return -1
	case k.TS > other.TS:
		return 1
	}
	return strings.Compare(k.ID, other.ID)
}

// Less reports whether k sorts before other.
func (k SequenceKey) Less(other SequenceKey) bool {
	return k.Compare(other) < 0
}

// MessageRecord is one message in a conversation. The engine never interprets Body.
type MessageRecord struct {
	ID            string              `json:"id"`
	ChannelID     string              `json:"channel_id"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	TS            int64               `json:"ts"`
	FromAgent     string              `json:"from_agent"`
	Body          string              `json:"body"`
	Status        MessageStatus       `json:"status"`
	Reactions     map[string][]string `json:"reactions,omitempty"`
	EditedAt      *int64              `json:"edited_at,omitempty"`
}

// Key returns the record's sort key.
func (r MessageRecord) Key() SequenceKey {
	return SequenceKey{TS: r.TS, ID: r.ID}
}

// Deleted reports whether the record is a tombstone.
func (r MessageRecord) Deleted() bool {
	return r.Status == StatusDeleted
}

// Clone returns a deep copy so callers can't mutate shared reaction sets.
func (r MessageRecord) Clone() MessageRecord {
	out := r
	if r.Reactions != nil {
		out.Reactions = make(map[string][]string, len(r.Reactions))
		for key, users := range r.Reactions {
			out.Reactions[key] = append([]string(nil), users...)
		}
	}
	if r.EditedAt != nil {
		editedAt := *r.EditedAt
		out.EditedAt = &editedAt
	}
	return out
}

// Equal reports whether two records carry the same state.
func (r MessageRecord) Equal(other MessageRecord) bool {
	if r.ID != other.ID || r.ChannelID != other.ChannelID || r.CorrelationID != other.CorrelationID ||
		r.TS != other.TS || r.FromAgent != other.FromAgent || r.Body != other.Body || r.Status != other.Status {
		return false
	}
	if (r.EditedAt == nil) != (other.EditedAt == nil) {
		return false
	}
	if r.EditedAt != nil && *r.EditedAt != *other.EditedAt {
		return false
	}
	if len(r.Reactions) != len(other.Reactions) {
		return false
	}
	for key, users := range r.Reactions {
		otherUsers, ok := other.Reactions[key]
		if !ok || len(users) != len(otherUsers) {
			return false
		}
		for i := range users {
			if users[i] != otherUsers[i] {
				return false
			}
		}
	}
	return true
}

// NormalizeReactions sorts and dedupes reactor sets and drops empty keys.
func NormalizeReactions(reactions map[string][]string) map[string][]string {
	if len(reactions) == 0 {
		return nil
	}
	out := make(map[string][]string, len(reactions))
	for key, users := range reactions {
		if key == "" || len(users) == 0 {
			continue
		}
		set := append([]string(nil), users...)
		sort.Strings(set)
		deduped := set[:0]
		for i, user := range set {
			if user == "" || (i > 0 && user == set[i-1]) {
				continue
			}
			deduped = append(deduped, user)
		}
		if len(deduped) > 0 {
			out[key] = deduped
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// PageWindow tracks what part of a conversation is loaded.
type PageWindow struct {
	HasOlder     bool         `json:"has_older_messages"`
	HasNewer     bool         `json:"has_newer_messages"`
	OldestLoaded *SequenceKey `json:"oldest_loaded_key,omitempty"`
	NewestLoaded *SequenceKey `json:"newest_loaded_key,omitempty"`
	// HasGap is set while a resync left unloaded history between the newest
	// page and the previously loaded records.
	HasGap bool `json:"has_gap,omitempty"`
}

// Clone copies the window including its cursor pointers.
func (w PageWindow) Clone() PageWindow {
	out := w
	if w.OldestLoaded != nil {
		oldest := *w.OldestLoaded
		out.OldestLoaded = &oldest
	}
	if w.NewestLoaded != nil {
		newest := *w.NewestLoaded
		out.NewestLoaded = &newest
	}
	return out
}

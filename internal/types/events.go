package types

import "encoding/json"

// EventKind names a realtime event delivered by the transport.
type EventKind string

const (
	EventMessageCreated  EventKind = "message.created"
	EventMessageUpdated  EventKind = "message.updated"
	EventMessageDeleted  EventKind = "message.deleted"
	EventReactionAdded   EventKind = "reaction.added"
	EventReactionRemoved EventKind = "reaction.removed"
)

// Event is the transport envelope. Payload shape depends on Kind.
type Event struct {
	Kind      EventKind       `json:"kind"`
	ChannelID string          `json:"channel_id"`
	Payload   json.RawMessage `json:"payload"`
}

// DeletePayload is the payload of message.deleted.
type DeletePayload struct {
	ID string `json:"id"`
}

// ReactionPayload is the payload of reaction.added and reaction.removed.
type ReactionPayload struct {
	MessageID string `json:"message_id"`
	Reaction  string `json:"reaction"`
	UserID    string `json:"user_id"`
}

// ChangeKind classifies a Store mutation.
type ChangeKind string

const (
	ChangeInserted        ChangeKind = "inserted"
	ChangeReplaced        ChangeKind = "replaced"
	ChangeRemoved         ChangeKind = "removed"
	ChangeReactionChanged ChangeKind = "reaction_changed"
)

// Origin says which producer caused a change.
type Origin string

const (
	OriginPage     Origin = "page"
	OriginRealtime Origin = "realtime"
	OriginLocal    Origin = "local"
)

// Change is the notification emitted once per Store mutation.
type Change struct {
	Kind ChangeKind
	ID   string
	// PrevID is set when a pending record was replaced by its confirmation.
	PrevID string
	Origin Origin
	// LiveEdge is true when the affected record was the newest record right
	// after the mutation.
	LiveEdge bool
	Deleted  bool
}

// Confirmation reports whether the change reconciled an optimistic record.
func (c Change) Confirmation() bool {
	return c.Kind == ChangeReplaced && c.PrevID != "" && c.PrevID != c.ID
}

package types

import "time"

// AnchorMode is the viewport's scroll-stabilization policy.
type AnchorMode string

const (
	AnchorBottom         AnchorMode = "bottom"
	AnchorPreserveOffset AnchorMode = "preserve_offset"
	AnchorMessage        AnchorMode = "message"
)

// Anchor is the single active scroll policy. MessageID is only set for AnchorMessage.
type Anchor struct {
	Mode      AnchorMode `json:"mode"`
	MessageID string     `json:"message_id,omitempty"`
}

// ViewportState is what a renderer needs besides the records themselves.
type ViewportState struct {
	Anchor             Anchor    `json:"anchor"`
	Offset             int       `json:"offset"`
	ContentHeight      int       `json:"content_height"`
	Height             int       `json:"height"`
	HighlightedID      string    `json:"highlighted_message_id,omitempty"`
	HighlightExpiresAt time.Time `json:"highlight_expires_at,omitempty"`
	UnreadBoundaryID   string    `json:"unread_boundary_id,omitempty"`
	NewMessages        int       `json:"new_messages"`
}

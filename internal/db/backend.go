package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/pagination"
	"github.com/adamavenir/frayline/internal/realtime"
	"github.com/adamavenir/frayline/internal/types"
)

// Backend serves a project's conversations from SQLite and publishes every
// write to the event log that realtime feeds tail.
type Backend struct {
	db         *sql.DB
	eventsPath string
	clock      clock.Clock

	// Serializes write-then-append so log order matches commit order.
	mu sync.Mutex
}

// NewBackend wraps an open database. A nil clock uses real time.
func NewBackend(conn *sql.DB, eventsPath string, clk clock.Clock) *Backend {
	if clk == nil {
		clk = clock.Real()
	}
	return &Backend{db: conn, eventsPath: eventsPath, clock: clk}
}

// DB returns the underlying connection.
func (b *Backend) DB() *sql.DB {
	return b.db
}

func (b *Backend) now() int64 {
	return b.clock.Now().UnixMilli()
}

// FetchPage implements pagination.Fetcher.
func (b *Backend) FetchPage(ctx context.Context, channelID string, dir pagination.Direction, cursor *types.SequenceKey, limit int) (pagination.Page, error) {
	if err := ctx.Err(); err != nil {
		return pagination.Page{}, err
	}
	if limit <= 0 {
		return pagination.Page{}, types.Permanent(fmt.Errorf("invalid page size %d", limit))
	}
	return GetMessagePage(ctx, b.db, channelID, dir, cursor, limit)
}

// Locate implements pagination.Locator.
func (b *Backend) Locate(ctx context.Context, channelID, id string) (types.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.MessageRecord{}, err
	}
	rec, err := GetMessage(b.db, id)
	if err != nil {
		return types.MessageRecord{}, err
	}
	if rec == nil || rec.ChannelID != channelID {
		return types.MessageRecord{}, types.Permanent(fmt.Errorf("%w: %s", types.ErrNotFound, id))
	}
	return *rec, nil
}

// SendMessage implements realtime.SendService. Repeated requests with the
// same correlation id return the message created by the first.
func (b *Backend) SendMessage(ctx context.Context, req realtime.SendRequest) (types.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.MessageRecord{}, err
	}
	if req.CorrelationID == "" {
		return types.MessageRecord{}, types.Permanent(fmt.Errorf("%w: missing correlation id", types.ErrInvalidRecord))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := GetMessageByCorrelation(b.db, req.CorrelationID)
	if err != nil {
		return types.MessageRecord{}, err
	}
	if existing != nil {
		return *existing, nil
	}
	return b.createLocked(types.MessageRecord{
		ChannelID:     req.ChannelID,
		CorrelationID: req.CorrelationID,
		FromAgent:     req.FromAgent,
		Body:          req.Body,
	})
}

// Post creates a message without a correlation id.
func (b *Backend) Post(ctx context.Context, channelID, from, body string) (types.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.MessageRecord{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createLocked(types.MessageRecord{ChannelID: channelID, FromAgent: from, Body: body})
}

func (b *Backend) createLocked(rec types.MessageRecord) (types.MessageRecord, error) {
	rec.TS = b.now()
	created, err := CreateMessage(b.db, rec)
	if err != nil {
		return types.MessageRecord{}, err
	}
	if err := AppendEvent(b.eventsPath, types.EventMessageCreated, created.ChannelID, created); err != nil {
		return created, fmt.Errorf("publish %s: %w", created.ID, err)
	}
	return created, nil
}

// Edit replaces a message body.
func (b *Backend) Edit(ctx context.Context, id, body string) (types.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.MessageRecord{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	updated, err := EditMessage(b.db, id, body, b.now())
	if err != nil {
		return types.MessageRecord{}, err
	}
	if updated == nil {
		return types.MessageRecord{}, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	if err := AppendEvent(b.eventsPath, types.EventMessageUpdated, updated.ChannelID, updated); err != nil {
		return *updated, fmt.Errorf("publish %s: %w", id, err)
	}
	return *updated, nil
}

// Delete tombstones a message.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := GetMessage(b.db, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	if err := DeleteMessage(b.db, id, b.now()); err != nil {
		return err
	}
	return AppendEvent(b.eventsPath, types.EventMessageDeleted, existing.ChannelID, types.DeletePayload{ID: id})
}

// React adds or removes one user's reaction. No event is published when the
// reaction set is unchanged.
func (b *Backend) React(ctx context.Context, id, reaction, user string, add bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if reaction == "" || user == "" {
		return fmt.Errorf("%w: reaction and user are required", types.ErrInvalidRecord)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, err := GetMessage(b.db, id)
	if err != nil {
		return err
	}
	if existing == nil || existing.Deleted() {
		return fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}

	var changed bool
	kind := types.EventReactionAdded
	if add {
		changed, err = AddReaction(b.db, id, reaction, user, b.now())
	} else {
		kind = types.EventReactionRemoved
		changed, err = RemoveReaction(b.db, id, reaction, user)
	}
	if err != nil || !changed {
		return err
	}
	return AppendEvent(b.eventsPath, kind, existing.ChannelID, types.ReactionPayload{
		MessageID: id,
		Reaction:  reaction,
		UserID:    user,
	})
}

// GetReadTo implements session.ReadMarkers.
func (b *Backend) GetReadTo(ctx context.Context, channelID, user string) (*types.SequenceKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	readTo, err := GetReadTo(b.db, user, channelID)
	if err != nil || readTo == nil {
		return nil, err
	}
	key := readTo.Key()
	return &key, nil
}

// SetReadTo implements session.ReadMarkers.
func (b *Backend) SetReadTo(ctx context.Context, channelID, user string, key types.SequenceKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key.ID == "" {
		return errors.New("read marker needs a message id")
	}
	return SetReadTo(b.db, user, channelID, key)
}

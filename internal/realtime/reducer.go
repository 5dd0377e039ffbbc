// Package realtime applies transport events to a conversation's store and
// runs optimistic sends.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/adamavenir/frayline/internal/types"
)

// State is the reducer's connection state.
type State string

const (
	Disconnected State = "disconnected"
	Connected    State = "connected"
	Resyncing    State = "resyncing"
)

// SignalKind distinguishes what a transport delivered.
type SignalKind int

const (
	SignalEvent SignalKind = iota
	SignalConnected
	SignalDisconnected
)

func (k SignalKind) String() string {
	switch k {
	case SignalConnected:
		return "connected"
	case SignalDisconnected:
		return "disconnected"
	default:
		return "event"
	}
}

// Signal is one item from a transport stream.
type Signal struct {
	Kind  SignalKind
	Event types.Event
	// Err explains a disconnect, if known.
	Err error
}

// Store is the part of the store the reducer mutates.
type Store interface {
	Upsert(rec types.MessageRecord, origin types.Origin) (types.Change, bool, error)
	Update(rec types.MessageRecord, origin types.Origin) (types.Change, bool, error)
	Remove(id string, origin types.Origin) (types.Change, bool, error)
	ApplyReaction(messageID, reaction, userID string, add bool, origin types.Origin) (types.Change, bool, error)
	// ForgetReactionEvents is called before a resync reloads the newest page.
	ForgetReactionEvents()
}

// Resyncer reloads the newest page after a reconnect.
type Resyncer interface {
	LoadLatest(ctx context.Context) (int, error)
}

// Reducer is driven from a single goroutine per conversation, so events
// apply in receipt order. State queries are safe from any goroutine.
type Reducer struct {
	channelID string
	store     Store
	resync    Resyncer
	logger    *slog.Logger

	mu            sync.Mutex
	state         State
	everConnected bool
	observers     []func(State)

	dropped atomic.Int64
}

// NewReducer creates a reducer in the Disconnected state.
func NewReducer(channelID string, store Store, resync Resyncer, logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reducer{
		channelID: channelID,
		store:     store,
		resync:    resync,
		logger:    logger.With("channel", channelID),
		state:     Disconnected,
	}
}

// State returns the current connection state.
func (r *Reducer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnState registers fn to be called after every state transition.
func (r *Reducer) OnState(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Dropped returns how many events were discarded as malformed.
func (r *Reducer) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Reducer) transition(next State) {
	r.mu.Lock()
	if r.state == next {
		r.mu.Unlock()
		return
	}
	prev := r.state
	r.state = next
	observers := append([]func(State){}, r.observers...)
	r.mu.Unlock()

	r.logger.Debug("realtime state", "from", prev, "to", next)
	for _, fn := range observers {
		fn(next)
	}
}

// Apply dispatches one transport signal. Only a failed resync returns an
// error; malformed events are dropped.
func (r *Reducer) Apply(ctx context.Context, sig Signal) error {
	switch sig.Kind {
	case SignalConnected:
		return r.Connect(ctx)
	case SignalDisconnected:
		r.Disconnect(sig.Err)
		return nil
	default:
		r.HandleEvent(sig.Event)
		return nil
	}
}

// Connect moves to Connected. After the first connection every reconnect
// passes through Resyncing and reloads the newest page, since the transport
// does not replay events missed while it was down.
func (r *Reducer) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Connected {
		r.mu.Unlock()
		return nil
	}
	first := !r.everConnected
	r.everConnected = true
	r.mu.Unlock()

	if first {
		r.transition(Connected)
		return nil
	}

	r.transition(Resyncing)
	r.store.ForgetReactionEvents()
	n, err := r.resync.LoadLatest(ctx)
	if err != nil {
		r.transition(Disconnected)
		return fmt.Errorf("resync %s: %w", r.channelID, err)
	}
	r.logger.Info("resynced after reconnect", "records", n)
	r.transition(Connected)
	return nil
}

// Disconnect records a transport drop.
func (r *Reducer) Disconnect(cause error) {
	if cause != nil {
		r.logger.Warn("realtime transport disconnected", "error", cause)
	}
	r.transition(Disconnected)
}

// HandleEvent applies ev to the store. Events that cannot be decoded or
// routed are logged and counted, never applied.
func (r *Reducer) HandleEvent(ev types.Event) {
	if err := r.apply(ev); err != nil {
		r.dropped.Add(1)
		r.logger.Warn("dropping realtime event", "kind", ev.Kind, "error", err)
	}
}

func (r *Reducer) apply(ev types.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", types.ErrMalformedEvent, p)
		}
	}()

	if ev.ChannelID != r.channelID {
		return fmt.Errorf("%w: event for channel %q", types.ErrMalformedEvent, ev.ChannelID)
	}

	switch ev.Kind {
	case types.EventMessageCreated:
		rec, err := decodeRecord(ev)
		if err != nil {
			return err
		}
		return r.OnMessageCreated(rec)
	case types.EventMessageUpdated:
		rec, err := decodeRecord(ev)
		if err != nil {
			return err
		}
		return r.OnMessageUpdated(rec)
	case types.EventMessageDeleted:
		var payload types.DeletePayload
		if err := decode(ev, &payload); err != nil {
			return err
		}
		if payload.ID == "" {
			return fmt.Errorf("%w: delete without id", types.ErrMalformedEvent)
		}
		return r.OnMessageDeleted(payload.ID)
	case types.EventReactionAdded, types.EventReactionRemoved:
		var payload types.ReactionPayload
		if err := decode(ev, &payload); err != nil {
			return err
		}
		if payload.MessageID == "" || payload.Reaction == "" || payload.UserID == "" {
			return fmt.Errorf("%w: incomplete reaction", types.ErrMalformedEvent)
		}
		return r.OnReaction(payload, ev.Kind == types.EventReactionAdded)
	default:
		return fmt.Errorf("%w: unknown kind %q", types.ErrMalformedEvent, ev.Kind)
	}
}

func decode(ev types.Event, into any) error {
	if len(ev.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", types.ErrMalformedEvent)
	}
	if err := json.Unmarshal(ev.Payload, into); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedEvent, err)
	}
	return nil
}

func decodeRecord(ev types.Event) (types.MessageRecord, error) {
	var rec types.MessageRecord
	if err := decode(ev, &rec); err != nil {
		return rec, err
	}
	if rec.ID == "" {
		return rec, fmt.Errorf("%w: record without id", types.ErrMalformedEvent)
	}
	if rec.ChannelID == "" {
		rec.ChannelID = ev.ChannelID
	}
	if rec.ChannelID != ev.ChannelID {
		return rec, fmt.Errorf("%w: record %s routed to %s", types.ErrMalformedEvent, rec.ID, ev.ChannelID)
	}
	return rec, nil
}

// OnMessageCreated upserts a backend record. When its correlation id matches
// a local pending record the store replaces that record instead.
func (r *Reducer) OnMessageCreated(rec types.MessageRecord) error {
	if rec.Status == "" {
		rec.Status = types.StatusConfirmed
	}
	if _, _, err := r.store.Upsert(rec, types.OriginRealtime); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedEvent, err)
	}
	return nil
}

// OnMessageUpdated edits a loaded record in place. Edits for records outside
// the loaded window are ignored; a later page brings the edited version.
func (r *Reducer) OnMessageUpdated(rec types.MessageRecord) error {
	_, _, err := r.store.Update(rec, types.OriginRealtime)
	if errors.Is(err, types.ErrNotFound) {
		r.logger.Debug("ignoring edit for unloaded message", "id", rec.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedEvent, err)
	}
	return nil
}

// OnMessageDeleted tombstones id.
func (r *Reducer) OnMessageDeleted(id string) error {
	if _, _, err := r.store.Remove(id, types.OriginRealtime); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedEvent, err)
	}
	return nil
}

// OnReaction adds or removes a reaction.
func (r *Reducer) OnReaction(payload types.ReactionPayload, add bool) error {
	_, _, err := r.store.ApplyReaction(payload.MessageID, payload.Reaction, payload.UserID, add, types.OriginRealtime)
	if errors.Is(err, types.ErrNotFound) {
		r.logger.Debug("ignoring reaction for unloaded message", "id", payload.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedEvent, err)
	}
	return nil
}

package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/types"
)

// SendRequest is what the send service receives. The correlation id is
// assigned before the call so the confirmation can be matched.
type SendRequest struct {
	ChannelID     string
	CorrelationID string
	FromAgent     string
	Body          string
}

// SendService persists a message and returns the backend record.
type SendService interface {
	SendMessage(ctx context.Context, req SendRequest) (types.MessageRecord, error)
}

// SenderStore is the part of the store the sender needs.
type SenderStore interface {
	Upsert(rec types.MessageRecord, origin types.Origin) (types.Change, bool, error)
	SetStatus(id string, status types.MessageStatus) (types.Change, bool, error)
	Discard(id string) (types.Change, bool, error)
	Get(id string) (types.MessageRecord, bool)
}

// Sender runs optimistic sends for one conversation.
type Sender struct {
	channelID string
	author    string
	store     SenderStore
	service   SendService
	clock     clock.Clock
	logger    *slog.Logger
}

// NewSender creates a sender posting as author.
func NewSender(channelID, author string, store SenderStore, service SendService, clk clock.Clock, logger *slog.Logger) *Sender {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		channelID: channelID,
		author:    author,
		store:     store,
		service:   service,
		clock:     clk,
		logger:    logger.With("channel", channelID),
	}
}

// Send shows body as a pending record, then sends it. On failure the record
// stays in the store as failed and the error matches types.ErrSendFailed.
func (s *Sender) Send(ctx context.Context, body string) (types.MessageRecord, error) {
	correlationID := core.NewCorrelationID()
	rec := types.MessageRecord{
		ID:            core.TemporaryID(correlationID),
		ChannelID:     s.channelID,
		CorrelationID: correlationID,
		TS:            s.clock.Now().UnixMilli(),
		FromAgent:     s.author,
		Body:          body,
		Status:        types.StatusPending,
	}
	if _, _, err := s.store.Upsert(rec, types.OriginLocal); err != nil {
		return types.MessageRecord{}, err
	}
	return s.deliver(ctx, rec)
}

// Retry resends a failed record under its original correlation id.
func (s *Sender) Retry(ctx context.Context, id string) (types.MessageRecord, error) {
	rec, ok := s.store.Get(id)
	if !ok {
		return types.MessageRecord{}, fmt.Errorf("retry %s: %w", id, types.ErrNotFound)
	}
	if rec.Status != types.StatusFailed {
		return types.MessageRecord{}, fmt.Errorf("retry %s: %w: status is %s", id, types.ErrInvalidRecord, rec.Status)
	}
	if _, _, err := s.store.SetStatus(id, types.StatusPending); err != nil {
		return types.MessageRecord{}, err
	}
	rec.Status = types.StatusPending
	return s.deliver(ctx, rec)
}

// Discard drops a failed or pending record the user gave up on.
func (s *Sender) Discard(id string) error {
	_, _, err := s.store.Discard(id)
	return err
}

func (s *Sender) deliver(ctx context.Context, rec types.MessageRecord) (types.MessageRecord, error) {
	confirmed, err := s.service.SendMessage(ctx, SendRequest{
		ChannelID:     s.channelID,
		CorrelationID: rec.CorrelationID,
		FromAgent:     rec.FromAgent,
		Body:          rec.Body,
	})
	if err != nil {
		s.logger.Warn("send failed", "id", rec.ID, "error", err)
		if _, _, statusErr := s.store.SetStatus(rec.ID, types.StatusFailed); statusErr != nil {
			s.logger.Warn("could not mark send failed", "id", rec.ID, "error", statusErr)
		}
		rec.Status = types.StatusFailed
		return rec, fmt.Errorf("send %s: %w: %w", rec.ID, types.ErrSendFailed, err)
	}

	if confirmed.CorrelationID == "" {
		confirmed.CorrelationID = rec.CorrelationID
	}
	if confirmed.Status == "" {
		confirmed.Status = types.StatusConfirmed
	}
	if _, _, err := s.store.Upsert(confirmed, types.OriginLocal); err != nil {
		return confirmed, fmt.Errorf("reconcile %s: %w", rec.ID, err)
	}
	return confirmed, nil
}

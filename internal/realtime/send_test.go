package realtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/realtime"
	"github.com/adamavenir/frayline/internal/types"
)

type fakeSendService struct {
	mu       sync.Mutex
	fail     error
	requests []realtime.SendRequest
	next     int
}

func (f *fakeSendService) SendMessage(ctx context.Context, req realtime.SendRequest) (types.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.fail != nil {
		return types.MessageRecord{}, f.fail
	}
	f.next++
	return types.MessageRecord{
		ID:            "m-" + string(rune('a'+f.next-1)),
		ChannelID:     req.ChannelID,
		CorrelationID: req.CorrelationID,
		TS:            int64(900_000 + f.next),
		FromAgent:     req.FromAgent,
		Body:          req.Body,
		Status:        types.StatusConfirmed,
	}, nil
}

func newSender(t *testing.T, f *fixture, service realtime.SendService) *realtime.Sender {
	t.Helper()
	return realtime.NewSender(channel, "me", f.store, service, clock.Fake(time.UnixMilli(800_000)), nil)
}

func TestSendConfirmsOptimisticRecord(t *testing.T) {
	f := newFixture(t)
	service := &fakeSendService{}
	sender := newSender(t, f, service)

	rec, err := sender.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.ID != "m-a" || rec.Status != types.StatusConfirmed {
		t.Fatalf("unexpected record %+v", rec)
	}
	if f.store.Count() != 1 || f.store.Len() != 1 {
		t.Fatalf("count=%d len=%d", f.store.Count(), f.store.Len())
	}

	changes := f.changes.all()
	if len(changes) != 2 {
		t.Fatalf("expected insert then confirmation, got %+v", changes)
	}
	if changes[0].Kind != types.ChangeInserted || !types.IsTemporaryID(changes[0].ID) || changes[0].Origin != types.OriginLocal {
		t.Fatalf("unexpected first change %+v", changes[0])
	}
	if !changes[1].Confirmation() || changes[1].PrevID != changes[0].ID {
		t.Fatalf("unexpected second change %+v", changes[1])
	}
	if service.requests[0].CorrelationID == "" || changes[0].ID != "tmp-"+service.requests[0].CorrelationID {
		t.Fatalf("correlation id must be assigned before sending: %+v", service.requests[0])
	}

	// the realtime echo of our own message changes nothing
	f.reducer.HandleEvent(event(t, types.EventMessageCreated, rec))
	if n := len(f.changes.all()); n != 2 {
		t.Fatalf("echo should be a no-op, got %d changes", n)
	}
}

func TestSendFailureKeepsFailedRecordForRetry(t *testing.T) {
	f := newFixture(t)
	service := &fakeSendService{fail: errors.New("503")}
	sender := newSender(t, f, service)

	rec, err := sender.Send(context.Background(), "hello")
	if !errors.Is(err, types.ErrSendFailed) {
		t.Fatalf("expected send failed, got %v", err)
	}
	stored, ok := f.store.Get(rec.ID)
	if !ok || stored.Status != types.StatusFailed {
		t.Fatalf("failed record must be kept, got %+v ok=%v", stored, ok)
	}

	service.mu.Lock()
	service.fail = nil
	service.mu.Unlock()

	confirmed, err := sender.Retry(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if service.requests[0].CorrelationID != service.requests[1].CorrelationID {
		t.Fatal("retry must reuse the correlation id")
	}
	if _, ok := f.store.Get(rec.ID); ok {
		t.Fatal("temporary record should be replaced")
	}
	if got, _ := f.store.Get(confirmed.ID); got.Status != types.StatusConfirmed {
		t.Fatalf("unexpected status %s", got.Status)
	}
	if f.store.Count() != 1 {
		t.Fatalf("expected one record, got %d", f.store.Count())
	}

	if _, err := sender.Retry(context.Background(), confirmed.ID); !errors.Is(err, types.ErrInvalidRecord) {
		t.Fatalf("confirmed records cannot be retried, got %v", err)
	}
}

func TestDiscardDropsFailedRecord(t *testing.T) {
	f := newFixture(t)
	sender := newSender(t, f, &fakeSendService{fail: errors.New("offline")})

	rec, _ := sender.Send(context.Background(), "lost")
	if err := sender.Discard(rec.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", f.store.Len())
	}
}

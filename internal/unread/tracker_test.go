package unread

import (
	"testing"
	"time"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/store"
	"github.com/adamavenir/frayline/internal/types"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func seededStore(t *testing.T, ids ...string) *store.Store {
	t.Helper()
	s := store.New("ch-1", nil)
	for i, id := range ids {
		rec := types.MessageRecord{ID: id, ChannelID: "ch-1", TS: int64(i+1) * 1000, Body: id}
		if _, _, err := s.Upsert(rec, types.OriginPage); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	return s
}

func TestHighlightExpires(t *testing.T) {
	fake := clock.Fake(epoch)
	tracker := New(fake, 3*time.Second)

	tracker.Highlight("m-55")
	id, expires := tracker.Highlighted()
	if id != "m-55" || !expires.Equal(epoch.Add(3*time.Second)) {
		t.Fatalf("unexpected highlight %q expiring %v", id, expires)
	}

	fake.Advance(2 * time.Second)
	if id, _ := tracker.Highlighted(); id != "m-55" {
		t.Fatal("highlight cleared too early")
	}
	fake.Advance(time.Second)
	if id, _ := tracker.Highlighted(); id != "" {
		t.Fatalf("highlight should have expired, still %q", id)
	}
}

func TestRehighlightRestartsExpiry(t *testing.T) {
	fake := clock.Fake(epoch)
	tracker := New(fake, 3*time.Second)

	tracker.Highlight("m-1")
	fake.Advance(2 * time.Second)
	tracker.Highlight("m-2")
	fake.Advance(2 * time.Second)
	if id, _ := tracker.Highlighted(); id != "m-2" {
		t.Fatalf("the first timer must not clear the newer highlight, got %q", id)
	}
	fake.Advance(time.Second)
	if id, _ := tracker.Highlighted(); id != "" {
		t.Fatalf("expected expiry, got %q", id)
	}
	if fake.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", fake.Pending())
	}
}

func TestClearAndCloseCancelTimer(t *testing.T) {
	fake := clock.Fake(epoch)
	tracker := New(fake, time.Second)
	notified := 0
	tracker.OnChange(func() { notified++ })

	tracker.Highlight("m-1")
	tracker.ClearHighlight()
	if id, _ := tracker.Highlighted(); id != "" {
		t.Fatal("clear should be immediate")
	}
	if fake.Pending() != 0 {
		t.Fatalf("timer should be stopped, pending=%d", fake.Pending())
	}
	if notified != 2 {
		t.Fatalf("expected 2 notifications, got %d", notified)
	}

	tracker.Highlight("m-2")
	tracker.Close()
	if fake.Pending() != 0 {
		t.Fatalf("close should stop the timer, pending=%d", fake.Pending())
	}
	fake.Advance(time.Minute)
	if id, _ := tracker.Highlighted(); id != "" {
		t.Fatalf("unexpected highlight %q", id)
	}
}

func TestBoundaryIsFixedOnOpen(t *testing.T) {
	s := seededStore(t, "m-1", "m-2", "m-3")
	tracker := New(clock.Fake(epoch), 0)

	lastSeen := types.SequenceKey{TS: 2000, ID: "m-2"}
	if got := tracker.Open(s, &lastSeen); got != "m-3" {
		t.Fatalf("expected boundary m-3, got %q", got)
	}

	if _, _, err := s.Upsert(types.MessageRecord{ID: "m-4", ChannelID: "ch-1", TS: 4000}, types.OriginRealtime); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := tracker.Open(s, &types.SequenceKey{TS: 3000, ID: "m-3"}); got != "m-3" {
		t.Fatalf("boundary moved to %q", got)
	}
	if tracker.BoundaryID() != "m-3" {
		t.Fatalf("unexpected boundary %q", tracker.BoundaryID())
	}

	tracker.Close()
	if tracker.BoundaryID() != "" {
		t.Fatal("close should clear the boundary")
	}
}

func TestBoundarySkipsDeletedAndHandlesCaughtUp(t *testing.T) {
	s := seededStore(t, "m-1", "m-2", "m-3")
	if _, _, err := s.Remove("m-2", types.OriginRealtime); err != nil {
		t.Fatalf("remove: %v", err)
	}
	tracker := New(nil, 0)
	if got := tracker.Open(s, &types.SequenceKey{TS: 1000, ID: "m-1"}); got != "m-3" {
		t.Fatalf("expected boundary past the tombstone, got %q", got)
	}

	caughtUp := New(nil, 0)
	if got := caughtUp.Open(s, &types.SequenceKey{TS: 3000, ID: "m-3"}); got != "" {
		t.Fatalf("expected no boundary, got %q", got)
	}
	fresh := New(nil, 0)
	if got := fresh.Open(s, nil); got != "" {
		t.Fatalf("expected no boundary without a marker, got %q", got)
	}
}

func TestNewMessageCounterAndForget(t *testing.T) {
	tracker := New(clock.Fake(epoch), time.Second)
	for range 5 {
		tracker.MessageArrived()
	}
	if tracker.NewMessages() != 5 {
		t.Fatalf("expected 5, got %d", tracker.NewMessages())
	}
	tracker.ResetNewMessages()
	if tracker.NewMessages() != 0 {
		t.Fatal("expected reset")
	}

	tracker.Highlight("m-9")
	tracker.HandleChange(types.Change{Kind: types.ChangeReplaced, ID: "m-8"})
	if id, _ := tracker.Highlighted(); id != "m-9" {
		t.Fatal("unrelated change should keep the highlight")
	}
	tracker.HandleChange(types.Change{Kind: types.ChangeRemoved, ID: "m-9", Deleted: true})
	if id, _ := tracker.Highlighted(); id != "" {
		t.Fatal("deleting the highlighted record should clear it")
	}
}

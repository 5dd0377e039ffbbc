package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/pagination"
	"github.com/adamavenir/frayline/internal/pagination/pagetest"
	"github.com/adamavenir/frayline/internal/realtime"
	"github.com/adamavenir/frayline/internal/session"
	"github.com/adamavenir/frayline/internal/types"
)

const channel = "ch-1"

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeTransport struct {
	signals chan realtime.Signal
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{signals: make(chan realtime.Signal, 64)}
}

func (f *fakeTransport) Stream(ctx context.Context, channelID string) (<-chan realtime.Signal, error) {
	return f.signals, nil
}

func (f *fakeTransport) emit(t *testing.T, kind types.EventKind, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.signals <- realtime.Signal{Kind: realtime.SignalEvent, Event: types.Event{Kind: kind, ChannelID: channel, Payload: data}}
}

// fakeBackend serves pages from memory and echoes sends over the transport.
type fakeBackend struct {
	*pagetest.Backend
	transport *fakeTransport

	mu   sync.Mutex
	next int
}

func (b *fakeBackend) SendMessage(ctx context.Context, req realtime.SendRequest) (types.MessageRecord, error) {
	b.mu.Lock()
	b.next++
	rec := types.MessageRecord{
		ID:            fmt.Sprintf("m-sent-%d", b.next),
		ChannelID:     req.ChannelID,
		CorrelationID: req.CorrelationID,
		TS:            1_000_000 + int64(b.next),
		FromAgent:     req.FromAgent,
		Body:          req.Body,
		Status:        types.StatusConfirmed,
	}
	b.mu.Unlock()
	b.Add(rec)
	data, _ := json.Marshal(rec)
	b.transport.signals <- realtime.Signal{Kind: realtime.SignalEvent, Event: types.Event{Kind: types.EventMessageCreated, ChannelID: req.ChannelID, Payload: data}}
	return rec, nil
}

type memoryMarkers struct {
	mu   sync.Mutex
	keys map[string]types.SequenceKey
}

func (m *memoryMarkers) GetReadTo(ctx context.Context, channelID, user string) (*types.SequenceKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[channelID+"/"+user]
	if !ok {
		return nil, nil
	}
	return &key, nil
}

func (m *memoryMarkers) SetReadTo(ctx context.Context, channelID, user string, key types.SequenceKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[channelID+"/"+user] = key
	return nil
}

type env struct {
	backend   *fakeBackend
	transport *fakeTransport
	markers   *memoryMarkers
	clock     *clock.FakeClock
	manager   *session.Manager
}

func newEnv(t *testing.T, records int) *env {
	t.Helper()
	transport := newFakeTransport()
	e := &env{
		backend:   &fakeBackend{Backend: pagetest.NewBackend(pagetest.Messages(channel, 1, records)...), transport: transport},
		transport: transport,
		markers:   &memoryMarkers{keys: map[string]types.SequenceKey{}},
		clock:     clock.Fake(epoch),
	}
	e.manager = session.NewManager(e.backend, transport, e.markers, session.Options{
		User:            "me",
		PageSize:        20,
		HighlightExpiry: 3 * time.Second,
		BottomSlack:     3,
		MaxJumpPages:    5,
		Clock:           e.clock,
	})
	t.Cleanup(func() { _ = e.manager.CloseAll() })
	return e
}

func (e *env) open(t *testing.T) *session.Session {
	t.Helper()
	s, err := e.manager.Open(context.Background(), channel)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconnectResyncsThroughSession(t *testing.T) {
	e := newEnv(t, 5)
	s := e.open(t)

	var mu sync.Mutex
	var states []realtime.State
	s.Reducer().OnState(func(state realtime.State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, state)
	})
	snapshot := func() []realtime.State {
		mu.Lock()
		defer mu.Unlock()
		return append([]realtime.State(nil), states...)
	}

	e.transport.signals <- realtime.Signal{Kind: realtime.SignalConnected}
	e.transport.signals <- realtime.Signal{Kind: realtime.SignalDisconnected, Err: errors.New("socket closed")}
	eventually(t, "disconnect", func() bool { return len(snapshot()) == 2 })

	e.backend.Add(pagetest.Messages(channel, 6, 3)...)
	e.transport.signals <- realtime.Signal{Kind: realtime.SignalConnected}
	eventually(t, "resync", func() bool { return len(snapshot()) == 4 })

	want := []realtime.State{realtime.Connected, realtime.Disconnected, realtime.Resyncing, realtime.Connected}
	got := snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states %v, want %v", got, want)
		}
	}
	for _, id := range []string{"m-6", "m-7", "m-8"} {
		if _, ok := s.Store().Get(id); !ok {
			t.Fatalf("%s missing after resync", id)
		}
	}
	s.Idle()
	if state := s.ViewportState(); state.NewMessages != 0 || state.Anchor.Mode != types.AnchorBottom {
		t.Fatalf("resync at the bottom should not count new messages: %+v", state)
	}
}

func TestSendEchoProducesOneRecord(t *testing.T) {
	e := newEnv(t, 3)
	s := e.open(t)
	e.transport.signals <- realtime.Signal{Kind: realtime.SignalConnected}

	var mu sync.Mutex
	var changes []types.Change
	unsubscribe := s.Subscribe(func(change types.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change)
	})
	defer unsubscribe()

	rec, err := s.Sender().Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "echo applied", func() bool { return len(e.transport.signals) == 0 })
	s.Idle()

	if s.Store().Count() != 4 {
		t.Fatalf("expected 4 records, got %d", s.Store().Count())
	}
	stored, ok := s.Store().Get(rec.ID)
	if !ok || stored.Status != types.StatusConfirmed {
		t.Fatalf("unexpected stored record %+v", stored)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 || changes[0].Kind != types.ChangeInserted || !changes[1].Confirmation() {
		t.Fatalf("expected insert then confirmation, got %+v", changes)
	}
}

func TestArrivalsWhileScrolledUpCountAsNew(t *testing.T) {
	e := newEnv(t, 40)
	s := e.open(t)
	s.Viewport().SetViewportHeight(5)
	s.Viewport().UserScrolled(0)

	for i := 41; i <= 45; i++ {
		e.transport.emit(t, types.EventMessageCreated, pagetest.Messages(channel, i, 1)[0])
	}
	eventually(t, "arrivals", func() bool { return s.Store().Count() == 25 })
	s.Idle()

	state := s.ViewportState()
	if state.Anchor.Mode != types.AnchorPreserveOffset || state.NewMessages != 5 || state.Offset != 0 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestManagerRefusesSecondOpen(t *testing.T) {
	e := newEnv(t, 1)
	s := e.open(t)

	if _, err := e.manager.Open(context.Background(), channel); !errors.Is(err, types.ErrConversationOpen) {
		t.Fatalf("expected conversation open, got %v", err)
	}
	if got, ok := e.manager.Get(channel); !ok || got != s {
		t.Fatal("manager should return the open session")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := e.manager.Get(channel); ok {
		t.Fatal("closed session should leave the arena")
	}
	e.open(t)
}

func TestMarkReadSetsNextBoundary(t *testing.T) {
	e := newEnv(t, 5)
	s := e.open(t)
	if s.Tracker().BoundaryID() != "" {
		t.Fatalf("no marker yet, got boundary %q", s.Tracker().BoundaryID())
	}
	if err := s.MarkRead(context.Background()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := e.manager.Close(channel); err != nil {
		t.Fatalf("close: %v", err)
	}

	e.backend.Add(pagetest.Messages(channel, 6, 3)...)
	reopened := e.open(t)
	if got := reopened.ViewportState().UnreadBoundaryID; got != "m-6" {
		t.Fatalf("expected boundary m-6, got %q", got)
	}
}

func TestCloseStopsHighlightTimer(t *testing.T) {
	e := newEnv(t, 30)
	s := e.open(t)
	if err := s.Viewport().JumpTo(context.Background(), "m-15"); err != nil {
		t.Fatalf("jump: %v", err)
	}
	if id := s.ViewportState().HighlightedID; id != "m-15" {
		t.Fatalf("expected highlight, got %q", id)
	}
	if e.clock.Pending() != 1 {
		t.Fatalf("expected a highlight timer, got %d", e.clock.Pending())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if e.clock.Pending() != 0 {
		t.Fatalf("close should stop the highlight timer, pending=%d", e.clock.Pending())
	}
	if _, err := s.Pager().LoadOlder(context.Background()); !errors.Is(err, types.ErrClosed) {
		t.Fatalf("closed session should refuse loads, got %v", err)
	}
}

func TestOpenFailsWhenFirstPageFails(t *testing.T) {
	e := newEnv(t, 5)
	e.backend.FailNext(1, types.Permanent(errors.New("denied")))
	if _, err := e.manager.Open(context.Background(), channel); !errors.Is(err, types.ErrNetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
	if _, ok := e.manager.Get(channel); ok {
		t.Fatal("failed open should not leave a session")
	}
	e.open(t)
}

// tailTransport only delivers events published after Stream was called, like
// a log tail that starts at the current end of file.
type tailTransport struct {
	mu        sync.Mutex
	streaming bool
	signals   chan realtime.Signal
}

func (f *tailTransport) Stream(ctx context.Context, channelID string) (<-chan realtime.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = true
	f.signals <- realtime.Signal{Kind: realtime.SignalConnected}
	return f.signals, nil
}

func (f *tailTransport) publish(rec types.MessageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.streaming {
		return
	}
	data, _ := json.Marshal(rec)
	f.signals <- realtime.Signal{Kind: realtime.SignalEvent, Event: types.Event{Kind: types.EventMessageCreated, ChannelID: rec.ChannelID, Payload: data}}
}

// racingBackend posts one message right after serving the first page.
type racingBackend struct {
	*pagetest.Backend
	transport *tailTransport
	once      sync.Once
}

func (b *racingBackend) FetchPage(ctx context.Context, channelID string, dir pagination.Direction, cursor *types.SequenceKey, limit int) (pagination.Page, error) {
	page, err := b.Backend.FetchPage(ctx, channelID, dir, cursor, limit)
	b.once.Do(func() {
		rec := pagetest.Messages(channel, 6, 1)[0]
		b.Add(rec)
		b.transport.publish(rec)
	})
	return page, err
}

func (b *racingBackend) SendMessage(ctx context.Context, req realtime.SendRequest) (types.MessageRecord, error) {
	return types.MessageRecord{}, errors.New("read only")
}

func TestMessagePostedDuringFirstPageIsNotLost(t *testing.T) {
	transport := &tailTransport{signals: make(chan realtime.Signal, 8)}
	backend := &racingBackend{Backend: pagetest.NewBackend(pagetest.Messages(channel, 1, 5)...), transport: transport}

	s, err := session.Open(context.Background(), channel, backend, transport, nil, session.Options{PageSize: 20, Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	eventually(t, "m-6 from the stream", func() bool {
		_, ok := s.Store().Get("m-6")
		return ok
	})
	if got := s.Store().Count(); got != 6 {
		t.Fatalf("expected 6 records, got %d", got)
	}
}

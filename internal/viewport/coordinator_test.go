package viewport_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/pagination"
	"github.com/adamavenir/frayline/internal/pagination/pagetest"
	"github.com/adamavenir/frayline/internal/store"
	"github.com/adamavenir/frayline/internal/types"
	"github.com/adamavenir/frayline/internal/unread"
	"github.com/adamavenir/frayline/internal/viewport"
)

const channel = "ch-1"

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	mu      sync.Mutex
	queue   []types.Change
	store   *store.Store
	backend *pagetest.Backend
	pager   *pagination.Controller
	clock   *clock.FakeClock
	tracker *unread.Tracker
	coord   *viewport.Coordinator
}

type harnessOptions struct {
	pageSize   int
	viewHeight int
	height     viewport.HeightFunc
}

func newHarness(t *testing.T, opts harnessOptions, records ...types.MessageRecord) *harness {
	t.Helper()
	if opts.pageSize == 0 {
		opts.pageSize = 50
	}
	if opts.viewHeight == 0 {
		opts.viewHeight = 10
	}
	h := &harness{}
	h.store = store.New(channel, h.enqueue)
	h.backend = pagetest.NewBackend(records...)
	h.pager = pagination.New(channel, h.store, h.backend, pagination.Options{PageSize: opts.pageSize})
	t.Cleanup(h.pager.Close)
	h.clock = clock.Fake(epoch)
	h.tracker = unread.New(h.clock, 3*time.Second)
	t.Cleanup(h.tracker.Close)
	h.coord = viewport.New(h.store, h.pager, h.tracker, viewport.Options{
		BottomSlack:  3,
		MaxJumpPages: 5,
		Height:       opts.height,
		Settle:       h.settle,
		Clock:        h.clock,
	})
	h.coord.SetViewportHeight(opts.viewHeight)
	return h
}

func (h *harness) enqueue(change types.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, change)
}

func (h *harness) settle() {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return
		}
		change := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()
		h.coord.HandleChange(change)
		h.tracker.HandleChange(change)
	}
}

func (h *harness) loadLatest(t *testing.T) {
	t.Helper()
	if _, err := h.pager.LoadLatest(context.Background()); err != nil {
		t.Fatalf("load latest: %v", err)
	}
	h.settle()
}

func (h *harness) arrive(t *testing.T, records ...types.MessageRecord) {
	t.Helper()
	for _, rec := range records {
		if _, _, err := h.store.Upsert(rec, types.OriginRealtime); err != nil {
			t.Fatalf("upsert %s: %v", rec.ID, err)
		}
	}
	h.settle()
}

func TestBottomAnchorFollowsLiveEdge(t *testing.T) {
	h := newHarness(t, harnessOptions{}, pagetest.Messages(channel, 1, 30)...)
	h.loadLatest(t)

	state := h.coord.State()
	if state.Anchor.Mode != types.AnchorBottom || state.Offset != 20 || state.ContentHeight != 30 {
		t.Fatalf("unexpected state %+v", state)
	}

	h.arrive(t, pagetest.Messages(channel, 31, 2)...)
	state = h.coord.State()
	if state.Offset != 22 || state.NewMessages != 0 {
		t.Fatalf("bottom anchor should follow new messages: %+v", state)
	}
}

func TestScrolledUpArrivalsCountWithoutScrolling(t *testing.T) {
	h := newHarness(t, harnessOptions{}, pagetest.Messages(channel, 1, 30)...)
	h.loadLatest(t)

	h.coord.UserScrolled(5)
	h.arrive(t, pagetest.Messages(channel, 31, 5)...)

	state := h.coord.State()
	if state.Anchor.Mode != types.AnchorPreserveOffset {
		t.Fatalf("expected preserve_offset, got %s", state.Anchor.Mode)
	}
	if state.NewMessages != 5 {
		t.Fatalf("expected 5 new messages, got %d", state.NewMessages)
	}
	if state.Offset != 5 {
		t.Fatalf("scroll position moved to %d", state.Offset)
	}

	h.coord.ScrollToBottom()
	state = h.coord.State()
	if state.NewMessages != 0 || state.Offset != 25 || state.Anchor.Mode != types.AnchorBottom {
		t.Fatalf("scrolling to bottom should reset: %+v", state)
	}
}

func TestScrollWithinSlackReanchorsToBottom(t *testing.T) {
	h := newHarness(t, harnessOptions{}, pagetest.Messages(channel, 1, 30)...)
	h.loadLatest(t)

	h.coord.UserScrolled(10)
	h.arrive(t, pagetest.Messages(channel, 31, 1)...)
	h.coord.UserScrolled(18)

	state := h.coord.State()
	if state.Anchor.Mode != types.AnchorBottom || state.Offset != 21 || state.NewMessages != 0 {
		t.Fatalf("expected bottom anchor, got %+v", state)
	}
}

func TestPrependKeepsVisibleContentInPlace(t *testing.T) {
	h := newHarness(t, harnessOptions{
		pageSize:   10,
		viewHeight: 6,
		height:     func(types.MessageRecord) int { return 2 },
	}, pagetest.Messages(channel, 1, 40)...)
	h.loadLatest(t)

	h.coord.UserScrolled(3)
	before, _ := h.coord.Top("m-33")
	beforeOffset := h.coord.State().Offset

	if _, err := h.pager.LoadOlder(context.Background()); err != nil {
		t.Fatalf("load older: %v", err)
	}
	h.settle()

	after, _ := h.coord.Top("m-33")
	state := h.coord.State()
	if after-state.Offset != before-beforeOffset {
		t.Fatalf("visible content jumped: before top=%d offset=%d, after top=%d offset=%d", before, beforeOffset, after, state.Offset)
	}
	if state.Offset != beforeOffset+20 {
		t.Fatalf("expected offset to grow by the prepended height, got %d", state.Offset)
	}
}

func TestDeleteAboveViewportShiftsOffset(t *testing.T) {
	h := newHarness(t, harnessOptions{}, pagetest.Messages(channel, 1, 30)...)
	h.loadLatest(t)
	h.coord.UserScrolled(8)

	if _, _, err := h.store.Remove("m-2", types.OriginRealtime); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.settle()
	if got := h.coord.State().Offset; got != 7 {
		t.Fatalf("expected offset 7, got %d", got)
	}

	if _, _, err := h.store.Remove("m-25", types.OriginRealtime); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.settle()
	if got := h.coord.State().Offset; got != 7 {
		t.Fatalf("delete below the viewport must not move it, got %d", got)
	}
}

func TestOwnSendScrollsToBottomAndConfirmationIsNotNew(t *testing.T) {
	h := newHarness(t, harnessOptions{}, pagetest.Messages(channel, 1, 30)...)
	h.loadLatest(t)
	h.coord.UserScrolled(2)
	h.arrive(t, pagetest.Messages(channel, 31, 1)...)

	local := types.MessageRecord{ID: "tmp-c1", ChannelID: channel, CorrelationID: "c1", TS: 40_000, Body: "mine", Status: types.StatusPending}
	if _, _, err := h.store.Upsert(local, types.OriginLocal); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	h.settle()
	state := h.coord.State()
	if state.Anchor.Mode != types.AnchorBottom || state.NewMessages != 0 {
		t.Fatalf("own send should scroll to bottom: %+v", state)
	}

	h.coord.UserScrolled(0)
	h.arrive(t, types.MessageRecord{ID: "m-77", ChannelID: channel, CorrelationID: "c1", TS: 40_001, Body: "mine"})
	state = h.coord.State()
	if state.NewMessages != 0 {
		t.Fatalf("confirmation must not count as new, got %d", state.NewMessages)
	}
	if state.ContentHeight != 32 {
		t.Fatalf("confirmation must not add height, got %d", state.ContentHeight)
	}
}

func TestJumpToLoadsHistoryAndHighlights(t *testing.T) {
	h := newHarness(t, harnessOptions{pageSize: 10}, pagetest.Messages(channel, 1, 100)...)
	h.loadLatest(t)

	if err := h.coord.JumpTo(context.Background(), "m-55"); err != nil {
		t.Fatalf("jump: %v", err)
	}
	state := h.coord.State()
	if state.Anchor.Mode != types.AnchorMessage || state.Anchor.MessageID != "m-55" {
		t.Fatalf("unexpected anchor %+v", state.Anchor)
	}
	if top, _ := h.coord.Top("m-55"); state.Offset != top {
		t.Fatalf("target should be at the top of the viewport: offset=%d top=%d", state.Offset, top)
	}
	if state.HighlightedID != "m-55" {
		t.Fatalf("expected highlight, got %q", state.HighlightedID)
	}

	h.clock.Advance(3 * time.Second)
	if state := h.coord.State(); state.HighlightedID != "" {
		t.Fatalf("highlight should expire, got %q", state.HighlightedID)
	}
}

func TestJumpToMissingTargetFallsBackToBottom(t *testing.T) {
	cases := []struct {
		name      string
		records   int
		wantCalls int
	}{
		{name: "history exhausted", records: 30, wantCalls: 3},
		// five older pages, then one lookup of the target itself
		{name: "page bound reached", records: 1000, wantCalls: 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{pageSize: 10}, pagetest.Messages(channel, 1, tc.records)...)
			h.loadLatest(t)

			err := h.coord.JumpTo(context.Background(), "m-0")
			if !errors.Is(err, types.ErrTargetNotFound) {
				t.Fatalf("expected target not found, got %v", err)
			}
			if mode := h.coord.Anchor().Mode; mode != types.AnchorBottom {
				t.Fatalf("expected fallback to bottom, got %s", mode)
			}
			if got := h.backend.Calls(); got != tc.wantCalls {
				t.Fatalf("expected %d fetches, got %d", tc.wantCalls, got)
			}
		})
	}
}

func TestJumpToDeletedTargetIsNotFound(t *testing.T) {
	h := newHarness(t, harnessOptions{}, pagetest.Messages(channel, 1, 20)...)
	h.loadLatest(t)
	if _, _, err := h.store.Remove("m-5", types.OriginRealtime); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.settle()

	if err := h.coord.JumpTo(context.Background(), "m-5"); !errors.Is(err, types.ErrTargetNotFound) {
		t.Fatalf("expected target not found, got %v", err)
	}
}

func TestNewAnchorSupersedesRunningJump(t *testing.T) {
	h := newHarness(t, harnessOptions{pageSize: 10}, pagetest.Messages(channel, 1, 100)...)
	h.loadLatest(t)
	<-h.backend.Started()
	release := h.backend.Hold()
	defer release()

	done := make(chan error, 1)
	go func() {
		done <- h.coord.JumpTo(context.Background(), "m-3")
	}()
	<-h.backend.Started()
	if !h.pager.Loading(pagination.Older) {
		t.Fatal("jump should be waiting on an older page")
	}

	h.coord.ScrollToBottom()
	if err := <-done; !errors.Is(err, types.ErrSuperseded) {
		t.Fatalf("expected superseded, got %v", err)
	}
	if mode := h.coord.Anchor().Mode; mode != types.AnchorBottom {
		t.Fatalf("the newer anchor must win, got %s", mode)
	}
	if id := h.coord.State().HighlightedID; id != "" {
		t.Fatalf("superseded jump must not highlight, got %q", id)
	}
}

func TestJumpBeyondPageBoundLoadsAroundTarget(t *testing.T) {
	h := newHarness(t, harnessOptions{pageSize: 10}, pagetest.Messages(channel, 1, 1000)...)
	h.loadLatest(t)

	if err := h.coord.JumpTo(context.Background(), "m-5"); err != nil {
		t.Fatalf("jump: %v", err)
	}
	if top, ok := h.coord.Top("m-5"); !ok || h.coord.State().Offset != top {
		t.Fatalf("target should be at the top of the viewport: top=%d ok=%v", top, ok)
	}
	window := h.pager.Window()
	if window.HasOlder || !window.HasNewer {
		t.Fatalf("window should start at the first message and end before the live edge: %+v", window)
	}

	calls := h.backend.Calls()
	if err := h.coord.JumpTo(context.Background(), "m-20"); err != nil {
		t.Fatalf("jump forward: %v", err)
	}
	if got := h.backend.Calls() - calls; got != 1 {
		t.Fatalf("expected one newer page, got %d fetches", got)
	}
	if id := h.coord.State().HighlightedID; id != "m-20" {
		t.Fatalf("expected m-20 highlighted, got %q", id)
	}
}

func TestRebuildKeepsChangesHandledMeanwhile(t *testing.T) {
	h := newHarness(t, harnessOptions{}, pagetest.Messages(channel, 1, 50)...)
	h.loadLatest(t)
	double := func(types.MessageRecord) int { return 2 }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 50 {
			h.coord.Rebuild(double)
		}
	}()
	go func() {
		defer wg.Done()
		for _, rec := range pagetest.Messages(channel, 51, 50) {
			if _, _, err := h.store.Upsert(rec, types.OriginRealtime); err != nil {
				t.Errorf("upsert %s: %v", rec.ID, err)
				return
			}
			h.settle()
		}
	}()
	wg.Wait()
	h.settle()

	if got := h.coord.State().ContentHeight; got != 200 {
		t.Fatalf("expected 100 records of height 2, content height %d", got)
	}
	for _, rec := range pagetest.Messages(channel, 1, 100) {
		if _, ok := h.coord.Top(rec.ID); !ok {
			t.Fatalf("%s missing from the viewport", rec.ID)
		}
	}
}

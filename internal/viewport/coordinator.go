// Package viewport keeps the scroll position stable while the store changes
// underneath it.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/types"
)

// Store is the part of the store the coordinator reads.
type Store interface {
	Get(id string) (types.MessageRecord, bool)
	Range(from, to *types.SequenceKey) iter.Seq[types.MessageRecord]
}

// Pager loads more history for jumps.
type Pager interface {
	LoadOlder(ctx context.Context) (int, error)
	LoadNewer(ctx context.Context) (int, error)
	Window() types.PageWindow
}

// AroundLoader is implemented by pagers that can load the block around a
// single record. JumpTo uses it once paging page by page gives up.
type AroundLoader interface {
	LoadAround(ctx context.Context, id string) (int, error)
}

// Tracker receives highlight and new-message updates.
type Tracker interface {
	Highlight(id string)
	ClearHighlight()
	MessageArrived()
	ResetNewMessages()
	NewMessages() int
	BoundaryID() string
	Highlighted() (string, time.Time)
}

// HeightFunc returns the rendered height of a record in lines.
type HeightFunc func(types.MessageRecord) int

// Options configures a Coordinator.
type Options struct {
	// BottomSlack is how many lines above the bottom still count as
	// following the live edge.
	BottomSlack int
	// MaxJumpPages bounds the pages JumpTo loads while looking for a target.
	MaxJumpPages int
	Height       HeightFunc
	// Settle blocks until queued store changes reached HandleChange. JumpTo
	// calls it after every page load.
	Settle func()
	Clock  clock.Clock
	Logger *slog.Logger
}

const (
	defaultBottomSlack  = 3
	defaultMaxJumpPages = 10
	busyWait            = 50 * time.Millisecond
)

type item struct {
	key    types.SequenceKey
	height int
}

// Coordinator owns the single active anchor for one conversation.
type Coordinator struct {
	store   Store
	pager   Pager
	tracker Tracker
	opts    Options
	logger  *slog.Logger

	mu            sync.Mutex
	anchor        types.Anchor
	generation    uint64
	jumpCancel    context.CancelFunc
	items         map[string]item
	heights       heightIndex
	viewHeight    int
	offset        int
	observers     []func(types.ViewportState)
}

// New creates a coordinator anchored to the bottom.
func New(store Store, pager Pager, tracker Tracker, opts Options) *Coordinator {
	if opts.BottomSlack < 0 {
		opts.BottomSlack = 0
	}
	if opts.MaxJumpPages <= 0 {
		opts.MaxJumpPages = defaultMaxJumpPages
	}
	if opts.Height == nil {
		opts.Height = func(types.MessageRecord) int { return 1 }
	}
	if opts.Settle == nil {
		opts.Settle = func() {}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		pager:   pager,
		tracker: tracker,
		opts:    opts,
		logger:  opts.Logger,
		anchor:  types.Anchor{Mode: types.AnchorBottom},
		items:   make(map[string]item),
	}
}

// DefaultOptions returns options with the default slack and jump bound.
func DefaultOptions() Options {
	return Options{BottomSlack: defaultBottomSlack, MaxJumpPages: defaultMaxJumpPages}
}

// OnChange registers fn to receive the state after every update.
func (c *Coordinator) OnChange(fn func(types.ViewportState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Notify pushes the current state to observers. The session calls it when
// tracker state changes on its own, e.g. a highlight expiring.
func (c *Coordinator) Notify() {
	state := c.State()
	c.mu.Lock()
	observers := append([]func(types.ViewportState){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(state)
	}
}

// State returns a snapshot of the viewport.
func (c *Coordinator) State() types.ViewportState {
	c.mu.Lock()
	state := types.ViewportState{
		Anchor:        c.anchor,
		Offset:        c.offset,
		ContentHeight: c.heights.total(),
		Height:        c.viewHeight,
	}
	c.mu.Unlock()

	state.HighlightedID, state.HighlightExpiresAt = c.tracker.Highlighted()
	state.UnreadBoundaryID = c.tracker.BoundaryID()
	state.NewMessages = c.tracker.NewMessages()
	return state
}

// Anchor returns the active anchor.
func (c *Coordinator) Anchor() types.Anchor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anchor
}

// Top returns the line at which id starts, if it is visible.
func (c *Coordinator) Top(id string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[id]
	if !ok {
		return 0, false
	}
	return c.heights.prefix(it.key), true
}

func (c *Coordinator) maxOffsetLocked() int {
	return max(0, c.heights.total()-c.viewHeight)
}

func (c *Coordinator) clampLocked() {
	c.offset = min(max(c.offset, 0), c.maxOffsetLocked())
}

func (c *Coordinator) followsBottomLocked() bool {
	return c.anchor.Mode == types.AnchorBottom
}

// setHeightLocked records a new height for id and compensates the offset
// when the record starts above the first visible line.
func (c *Coordinator) setHeightLocked(id string, key types.SequenceKey, height int) {
	old, had := c.items[id]
	if had {
		key = old.key
	}
	if old.height == height && had == (height > 0) {
		return
	}
	top := c.heights.prefix(key)
	if height > 0 {
		c.items[id] = item{key: key, height: height}
	} else {
		delete(c.items, id)
	}
	c.heights.set(key, height)
	delta := height - old.height
	if !c.followsBottomLocked() && top < c.offset {
		c.offset = max(c.offset+delta, top)
	}
}

// heightOfLocked measures id with the current height func. Measuring under
// c.mu keeps it ordered with Rebuild.
func (c *Coordinator) heightOfLocked(id string) (types.SequenceKey, int) {
	rec, ok := c.store.Get(id)
	if !ok || rec.Deleted() {
		return types.SequenceKey{}, 0
	}
	return rec.Key(), max(c.opts.Height(rec), 1)
}

// HandleChange applies one store change. Changes must arrive one at a time in
// mutation order.
func (c *Coordinator) HandleChange(change types.Change) {
	ownSend := change.Kind == types.ChangeInserted && change.Origin == types.OriginLocal

	c.mu.Lock()
	key, height := c.heightOfLocked(change.ID)
	if change.PrevID != "" && change.PrevID != change.ID {
		c.setHeightLocked(change.PrevID, types.SequenceKey{}, 0)
	}
	c.setHeightLocked(change.ID, key, height)

	if ownSend {
		c.supersedeLocked()
		c.anchor = types.Anchor{Mode: types.AnchorBottom}
	}
	arrived := change.Kind == types.ChangeInserted &&
		change.Origin == types.OriginRealtime &&
		change.LiveEdge && !change.Deleted &&
		!c.followsBottomLocked()
	atBottom := c.followsBottomLocked()
	if atBottom {
		c.offset = c.maxOffsetLocked()
	}
	c.clampLocked()
	c.mu.Unlock()

	if arrived {
		c.tracker.MessageArrived()
	}
	if ownSend {
		c.tracker.ClearHighlight()
		c.tracker.ResetNewMessages()
	}
	c.Notify()
}

// Rebuild re-measures every record, e.g. after the renderer's width changed.
// It holds the coordinator lock throughout, so changes handled concurrently
// apply either before or after it.
func (c *Coordinator) Rebuild(height HeightFunc) {
	c.mu.Lock()
	if height != nil {
		c.opts.Height = height
	}
	c.items = make(map[string]item)
	c.heights.reset()
	for rec := range c.store.Range(nil, nil) {
		h := max(c.opts.Height(rec), 1)
		c.items[rec.ID] = item{key: rec.Key(), height: h}
		c.heights.set(rec.Key(), h)
	}
	if c.followsBottomLocked() {
		c.offset = c.maxOffsetLocked()
	}
	c.clampLocked()
	c.mu.Unlock()
	c.Notify()
}

// SetViewportHeight sets how many lines are visible.
func (c *Coordinator) SetViewportHeight(lines int) {
	c.mu.Lock()
	c.viewHeight = max(lines, 0)
	if c.followsBottomLocked() {
		c.offset = c.maxOffsetLocked()
	}
	c.clampLocked()
	c.mu.Unlock()
	c.Notify()
}

// UserScrolled records a scroll the user made. Landing within BottomSlack
// lines of the bottom re-anchors to the bottom.
func (c *Coordinator) UserScrolled(offset int) {
	c.mu.Lock()
	prev := c.anchor
	prevOffset := c.offset
	c.offset = offset
	c.clampLocked()

	if c.maxOffsetLocked()-c.offset <= c.opts.BottomSlack {
		c.anchor = types.Anchor{Mode: types.AnchorBottom}
		c.offset = c.maxOffsetLocked()
	} else {
		c.anchor = types.Anchor{Mode: types.AnchorPreserveOffset}
	}
	moved := prev != c.anchor || prevOffset != c.offset
	if prev != c.anchor {
		c.supersedeLocked()
	}
	bottom := c.followsBottomLocked()
	c.mu.Unlock()

	if moved {
		c.tracker.ClearHighlight()
	}
	if bottom {
		c.tracker.ResetNewMessages()
	}
	c.Notify()
}

// ScrollToBottom anchors to the live edge.
func (c *Coordinator) ScrollToBottom() {
	c.mu.Lock()
	c.supersedeLocked()
	c.anchor = types.Anchor{Mode: types.AnchorBottom}
	c.offset = c.maxOffsetLocked()
	c.mu.Unlock()

	c.tracker.ResetNewMessages()
	c.Notify()
}

// supersedeLocked invalidates any running jump.
func (c *Coordinator) supersedeLocked() uint64 {
	c.generation++
	if c.jumpCancel != nil {
		c.jumpCancel()
		c.jumpCancel = nil
	}
	return c.generation
}

func (c *Coordinator) current(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == generation
}

// JumpTo anchors to id, loading pages until it is present. The target is
// scrolled to the top of the viewport and highlighted. A newer anchor change
// makes JumpTo return types.ErrSuperseded; a target that cannot be found
// returns types.ErrTargetNotFound and falls back to the bottom.
func (c *Coordinator) JumpTo(ctx context.Context, id string) error {
	c.mu.Lock()
	generation := c.supersedeLocked()
	jumpCtx, cancel := context.WithCancel(ctx)
	c.jumpCancel = cancel
	c.anchor = types.Anchor{Mode: types.AnchorMessage, MessageID: id}
	c.mu.Unlock()
	defer cancel()

	c.tracker.ClearHighlight()
	c.Notify()

	cause := c.locate(jumpCtx, generation, id)
	switch {
	case cause == nil:
		return c.resolve(generation, id)
	case !c.current(generation):
		return types.ErrSuperseded
	case ctx.Err() != nil:
		return ctx.Err()
	}

	c.logger.Info("jump target not found", "id", id, "error", cause)
	c.mu.Lock()
	if c.generation == generation {
		c.supersedeLocked()
		c.anchor = types.Anchor{Mode: types.AnchorBottom}
		c.offset = c.maxOffsetLocked()
	}
	c.mu.Unlock()
	c.tracker.ResetNewMessages()
	c.Notify()
	return fmt.Errorf("jump to %s: %w: %w", id, types.ErrTargetNotFound, cause)
}

var errExhausted = errors.New("no more history to search")

// locate pages toward id, then falls back to loading the block around it.
func (c *Coordinator) locate(ctx context.Context, generation uint64, id string) error {
	err := c.walk(ctx, generation, id)
	if err == nil || !c.current(generation) || ctx.Err() != nil ||
		errors.Is(err, types.ErrNotFound) || errors.Is(err, errExhausted) {
		return err
	}
	loader, ok := c.pager.(AroundLoader)
	if !ok {
		return err
	}
	c.logger.Debug("jump target beyond paging bound, loading around it", "id", id, "cause", err)
	if _, aroundErr := loader.LoadAround(ctx, id); aroundErr != nil {
		if errors.Is(aroundErr, types.ErrNoOp) {
			return err
		}
		return aroundErr
	}
	c.opts.Settle()
	if !c.current(generation) {
		return types.ErrSuperseded
	}
	if _, ok := c.Top(id); ok {
		return nil
	}
	return types.ErrNotFound
}

// walk loads at most MaxJumpPages pages looking for id.
func (c *Coordinator) walk(ctx context.Context, generation uint64, id string) error {
	for pages := 0; ; {
		c.opts.Settle()
		if !c.current(generation) {
			return types.ErrSuperseded
		}
		if _, ok := c.Top(id); ok {
			return nil
		}
		if rec, ok := c.store.Get(id); ok && rec.Deleted() {
			return types.ErrNotFound
		}
		if pages >= c.opts.MaxJumpPages {
			return fmt.Errorf("gave up after %d page(s)", pages)
		}

		window := c.pager.Window()
		var err error
		switch {
		case window.HasOlder, window.HasGap:
			_, err = c.pager.LoadOlder(ctx)
		case window.HasNewer:
			_, err = c.pager.LoadNewer(ctx)
		default:
			return errExhausted
		}
		switch {
		case err == nil, errors.Is(err, types.ErrNoOp):
			pages++
		case errors.Is(err, types.ErrAlreadyLoading):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.opts.Clock.After(busyWait):
			}
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return err
		}
	}
}

func (c *Coordinator) resolve(generation uint64, id string) error {
	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return types.ErrSuperseded
	}
	it, ok := c.items[id]
	if ok {
		c.offset = c.heights.prefix(it.key)
		c.clampLocked()
	}
	c.jumpCancel = nil
	c.mu.Unlock()

	c.tracker.Highlight(id)
	c.Notify()
	return nil
}

// Package pagination loads pages of history into a conversation's store and
// tracks how much of the conversation is loaded.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/types"
)

// Direction selects which side of the loaded window a fetch extends.
type Direction string

const (
	Older Direction = "older"
	Newer Direction = "newer"
	// Latest fetches the newest page regardless of the loaded window. It is
	// used for the initial load and for resync after a reconnect.
	Latest Direction = "latest"
	// Around fetches the pages on both sides of one record.
	Around Direction = "around"
)

// Page is one fetch result. Records are ascending by sequence key.
type Page struct {
	Records []types.MessageRecord
	HasMore bool
}

// Fetcher is the remote fetch service. A nil cursor means the live edge.
// Older returns records strictly before the cursor, Newer strictly after.
type Fetcher interface {
	FetchPage(ctx context.Context, channelID string, dir Direction, cursor *types.SequenceKey, limit int) (Page, error)
}

// Locator finds one record by id. Fetchers that implement it let LoadAround
// jump to records far outside the loaded window.
type Locator interface {
	Locate(ctx context.Context, channelID, id string) (types.MessageRecord, error)
}

// Upserter is the part of the store the controller writes to.
type Upserter interface {
	Upsert(rec types.MessageRecord, origin types.Origin) (types.Change, bool, error)
}

// FetchError is returned once a fetch has used up its retries.
type FetchError struct {
	Direction Direction
	Attempts  int
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("load %s page: %d attempt(s): %v", e.Direction, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{types.ErrNetworkFailure, e.Err}
}

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	PageSize int
	Retry    RetryPolicy
	// MaxGapPages bounds how many extra older pages a resync fetches to
	// close the gap between the previous live edge and the newest page.
	// Whatever is left is loaded by later LoadOlder calls.
	MaxGapPages int
	Clock       clock.Clock
	Logger      *slog.Logger
}

const (
	defaultPageSize    = 50
	defaultMaxGapPages = 10
)

// Controller is safe for concurrent use. Each direction allows at most one
// fetch in flight.
type Controller struct {
	channelID string
	store     Upserter
	fetcher   Fetcher
	pageSize  int
	retry     RetryPolicy
	maxGap    int
	clock     clock.Clock
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	window   types.PageWindow
	gaps     []*gap // newest first
	inFlight map[Direction]bool
	closed   bool
}

// gap is unloaded history older than cursor and newer than until.
type gap struct {
	cursor types.SequenceKey
	until  types.SequenceKey
}

// request is what begin hands to a fetch and its merge.
type request struct {
	dir            Direction
	cursor         *types.SequenceKey
	previousNewest *types.SequenceKey
	// gap is set when an Older load fills a resync gap instead of extending
	// the window.
	gap *gap
}

// New creates a controller for channelID. The window starts with older
// history assumed to exist and the live edge assumed loaded.
func New(channelID string, store Upserter, fetcher Fetcher, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxGapPages <= 0 {
		opts.MaxGapPages = defaultMaxGapPages
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		channelID: channelID,
		store:     store,
		fetcher:   fetcher,
		pageSize:  opts.PageSize,
		retry:     opts.Retry.normalized(),
		maxGap:    opts.MaxGapPages,
		clock:     opts.Clock,
		logger:    opts.Logger.With("channel", channelID),
		ctx:       ctx,
		cancel:    cancel,
		window:    types.PageWindow{HasOlder: true},
		inFlight:  make(map[Direction]bool),
	}
}

// Window returns a copy of the loaded-window metadata.
func (c *Controller) Window() types.PageWindow {
	c.mu.Lock()
	defer c.mu.Unlock()
	window := c.window.Clone()
	window.HasGap = len(c.gaps) > 0
	return window
}

// Loading reports whether a fetch in dir is in flight.
func (c *Controller) Loading(dir Direction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[dir]
}

// LoadOlder fetches the page before the oldest loaded record. While a resync
// gap is open it fills the gap first. It returns the number of records
// merged.
func (c *Controller) LoadOlder(ctx context.Context) (int, error) {
	return c.load(ctx, Older)
}

// LoadNewer fetches the page after the newest loaded record.
func (c *Controller) LoadNewer(ctx context.Context) (int, error) {
	return c.load(ctx, Newer)
}

// LoadLatest fetches the newest page and, when it does not reach the
// previously loaded live edge, the older pages in between.
func (c *Controller) LoadLatest(ctx context.Context) (int, error) {
	return c.load(ctx, Latest)
}

// LoadAround fetches the record with id and a page on each side of it, and
// moves the window to that block. The fetcher must implement Locator.
func (c *Controller) LoadAround(ctx context.Context, id string) (int, error) {
	locator, ok := c.fetcher.(Locator)
	if !ok {
		return 0, fmt.Errorf("load around %s: %w", id, types.ErrNoOp)
	}
	req, err := c.begin(Around)
	if err != nil {
		return 0, err
	}
	defer c.finish(Around)

	fetchCtx, stop := c.bind(ctx)
	defer stop()

	var target types.MessageRecord
	err = c.retrying(fetchCtx, Around, func(ctx context.Context) error {
		var err error
		target, err = locator.Locate(ctx, c.channelID, id)
		return err
	})
	if err == nil && target.ChannelID != "" && target.ChannelID != c.channelID {
		err = fmt.Errorf("load around %s: %w", id, types.ErrWrongChannel)
	}
	var older, newer Page
	if err == nil {
		key := target.Key()
		older, err = c.fetch(fetchCtx, Older, &key)
		if err == nil {
			newer, err = c.fetch(fetchCtx, Newer, &key)
		}
	}
	if err != nil {
		if c.ctx.Err() != nil {
			return 0, types.ErrClosed
		}
		return 0, err
	}

	pages := []Page{older, {Records: []types.MessageRecord{target}}, newer}
	return c.merge(req, pages)
}

// Close cancels in-flight fetches. Results that arrive afterwards are
// discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

func (c *Controller) load(ctx context.Context, dir Direction) (int, error) {
	req, err := c.begin(dir)
	if err != nil {
		return 0, err
	}
	defer c.finish(dir)

	fetchCtx, stop := c.bind(ctx)
	defer stop()

	pages, err := c.fetchPages(fetchCtx, req)
	if err != nil {
		if c.ctx.Err() != nil {
			return 0, types.ErrClosed
		}
		return 0, err
	}
	return c.merge(req, pages)
}

func (c *Controller) begin(dir Direction) (request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return request{}, types.ErrClosed
	}
	if c.inFlight[dir] {
		return request{}, fmt.Errorf("load %s: %w", dir, types.ErrAlreadyLoading)
	}

	window := c.window.Clone()
	req := request{dir: dir, previousNewest: window.NewestLoaded}
	switch dir {
	case Older:
		if len(c.gaps) > 0 {
			req.gap = c.gaps[0]
			cursor := req.gap.cursor
			req.cursor = &cursor
			break
		}
		if !window.HasOlder {
			return request{}, fmt.Errorf("load %s: %w", dir, types.ErrNoOp)
		}
		req.cursor = window.OldestLoaded
	case Newer:
		if !window.HasNewer {
			return request{}, fmt.Errorf("load %s: %w", dir, types.ErrNoOp)
		}
		req.cursor = window.NewestLoaded
	case Latest, Around:
	default:
		return request{}, fmt.Errorf("unknown direction %q", dir)
	}
	c.inFlight[dir] = true
	return req, nil
}

func (c *Controller) finish(dir Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, dir)
}

// bind ties a caller's context to the controller's lifetime.
func (c *Controller) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) fetchPages(ctx context.Context, req request) ([]Page, error) {
	page, err := c.fetch(ctx, req.dir, req.cursor)
	if err != nil {
		return nil, err
	}
	pages := []Page{page}
	previousNewest := req.previousNewest
	if req.dir != Latest || previousNewest == nil {
		return pages, nil
	}

	for range c.maxGap {
		if !page.HasMore || len(page.Records) == 0 {
			break
		}
		first := page.Records[0].Key()
		if !previousNewest.Less(first) {
			break
		}
		c.logger.Debug("filling resync gap", "from", first.ID, "until", previousNewest.ID)
		page, err = c.fetch(ctx, Older, &first)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (c *Controller) fetch(ctx context.Context, dir Direction, cursor *types.SequenceKey) (Page, error) {
	var page Page
	err := c.retrying(ctx, dir, func(ctx context.Context) error {
		var err error
		page, err = c.fetcher.FetchPage(ctx, c.channelID, dir, cursor, c.pageSize)
		return err
	})
	return page, err
}

// retrying runs op until it succeeds, fails permanently or runs out of
// attempts.
func (c *Controller) retrying(ctx context.Context, dir Direction, op func(context.Context) error) error {
	var (
		lastErr  error
		attempts int
	)
	for attempts < c.retry.MaxAttempts {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if types.IsPermanent(err) || errors.Is(err, context.Canceled) {
			break
		}
		if attempts == c.retry.MaxAttempts {
			break
		}

		delay := c.retry.Delay(attempts)
		c.logger.Debug("page fetch failed, retrying", "direction", dir, "attempt", attempts, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(delay):
		}
	}
	c.logger.Warn("page fetch failed", "direction", dir, "attempts", attempts, "error", lastErr)
	return &FetchError{Direction: dir, Attempts: attempts, Err: lastErr}
}

func (c *Controller) merge(req request, pages []Page) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, types.ErrClosed
	}

	merged := 0
	var oldest, newest *types.SequenceKey
	for _, page := range pages {
		for _, rec := range page.Records {
			if _, _, err := c.store.Upsert(rec, types.OriginPage); err != nil {
				c.logger.Warn("skipping page record", "id", rec.ID, "error", err)
				continue
			}
			merged++
			key := rec.Key()
			if oldest == nil || key.Less(*oldest) {
				oldest = &key
			}
			if newest == nil || newest.Less(key) {
				newest = &key
			}
		}
	}

	first := pages[0]
	last := pages[len(pages)-1]
	switch req.dir {
	case Older:
		if req.gap != nil {
			c.narrowGapLocked(req.gap, first)
			return merged, nil
		}
		c.window.HasOlder = first.HasMore
	case Newer:
		c.window.HasNewer = first.HasMore
	case Latest:
		c.window.HasNewer = false
		if c.window.OldestLoaded == nil || (oldest != nil && oldest.Less(*c.window.OldestLoaded)) {
			c.window.HasOlder = last.HasMore
		}
		c.openGapLocked(req.previousNewest, last)
	case Around:
		c.gaps = nil
		c.window = types.PageWindow{
			HasOlder:     first.HasMore,
			HasNewer:     last.HasMore,
			OldestLoaded: oldest,
			NewestLoaded: newest,
		}
		return merged, nil
	}
	if oldest != nil && (c.window.OldestLoaded == nil || oldest.Less(*c.window.OldestLoaded)) {
		c.window.OldestLoaded = oldest
	}
	if newest != nil && (c.window.NewestLoaded == nil || c.window.NewestLoaded.Less(*newest)) {
		c.window.NewestLoaded = newest
	}
	return merged, nil
}

// openGapLocked records the history a bounded resync could not reach: the
// oldest fetched page still has more before it and stops short of the
// previous live edge.
func (c *Controller) openGapLocked(previousNewest *types.SequenceKey, last Page) {
	if previousNewest == nil || !last.HasMore || len(last.Records) == 0 {
		return
	}
	cursor := last.Records[0].Key()
	if !previousNewest.Less(cursor) {
		return
	}
	c.logger.Warn("resync gap left open", "from", cursor.ID, "until", previousNewest.ID)
	c.gaps = append([]*gap{{cursor: cursor, until: *previousNewest}}, c.gaps...)
}

// narrowGapLocked advances g past page, closing it once the page reaches the
// records loaded before the resync.
func (c *Controller) narrowGapLocked(g *gap, page Page) {
	idx := slices.Index(c.gaps, g)
	if idx < 0 {
		return
	}
	if !page.HasMore || len(page.Records) == 0 || !g.until.Less(page.Records[0].Key()) {
		c.gaps = slices.Delete(c.gaps, idx, idx+1)
		c.logger.Debug("resync gap closed", "until", g.until.ID)
		return
	}
	g.cursor = page.Records[0].Key()
}

// RetryPolicy bounds fetch retries. Delays double from BaseDelay up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns three attempts starting at 250ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the wait before the attempt after the given one.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Package session owns the per-conversation engine: one store plus the
// components that write to it and observe it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/core"
	"github.com/adamavenir/frayline/internal/pagination"
	"github.com/adamavenir/frayline/internal/realtime"
	"github.com/adamavenir/frayline/internal/store"
	"github.com/adamavenir/frayline/internal/types"
	"github.com/adamavenir/frayline/internal/unread"
	"github.com/adamavenir/frayline/internal/viewport"
	"golang.org/x/sync/errgroup"
)

// Backend is the remote fetch and send service.
type Backend interface {
	pagination.Fetcher
	realtime.SendService
}

// Transport streams realtime signals for a channel until ctx is done. The
// stream must include every event published after Stream returns.
type Transport interface {
	Stream(ctx context.Context, channelID string) (<-chan realtime.Signal, error)
}

// ReadMarkers persists the last record a user has seen.
type ReadMarkers interface {
	GetReadTo(ctx context.Context, channelID, user string) (*types.SequenceKey, error)
	SetReadTo(ctx context.Context, channelID, user string, key types.SequenceKey) error
}

// Options tunes every component of a session.
type Options struct {
	User            string
	PageSize        int
	Retry           pagination.RetryPolicy
	MaxGapPages     int
	HighlightExpiry time.Duration
	BottomSlack     int
	MaxJumpPages    int
	Height          viewport.HeightFunc
	Clock           clock.Clock
	Logger          *slog.Logger
}

// OptionsFromConfig maps project configuration onto session options.
func OptionsFromConfig(cfg core.Config) Options {
	return Options{
		User:     cfg.Username,
		PageSize: cfg.Pagination.PageSize,
		Retry: pagination.RetryPolicy{
			MaxAttempts: cfg.Pagination.MaxAttempts,
			BaseDelay:   cfg.Pagination.BaseDelay.Duration,
			MaxDelay:    cfg.Pagination.MaxDelay.Duration,
		},
		MaxGapPages:     cfg.Pagination.MaxGapPages,
		HighlightExpiry: cfg.Viewport.HighlightExpiry.Duration,
		BottomSlack:     cfg.Viewport.BottomSlack,
		MaxJumpPages:    cfg.Viewport.MaxJumpPages,
	}
}

// Session is one open conversation.
type Session struct {
	channelID string
	user      string
	logger    *slog.Logger
	markers   ReadMarkers

	store       *store.Store
	pager       *pagination.Controller
	reducer     *realtime.Reducer
	sender      *realtime.Sender
	tracker     *unread.Tracker
	coordinator *viewport.Coordinator
	dispatcher  *dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	subMu       sync.Mutex
	subscribers map[int]func(types.Change)
	nextSub     int

	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

// Open builds a session for channelID, loads the newest page, fixes the
// unread boundary and starts the realtime pump. transport and markers may be
// nil.
func Open(ctx context.Context, channelID string, backend Backend, transport Transport, markers ReadMarkers, opts Options) (*Session, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("channel", channelID)

	sessionCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(sessionCtx)

	s := &Session{
		channelID:   channelID,
		user:        opts.User,
		logger:      logger,
		markers:     markers,
		ctx:         groupCtx,
		cancel:      cancel,
		group:       group,
		subscribers: make(map[int]func(types.Change)),
	}
	s.dispatcher = newDispatcher(s.deliver)
	s.store = store.New(channelID, s.dispatcher.enqueue)
	s.pager = pagination.New(channelID, s.store, backend, pagination.Options{
		PageSize:    opts.PageSize,
		Retry:       opts.Retry,
		MaxGapPages: opts.MaxGapPages,
		Clock:       opts.Clock,
		Logger:      opts.Logger,
	})
	s.reducer = realtime.NewReducer(channelID, s.store, s.pager, opts.Logger)
	s.sender = realtime.NewSender(channelID, opts.User, s.store, backend, opts.Clock, opts.Logger)
	s.tracker = unread.New(opts.Clock, opts.HighlightExpiry)
	s.coordinator = viewport.New(s.store, s.pager, s.tracker, viewport.Options{
		BottomSlack:  opts.BottomSlack,
		MaxJumpPages: opts.MaxJumpPages,
		Height:       opts.Height,
		Settle:       s.dispatcher.idle,
		Clock:        opts.Clock,
		Logger:       opts.Logger,
	})
	s.tracker.OnChange(s.coordinator.Notify)

	stopDispatcher := context.AfterFunc(groupCtx, s.dispatcher.close)
	group.Go(func() error {
		defer stopDispatcher()
		return s.dispatcher.run()
	})

	// The stream starts before the first page so that nothing posted while
	// the page loads falls between the two. Events already in the page are
	// applied again as no-ops.
	var signals <-chan realtime.Signal
	if transport != nil {
		var err error
		signals, err = transport.Stream(groupCtx, channelID)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open %s stream: %w", channelID, err)
		}
	}

	if _, err := s.pager.LoadLatest(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open %s: %w", channelID, err)
	}
	s.dispatcher.idle()

	var lastSeen *types.SequenceKey
	if markers != nil && opts.User != "" {
		key, err := markers.GetReadTo(ctx, channelID, opts.User)
		if err != nil {
			logger.Warn("could not read last-seen marker", "error", err)
		}
		lastSeen = key
	}
	boundary := s.tracker.Open(s.store, lastSeen)
	logger.Debug("conversation opened", "records", s.store.Count(), "unread_boundary", boundary)

	if signals != nil {
		group.Go(func() error {
			return s.pump(groupCtx, signals)
		})
	}
	return s, nil
}

// pump applies transport signals in receipt order.
func (s *Session) pump(ctx context.Context, signals <-chan realtime.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				s.reducer.Disconnect(nil)
				return nil
			}
			if err := s.reducer.Apply(ctx, sig); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("realtime signal failed", "signal", sig.Kind, "error", err)
			}
		}
	}
}

func (s *Session) deliver(change types.Change) {
	s.coordinator.HandleChange(change)
	s.tracker.HandleChange(change)

	s.subMu.Lock()
	subscribers := make([]func(types.Change), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subscribers {
		fn(change)
	}
}

// Subscribe registers fn for every store change after the viewport and
// tracker have seen it. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(types.Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// Idle blocks until every queued change notification was handled.
func (s *Session) Idle() {
	s.dispatcher.idle()
}

func (s *Session) ChannelID() string                  { return s.channelID }
func (s *Session) Store() *store.Store                { return s.store }
func (s *Session) Pager() *pagination.Controller      { return s.pager }
func (s *Session) Reducer() *realtime.Reducer         { return s.reducer }
func (s *Session) Sender() *realtime.Sender           { return s.sender }
func (s *Session) Tracker() *unread.Tracker           { return s.tracker }
func (s *Session) Viewport() *viewport.Coordinator    { return s.coordinator }
func (s *Session) ViewportState() types.ViewportState { return s.coordinator.State() }

// MarkRead stores the newest confirmed record as the user's last-seen marker.
func (s *Session) MarkRead(ctx context.Context) error {
	if s.markers == nil || s.user == "" {
		return nil
	}
	rec, ok := s.store.NewestMatching(func(rec types.MessageRecord) bool {
		return rec.Status == types.StatusConfirmed
	})
	if !ok {
		return nil
	}
	if err := s.markers.SetReadTo(ctx, s.channelID, s.user, rec.Key()); err != nil {
		return fmt.Errorf("mark read %s: %w", s.channelID, err)
	}
	return nil
}

// Close cancels in-flight fetches, stops the highlight timer and waits for
// the session goroutines. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.pager.Close()
		s.tracker.Close()
		s.dispatcher.close()
		err := s.group.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = err
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}

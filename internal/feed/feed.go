// Package feed turns a project's event log into a realtime transport by
// tailing it with fsnotify.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/db"
	"github.com/adamavenir/frayline/internal/realtime"
	"github.com/fsnotify/fsnotify"
)

const (
	defaultReconnectDelay = time.Second
	signalBuffer          = 64
)

type watcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsWatcher struct {
	*fsnotify.Watcher
}

func (w fsWatcher) Events() <-chan fsnotify.Event { return w.Watcher.Events }
func (w fsWatcher) Errors() <-chan error          { return w.Watcher.Errors }

func newFSWatcher() (watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return fsWatcher{w}, nil
}

// Options configures a Tail.
type Options struct {
	// ReconnectDelay is how long to wait before re-watching after a watcher error.
	ReconnectDelay time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Tail streams events appended to one log file.
type Tail struct {
	path           string
	reconnectDelay time.Duration
	clock          clock.Clock
	logger         *slog.Logger
	newWatcher     func() (watcher, error)
}

// NewTail returns a transport over the event log at path.
func NewTail(path string, opts Options) *Tail {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tail{
		path:           path,
		reconnectDelay: opts.ReconnectDelay,
		clock:          opts.Clock,
		logger:         opts.Logger.With("component", "feed"),
		newWatcher:     newFSWatcher,
	}
}

// Stream implements session.Transport. It sends Connected once the log is
// watched, one Event per appended line for channelID, and Disconnected when
// the watch breaks. The channel closes when ctx is done.
//
// Only lines appended after a (re)connect are delivered; the reducer's resync
// covers anything written while disconnected.
func (t *Tail) Stream(ctx context.Context, channelID string) (<-chan realtime.Signal, error) {
	w, offset, err := t.watch()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", t.path, err)
	}

	out := make(chan realtime.Signal, signalBuffer)
	go t.run(ctx, channelID, w, offset, out)
	return out, nil
}

func (t *Tail) watch() (watcher, int64, error) {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, 0, err
	}
	w, err := t.newWatcher()
	if err != nil {
		return nil, 0, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, 0, err
	}
	var offset int64
	if info, err := os.Stat(t.path); err == nil {
		offset = info.Size()
	}
	return w, offset, nil
}

func (t *Tail) run(ctx context.Context, channelID string, w watcher, offset int64, out chan<- realtime.Signal) {
	defer close(out)

	for {
		if !t.send(ctx, out, realtime.Signal{Kind: realtime.SignalConnected}) {
			_ = w.Close()
			return
		}
		cause := t.follow(ctx, channelID, w, &offset, out)
		_ = w.Close()
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("event log watch lost", "path", t.path, "error", cause)
		if !t.send(ctx, out, realtime.Signal{Kind: realtime.SignalDisconnected, Err: cause}) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.clock.After(t.reconnectDelay):
			}
			var err error
			w, offset, err = t.watch()
			if err == nil {
				break
			}
			t.logger.Warn("event log rewatch failed", "path", t.path, "error", err)
		}
	}
}

// follow delivers appended events until the watcher fails or ctx ends.
func (t *Tail) follow(ctx context.Context, channelID string, w watcher, offset *int64, out chan<- realtime.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events():
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if filepath.Clean(event.Name) != filepath.Clean(t.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			events, next, err := db.ReadEventsFrom(t.path, *offset)
			*offset = next
			if err != nil {
				t.logger.Warn("read event log", "path", t.path, "error", err)
			}
			for _, ev := range events {
				// Undecodable lines carry no channel; forward them so the
				// reducer counts them as dropped.
				if ev.Kind != "" && ev.ChannelID != channelID {
					continue
				}
				if !t.send(ctx, out, realtime.Signal{Kind: realtime.SignalEvent, Event: ev}) {
					return ctx.Err()
				}
			}
		case err, ok := <-w.Errors():
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			return err
		}
	}
}

func (t *Tail) send(ctx context.Context, out chan<- realtime.Signal, sig realtime.Signal) bool {
	select {
	case out <- sig:
		return true
	case <-ctx.Done():
		return false
	}
}


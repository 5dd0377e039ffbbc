// Package pagetest provides an in-memory Fetcher for tests.
package pagetest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/adamavenir/frayline/internal/pagination"
	"github.com/adamavenir/frayline/internal/types"
)

// Backend serves pages from a sorted in-memory slice.
type Backend struct {
	mu       sync.Mutex
	records  []types.MessageRecord
	failures int
	err      error
	calls    int
	gate     chan struct{}
	started  chan struct{}
}

// NewBackend returns a backend holding records.
func NewBackend(records ...types.MessageRecord) *Backend {
	b := &Backend{started: make(chan struct{}, 64)}
	b.Add(records...)
	return b
}

// Messages builds n confirmed records with ids m-<first>..m-<first+n-1>,
// one second apart.
func Messages(channelID string, first, n int) []types.MessageRecord {
	out := make([]types.MessageRecord, 0, n)
	for i := first; i < first+n; i++ {
		out = append(out, types.MessageRecord{
			ID:        fmt.Sprintf("m-%d", i),
			ChannelID: channelID,
			TS:        int64(i) * 1000,
			FromAgent: "alice",
			Body:      fmt.Sprintf("message %d", i),
			Status:    types.StatusConfirmed,
		})
	}
	return out
}

// Add stores records, keeping ascending order.
func (b *Backend) Add(records ...types.MessageRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, records...)
	slices.SortFunc(b.records, func(a, c types.MessageRecord) int {
		return a.Key().Compare(c.Key())
	})
}

// FailNext makes the next n fetches return err.
func (b *Backend) FailNext(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = n
	b.err = err
}

// Hold makes fetches block until the returned release func is called.
func (b *Backend) Hold() (release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	b.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.gate == gate {
				b.gate = nil
			}
			b.mu.Unlock()
			close(gate)
		})
	}
}

// Started receives once per fetch that reached the backend.
func (b *Backend) Started() <-chan struct{} {
	return b.started
}

// Calls returns how many fetches were attempted.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *Backend) FetchPage(ctx context.Context, channelID string, dir pagination.Direction, cursor *types.SequenceKey, limit int) (pagination.Page, error) {
	b.mu.Lock()
	b.calls++
	if b.failures > 0 {
		b.failures--
		err := b.err
		b.mu.Unlock()
		return pagination.Page{}, err
	}
	page := pageOf(b.records, channelID, dir, cursor, limit)
	gate := b.gate
	b.mu.Unlock()

	select {
	case b.started <- struct{}{}:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return pagination.Page{}, ctx.Err()
		}
	}
	return page, nil
}

// Locate implements pagination.Locator.
func (b *Backend) Locate(ctx context.Context, channelID, id string) (types.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.MessageRecord{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	for _, rec := range b.records {
		if rec.ID == id && rec.ChannelID == channelID {
			return rec.Clone(), nil
		}
	}
	return types.MessageRecord{}, types.Permanent(fmt.Errorf("%w: %s", types.ErrNotFound, id))
}

func pageOf(records []types.MessageRecord, channelID string, dir pagination.Direction, cursor *types.SequenceKey, limit int) pagination.Page {
	var matched []types.MessageRecord
	for _, rec := range records {
		if rec.ChannelID != channelID {
			continue
		}
		key := rec.Key()
		switch {
		case cursor == nil:
		case dir == pagination.Newer && !cursor.Less(key):
			continue
		case dir != pagination.Newer && !key.Less(*cursor):
			continue
		}
		matched = append(matched, rec.Clone())
	}

	hasMore := len(matched) > limit
	if hasMore {
		if dir == pagination.Newer {
			matched = matched[:limit]
		} else {
			matched = matched[len(matched)-limit:]
		}
	}
	return pagination.Page{Records: matched, HasMore: hasMore}
}

// Package unread tracks where the reader left off, how many messages arrived
// while they were scrolled away, and the transient jump highlight.
package unread

import (
	"iter"
	"sync"
	"time"

	"github.com/adamavenir/frayline/internal/clock"
	"github.com/adamavenir/frayline/internal/types"
)

// DefaultHighlightExpiry is used when New is given a non-positive expiry.
const DefaultHighlightExpiry = 3 * time.Second

// Reader is the part of the store the tracker reads.
type Reader interface {
	Range(from, to *types.SequenceKey) iter.Seq[types.MessageRecord]
}

type Tracker struct {
	clock  clock.Clock
	expiry time.Duration

	mu               sync.Mutex
	opened           bool
	boundaryID       string
	highlightID      string
	highlightExpires time.Time
	timer            *clock.Timer
	generation       uint64
	newMessages      int
	observers        []func()
}

func New(clk clock.Clock, expiry time.Duration) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if expiry <= 0 {
		expiry = DefaultHighlightExpiry
	}
	return &Tracker{clock: clk, expiry: expiry}
}

// OnChange registers fn to run after highlight or counter changes, including
// expiry from the timer goroutine.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

func (t *Tracker) notify() {
	t.mu.Lock()
	observers := append([]func(){}, t.observers...)
	t.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// Open fixes the unread boundary at the first visible record after lastSeen.
// The boundary does not move again until Close. A nil lastSeen means there is
// nothing to mark.
func (t *Tracker) Open(reader Reader, lastSeen *types.SequenceKey) string {
	t.mu.Lock()
	if t.opened {
		defer t.mu.Unlock()
		return t.boundaryID
	}
	t.opened = true
	t.mu.Unlock()

	boundary := ""
	if lastSeen != nil {
		for rec := range reader.Range(lastSeen, nil) {
			if rec.Key() == *lastSeen {
				continue
			}
			boundary = rec.ID
			break
		}
	}

	t.mu.Lock()
	t.boundaryID = boundary
	t.mu.Unlock()
	return boundary
}

// BoundaryID returns the unread boundary, or "" when everything was seen.
func (t *Tracker) BoundaryID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boundaryID
}

// Highlight sets id as the highlighted record and restarts the expiry timer.
func (t *Tracker) Highlight(id string) {
	t.mu.Lock()
	t.generation++
	generation := t.generation
	t.timer.Stop()
	t.highlightID = id
	t.highlightExpires = t.clock.Now().Add(t.expiry)
	t.mu.Unlock()

	timer := t.clock.AfterFunc(t.expiry, func() { t.expire(generation) })

	t.mu.Lock()
	if t.generation == generation {
		t.timer = timer
	} else {
		timer.Stop()
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) expire(generation uint64) {
	t.mu.Lock()
	if t.generation != generation || t.highlightID == "" {
		t.mu.Unlock()
		return
	}
	t.highlightID = ""
	t.highlightExpires = time.Time{}
	t.timer = nil
	t.mu.Unlock()
	t.notify()
}

// ClearHighlight drops the highlight now, whatever the timer state.
func (t *Tracker) ClearHighlight() {
	t.mu.Lock()
	had := t.clearLocked()
	t.mu.Unlock()
	if had {
		t.notify()
	}
}

func (t *Tracker) clearLocked() bool {
	t.generation++
	t.timer.Stop()
	t.timer = nil
	had := t.highlightID != ""
	t.highlightID = ""
	t.highlightExpires = time.Time{}
	return had
}

// Highlighted returns the highlighted id and when it expires.
func (t *Tracker) Highlighted() (string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highlightID, t.highlightExpires
}

// Forget clears the highlight if it points at id.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	if t.highlightID != id {
		t.mu.Unlock()
		return
	}
	t.clearLocked()
	t.mu.Unlock()
	t.notify()
}

// HandleChange drops the highlight of a record that was deleted or replaced.
func (t *Tracker) HandleChange(change types.Change) {
	if change.Deleted {
		t.Forget(change.ID)
	}
	if change.PrevID != "" {
		t.Forget(change.PrevID)
	}
}

// MessageArrived counts a message that arrived while scrolled away.
func (t *Tracker) MessageArrived() {
	t.mu.Lock()
	t.newMessages++
	t.mu.Unlock()
	t.notify()
}

// ResetNewMessages zeroes the counter.
func (t *Tracker) ResetNewMessages() {
	t.mu.Lock()
	had := t.newMessages != 0
	t.newMessages = 0
	t.mu.Unlock()
	if had {
		t.notify()
	}
}

func (t *Tracker) NewMessages() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.newMessages
}

// Close stops the expiry timer and forgets all state.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.clearLocked()
	t.opened = false
	t.boundaryID = ""
	t.newMessages = 0
	t.observers = nil
	t.mu.Unlock()
}

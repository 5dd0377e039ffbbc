// Package store keeps one conversation's messages ordered by sequence key,
// deduplicated by id, and reconciles optimistic records with their
// confirmations.
package store

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/adamavenir/frayline/internal/types"
	"github.com/google/btree"
)

const (
	btreeDegree = 32
	rangeChunk  = 64
)

// Sink receives one Change per mutation, in mutation order. It is called with
// the store's write lock held, so it must not call back into the Store and
// should only enqueue.
type Sink func(types.Change)

type reactionKey struct {
	reaction string
	user     string
}

type entry struct {
	key types.SequenceKey
	rec *types.MessageRecord
}

func lessEntry(a, b *entry) bool {
	return a.key.Less(b.key)
}

// Store is safe for concurrent use. The position of a record is fixed when it
// is first inserted; later updates of the same id never move it.
type Store struct {
	mu        sync.RWMutex
	channelID string
	tree      *btree.BTreeG[*entry]
	byID      map[string]*entry
	// byCorrelation indexes local (pending or failed) records only.
	byCorrelation map[string]*entry
	// tombstoned remembers deletes for ids that were not loaded yet.
	tombstoned map[string]struct{}
	// reactionEvents holds the last realtime add/remove per message, reaction
	// and user. Page snapshots may predate them, so they are applied on top.
	reactionEvents map[string]map[reactionKey]bool
	live           int
	oldest         *entry
	newest         *entry
	sink           Sink
}

// New returns an empty store for channelID. sink may be nil.
func New(channelID string, sink Sink) *Store {
	if sink == nil {
		sink = func(types.Change) {}
	}
	return &Store{
		channelID:      channelID,
		tree:           btree.NewG[*entry](btreeDegree, lessEntry),
		byID:           make(map[string]*entry),
		byCorrelation:  make(map[string]*entry),
		tombstoned:     make(map[string]struct{}),
		reactionEvents: make(map[string]map[reactionKey]bool),
		sink:           sink,
	}
}

// ChannelID returns the conversation this store belongs to.
func (s *Store) ChannelID() string {
	return s.channelID
}

func (s *Store) validate(rec *types.MessageRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: missing id", types.ErrInvalidRecord)
	}
	if rec.ChannelID == "" {
		rec.ChannelID = s.channelID
	}
	if rec.ChannelID != s.channelID {
		return fmt.Errorf("%w: %s is in %s, not %s", types.ErrWrongChannel, rec.ID, rec.ChannelID, s.channelID)
	}
	if rec.Status == "" {
		rec.Status = types.StatusConfirmed
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", types.ErrInvalidRecord, rec.Status)
	}
	temporary := types.IsTemporaryID(rec.ID)
	if rec.Status.IsLocal() != temporary {
		return fmt.Errorf("%w: %s record %s has the wrong id namespace", types.ErrInvalidRecord, rec.Status, rec.ID)
	}
	if temporary && rec.CorrelationID == "" {
		return fmt.Errorf("%w: local record %s has no correlation id", types.ErrInvalidRecord, rec.ID)
	}
	return nil
}

// Upsert inserts rec or replaces the record with the same id. A confirmed
// record whose correlation id matches a local record replaces that record in
// a single mutation. The returned bool is false when nothing changed.
func (s *Store) Upsert(rec types.MessageRecord, origin types.Origin) (types.Change, bool, error) {
	rec = rec.Clone()
	if err := s.validate(&rec); err != nil {
		return types.Change{}, false, err
	}
	rec.Reactions = types.NormalizeReactions(rec.Reactions)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tombstoned[rec.ID]; ok {
		rec.Status = types.StatusDeleted
	}
	if existing := s.byID[rec.ID]; existing != nil {
		return s.replaceLocked(existing, rec, origin)
	}
	if !rec.Status.IsLocal() && rec.CorrelationID != "" {
		if local := s.byCorrelation[rec.CorrelationID]; local != nil {
			return s.reconcileLocked(local, rec, origin)
		}
	}
	return s.insertLocked(rec, origin)
}

// Update applies an edit to an existing record without moving it. Reactions
// are only taken from rec when it carries any.
func (s *Store) Update(rec types.MessageRecord, origin types.Origin) (types.Change, bool, error) {
	if rec.ID == "" {
		return types.Change{}, false, fmt.Errorf("%w: missing id", types.ErrInvalidRecord)
	}
	if rec.ChannelID != "" && rec.ChannelID != s.channelID {
		return types.Change{}, false, fmt.Errorf("%w: %s", types.ErrWrongChannel, rec.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.byID[rec.ID]
	if existing == nil {
		return types.Change{}, false, fmt.Errorf("%w: %s", types.ErrNotFound, rec.ID)
	}
	merged := existing.rec.Clone()
	merged.Body = rec.Body
	if rec.EditedAt != nil {
		editedAt := *rec.EditedAt
		merged.EditedAt = &editedAt
	}
	if rec.Reactions != nil {
		merged.Reactions = types.NormalizeReactions(rec.Reactions)
	}
	if rec.Status == types.StatusDeleted {
		merged.Status = types.StatusDeleted
	}
	return s.replaceLocked(existing, merged, origin)
}

func (s *Store) replaceLocked(e *entry, rec types.MessageRecord, origin types.Origin) (types.Change, bool, error) {
	prev := *e.rec
	rec.TS = prev.TS
	if prev.Deleted() {
		rec.Status = types.StatusDeleted
	}
	if origin == types.OriginPage {
		s.keepNewerLocked(&rec, prev)
	}
	if rec.Equal(prev) {
		return types.Change{}, false, nil
	}

	if prev.Status.IsLocal() {
		delete(s.byCorrelation, prev.CorrelationID)
	}
	if rec.Status.IsLocal() {
		s.byCorrelation[rec.CorrelationID] = e
	}
	kind := types.ChangeReplaced
	if !prev.Deleted() && rec.Deleted() {
		s.live--
		kind = types.ChangeRemoved
	}
	*e.rec = rec

	change := types.Change{
		Kind:     kind,
		ID:       rec.ID,
		Origin:   origin,
		LiveEdge: s.newest == e,
		Deleted:  rec.Deleted(),
	}
	s.sink(change)
	return change, true, nil
}

// keepNewerLocked stops a page snapshot from rolling back an edit or a
// reaction change that was already applied from a newer source.
func (s *Store) keepNewerLocked(rec *types.MessageRecord, prev types.MessageRecord) {
	if olderEdit(rec.EditedAt, prev.EditedAt) {
		rec.Body = prev.Body
		editedAt := *prev.EditedAt
		rec.EditedAt = &editedAt
	}
	if events := s.reactionEvents[rec.ID]; len(events) > 0 {
		for key, add := range events {
			rec.Reactions = setReaction(rec.Reactions, key.reaction, key.user, add)
		}
	}
}

// olderEdit reports whether candidate is an older edit stamp than stored. A
// missing stamp is older than any edit.
func olderEdit(candidate, stored *int64) bool {
	if stored == nil {
		return false
	}
	return candidate == nil || *candidate < *stored
}

// ForgetReactionEvents drops the remembered realtime reaction changes. Call it
// before a resync, whose pages are newer than every event seen so far.
func (s *Store) ForgetReactionEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.reactionEvents)
}

func (s *Store) reconcileLocked(local *entry, rec types.MessageRecord, origin types.Origin) (types.Change, bool, error) {
	s.tree.Delete(local)
	delete(s.byID, local.rec.ID)
	delete(s.byCorrelation, local.rec.CorrelationID)

	e := &entry{key: rec.Key(), rec: &rec}
	s.tree.ReplaceOrInsert(e)
	s.byID[rec.ID] = e
	delete(s.tombstoned, rec.ID)
	if rec.Deleted() {
		s.live--
	}
	s.recomputeBoundsLocked()

	change := types.Change{
		Kind:     types.ChangeReplaced,
		ID:       rec.ID,
		PrevID:   local.rec.ID,
		Origin:   origin,
		LiveEdge: s.newest == e,
		Deleted:  rec.Deleted(),
	}
	s.sink(change)
	return change, true, nil
}

func (s *Store) insertLocked(rec types.MessageRecord, origin types.Origin) (types.Change, bool, error) {
	e := &entry{key: rec.Key(), rec: &rec}
	s.tree.ReplaceOrInsert(e)
	s.byID[rec.ID] = e
	delete(s.tombstoned, rec.ID)
	if rec.Status.IsLocal() {
		s.byCorrelation[rec.CorrelationID] = e
	}
	if !rec.Deleted() {
		s.live++
	}
	if s.oldest == nil || e.key.Less(s.oldest.key) {
		s.oldest = e
	}
	if s.newest == nil || s.newest.key.Less(e.key) {
		s.newest = e
	}

	change := types.Change{
		Kind:     types.ChangeInserted,
		ID:       rec.ID,
		Origin:   origin,
		LiveEdge: s.newest == e,
		Deleted:  rec.Deleted(),
	}
	s.sink(change)
	return change, true, nil
}

func (s *Store) recomputeBoundsLocked() {
	s.oldest, _ = s.tree.Min()
	s.newest, _ = s.tree.Max()
}

// Remove tombstones a backend record. The record keeps its position. Removing
// an id that is not loaded yet is remembered, so the record arrives already
// tombstoned. Local records are dropped with Discard instead.
func (s *Store) Remove(id string, origin types.Origin) (types.Change, bool, error) {
	if id == "" {
		return types.Change{}, false, fmt.Errorf("%w: missing id", types.ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.byID[id]
	if e == nil {
		if !types.IsTemporaryID(id) {
			s.tombstoned[id] = struct{}{}
		}
		return types.Change{}, false, nil
	}
	if e.rec.Status.IsLocal() {
		return types.Change{}, false, fmt.Errorf("%w: %s is unsent; discard it instead", types.ErrInvalidRecord, id)
	}
	if e.rec.Deleted() {
		return types.Change{}, false, nil
	}
	e.rec.Status = types.StatusDeleted
	s.live--

	change := types.Change{
		Kind:     types.ChangeRemoved,
		ID:       id,
		Origin:   origin,
		LiveEdge: s.newest == e,
		Deleted:  true,
	}
	s.sink(change)
	return change, true, nil
}

// Discard drops a pending or failed record the backend never acknowledged.
func (s *Store) Discard(id string) (types.Change, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.byID[id]
	if e == nil {
		return types.Change{}, false, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	if !e.rec.Status.IsLocal() {
		return types.Change{}, false, fmt.Errorf("%w: %s was acknowledged by the backend", types.ErrInvalidRecord, id)
	}
	wasNewest := s.newest == e
	s.tree.Delete(e)
	delete(s.byID, id)
	delete(s.byCorrelation, e.rec.CorrelationID)
	s.live--
	s.recomputeBoundsLocked()

	change := types.Change{
		Kind:     types.ChangeRemoved,
		ID:       id,
		Origin:   types.OriginLocal,
		LiveEdge: wasNewest,
		Deleted:  true,
	}
	s.sink(change)
	return change, true, nil
}

// SetStatus moves a local record between pending and failed.
func (s *Store) SetStatus(id string, status types.MessageStatus) (types.Change, bool, error) {
	if !status.IsLocal() {
		return types.Change{}, false, fmt.Errorf("%w: status %q is not a local status", types.ErrInvalidRecord, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.byID[id]
	if e == nil {
		return types.Change{}, false, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}
	if !e.rec.Status.IsLocal() {
		return types.Change{}, false, fmt.Errorf("%w: %s was acknowledged by the backend", types.ErrInvalidRecord, id)
	}
	if e.rec.Status == status {
		return types.Change{}, false, nil
	}
	e.rec.Status = status

	change := types.Change{
		Kind:     types.ChangeReplaced,
		ID:       id,
		Origin:   types.OriginLocal,
		LiveEdge: s.newest == e,
	}
	s.sink(change)
	return change, true, nil
}

// ApplyReaction adds or removes userID from a reaction set. Adding a reaction
// the user already gave, or removing one they never gave, changes nothing.
func (s *Store) ApplyReaction(messageID, reaction, userID string, add bool, origin types.Origin) (types.Change, bool, error) {
	if reaction == "" || userID == "" {
		return types.Change{}, false, fmt.Errorf("%w: reaction and user are required", types.ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.byID[messageID]
	if e == nil {
		return types.Change{}, false, fmt.Errorf("%w: %s", types.ErrNotFound, messageID)
	}
	if e.rec.Deleted() {
		return types.Change{}, false, nil
	}
	if origin != types.OriginPage {
		events := s.reactionEvents[messageID]
		if events == nil {
			events = make(map[reactionKey]bool)
			s.reactionEvents[messageID] = events
		}
		events[reactionKey{reaction: reaction, user: userID}] = add
	}

	if hasReaction(e.rec.Reactions, reaction, userID) == add {
		return types.Change{}, false, nil
	}
	e.rec.Reactions = setReaction(e.rec.Reactions, reaction, userID, add)

	change := types.Change{
		Kind:     types.ChangeReactionChanged,
		ID:       messageID,
		Origin:   origin,
		LiveEdge: s.newest == e,
	}
	s.sink(change)
	return change, true, nil
}

func hasReaction(reactions map[string][]string, reaction, userID string) bool {
	users := reactions[reaction]
	idx := sort.SearchStrings(users, userID)
	return idx < len(users) && users[idx] == userID
}

// setReaction adds or removes userID in place and returns the map, which is
// allocated when needed. User lists are copied before they change.
func setReaction(reactions map[string][]string, reaction, userID string, add bool) map[string][]string {
	users := reactions[reaction]
	idx := sort.SearchStrings(users, userID)
	present := idx < len(users) && users[idx] == userID
	if add == present {
		return reactions
	}
	if add {
		users = slices.Insert(slices.Clone(users), idx, userID)
	} else {
		users = slices.Delete(slices.Clone(users), idx, idx+1)
	}
	if reactions == nil {
		reactions = make(map[string][]string)
	}
	if len(users) == 0 {
		delete(reactions, reaction)
	} else {
		reactions[reaction] = users
	}
	return reactions
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (types.MessageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.byID[id]
	if e == nil {
		return types.MessageRecord{}, false
	}
	return e.rec.Clone(), true
}

// FindByCorrelation returns the local record waiting for confirmation under
// correlationID.
func (s *Store) FindByCorrelation(correlationID string) (types.MessageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.byCorrelation[correlationID]
	if e == nil {
		return types.MessageRecord{}, false
	}
	return e.rec.Clone(), true
}

// Count returns the number of records that are not tombstones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Len returns the number of records including tombstones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Oldest returns the first record in sequence order, tombstones included.
func (s *Store) Oldest() (types.MessageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.oldest == nil {
		return types.MessageRecord{}, false
	}
	return s.oldest.rec.Clone(), true
}

// Newest returns the last record in sequence order, tombstones included.
func (s *Store) Newest() (types.MessageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.newest == nil {
		return types.MessageRecord{}, false
	}
	return s.newest.rec.Clone(), true
}

// NewestMatching returns the newest record match accepts. match must not call
// back into the Store.
func (s *Store) NewestMatching(match func(types.MessageRecord) bool) (types.MessageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found types.MessageRecord
		ok    bool
	)
	s.tree.Descend(func(e *entry) bool {
		if match(*e.rec) {
			found = e.rec.Clone()
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// Range yields non-deleted records with from <= key <= to in ascending order.
// Nil bounds are open. The sequence can be iterated any number of times; no
// lock is held while the caller's loop body runs.
func (s *Store) Range(from, to *types.SequenceKey) iter.Seq[types.MessageRecord] {
	return s.scan(from, to, false)
}

// RangeAll is Range including tombstones.
func (s *Store) RangeAll(from, to *types.SequenceKey) iter.Seq[types.MessageRecord] {
	return s.scan(from, to, true)
}

// Snapshot returns every record, tombstones included.
func (s *Store) Snapshot() []types.MessageRecord {
	return slices.Collect(s.RangeAll(nil, nil))
}

func (s *Store) scan(from, to *types.SequenceKey, includeDeleted bool) iter.Seq[types.MessageRecord] {
	return func(yield func(types.MessageRecord) bool) {
		var after *types.SequenceKey
		for {
			batch, last, more := s.collect(from, after, to, includeDeleted)
			for _, rec := range batch {
				if !yield(rec) {
					return
				}
			}
			if !more {
				return
			}
			after = &last
		}
	}
}

func (s *Store) collect(from, after, to *types.SequenceKey, includeDeleted bool) ([]types.MessageRecord, types.SequenceKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		batch []types.MessageRecord
		last  types.SequenceKey
		more  bool
	)
	visit := func(e *entry) bool {
		if after != nil && !after.Less(e.key) {
			return true
		}
		if to != nil && to.Less(e.key) {
			return false
		}
		last = e.key
		if includeDeleted || !e.rec.Deleted() {
			batch = append(batch, e.rec.Clone())
		}
		if len(batch) >= rangeChunk {
			more = true
			return false
		}
		return true
	}

	switch {
	case after != nil:
		s.tree.AscendGreaterOrEqual(&entry{key: *after}, visit)
	case from != nil:
		s.tree.AscendGreaterOrEqual(&entry{key: *from}, visit)
	default:
		s.tree.Ascend(visit)
	}
	return batch, last, more
}

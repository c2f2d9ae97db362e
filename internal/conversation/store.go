package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	"github.com/teamhubhq/chat-core/internal/models"
)

const (
	// defaultMatchTolerance bounds how far a pending write's local timestamp
	// may drift from the server-assigned one and still count as the same
	// message when the ack id is not yet known.
	defaultMatchTolerance = 2 * time.Second
	defaultOrphanTTL      = 30 * time.Second
)

// Store maintains the canonical ordered message log for one scope,
// reconciling three inputs: the initial bulk fetch, live feed events, and
// local pending writes.
//
// Invariants: the log is sorted by (created_at, id) with no duplicate ids,
// and a send followed by its own echo never yields two visible copies.
// Deletes are tombstones; entries keep their position.
type Store struct {
	mu    sync.Mutex
	scope models.Scope

	entries []*models.Message
	byID    map[models.ObjectID]*models.Message

	pending map[string]*models.Message     // temp key -> optimistic entry
	orphans map[models.ObjectID][]orphanOp // buffered ops for unseen ids

	watermark time.Time

	orphanTTL      time.Duration
	matchTolerance time.Duration
	now            func() time.Time
	log            *logger.Logger
}

// orphanOp is an update, delete or reaction event that arrived before the
// insert of its target message.
type orphanOp struct {
	patch    *models.MessagePatch
	reaction *models.ReactionOp
	at       time.Time
	deadline time.Time
}

type Option func(*Store)

func WithOrphanTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.orphanTTL = ttl
		}
	}
}

func WithMatchTolerance(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.matchTolerance = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(scope models.Scope, opts ...Option) *Store {
	s := &Store{
		scope:          scope,
		byID:           make(map[models.ObjectID]*models.Message),
		pending:        make(map[string]*models.Message),
		orphans:        make(map[models.ObjectID][]orphanOp),
		orphanTTL:      defaultOrphanTTL,
		matchTolerance: defaultMatchTolerance,
		now:            time.Now,
		log:            logger.MustNamed("conversation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Scope() models.Scope {
	return s.scope
}

// Seed merges the initial bulk fetch into the log. Merging is by id, so a
// write confirmed while the fetch was in flight survives, as do pending
// entries added before the fetch landed.
func (s *Store) Seed(msgs []*models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		cp := *m
		cp.Status = models.StatusConfirmed
		s.insertSortedLocked(&cp)
		s.byID[cp.ID] = &cp
		s.advanceWatermarkLocked(cp.CreatedAt)
	}
}

// ApplyEvent routes a feed event into the log. Unknown types are ignored;
// presence and typing never reach the store.
func (s *Store) ApplyEvent(ev models.ChangeEvent) {
	switch ev.Type {
	case models.EventInserted:
		if ev.Message != nil {
			s.ApplyInsert(ev.Message)
		}
	case models.EventUpdated:
		if ev.Reaction != nil {
			s.ApplyReaction(*ev.Reaction, ev.OccurredAt)
			return
		}
		if ev.Patch != nil {
			s.ApplyPatch(ev.MessageID, *ev.Patch, ev.OccurredAt)
		}
	case models.EventDeleted:
		s.ApplyDelete(ev.MessageID, ev.OccurredAt)
	}
}

// ApplyInsert merges a live insert event. If the event matches a pending
// write (by acked id, or by author and body within the timestamp tolerance)
// the pending entry is promoted in place instead of appended, so the sender
// never sees the message duplicate or jump.
func (s *Store) ApplyInsert(msg *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireOrphansLocked()

	if _, ok := s.byID[msg.ID]; ok {
		// duplicate delivery, at-least-once feeds do this
		return
	}

	if entry := s.matchPendingLocked(msg); entry != nil {
		s.promoteLocked(entry, msg)
		s.replayOrphansLocked(msg.ID)
		s.advanceWatermarkLocked(msg.CreatedAt)
		return
	}

	cp := *msg
	cp.Status = models.StatusConfirmed
	s.insertSortedLocked(&cp)
	s.byID[cp.ID] = &cp
	s.replayOrphansLocked(cp.ID)
	s.advanceWatermarkLocked(cp.CreatedAt)
}

// ApplyPatch merges an update event. If the target insert has not arrived
// yet, the patch is buffered until it does, bounded by the orphan TTL.
func (s *Store) ApplyPatch(id models.ObjectID, patch models.MessagePatch, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireOrphansLocked()

	if m, ok := s.byID[id]; ok {
		patch.Apply(m)
		return
	}
	s.bufferOrphanLocked(id, orphanOp{patch: &patch, at: at})
}

// ApplyDelete merges a delete event as a tombstone; the entry keeps its
// position so readers mid-scroll are not disturbed.
func (s *Store) ApplyDelete(id models.ObjectID, at time.Time) {
	deleted := true
	s.ApplyPatch(id, models.MessagePatch{Deleted: &deleted, DeletedAt: &at, UpdatedAt: at}, at)
}

// ApplyReaction merges a per-identity reaction delta, buffering it when the
// target message is unseen.
func (s *Store) ApplyReaction(op models.ReactionOp, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireOrphansLocked()

	if m, ok := s.byID[op.MessageID]; ok {
		applyReactionLocked(m, op)
		return
	}
	s.bufferOrphanLocked(op.MessageID, orphanOp{reaction: &op, at: at})
}

// AddPending inserts an optimistic, not-yet-acknowledged message.
func (s *Store) AddPending(msg *models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *msg
	cp.Status = models.StatusPending
	s.pending[cp.TempKey] = &cp
	s.insertSortedLocked(&cp)
}

// ConfirmPending promotes a pending write with the identity assigned by the
// durable store. If the echo event already arrived and was inserted as a
// confirmed entry, the pending duplicate is dropped instead.
func (s *Store) ConfirmPending(tempKey string, id models.ObjectID, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[tempKey]
	if !ok {
		return
	}

	if _, exists := s.byID[id]; exists {
		// echo won the race; the confirmed copy is already in the log
		s.removeEntryLocked(entry)
		delete(s.pending, tempKey)
		return
	}

	entry.ID = id
	entry.CreatedAt = createdAt
	entry.UpdatedAt = createdAt
	entry.Status = models.StatusConfirmed
	entry.TempKey = ""
	delete(s.pending, tempKey)
	s.byID[id] = entry
	s.ensureSortedLocked()
	s.replayOrphansLocked(id)
	s.advanceWatermarkLocked(createdAt)
}

// FailPending flags a rejected write. The entry stays visible so the user
// can retry or discard it; silent disappearance is a correctness bug.
func (s *Store) FailPending(tempKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.pending[tempKey]; ok {
		entry.Status = models.StatusFailed
	}
}

// DiscardPending removes a failed or pending write at the user's request.
func (s *Store) DiscardPending(tempKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.pending[tempKey]; ok {
		s.removeEntryLocked(entry)
		delete(s.pending, tempKey)
	}
}

// Pending returns the optimistic entry for tempKey, if still unresolved.
func (s *Store) Pending(tempKey string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.pending[tempKey]; ok {
		return *entry, true
	}
	return models.Message{}, false
}

// Resync merges messages fetched after a subscription gap. Merging is by id
// and idempotent, so overlap with already-applied events is harmless.
func (s *Store) Resync(msgs []*models.Message) {
	for _, m := range msgs {
		s.ApplyInsert(m)
	}
}

// Watermark is the creation time of the newest message seen; reconnect
// fetches start from it minus a safety skew.
func (s *Store) Watermark() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// Messages returns a snapshot of the log in canonical order.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, len(s.entries))
	for i, m := range s.entries {
		out[i] = *m
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// matchPendingLocked finds the pending write an insert event echoes. An id
// match is impossible here: once the write ack assigns the id the entry is
// already promoted and the echo dedupes against byID, so matching falls back to
// (author, body, timestamp-within-tolerance).
func (s *Store) matchPendingLocked(msg *models.Message) *models.Message {
	for _, entry := range s.pending {
		if entry.Status == models.StatusFailed {
			continue
		}
		if entry.SenderID != msg.SenderID || entry.Body != msg.Body {
			continue
		}
		drift := msg.CreatedAt.Sub(entry.CreatedAt)
		if drift < 0 {
			drift = -drift
		}
		if drift <= s.matchTolerance {
			return entry
		}
	}
	return nil
}

// promoteLocked replaces a pending entry's content with the authoritative
// event in place, keeping its slice position where the order allows.
func (s *Store) promoteLocked(entry *models.Message, msg *models.Message) {
	delete(s.pending, entry.TempKey)

	*entry = *msg
	entry.TempKey = ""
	entry.Status = models.StatusConfirmed
	s.byID[entry.ID] = entry
	s.ensureSortedLocked()
}

func (s *Store) insertSortedLocked(m *models.Message) {
	idx := sort.Search(len(s.entries), func(i int) bool {
		return m.Before(s.entries[i])
	})
	s.entries = append(s.entries, nil)
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = m
}

func (s *Store) removeEntryLocked(m *models.Message) {
	for i, e := range s.entries {
		if e == m {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// ensureSortedLocked restores the (created_at, id) order after an in-place
// promotion moved an entry's timestamp. Sorting is stable, so entries with
// untouched keys keep their positions.
func (s *Store) ensureSortedLocked() {
	for i := 1; i < len(s.entries); i++ {
		if s.entries[i].Before(s.entries[i-1]) {
			sort.SliceStable(s.entries, func(a, b int) bool {
				return s.entries[a].Before(s.entries[b])
			})
			return
		}
	}
}

func (s *Store) bufferOrphanLocked(id models.ObjectID, op orphanOp) {
	op.deadline = s.now().Add(s.orphanTTL)
	s.orphans[id] = append(s.orphans[id], op)
}

func (s *Store) replayOrphansLocked(id models.ObjectID) {
	ops, ok := s.orphans[id]
	if !ok {
		return
	}
	delete(s.orphans, id)

	m := s.byID[id]
	if m == nil {
		return
	}

	sort.SliceStable(ops, func(a, b int) bool {
		return ops[a].at.Before(ops[b].at)
	})
	for _, op := range ops {
		switch {
		case op.patch != nil:
			op.patch.Apply(m)
		case op.reaction != nil:
			applyReactionLocked(m, *op.reaction)
		}
	}
}

// expireOrphansLocked drops buffered ops whose target never arrived. This is
// an anomaly, not a failure: the feed delivered an update for a message the
// client will never see.
func (s *Store) expireOrphansLocked() {
	now := s.now()
	for id, ops := range s.orphans {
		kept := ops[:0]
		for _, op := range ops {
			if op.deadline.After(now) {
				kept = append(kept, op)
			}
		}
		if len(kept) == 0 {
			delete(s.orphans, id)
			s.log.Warnw("dropped orphaned events for unknown message",
				"scope", s.scope.Key(), "message_id", string(id), "count", len(ops))
			continue
		}
		s.orphans[id] = kept
	}
}

func (s *Store) advanceWatermarkLocked(t time.Time) {
	if t.After(s.watermark) {
		s.watermark = t
	}
}

func applyReactionLocked(m *models.Message, op models.ReactionOp) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	users := m.Reactions[op.Emoji]
	idx := -1
	for i, u := range users {
		if u == op.UserID {
			idx = i
			break
		}
	}
	switch {
	case op.Added && idx < 0:
		m.Reactions[op.Emoji] = append(users, op.UserID)
	case !op.Added && idx >= 0:
		m.Reactions[op.Emoji] = append(users[:idx], users[idx+1:]...)
		if len(m.Reactions[op.Emoji]) == 0 {
			delete(m.Reactions, op.Emoji)
		}
	}
}

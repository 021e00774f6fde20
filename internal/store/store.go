// Package store holds the authoritative in-memory, per-conversation
// ordered, deduplicated message collection. Every producer (history
// fetch, push event, local optimistic echo) mutates it through the
// same narrow merge contract, which is what makes at-least-once
// delivery safe to consume.
package store

import (
	"sort"
	"sync"

	"github.com/MinhQuang2612/chatsync/internal/metrics"
	"github.com/MinhQuang2612/chatsync/internal/models"
)

// MergeResult reports what a merge did.
type MergeResult int

const (
	// MergeRejected: the message failed validation and was discarded.
	MergeRejected MergeResult = iota
	// MergeInserted: a new entry was added.
	MergeInserted
	// MergeUpdated: an existing entry was confirmed or upgraded in
	// place (pending → confirmed, placeholder → final payload, or a
	// seenBy union that grew the set).
	MergeUpdated
	// MergeUnchanged: a duplicate; nothing visible changed.
	MergeUnchanged
)

func (r MergeResult) String() string {
	switch r {
	case MergeInserted:
		return "inserted"
	case MergeUpdated:
		return "updated"
	case MergeUnchanged:
		return "unchanged"
	default:
		return "rejected"
	}
}

type conversation struct {
	order []*models.Message
	ids   map[string]*models.Message
}

// Store is the message store for one session. selfID decides which peer
// conversation an inbound message files under.
type Store struct {
	selfID string

	mu            sync.Mutex
	conversations map[models.ConversationRef]*conversation
	listeners     []func(models.ConversationRef)
}

// New creates an empty store for the given local user.
func New(selfID string) *Store {
	return &Store{
		selfID:        selfID,
		conversations: make(map[models.ConversationRef]*conversation),
	}
}

// OnChange registers a listener invoked after every mutation of a
// conversation. Listeners run outside the store lock and may read the
// store; the seen tracker's level-triggered scan hangs off this.
func (s *Store) OnChange(fn func(models.ConversationRef)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(ref models.ConversationRef) {
	s.mu.Lock()
	fns := make([]func(models.ConversationRef), len(s.listeners))
	copy(fns, s.listeners)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ref)
	}
}

func (s *Store) conv(ref models.ConversationRef) *conversation {
	c, ok := s.conversations[ref]
	if !ok {
		c = &conversation{ids: make(map[string]*models.Message)}
		s.conversations[ref] = c
	}
	return c
}

// Merge applies a message idempotently. Same-ID rules:
//
//   - existing entry pending: adopt the incoming payload/timestamp and
//     status (this covers both the confirmed remote copy replacing an
//     optimistic echo, and the placeholder→final payload upgrade),
//     union seenBy.
//   - otherwise: union seenBy, discard the duplicate content.
//
// New IDs are inserted and the conversation re-sorted by
// (createdAt, id). No duplicate is ever inserted.
func (s *Store) Merge(m models.Message) MergeResult {
	res, ref := s.merge(m)
	metrics.Merges.WithLabelValues(res.String()).Inc()
	if res == MergeInserted || res == MergeUpdated {
		s.notify(ref)
	}
	return res
}

func (s *Store) merge(m models.Message) (MergeResult, models.ConversationRef) {
	if err := m.Validate(); err != nil {
		return MergeRejected, models.ConversationRef{}
	}
	ref := m.ConversationFor(s.selfID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conv(ref)
	if existing, ok := c.ids[m.ID]; ok {
		changed := unionSeen(existing, m.SeenBy)
		if existing.Status == models.StatusPending {
			if m.Payload != "" {
				existing.Payload = m.Payload
			}
			if m.Kind != "" {
				existing.Kind = m.Kind
			}
			if m.ServerID != "" {
				existing.ServerID = m.ServerID
			}
			if m.CreatedAt != 0 && m.CreatedAt != existing.CreatedAt {
				existing.CreatedAt = m.CreatedAt
				s.resort(c)
			}
			existing.Status = m.Status
			return MergeUpdated, ref
		}
		if changed {
			return MergeUpdated, ref
		}
		return MergeUnchanged, ref
	}

	entry := m
	if entry.SeenBy != nil {
		entry.SeenBy = append([]string(nil), m.SeenBy...)
	}
	c.ids[entry.ID] = &entry
	c.order = append(c.order, &entry)
	s.resort(c)
	return MergeInserted, ref
}

// resort keeps the (createdAt, id) ascending invariant. Conversation
// views are bounded by pagination, so the full pass is fine.
func (s *Store) resort(c *conversation) {
	sort.SliceStable(c.order, func(i, j int) bool {
		return models.Less(c.order[i], c.order[j])
	})
}

func unionSeen(m *models.Message, ids []string) bool {
	changed := false
	for _, id := range ids {
		if !m.SeenByUser(id) {
			m.SeenBy = append(m.SeenBy, id)
			changed = true
		}
	}
	return changed
}

// AddSeen unions userID into the message's seenBy set. Pure set union:
// re-delivery of the same seen event is a no-op, and the set never
// shrinks.
func (s *Store) AddSeen(ref models.ConversationRef, messageID, userID string) bool {
	s.mu.Lock()
	c, ok := s.conversations[ref]
	if !ok {
		s.mu.Unlock()
		return false
	}
	m, ok := c.ids[messageID]
	if !ok || m.SeenByUser(userID) {
		s.mu.Unlock()
		return false
	}
	m.SeenBy = append(m.SeenBy, userID)
	s.mu.Unlock()
	s.notify(ref)
	return true
}

// Replace swaps the payload of an existing message in place, used for
// the recall/delete sentinels. Identity and timestamps keep their
// values; a message is never deleted from the conversation.
func (s *Store) Replace(ref models.ConversationRef, messageID, payload string) bool {
	s.mu.Lock()
	c, ok := s.conversations[ref]
	if !ok {
		s.mu.Unlock()
		return false
	}
	m, ok := c.ids[messageID]
	if !ok || m.Payload == payload {
		s.mu.Unlock()
		return false
	}
	m.Payload = payload
	s.mu.Unlock()
	s.notify(ref)
	return true
}

// Remove deletes a still-pending message by ID, the rollback path for a
// failed optimistic send. Returns false when the ID is absent or the
// entry is no longer pending: once a push echo has confirmed it, the
// entry is an authoritative delivered message and a late send outcome
// must not take it out of the conversation.
func (s *Store) Remove(ref models.ConversationRef, messageID string) bool {
	s.mu.Lock()
	c, ok := s.conversations[ref]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if m, ok := c.ids[messageID]; !ok || m.Status != models.StatusPending {
		s.mu.Unlock()
		return false
	}
	delete(c.ids, messageID)
	for i, m := range c.order {
		if m.ID == messageID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notify(ref)
	return true
}

// Messages returns a copy of the conversation in (createdAt, id) order.
func (s *Store) Messages(ref models.ConversationRef) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[ref]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(c.order))
	for i, m := range c.order {
		out[i] = *m
		if m.SeenBy != nil {
			out[i].SeenBy = append([]string(nil), m.SeenBy...)
		}
	}
	return out
}

// Get returns a copy of one message.
func (s *Store) Get(ref models.ConversationRef, messageID string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[ref]
	if !ok {
		return models.Message{}, false
	}
	m, ok := c.ids[messageID]
	if !ok {
		return models.Message{}, false
	}
	out := *m
	if m.SeenBy != nil {
		out.SeenBy = append([]string(nil), m.SeenBy...)
	}
	return out, true
}

// Len returns the number of messages in the conversation.
func (s *Store) Len(ref models.ConversationRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[ref]
	if !ok {
		return 0
	}
	return len(c.order)
}

// UnreadCount counts messages from other participants the local user
// has not yet seen.
func (s *Store) UnreadCount(ref models.ConversationRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[ref]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range c.order {
		if m.SenderID != s.selfID && !m.SeenByUser(s.selfID) {
			n++
		}
	}
	return n
}

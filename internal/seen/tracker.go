// Package seen detects locally-visible-but-unacknowledged inbound
// messages and propagates seen status, local and remote, into the
// store.
package seen

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MinhQuang2612/chatsync/internal/metrics"
	"github.com/MinhQuang2612/chatsync/internal/models"
	"github.com/MinhQuang2612/chatsync/internal/socket"
	"github.com/MinhQuang2612/chatsync/internal/store"
)

// Transport is the slice of the connection manager the tracker needs.
type Transport interface {
	Emit(event string, payload interface{}, ack socket.AckFunc)
}

// Tracker emits seen-acknowledgements for inbound messages addressed to
// the local user. The design is level-triggered: every store mutation
// re-evaluates the full "unseen from others, addressed to me" set, so
// the scan must be idempotent; the acked and in-flight sets keep a
// message from ever being acknowledged twice.
type Tracker struct {
	selfID string
	store  *store.Store
	conn   Transport
	logger zerolog.Logger

	mu       sync.Mutex
	acked    map[string]struct{}
	inflight map[string]struct{}
}

// New creates a tracker and hooks it into the store's change feed.
func New(selfID string, st *store.Store, conn Transport, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		selfID:   selfID,
		store:    st,
		conn:     conn,
		logger:   logger,
		acked:    make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
	st.OnChange(t.Scan)
	return t
}

// Scan walks the conversation and emits a seen-ack for every message
// from another participant the local user has not yet seen and has not
// already acknowledged this session. Safe to call repeatedly.
func (t *Tracker) Scan(ref models.ConversationRef) {
	for _, m := range t.store.Messages(ref) {
		if m.SenderID == t.selfID || m.SeenByUser(t.selfID) {
			continue
		}
		if !t.claim(m.ID) {
			continue
		}
		t.ack(ref, m)
	}
}

// claim marks the message in flight; returns false when it is already
// acked or in flight.
func (t *Tracker) claim(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.acked[messageID]; ok {
		return false
	}
	if _, ok := t.inflight[messageID]; ok {
		return false
	}
	t.inflight[messageID] = struct{}{}
	return true
}

func (t *Tracker) ack(ref models.ConversationRef, m models.Message) {
	event := models.EventSeenMessage
	want := models.AckSeenOK
	update := models.SeenUpdate{MessageID: m.ID, UserID: t.selfID}
	if ref.Kind == models.ConversationGroup {
		event = models.EventSeenGroupMessage
		want = models.AckSeenGroupOK
		update.GroupID = ref.TargetID
	}

	t.conn.Emit(event, update, func(resp string, err error) {
		t.mu.Lock()
		delete(t.inflight, m.ID)
		if err != nil || resp != want {
			t.mu.Unlock()
			t.logger.Debug().Err(err).Str("id", m.ID).Msg("seen ack not confirmed")
			return
		}
		t.acked[m.ID] = struct{}{}
		t.mu.Unlock()

		metrics.SeenAcks.Inc()
		t.store.AddSeen(ref, m.ID, t.selfID)
	})
}

// HandleRemoteSeen merges a seen-status update pushed by the server
// (another participant viewed a message). A pure set union in the
// store, so re-delivery is harmless.
func (t *Tracker) HandleRemoteSeen(payload json.RawMessage) {
	var update models.SeenUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		t.logger.Debug().Err(err).Msg("malformed seen update")
		return
	}
	var ref models.ConversationRef
	if update.GroupID != "" {
		ref = models.GroupConversation(update.GroupID)
	} else {
		ref = models.PeerConversation(update.UserID)
	}
	t.store.AddSeen(ref, update.MessageID, update.UserID)
}

package seen

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/MinhQuang2612/chatsync/internal/models"
	"github.com/MinhQuang2612/chatsync/internal/socket"
	"github.com/MinhQuang2612/chatsync/internal/store"
)

type seenEmit struct {
	event  string
	update models.SeenUpdate
	ack    socket.AckFunc
}

// manualTransport records seen emits without answering them; tests
// drive the acknowledgments explicitly.
type manualTransport struct {
	mu   sync.Mutex
	sent []seenEmit
}

func (f *manualTransport) Emit(event string, payload interface{}, ack socket.AckFunc) {
	f.mu.Lock()
	f.sent = append(f.sent, seenEmit{event: event, update: payload.(models.SeenUpdate), ack: ack})
	f.mu.Unlock()
}

func (f *manualTransport) emits() []seenEmit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]seenEmit, len(f.sent))
	copy(out, f.sent)
	return out
}

func inbound(id, sender, receiver string) models.Message {
	return models.Message{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Kind:       models.KindText,
		Payload:    "hi",
		CreatedAt:  1000,
		Status:     models.StatusSent,
	}
}

func TestScanEmptyConversationEmitsNothing(t *testing.T) {
	st := store.New("alice")
	tr := &manualTransport{}
	tk := New("alice", st, tr, zerolog.Nop())

	tk.Scan(models.PeerConversation("bob"))
	if len(tr.emits()) != 0 {
		t.Fatalf("expected no seen acks, got %d", len(tr.emits()))
	}
}

func TestInboundMessageGetsOneSeenAck(t *testing.T) {
	st := store.New("alice")
	tr := &manualTransport{}
	New("alice", st, tr, zerolog.Nop())

	ref := models.PeerConversation("bob")
	st.Merge(inbound("m1", "bob", "alice"))

	sent := tr.emits()
	if len(sent) != 1 {
		t.Fatalf("expected one seen ack, got %d", len(sent))
	}
	e := sent[0]
	if e.event != models.EventSeenMessage {
		t.Fatalf("expected %s, got %s", models.EventSeenMessage, e.event)
	}
	if e.update.MessageID != "m1" || e.update.UserID != "alice" {
		t.Fatalf("unexpected update %+v", e.update)
	}

	e.ack(models.AckSeenOK, nil)

	m, _ := st.Get(ref, "m1")
	if !m.SeenByUser("alice") {
		t.Fatal("seen status not applied after confirmation")
	}
}

func TestConfirmedMessageIsNeverReAcked(t *testing.T) {
	st := store.New("alice")
	tr := &manualTransport{}
	tk := New("alice", st, tr, zerolog.Nop())

	ref := models.PeerConversation("bob")
	st.Merge(inbound("m1", "bob", "alice"))
	tr.emits()[0].ack(models.AckSeenOK, nil)

	// AddSeen already notified and re-scanned; scan again for good
	// measure and then mutate the conversation.
	tk.Scan(ref)
	st.Merge(inbound("m2", "bob", "alice"))

	var acksForM1 int
	for _, e := range tr.emits() {
		if e.update.MessageID == "m1" {
			acksForM1++
		}
	}
	if acksForM1 != 1 {
		t.Fatalf("m1 acknowledged %d times", acksForM1)
	}
}

func TestUnconfirmedAckAppliesNothing(t *testing.T) {
	st := store.New("alice")
	tr := &manualTransport{}
	New("alice", st, tr, zerolog.Nop())

	ref := models.PeerConversation("bob")
	st.Merge(inbound("m1", "bob", "alice"))

	tr.emits()[0].ack("something else entirely", nil)

	m, _ := st.Get(ref, "m1")
	if m.SeenByUser("alice") {
		t.Fatal("seen status applied despite unconfirmed ack")
	}
}

func TestOwnMessagesAreSkipped(t *testing.T) {
	st := store.New("alice")
	tr := &manualTransport{}
	New("alice", st, tr, zerolog.Nop())

	st.Merge(inbound("m1", "alice", "bob"))
	if len(tr.emits()) != 0 {
		t.Fatal("tracker acknowledged the user's own message")
	}
}

func TestGroupConversationUsesGroupEventAndSentinel(t *testing.T) {
	st := store.New("alice")
	tr := &manualTransport{}
	New("alice", st, tr, zerolog.Nop())

	ref := models.GroupConversation("g1")
	m := models.Message{
		ID: "m1", SenderID: "bob", GroupID: "g1",
		Kind: models.KindText, Payload: "hi all", CreatedAt: 1000,
		Status: models.StatusSent,
	}
	st.Merge(m)

	sent := tr.emits()
	if len(sent) != 1 {
		t.Fatalf("expected one emit, got %d", len(sent))
	}
	e := sent[0]
	if e.event != models.EventSeenGroupMessage || e.update.GroupID != "g1" {
		t.Fatalf("unexpected group emit %+v", e)
	}

	// The peer sentinel must not confirm a group ack.
	e.ack(models.AckSeenOK, nil)
	got, _ := st.Get(ref, "m1")
	if got.SeenByUser("alice") {
		t.Fatal("peer sentinel confirmed a group ack")
	}

	// A rescan may retry; confirm with the group sentinel.
	New("alice", st, tr, zerolog.Nop()).Scan(ref)
	sent = tr.emits()
	sent[len(sent)-1].ack(models.AckSeenGroupOK, nil)
	got, _ = st.Get(ref, "m1")
	if !got.SeenByUser("alice") {
		t.Fatal("group sentinel did not confirm")
	}
}

func TestHandleRemoteSeenPeer(t *testing.T) {
	st := store.New("alice")
	tk := New("alice", st, &manualTransport{}, zerolog.Nop())

	ref := models.PeerConversation("bob")
	st.Merge(models.Message{
		ID: "m1", SenderID: "alice", ReceiverID: "bob",
		Kind: models.KindText, Payload: "hi", CreatedAt: 1000,
		Status: models.StatusSent,
	})

	payload, _ := json.Marshal(models.SeenUpdate{MessageID: "m1", UserID: "bob"})
	tk.HandleRemoteSeen(payload)

	m, _ := st.Get(ref, "m1")
	if !m.SeenByUser("bob") {
		t.Fatal("remote seen not applied")
	}
}

func TestHandleRemoteSeenGroup(t *testing.T) {
	st := store.New("alice")
	tk := New("alice", st, &manualTransport{}, zerolog.Nop())

	ref := models.GroupConversation("g1")
	st.Merge(models.Message{
		ID: "m1", SenderID: "alice", GroupID: "g1",
		Kind: models.KindText, Payload: "hi", CreatedAt: 1000,
		Status: models.StatusSent,
	})

	payload, _ := json.Marshal(models.SeenUpdate{MessageID: "m1", UserID: "carol", GroupID: "g1"})
	tk.HandleRemoteSeen(payload)

	m, _ := st.Get(ref, "m1")
	if !m.SeenByUser("carol") {
		t.Fatal("remote group seen not applied")
	}

	// Re-delivery is a no-op union.
	tk.HandleRemoteSeen(payload)
	m, _ = st.Get(ref, "m1")
	if len(m.SeenBy) != 1 {
		t.Fatalf("duplicate delivery grew the seen set: %v", m.SeenBy)
	}
}

func TestMalformedRemoteSeenIgnored(t *testing.T) {
	st := store.New("alice")
	tk := New("alice", st, &manualTransport{}, zerolog.Nop())
	tk.HandleRemoteSeen(json.RawMessage(`{broken`))
	// Nothing to assert beyond not panicking.
}

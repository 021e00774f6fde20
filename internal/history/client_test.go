package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/MinhQuang2612/chatsync/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Options{
		BaseURL:     srv.URL,
		UploadRoot:  "/uploads",
		FileBaseURL: "http://files.example.com/uploads",
		StickerHost: "https://e-sticker.zadn.vn",
		Logger:      zerolog.Nop(),
	})
	return c, srv
}

func TestFetchPeerNormalizesPayloads(t *testing.T) {
	fixture := []models.Message{
		{ID: "m1", SenderID: "a", ReceiverID: "b", Kind: models.KindImage, Payload: "/uploads/pics/1.png", CreatedAt: 1},
		{ID: "m2", SenderID: "b", ReceiverID: "a", Payload: "data:video/mp4;base64,AAAA", CreatedAt: 2},
		{ID: "m3", SenderID: "a", ReceiverID: "b", Payload: "https://e-sticker.zadn.vn/pack/7/dog.png", CreatedAt: 3},
		{ID: "m4", SenderID: "b", ReceiverID: "a", Payload: "plain text", CreatedAt: 4},
	}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message/a/b" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(fixture)
	}))

	msgs, err := c.FetchPeer(context.Background(), "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Payload != "http://files.example.com/uploads/pics/1.png" {
		t.Fatalf("upload path not rewritten: %q", msgs[0].Payload)
	}
	if msgs[1].Kind != models.KindVideo {
		t.Fatalf("video data-URI not resolved: %s", msgs[1].Kind)
	}
	if msgs[2].Kind != models.KindSticker {
		t.Fatalf("sticker URL not resolved: %s", msgs[2].Kind)
	}
	if msgs[3].Kind != models.KindText {
		t.Fatalf("plain payload should default to text: %s", msgs[3].Kind)
	}
}

func TestFetchFailureWrapsHistoryFetchError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))

	_, err := c.FetchGroup(context.Background(), "g1")
	if !errors.Is(err, models.ErrHistoryFetch) {
		t.Fatalf("expected ErrHistoryFetch, got %v", err)
	}
}

func TestFetchEmptyHistory(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))

	msgs, err := c.FetchPeer(context.Background(), "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d", len(msgs))
	}
}

func TestNormalizeLeavesRemoteURLsUntouched(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())
	m := c.Normalize(models.Message{Kind: models.KindImage, Payload: "https://cdn.example.com/x.png"})
	if m.Payload != "https://cdn.example.com/x.png" {
		t.Fatalf("remote URL mutated: %q", m.Payload)
	}
}

func TestPersistPostsMessage(t *testing.T) {
	var got models.Message
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/message" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))

	m := models.Message{ID: "m1", SenderID: "a", ReceiverID: "b", Kind: models.KindText, Payload: "hi", CreatedAt: 1}
	if err := c.Persist(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if got.ID != "m1" {
		t.Fatalf("message not posted: %+v", got)
	}
}

func TestFetchMembers(t *testing.T) {
	fixture := []models.GroupMembership{
		{GroupID: "g1", UserID: "a", Role: models.RoleLeader},
		{GroupID: "g1", UserID: "b", Role: models.RoleMember},
	}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/group/g1/members" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(fixture)
	}))

	members, err := c.FetchMembers(context.Background(), "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0].Role != models.RoleLeader {
		t.Fatalf("unexpected members %+v", members)
	}
}

func TestRefreshToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/refresh" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refreshToken"] != "old-refresh" {
			t.Errorf("refresh token not sent: %v", body)
		}
		_, _ = w.Write([]byte(`{"accessToken":"new-access","refreshToken":"new-refresh"}`))
	}))

	creds, err := c.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "new-access" || creds.RefreshToken != "new-refresh" {
		t.Fatalf("unexpected creds %+v", creds)
	}
}

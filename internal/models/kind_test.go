package models

import "testing"

const stickerHost = "https://e-sticker.zadn.vn"

func TestResolveKindStickerWinsOverEverything(t *testing.T) {
	got := ResolveKind(KindText, stickerHost+"/pack/42/cat.png", stickerHost)
	if got != KindSticker {
		t.Fatalf("expected sticker, got %s", got)
	}
}

func TestResolveKindImageDataURI(t *testing.T) {
	got := ResolveKind("", "data:image/png;base64,iVBORw0KGgo=", stickerHost)
	if got != KindImage {
		t.Fatalf("expected image, got %s", got)
	}
}

func TestResolveKindVideoDataURI(t *testing.T) {
	got := ResolveKind("", "data:video/mp4;base64,AAAA", stickerHost)
	if got != KindVideo {
		t.Fatalf("expected video, got %s", got)
	}
}

func TestResolveKindDataURIPrecedesExtension(t *testing.T) {
	// An inline blob carries no extension; the data-URI checks must win
	// before the extension fallback ever runs.
	got := ResolveKind(KindFile, "data:image/jpeg;base64,/9j/4AAQ", stickerHost)
	if got != KindImage {
		t.Fatalf("expected image, got %s", got)
	}
}

func TestResolveKindVideoExtension(t *testing.T) {
	for _, payload := range []string{"clip.mp4", "/uploads/a/b/movie.MOV", "http://host/x.webm"} {
		if got := ResolveKind("", payload, stickerHost); got != KindVideo {
			t.Fatalf("payload %q: expected video, got %s", payload, got)
		}
	}
}

func TestResolveKindExplicitTag(t *testing.T) {
	if got := ResolveKind(KindFile, "report.pdf", stickerHost); got != KindFile {
		t.Fatalf("expected file, got %s", got)
	}
}

func TestResolveKindExplicitTextNotSniffedByExtension(t *testing.T) {
	// The extension fallback is for untagged records only; a tagged
	// text message mentioning a filename is still text.
	if got := ResolveKind(KindText, "watch clip.mp4", stickerHost); got != KindText {
		t.Fatalf("expected text, got %s", got)
	}
}

func TestResolveKindDefaultsToText(t *testing.T) {
	if got := ResolveKind("", "hello there", stickerHost); got != KindText {
		t.Fatalf("expected text, got %s", got)
	}
}

func TestValidateExactlyOneTarget(t *testing.T) {
	cases := []struct {
		name     string
		receiver string
		group    string
		wantErr  bool
	}{
		{"peer", "u2", "", false},
		{"group", "", "g1", false},
		{"both", "u2", "g1", true},
		{"neither", "", "", true},
	}
	for _, tc := range cases {
		m := Message{ID: "x", SenderID: "u1", ReceiverID: tc.receiver, GroupID: tc.group}
		err := m.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestLessOrdersByCreatedAtThenID(t *testing.T) {
	a := &Message{ID: "b", CreatedAt: 100}
	b := &Message{ID: "a", CreatedAt: 200}
	if !Less(a, b) {
		t.Fatal("earlier timestamp should sort first")
	}
	c := &Message{ID: "a", CreatedAt: 100}
	if !Less(c, a) {
		t.Fatal("same timestamp should fall back to id order")
	}
	if Less(a, a) {
		t.Fatal("message should not sort before itself")
	}
}

func TestConversationFor(t *testing.T) {
	m := Message{ID: "x", SenderID: "alice", ReceiverID: "bob"}
	if ref := m.ConversationFor("bob"); ref != PeerConversation("alice") {
		t.Fatalf("receiver's view should key on sender, got %+v", ref)
	}
	if ref := m.ConversationFor("alice"); ref != PeerConversation("bob") {
		t.Fatalf("sender's view should key on receiver, got %+v", ref)
	}
	g := Message{ID: "y", SenderID: "alice", GroupID: "g1"}
	if ref := g.ConversationFor("bob"); ref != GroupConversation("g1") {
		t.Fatalf("group message should key on group, got %+v", ref)
	}
}

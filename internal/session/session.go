// Package session wires the sync engine together and owns its event
// loop. All store mutation funnels through one goroutine: push events,
// fetch completions and user actions are posted as tasks and applied in
// the order they are observed locally, which is what keeps the merge
// machinery safe without per-conversation locking discipline leaking
// into every component.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/MinhQuang2612/chatsync/internal/auth"
	"github.com/MinhQuang2612/chatsync/internal/config"
	"github.com/MinhQuang2612/chatsync/internal/group"
	"github.com/MinhQuang2612/chatsync/internal/history"
	"github.com/MinhQuang2612/chatsync/internal/models"
	"github.com/MinhQuang2612/chatsync/internal/outbound"
	"github.com/MinhQuang2612/chatsync/internal/seen"
	"github.com/MinhQuang2612/chatsync/internal/socket"
	"github.com/MinhQuang2612/chatsync/internal/store"
)

// Session is one signed-in user's sync engine: the shared push-channel
// connection, the message store, and the components operating on them.
type Session struct {
	cfg    *config.Config
	logger zerolog.Logger
	selfID string

	Conn   *socket.Manager
	Store  *store.Store
	Out    *outbound.Pipeline
	Seen   *seen.Tracker
	Groups *group.Coordinator
	rest   *history.Client

	tasks chan func()
	done  chan struct{}
	subs  []*socket.Subscription

	closeOnce sync.Once
}

// New builds a session. blobs may be nil when media sends are not
// needed (tooling, tests).
func New(cfg *config.Config, logger zerolog.Logger, creds auth.CredentialProvider, selfID string, blobs outbound.BlobEncoder) *Session {
	rest := history.NewClient(history.Options{
		BaseURL:     cfg.APIBaseURL,
		UploadRoot:  cfg.UploadRoot,
		FileBaseURL: cfg.FileBaseURL,
		StickerHost: cfg.StickerHost,
		Credentials: creds,
		Logger:      logger.With().Str("component", "history").Logger(),
	})
	conn := socket.NewManager(socket.Options{
		URL:         cfg.SocketURL,
		Credentials: creds,
		MaxRetries:  cfg.ReconnectMaxRetries,
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxDelay:    cfg.ReconnectMaxDelay,
		AckTimeout:  cfg.AckTimeout,
		Logger:      logger.With().Str("component", "socket").Logger(),
	})
	st := store.New(selfID)

	s := &Session{
		cfg:    cfg,
		logger: logger,
		selfID: selfID,
		Conn:   conn,
		Store:  st,
		rest:   rest,
		Out:    outbound.New(selfID, st, conn, rest, blobs, logger.With().Str("component", "outbound").Logger()),
		Seen:   seen.New(selfID, st, conn, logger.With().Str("component", "seen").Logger()),
		Groups: group.New(selfID, conn, rest, logger.With().Str("component", "group").Logger()),
		tasks:  make(chan func(), 256),
		done:   make(chan struct{}),
	}
	return s
}

// Start runs the event loop, registers the push handlers, joins the
// peer room keyed by the local user id and connects the channel. A
// refresh failure degrades silently per the connection contract; only a
// dial failure is returned, and the session is still usable offline.
func (s *Session) Start(ctx context.Context) error {
	go s.run()
	s.register()
	s.Conn.JoinRoom(s.selfID, s.selfID)
	return s.Conn.Connect(ctx)
}

func (s *Session) run() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.done:
			return
		}
	}
}

// do posts a task to the event loop.
func (s *Session) do(task func()) {
	select {
	case s.tasks <- task:
	case <-s.done:
	}
}

func (s *Session) register() {
	on := func(event string, h socket.Handler) {
		s.subs = append(s.subs, s.Conn.On(event, h))
	}

	on(models.EventReceiveMessage, s.handleIncoming)
	on(models.EventReceiveGroupMessage, s.handleIncoming)

	on(models.EventSeenMessage, func(p json.RawMessage) {
		s.do(func() { s.Seen.HandleRemoteSeen(p) })
	})
	on(models.EventSeenGroupMessage, func(p json.RawMessage) {
		s.do(func() { s.Seen.HandleRemoteSeen(p) })
	})

	on(models.EventRecallMessage, func(p json.RawMessage) {
		s.handleRecall(p, models.RecalledPayload)
	})
	on(models.EventDeleteMessage, func(p json.RawMessage) {
		s.handleRecall(p, models.DeletedPayload)
	})

	for _, event := range []string{
		models.EventNewMember,
		models.EventMemberLeft,
		models.EventMemberKicked,
		models.EventForceLeaveGroup,
		models.EventGroupDeleted,
	} {
		event := event
		on(event, func(p json.RawMessage) {
			s.do(func() { s.Groups.HandleMembershipEvent(event, p) })
		})
	}
}

func (s *Session) handleIncoming(payload json.RawMessage) {
	var m models.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		s.logger.Debug().Err(err).Msg("malformed message event")
		return
	}
	m.Kind = models.ResolveKind(m.Kind, m.Payload, s.cfg.StickerHost)
	s.do(func() { s.Store.Merge(m) })
}

func (s *Session) handleRecall(payload json.RawMessage, sentinel string) {
	var notice models.RecallNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		s.logger.Debug().Err(err).Msg("malformed recall event")
		return
	}
	var ref models.ConversationRef
	if notice.GroupID != "" {
		ref = models.GroupConversation(notice.GroupID)
	} else {
		other := notice.SenderID
		if other == s.selfID {
			other = notice.ReceiverID
		}
		ref = models.PeerConversation(other)
	}
	s.do(func() { s.Store.Replace(ref, notice.MessageID, sentinel) })
}

// OpenPeer seeds the peer conversation with its fetched backlog. A
// fetch failure leaves the conversation empty but usable; the returned
// error is advisory (surfaced as a soft warning).
func (s *Session) OpenPeer(ctx context.Context, otherID string) error {
	msgs, err := s.rest.FetchPeer(ctx, s.selfID, otherID)
	s.seed(msgs)
	return err
}

// OpenGroup subscribes to the group room, refreshes membership and
// seeds the backlog.
func (s *Session) OpenGroup(ctx context.Context, groupID string) error {
	if err := s.Groups.Open(ctx, groupID); err != nil {
		return err
	}
	msgs, err := s.rest.FetchGroup(ctx, groupID)
	s.seed(msgs)
	return err
}

// CloseGroup releases the group-room subscription on teardown.
// In-flight transmissions are not aborted; their outcome still merges
// correctly by ID if the conversation is reopened.
func (s *Session) CloseGroup(groupID string) {
	s.Groups.Close(groupID)
}

func (s *Session) seed(msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	s.do(func() {
		for _, m := range msgs {
			s.Store.Merge(m)
		}
	})
}

// SendPeerText sends text to a peer conversation and returns the
// client-generated message ID.
func (s *Session) SendPeerText(otherID, text string) string {
	return s.send(func() string {
		return s.Out.SendText(models.PeerConversation(otherID), text)
	})
}

// SendGroupText sends text to a group conversation. Fails without a
// network call when the group has become unavailable.
func (s *Session) SendGroupText(groupID, text string) (string, error) {
	if !s.Groups.Available(groupID) {
		return "", fmt.Errorf("%w: conversation unavailable", models.ErrMembership)
	}
	return s.send(func() string {
		return s.Out.SendText(models.GroupConversation(groupID), text)
	}), nil
}

// SendPeerMedia sends a binary payload to a peer conversation.
func (s *Session) SendPeerMedia(ctx context.Context, otherID string, kind models.Kind, localRef string) string {
	return s.send(func() string {
		return s.Out.SendMedia(ctx, models.PeerConversation(otherID), kind, localRef)
	})
}

// SendGroupMedia sends a binary payload to a group conversation.
func (s *Session) SendGroupMedia(ctx context.Context, groupID string, kind models.Kind, localRef string) (string, error) {
	if !s.Groups.Available(groupID) {
		return "", fmt.Errorf("%w: conversation unavailable", models.ErrMembership)
	}
	return s.send(func() string {
		return s.Out.SendMedia(ctx, models.GroupConversation(groupID), kind, localRef)
	}), nil
}

func (s *Session) send(fn func() string) string {
	idCh := make(chan string, 1)
	s.do(func() { idCh <- fn() })
	select {
	case id := <-idCh:
		return id
	case <-s.done:
		return ""
	}
}

// Close tears the session down: handlers released, loop stopped,
// channel closed. Pending ack timers keep running so in-flight sends
// still resolve.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, sub := range s.subs {
			sub.Cancel()
		}
		close(s.done)
		s.Conn.Disconnect()
	})
}

// Package socket owns the lifecycle of the single push-channel
// connection shared by every open conversation: connect, authenticate,
// reconnect with bounded backoff, and room replay after reconnect.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/MinhQuang2612/chatsync/internal/auth"
	"github.com/MinhQuang2612/chatsync/internal/metrics"
	"github.com/MinhQuang2612/chatsync/internal/models"
)

// State is the connection state surfaced to observers. Failures degrade
// the state; they never escalate to the caller as a crash.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
	// StateTerminal means automatic recovery has been exhausted for
	// this session (retry cap hit, or a second consecutive
	// authentication rejection).
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminal:
		return "terminal"
	default:
		return "disconnected"
	}
}

// ErrAckTimeout is passed to an ack callback when the server never
// acknowledged the frame.
var ErrAckTimeout = errors.New("acknowledgment timeout")

// AckFunc receives the server's textual acknowledgment payload, or an
// error when no acknowledgment arrived. Invoked exactly once.
type AckFunc func(resp string, err error)

// Handler consumes the payload of a named push event.
type Handler func(payload json.RawMessage)

// Subscription is a scoped handler registration. Cancel releases it
// deterministically; cancelling twice is harmless.
type Subscription struct {
	m     *Manager
	event string
	id    int
}

// Cancel removes the handler.
func (s *Subscription) Cancel() {
	if s == nil || s.m == nil {
		return
	}
	s.m.mu.Lock()
	if hs, ok := s.m.handlers[s.event]; ok {
		delete(hs, s.id)
	}
	s.m.mu.Unlock()
	s.m = nil
}

// Options configures a Manager.
type Options struct {
	URL         string
	Credentials auth.CredentialProvider
	Dialer      Dialer

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	AckTimeout time.Duration

	Logger zerolog.Logger
}

type pendingAck struct {
	fn    AckFunc
	timer *time.Timer
}

// Manager is the connection manager. One instance is shared by the
// whole session and passed by reference to the components that need it.
type Manager struct {
	opts Options

	mu        sync.Mutex
	conn      Conn
	state     State
	epoch     int
	sessionID string
	lastMsgTS int64
	closed    bool

	rooms       map[string]models.RoomJoin
	handlers    map[string]map[int]Handler
	nextHandler int
	pending     map[string]*pendingAck
	outbox      []Frame
	stateFns    []func(State)

	authRejections int

	// writeMu serializes writes; the websocket permits one writer.
	writeMu sync.Mutex
}

const outboxLimit = 256

// NewManager creates a disconnected Manager. The session ID, the prefix
// of every client-generated message ID, is fixed for the Manager's
// lifetime so dedup keys stay stable across reconnects.
func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 10
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.AckTimeout == 0 {
		opts.AckTimeout = 10 * time.Second
	}
	return &Manager{
		opts:      opts,
		sessionID: ulid.Make().String(),
		rooms:     make(map[string]models.RoomJoin),
		handlers:  make(map[string]map[int]Handler),
		pending:   make(map[string]*pendingAck),
	}
}

// SessionID returns the connection session ID.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// NextMessageID returns {sessionID}-{monotonicTimestamp}. The timestamp
// is strictly increasing even when two sends land in the same
// millisecond.
func (m *Manager) NextMessageID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := time.Now().UnixMilli()
	if ts <= m.lastMsgTS {
		ts = m.lastMsgTS + 1
	}
	m.lastMsgTS = ts
	return fmt.Sprintf("%s-%d", m.sessionID, ts)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is currently live.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// OnState registers a connection-state observer.
func (m *Manager) OnState(fn func(State)) {
	m.mu.Lock()
	m.stateFns = append(m.stateFns, fn)
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	fns := make([]func(State), len(m.stateFns))
	copy(fns, m.stateFns)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Connect makes a single synchronous connection attempt. If the stored
// credential is expired it refreshes first; a refresh failure is a
// no-op observable only through the state observers, and the caller
// retries later. A dial failure is returned so the caller can decide.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.ErrConnection
	}
	m.authRejections = 0
	m.mu.Unlock()

	token, ok := m.opts.Credentials.AccessToken()
	if !ok {
		refreshed, err := m.opts.Credentials.Refresh(ctx)
		if err != nil {
			m.opts.Logger.Warn().Err(err).Msg("credential refresh failed, connect skipped")
			m.setState(StateDisconnected)
			return nil
		}
		token = refreshed
	}

	conn, err := m.opts.Dialer(ctx, m.opts.URL, token)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", models.ErrConnection, err)
	}

	m.adopt(conn)
	return nil
}

// adopt installs a live connection, starts the read pump and performs
// the mandatory post-connect work: room replay (the transport does not
// preserve subscriptions), then flushing frames queued while offline.
func (m *Manager) adopt(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.epoch++
	epoch := m.epoch
	// The server accepted an authenticated dial, so the credential
	// works again; only back-to-back rejections with no successful
	// session in between count as consecutive.
	m.authRejections = 0
	rooms := make([]models.RoomJoin, 0, len(m.rooms))
	for _, j := range m.rooms {
		rooms = append(rooms, j)
	}
	queued := m.outbox
	m.outbox = nil
	m.mu.Unlock()

	m.setState(StateConnected)
	go m.readPump(conn, epoch)

	for _, j := range rooms {
		m.writeFrame(conn, frameFor(models.EventJoinRoom, j, ""))
	}
	for _, f := range queued {
		m.writeFrame(conn, f)
	}
	m.opts.Logger.Info().Int("rooms", len(rooms)).Int("flushed", len(queued)).Msg("push channel connected")
}

func frameFor(event string, payload interface{}, ackID string) Frame {
	data, _ := json.Marshal(payload)
	return Frame{Event: event, Payload: data, AckID: ackID}
}

func (m *Manager) writeFrame(conn Conn, f Frame) {
	m.writeMu.Lock()
	err := conn.WriteJSON(f)
	m.writeMu.Unlock()
	if err != nil {
		m.opts.Logger.Debug().Err(err).Str("event", f.Event).Msg("write failed")
	}
}

// JoinRoom subscribes to a server-side room. Joins are reference-free:
// duplicate joins are harmless and a join while disconnected is
// replayed on the next connect.
func (m *Manager) JoinRoom(roomID, userID string) {
	join := models.RoomJoin{RoomID: roomID, UserID: userID}
	m.mu.Lock()
	m.rooms[roomID] = join
	conn, connected := m.conn, m.state == StateConnected
	m.mu.Unlock()
	if connected {
		m.writeFrame(conn, frameFor(models.EventJoinRoom, join, ""))
	}
}

// LeaveRoom unsubscribes from a room. Idempotent.
func (m *Manager) LeaveRoom(roomID, userID string) {
	m.mu.Lock()
	_, present := m.rooms[roomID]
	delete(m.rooms, roomID)
	conn, connected := m.conn, m.state == StateConnected
	m.mu.Unlock()
	if present && connected {
		m.writeFrame(conn, frameFor(models.EventLeaveRoom, models.RoomJoin{RoomID: roomID, UserID: userID}, ""))
	}
}

// On registers a handler for a named push event and returns its scoped
// subscription handle.
func (m *Manager) On(event string, h Handler) *Subscription {
	m.mu.Lock()
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]Handler)
	}
	m.nextHandler++
	id := m.nextHandler
	m.handlers[event][id] = h
	m.mu.Unlock()
	return &Subscription{m: m, event: event, id: id}
}

// Emit sends a named event. When ack is non-nil the frame carries an
// acknowledgment ID and ack fires exactly once: with the server's
// textual response, or with ErrAckTimeout. Frames emitted while
// disconnected are queued and flushed on reconnect; their ack clock
// starts immediately, so an offline send that never reaches the server
// still resolves as a timeout.
func (m *Manager) Emit(event string, payload interface{}, ack AckFunc) {
	data, err := json.Marshal(payload)
	if err != nil {
		if ack != nil {
			ack("", err)
		}
		return
	}
	f := Frame{Event: event, Payload: data}

	if ack != nil {
		id := uuid.NewString()
		f.AckID = id
		p := &pendingAck{fn: ack}
		p.timer = time.AfterFunc(m.opts.AckTimeout, func() { m.expireAck(id) })
		m.mu.Lock()
		m.pending[id] = p
		m.mu.Unlock()
	}

	m.mu.Lock()
	conn, connected := m.conn, m.state == StateConnected
	if !connected {
		if len(m.outbox) < outboxLimit {
			m.outbox = append(m.outbox, f)
		} else {
			m.opts.Logger.Warn().Str("event", event).Msg("outbox full, frame dropped")
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.writeFrame(conn, f)
}

func (m *Manager) expireAck(id string) {
	m.mu.Lock()
	p, ok := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()
	if ok {
		p.fn("", ErrAckTimeout)
	}
}

func (m *Manager) deliverAck(f Frame) {
	m.mu.Lock()
	p, ok := m.pending[f.AckID]
	delete(m.pending, f.AckID)
	m.mu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	var resp string
	_ = json.Unmarshal(f.Payload, &resp)
	p.fn(resp, nil)
}

func (m *Manager) dispatch(f Frame) {
	m.mu.Lock()
	hs := make([]Handler, 0, len(m.handlers[f.Event]))
	for _, h := range m.handlers[f.Event] {
		hs = append(hs, h)
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(f.Payload)
	}
}

func (m *Manager) readPump(conn Conn, epoch int) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			m.handleDrop(epoch, err)
			return
		}
		switch f.Event {
		case ackEvent:
			m.deliverAck(f)
		case errorEvent:
			var cond string
			_ = json.Unmarshal(f.Payload, &cond)
			if cond == models.RejectInvalidToken {
				m.handleAuthReject(epoch)
				return
			}
			m.opts.Logger.Warn().Str("condition", cond).Msg("server error frame")
		default:
			m.dispatch(f)
		}
	}
}

func (m *Manager) handleDrop(epoch int, err error) {
	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.epoch++
	next := m.epoch
	m.mu.Unlock()

	m.opts.Logger.Warn().Err(err).Msg("push channel dropped")
	m.setState(StateReconnecting)
	go m.reconnectLoop(next)
}

// reconnectLoop retries with bounded-exponential delay up to the retry
// cap, then surfaces the terminal state without throwing.
func (m *Manager) reconnectLoop(epoch int) {
	delay := m.opts.BaseDelay
	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		time.Sleep(delay)
		if delay *= 2; delay > m.opts.MaxDelay {
			delay = m.opts.MaxDelay
		}

		m.mu.Lock()
		stale := m.closed || epoch != m.epoch
		m.mu.Unlock()
		if stale {
			return
		}

		metrics.Reconnects.Inc()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		token, ok := m.opts.Credentials.AccessToken()
		if !ok {
			refreshed, err := m.opts.Credentials.Refresh(ctx)
			if err != nil {
				cancel()
				m.opts.Logger.Warn().Err(err).Int("attempt", attempt).Msg("refresh failed during reconnect")
				continue
			}
			token = refreshed
		}
		conn, err := m.opts.Dialer(ctx, m.opts.URL, token)
		cancel()
		if err != nil {
			m.opts.Logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}

		m.mu.Lock()
		if m.closed || epoch != m.epoch {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.mu.Unlock()

		m.adopt(conn)
		return
	}
	m.opts.Logger.Error().Int("retries", m.opts.MaxRetries).Msg("reconnect retries exhausted")
	m.setState(StateTerminal)
}

// handleAuthReject runs the "Invalid token" policy: one
// refresh-and-reconnect attempt, terminal on the second consecutive
// rejection so a bad credential cannot drive a reconnect storm.
func (m *Manager) handleAuthReject(epoch int) {
	metrics.AuthRejections.Inc()

	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.authRejections++
	rejections := m.authRejections
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.epoch++
	next := m.epoch
	m.mu.Unlock()

	if rejections >= 2 {
		m.opts.Logger.Error().Msg("authentication rejected twice, session terminal")
		m.setState(StateTerminal)
		return
	}

	m.opts.Logger.Warn().Msg("authentication rejected, refreshing credential")
	m.setState(StateReconnecting)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := m.opts.Credentials.Refresh(ctx)
		cancel()
		if err != nil {
			m.opts.Logger.Error().Err(err).Msg("refresh after rejection failed, session terminal")
			m.setState(StateTerminal)
			return
		}
		m.reconnectLoop(next)
	}()
}

// Disconnect tears the session down. Pending acknowledgment timers keep
// running so in-flight sends still resolve (as timeouts) and roll back.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.epoch++
	m.mu.Unlock()
	m.setState(StateDisconnected)
}

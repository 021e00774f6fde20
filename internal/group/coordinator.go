// Package group keeps group-room subscriptions and membership
// bookkeeping in step with server-confirmed events.
package group

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MinhQuang2612/chatsync/internal/models"
	"github.com/MinhQuang2612/chatsync/internal/socket"
)

// Transport is the slice of the connection manager the coordinator
// needs.
type Transport interface {
	Emit(event string, payload interface{}, ack socket.AckFunc)
	JoinRoom(roomID, userID string)
	LeaveRoom(roomID, userID string)
}

// MemberLister fetches the current membership list of a group over the
// request/response channel.
type MemberLister interface {
	FetchMembers(ctx context.Context, groupID string) ([]models.GroupMembership, error)
}

// RemovedFunc surfaces the terminal "removed from group" state (kick,
// forced leave, group deletion).
type RemovedFunc func(groupID, reason string)

type groupState struct {
	subscribed  bool
	members     []models.GroupMembership
	unavailable string // non-empty once the conversation is gone for good
}

// Coordinator joins and leaves group rooms and reacts to membership
// events. Room joins are idempotent, so it can share the subscription
// set with the peer-conversation join without stepping on it.
type Coordinator struct {
	selfID  string
	conn    Transport
	members MemberLister
	logger  zerolog.Logger

	mu        sync.Mutex
	groups    map[string]*groupState
	onRemoved RemovedFunc
}

// New creates a coordinator.
func New(selfID string, conn Transport, members MemberLister, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		selfID:    selfID,
		conn:      conn,
		members:   members,
		logger:    logger,
		groups:    make(map[string]*groupState),
		onRemoved: func(string, string) {},
	}
}

// OnRemoved registers the surface for terminal removal states.
func (c *Coordinator) OnRemoved(fn RemovedFunc) {
	if fn != nil {
		c.onRemoved = fn
	}
}

func (c *Coordinator) state(groupID string) *groupState {
	g, ok := c.groups[groupID]
	if !ok {
		g = &groupState{}
		c.groups[groupID] = g
	}
	return g
}

// Open subscribes to the group room and refreshes the membership list.
// Called on conversation open; the connection manager replays the join
// automatically after every reconnect.
func (c *Coordinator) Open(ctx context.Context, groupID string) error {
	c.mu.Lock()
	g := c.state(groupID)
	if g.unavailable != "" {
		reason := g.unavailable
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrMembership, reason)
	}
	g.subscribed = true
	c.mu.Unlock()

	c.conn.JoinRoom(groupID, c.selfID)
	return c.refreshMembers(ctx, groupID)
}

// Close unsubscribes from the group room on conversation teardown. The
// membership snapshot is kept; reopening is cheap.
func (c *Coordinator) Close(groupID string) {
	c.mu.Lock()
	g := c.state(groupID)
	if !g.subscribed {
		c.mu.Unlock()
		return
	}
	g.subscribed = false
	c.mu.Unlock()
	c.conn.LeaveRoom(groupID, c.selfID)
}

func (c *Coordinator) refreshMembers(ctx context.Context, groupID string) error {
	members, err := c.members.FetchMembers(ctx, groupID)
	if err != nil {
		c.logger.Warn().Err(err).Str("group", groupID).Msg("membership refresh failed")
		return err
	}
	c.mu.Lock()
	c.state(groupID).members = members
	c.mu.Unlock()
	return nil
}

// Members returns the membership snapshot.
func (c *Coordinator) Members(groupID string) []models.GroupMembership {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	if !ok {
		return nil
	}
	return append([]models.GroupMembership(nil), g.members...)
}

// Role returns the local user's role in the group.
func (c *Coordinator) Role(groupID string) models.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	if !ok {
		return ""
	}
	for _, m := range g.members {
		if m.UserID == c.selfID {
			return m.Role
		}
	}
	return ""
}

// Available reports whether the conversation can still be used for
// sends.
func (c *Coordinator) Available(groupID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupID]
	return !ok || g.unavailable == ""
}

// SwitchRole requests a leadership transfer to successorID and waits
// for the server's confirmation. On rejection nothing local changes.
func (c *Coordinator) SwitchRole(ctx context.Context, groupID, successorID string) error {
	req := models.RoleSwitch{GroupID: groupID, FromID: c.selfID, ToID: successorID}

	type result struct {
		resp string
		err  error
	}
	done := make(chan result, 1)
	c.conn.Emit(models.EventSwitchRole, req, func(resp string, err error) {
		done <- result{resp, err}
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", models.ErrMembership, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("%w: %v", models.ErrMembership, r.err)
		}
		if r.resp != models.AckSwitchRoleOK {
			return fmt.Errorf("%w: %s", models.ErrMembership, r.resp)
		}
	}

	c.mu.Lock()
	g := c.state(groupID)
	for i := range g.members {
		switch g.members[i].UserID {
		case c.selfID:
			g.members[i].Role = models.RoleMember
		case successorID:
			g.members[i].Role = models.RoleLeader
		}
	}
	c.mu.Unlock()
	return nil
}

// Leave leaves the group. Precondition, checked before any network
// call: a leader leaving a group that still has other members must name
// a successor; the leadership transfers first, then the leave proceeds.
func (c *Coordinator) Leave(ctx context.Context, groupID, successorID string) error {
	c.mu.Lock()
	g := c.state(groupID)
	isLeader := false
	others := 0
	for _, m := range g.members {
		if m.UserID == c.selfID {
			isLeader = m.Role == models.RoleLeader
		} else {
			others++
		}
	}
	c.mu.Unlock()

	if isLeader && others > 0 {
		if successorID == "" {
			return fmt.Errorf("%w: leader must select a successor before leaving", models.ErrMembership)
		}
		if err := c.SwitchRole(ctx, groupID, successorID); err != nil {
			return err
		}
	}

	c.conn.LeaveRoom(groupID, c.selfID)
	c.mu.Lock()
	g.subscribed = false
	g.unavailable = "left group"
	c.mu.Unlock()
	return nil
}

// HandleMembershipEvent routes a push-channel membership notification.
// Kick / forced leave / deletion targeting the local user unsubscribe
// and mark the conversation unavailable; changes to other members just
// trigger a membership refetch.
func (c *Coordinator) HandleMembershipEvent(event string, payload json.RawMessage) {
	var ev models.MembershipEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.logger.Debug().Err(err).Str("event", event).Msg("malformed membership event")
		return
	}

	switch event {
	case models.EventGroupDeleted:
		c.remove(ev.GroupID, "group deleted")
	case models.EventMemberKicked, models.EventForceLeaveGroup:
		if ev.UserID == c.selfID {
			c.remove(ev.GroupID, "removed from group")
			return
		}
		c.refetchAsync(ev.GroupID)
	case models.EventNewMember, models.EventMemberLeft:
		if ev.UserID != c.selfID {
			c.refetchAsync(ev.GroupID)
		}
	}
}

func (c *Coordinator) remove(groupID, reason string) {
	c.mu.Lock()
	g := c.state(groupID)
	wasSubscribed := g.subscribed
	g.subscribed = false
	g.unavailable = reason
	c.mu.Unlock()

	if wasSubscribed {
		c.conn.LeaveRoom(groupID, c.selfID)
	}
	c.logger.Info().Str("group", groupID).Str("reason", reason).Msg("group conversation unavailable")
	c.onRemoved(groupID, reason)
}

func (c *Coordinator) refetchAsync(groupID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.refreshMembers(ctx, groupID)
	}()
}

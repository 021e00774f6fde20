package models

import "errors"

// Kind is the resolved content type of a message.
type Kind string

const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindSticker Kind = "sticker"
	KindFile    Kind = "file"
)

// DeliveryStatus is the transient, local-only send state of a message.
// Messages that originated remotely carry the zero value, which reads
// as sent. There is no failed state: a send that fails is rolled back
// out of the conversation entirely and retried as a fresh message.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
)

// Payload sentinels. PendingUpload is the placeholder shown while a blob
// is being encoded; Recalled and Deleted replace the payload in place
// when the corresponding push event arrives. These are wire values and
// must not change.
const (
	PendingUpload   = "pending-upload"
	RecalledPayload = "message recalled"
	DeletedPayload  = "message deleted"
)

// Message is a chat message. ID is generated client-side for outbound
// messages as {connectionSessionID}-{monotonicTimestamp} and remains the
// dedup key for the lifetime of the session even after the server
// assigns its own ID (kept in ServerID).
type Message struct {
	ID         string         `json:"id"`
	ServerID   string         `json:"server_id,omitempty"`
	SenderID   string         `json:"sender"`
	ReceiverID string         `json:"receiver,omitempty"`
	GroupID    string         `json:"group,omitempty"`
	Kind       Kind           `json:"type"`
	Payload    string         `json:"content"`
	CreatedAt  int64          `json:"ts"` // Unix ms, client-assigned, never mutated
	SeenBy     []string       `json:"seen_by,omitempty"`
	Status     DeliveryStatus `json:"-"`
}

// ErrInvalidTarget is returned by Validate when a message does not name
// exactly one of receiver or group.
var ErrInvalidTarget = errors.New("message must target exactly one of receiver or group")

// Validate checks the target invariant: exactly one of ReceiverID or
// GroupID is set.
func (m *Message) Validate() error {
	if (m.ReceiverID == "") == (m.GroupID == "") {
		return ErrInvalidTarget
	}
	return nil
}

// IsGroup reports whether the message belongs to a group conversation.
func (m *Message) IsGroup() bool {
	return m.GroupID != ""
}

// SeenByUser reports whether userID has acknowledged visibility.
func (m *Message) SeenByUser(userID string) bool {
	for _, id := range m.SeenBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationFor returns the conversation the message belongs to from
// the point of view of selfID: the group for group messages, otherwise
// the other party of the peer exchange.
func (m *Message) ConversationFor(selfID string) ConversationRef {
	if m.IsGroup() {
		return GroupConversation(m.GroupID)
	}
	other := m.ReceiverID
	if other == selfID {
		other = m.SenderID
	}
	return PeerConversation(other)
}

// Less orders messages by (CreatedAt, ID) ascending, the conversation
// sort key.
func Less(a, b *Message) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

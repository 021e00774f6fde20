package models

// Push-channel event names. This set, together with the payload shapes
// below, is the integration contract with the existing server and must
// be preserved exactly.
const (
	EventJoinRoom  = "join-room"
	EventLeaveRoom = "leave-room"

	EventSendMessage         = "send-message"
	EventReceiveMessage      = "receive-message"
	EventSendGroupMessage    = "send-group-message"
	EventReceiveGroupMessage = "receive-group-message"

	EventSeenMessage      = "seen-message"
	EventSeenGroupMessage = "seen-group-message"

	EventRecallMessage = "recall-message"
	EventDeleteMessage = "delete-message"

	EventNewMember       = "new-member"
	EventMemberLeft      = "member-left"
	EventMemberKicked    = "member-kicked"
	EventForceLeaveGroup = "force-leave-group"
	EventGroupDeleted    = "group-deleted"
	EventSwitchRole      = "switch-role"
)

// Textual acknowledgment payloads the server uses as success
// discriminants. A fragile string protocol inherited from the server;
// the exact values are load-bearing and must not be changed. Compare
// only against these constants, never inline literals.
const (
	AckSendOK       = "Gửi tin nhắn thành công"
	AckSeenOK       = "Đã cập nhật trạng thái đã xem"
	AckSeenGroupOK  = "Đã cập nhật trạng thái đã xem nhóm"
	AckSwitchRoleOK = "Chuyển quyền nhóm trưởng thành công"

	// RejectInvalidToken is the authentication rejection condition
	// delivered mid-session over the channel.
	RejectInvalidToken = "Invalid token"
)

// RoomJoin is the payload of join-room / leave-room.
type RoomJoin struct {
	RoomID string `json:"room"`
	UserID string `json:"user"`
}

// SeenUpdate is the payload of seen-message / seen-group-message, both
// emitted (local ack) and consumed (remote update).
type SeenUpdate struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user"`
	GroupID   string `json:"group,omitempty"`
}

// RecallNotice is the payload of recall-message / delete-message.
type RecallNotice struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender"`
	ReceiverID string `json:"receiver,omitempty"`
	GroupID    string `json:"group,omitempty"`
}

// MembershipEvent is the payload of the group membership notifications
// (new-member, member-left, member-kicked, force-leave-group,
// group-deleted).
type MembershipEvent struct {
	GroupID string `json:"group"`
	UserID  string `json:"user,omitempty"`
}

// RoleSwitch is the payload of the switch-role request.
type RoleSwitch struct {
	GroupID string `json:"group"`
	FromID  string `json:"from"`
	ToID    string `json:"to"`
}

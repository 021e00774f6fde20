package models

// ConversationKind distinguishes peer and group conversations.
type ConversationKind string

const (
	ConversationPeer  ConversationKind = "peer"
	ConversationGroup ConversationKind = "group"
)

// ConversationRef identifies a conversation by (kind, target). For peer
// conversations the target is the other party's user ID; for groups it
// is the group ID.
type ConversationRef struct {
	Kind     ConversationKind
	TargetID string
}

// PeerConversation returns the ref for a one-to-one conversation with
// otherID.
func PeerConversation(otherID string) ConversationRef {
	return ConversationRef{Kind: ConversationPeer, TargetID: otherID}
}

// GroupConversation returns the ref for the group conversation groupID.
func GroupConversation(groupID string) ConversationRef {
	return ConversationRef{Kind: ConversationGroup, TargetID: groupID}
}

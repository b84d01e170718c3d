package sync

import "github.com/AbuAli85/smartprohub-sub000/internal/store"

// MessageAction classifies how an incoming feed message should be applied
// to the local cache.
type MessageAction int

const (
	// ApplySilent upserts the row and nothing else. Used for the viewer's
	// own echoes and for rows in unknown conversations.
	ApplySilent MessageAction = iota
	// ApplyRead upserts the row already marked read and acknowledges the
	// read back to the platform. Used when the viewer has the conversation
	// open.
	ApplyRead
	// ApplyUnread upserts the row, bumps the conversation's unread counter
	// and raises a notification.
	ApplyUnread
)

// DecideMessage classifies a feed-delivered message insert.
//
// Own echoes are always silent: the row either confirms an optimistic send
// (the upsert is idempotent by server id) or originates from another device
// of the same account, and in both cases no counter or notification applies.
// Everything else depends on whether the viewer currently has the message's
// conversation open.
func DecideMessage(viewerID, activeConvID string, msg *store.Message) MessageAction {
	if msg.SenderID == viewerID {
		return ApplySilent
	}
	if msg.ConversationID != "" && msg.ConversationID == activeConvID {
		return ApplyRead
	}
	return ApplyUnread
}

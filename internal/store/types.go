package store

// Message delivery statuses, in monotonic order. A message may only move
// forward: sending → sent → delivered → read. Failed is a terminal state
// reachable only from sending (a local optimistic row whose persist failed).
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Outbox entry statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// Profile is a cached platform user profile.
type Profile struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	Role      string `json:"role"` // client, provider, admin
	UpdatedAt int64  `json:"updated_at"`
}

// Conversation is a cached two-party thread, decorated with the peer
// participant resolved for the viewing user.
type Conversation struct {
	ID            string `json:"id"`
	PeerID        string `json:"peer_id"`
	PeerName      string `json:"peer_name"`
	PeerAvatarURL string `json:"peer_avatar_url"`
	PeerRole      string `json:"peer_role"`
	LastMessage   string `json:"last_message"`
	LastMessageAt int64  `json:"last_message_at"`
	UnreadCount   int    `json:"unread_count"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Message is a cached conversation message.
type Message struct {
	ConversationID string `json:"conversation_id"`
	MsgID          string `json:"msg_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Content        string `json:"content"`
	Status         string `json:"status"`
	IsRead         bool   `json:"is_read"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// OutboxEntry represents a pending outgoing message. ClientMsgID is the
// locally generated correlation id; ServerMsgID is filled once the platform
// acknowledges the insert.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Content        string
	AttachmentURL  string
	AttachmentType string
	AttachmentName string
	Status         string
	ErrorMessage   string
	ServerMsgID    string
}

// Booking is a cached service booking.
type Booking struct {
	ID          string `json:"id"`
	ServiceID   string `json:"service_id"`
	ClientID    string `json:"client_id"`
	ProviderID  string `json:"provider_id"`
	Status      string `json:"status"` // pending, confirmed, declined, completed, cancelled
	ScheduledAt int64  `json:"scheduled_at"`
	Notes       string `json:"notes"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Service is a cached provider service listing.
type Service struct {
	ID          string `json:"id"`
	ProviderID  string `json:"provider_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	PriceCents  int64  `json:"price_cents"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Contract is a cached booking contract.
type Contract struct {
	ID          string `json:"id"`
	BookingID   string `json:"booking_id"`
	ClientID    string `json:"client_id"`
	ProviderID  string `json:"provider_id"`
	Status      string `json:"status"` // draft, active, completed, terminated
	DocumentURL string `json:"document_url"`
	SignedAt    int64  `json:"signed_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

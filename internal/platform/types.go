// Package platform is the adapter for the hosted SmartPRO backend: REST
// table access, auth, the row-change feed, and attachment object storage.
// Raw row shapes live here; the To* mapping functions are the single seam
// between the platform schema and the local cache types.
package platform

import (
	"encoding/json"
	"time"

	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

// Change-event types delivered by the realtime feed.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ChangeEvent is one row-change notification from the platform feed. The
// feed is at-least-once and unordered relative to the client's own writes.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  string          `json:"type"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// ProfileRow is a platform profiles row.
type ProfileRow struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	Role      string `json:"role"`
}

// ToStore maps a profile row to the cache type.
func (r *ProfileRow) ToStore() *store.Profile {
	return &store.Profile{
		ID:        r.ID,
		FullName:  r.FullName,
		AvatarURL: r.AvatarURL,
		Role:      r.Role,
	}
}

// ConversationRow is a platform conversations row, optionally joined with
// participant profiles.
type ConversationRow struct {
	ID              string       `json:"id"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	ParticipantIDs  []string     `json:"participant_ids"`
	LastMessage     string       `json:"last_message"`
	LastMessageTime time.Time    `json:"last_message_time"`
	Participants    []ProfileRow `json:"participants,omitempty"`
}

// ToStore maps a conversation row to the cache type. The unread counter is
// viewer-derived, not a platform column; -1 preserves whatever the cache
// already holds.
func (r *ConversationRow) ToStore() *store.Conversation {
	return &store.Conversation{
		ID:            r.ID,
		LastMessage:   r.LastMessage,
		LastMessageAt: r.LastMessageTime.UnixMilli(),
		UnreadCount:   -1,
		CreatedAt:     r.CreatedAt.UnixMilli(),
		UpdatedAt:     r.UpdatedAt.UnixMilli(),
	}
}

// MessageRow is a platform messages row.
type MessageRow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Status         string    `json:"status"`
	IsRead         bool      `json:"is_read"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	AttachmentType string    `json:"attachment_type,omitempty"`
	AttachmentName string    `json:"attachment_name,omitempty"`
}

// ToStore maps a message row to the cache type.
func (r *MessageRow) ToStore() *store.Message {
	return &store.Message{
		ConversationID: r.ConversationID,
		MsgID:          r.ID,
		SenderID:       r.SenderID,
		Content:        r.Content,
		Status:         r.Status,
		IsRead:         r.IsRead,
		AttachmentURL:  r.AttachmentURL,
		AttachmentType: r.AttachmentType,
		AttachmentName: r.AttachmentName,
		CreatedAt:      r.CreatedAt.UnixMilli(),
	}
}

// BookingRow is a platform bookings row.
type BookingRow struct {
	ID          string    `json:"id"`
	ServiceID   string    `json:"service_id"`
	ClientID    string    `json:"client_id"`
	ProviderID  string    `json:"provider_id"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Notes       string    `json:"notes"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToStore maps a booking row to the cache type.
func (r *BookingRow) ToStore() *store.Booking {
	return &store.Booking{
		ID:          r.ID,
		ServiceID:   r.ServiceID,
		ClientID:    r.ClientID,
		ProviderID:  r.ProviderID,
		Status:      r.Status,
		ScheduledAt: r.ScheduledAt.UnixMilli(),
		Notes:       r.Notes,
		UpdatedAt:   r.UpdatedAt.UnixMilli(),
	}
}

// ServiceRow is a platform services row.
type ServiceRow struct {
	ID          string    `json:"id"`
	ProviderID  string    `json:"provider_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	PriceCents  int64     `json:"price_cents"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToStore maps a service row to the cache type.
func (r *ServiceRow) ToStore() *store.Service {
	return &store.Service{
		ID:          r.ID,
		ProviderID:  r.ProviderID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		PriceCents:  r.PriceCents,
		UpdatedAt:   r.UpdatedAt.UnixMilli(),
	}
}

// ContractRow is a platform contracts row.
type ContractRow struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	ClientID    string    `json:"client_id"`
	ProviderID  string    `json:"provider_id"`
	Status      string    `json:"status"`
	DocumentURL string    `json:"document_url"`
	SignedAt    time.Time `json:"signed_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToStore maps a contract row to the cache type.
func (r *ContractRow) ToStore() *store.Contract {
	return &store.Contract{
		ID:          r.ID,
		BookingID:   r.BookingID,
		ClientID:    r.ClientID,
		ProviderID:  r.ProviderID,
		Status:      r.Status,
		DocumentURL: r.DocumentURL,
		SignedAt:    r.SignedAt.UnixMilli(),
		UpdatedAt:   r.UpdatedAt.UnixMilli(),
	}
}

// UnreadCountRow is one element of the per-viewer unread aggregation.
type UnreadCountRow struct {
	ConversationID string `json:"conversation_id"`
	Count          int    `json:"count"`
}

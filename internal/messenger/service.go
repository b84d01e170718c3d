// Package messenger implements the conversation operations the daemon API
// exposes: listing and opening conversations, optimistic sends, find-or-create
// threads with a peer, and read-state propagation.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
	"github.com/AbuAli85/smartprohub-sub000/internal/notify"
	"github.com/AbuAli85/smartprohub-sub000/internal/platform"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

// ErrSignedOut is returned for operations that need a platform identity.
var ErrSignedOut = errors.New("messenger: not signed in")

// Platform is the subset of the REST client the messenger needs.
type Platform interface {
	UserID() string
	ListConversations(ctx context.Context, userID string) ([]platform.ConversationRow, error)
	UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error)
	ListMessages(ctx context.Context, conversationID string) ([]platform.MessageRow, error)
	MarkMessagesRead(ctx context.Context, conversationID, viewerID string) error
	FindConversation(ctx context.Context, userID, peerID string) (*platform.ConversationRow, error)
	CreateConversation(ctx context.Context, userID, peerID string) (*platform.ConversationRow, error)
	GetProfile(ctx context.Context, userID string) (*platform.ProfileRow, error)
}

// Uploader stores attachments under a per-user namespace and returns their
// public URL.
type Uploader interface {
	Upload(ctx context.Context, namespace, filename, contentType string, r io.Reader, size int64) (string, error)
}

// Attachment is an outgoing file attachment.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// Service coordinates the local cache, the platform and the outbox for the
// conversation surface. Safe for concurrent use.
type Service struct {
	db       *store.DB
	platform Platform
	uploader Uploader
	notifier *notify.Notifier
	bus      *bus.Bus
	logger   *zap.Logger

	mu     sync.RWMutex
	active string
}

// New wires a messenger service.
func New(db *store.DB, p Platform, up Uploader, n *notify.Notifier, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		platform: p,
		uploader: up,
		notifier: n,
		bus:      b,
		logger:   logger.Named("messenger"),
	}
}

// ActiveConversation reports the conversation the user has open, empty when
// none.
func (s *Service) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// CloseConversation clears the active conversation.
func (s *Service) CloseConversation() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

// LoadConversations returns the viewer's cached conversation list, most
// recent first, peer-decorated.
func (s *Service) LoadConversations() ([]store.Conversation, error) {
	viewer := s.platform.UserID()
	if viewer == "" {
		return nil, ErrSignedOut
	}
	return s.db.ListConversations(viewer)
}

// Refresh pulls the viewer's conversations, participant profiles, unread
// counts and (when open) the active conversation history from the platform
// into the cache. Called on every feed (re)connect and after a new
// conversation names the viewer.
func (s *Service) Refresh(ctx context.Context) error {
	viewer := s.platform.UserID()
	if viewer == "" {
		return nil
	}

	rows, err := s.platform.ListConversations(ctx, viewer)
	if err != nil {
		return fmt.Errorf("refresh conversations: %w", err)
	}
	counts, err := s.platform.UnreadCounts(ctx, viewer)
	if err != nil {
		return fmt.Errorf("refresh unread counts: %w", err)
	}

	for i := range rows {
		row := &rows[i]
		conv := row.ToStore()
		if n, ok := counts[row.ID]; ok {
			conv.UnreadCount = n
		} else {
			conv.UnreadCount = 0
		}
		if err := s.db.UpsertConversation(conv); err != nil {
			return err
		}
		if len(row.ParticipantIDs) > 0 {
			if err := s.db.SetParticipants(row.ID, row.ParticipantIDs); err != nil {
				return err
			}
		}
		for j := range row.Participants {
			if err := s.db.UpsertProfile(row.Participants[j].ToStore()); err != nil {
				return err
			}
		}
	}

	if active := s.ActiveConversation(); active != "" {
		if err := s.refreshHistory(ctx, active); err != nil {
			return err
		}
	}

	s.bus.Publish(bus.Event{Kind: "conversation.refreshed", Timestamp: time.Now()})
	return nil
}

// OpenConversation marks the conversation active, pulls its history, marks
// it read on both sides and returns the cached messages in ascending order.
// A failed history fetch degrades to the cache with a toast instead of
// failing the open.
func (s *Service) OpenConversation(ctx context.Context, conversationID string) ([]store.Message, error) {
	viewer := s.platform.UserID()
	if viewer == "" {
		return nil, ErrSignedOut
	}

	s.mu.Lock()
	s.active = conversationID
	s.mu.Unlock()

	if err := s.refreshHistory(ctx, conversationID); err != nil {
		s.logger.Warn("history fetch failed, serving cache",
			zap.String("conversation_id", conversationID), zap.Error(err))
		s.notifier.Error("Could not refresh messages", err)
	}

	if err := s.MarkRead(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.db.ListMessages(conversationID)
}

// Messages returns the cached history of a conversation in ascending order
// without touching read state.
func (s *Service) Messages(conversationID string) ([]store.Message, error) {
	return s.db.ListMessages(conversationID)
}

// MarkRead marks every incoming message in the conversation read locally,
// zeroes its unread counter and propagates the read to the platform. The
// remote ack is best-effort; the feed repairs divergence.
func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	viewer := s.platform.UserID()
	if viewer == "" {
		return ErrSignedOut
	}
	if err := s.db.MarkConversationRead(conversationID, viewer); err != nil {
		return err
	}
	s.bus.Publish(bus.Event{Kind: "conversation.read", Timestamp: time.Now(), Payload: conversationID})

	if err := s.platform.MarkMessagesRead(ctx, conversationID, viewer); err != nil {
		s.logger.Warn("remote read ack failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return nil
}

// Send performs an optimistic send: the attachment (if any) is uploaded
// first, then a pending message row appears immediately under a local
// correlation id and the outbox delivers it in the background. A failed
// upload aborts the send before any row exists.
func (s *Service) Send(ctx context.Context, conversationID, content string, att *Attachment) (*store.Message, error) {
	viewer := s.platform.UserID()
	if viewer == "" {
		return nil, ErrSignedOut
	}
	if content == "" && att == nil {
		return nil, errors.New("messenger: empty message")
	}

	var attURL, attType, attName string
	if att != nil {
		url, err := s.uploader.Upload(ctx, viewer, att.Filename, att.ContentType, att.Reader, att.Size)
		if err != nil {
			s.notifier.Error("Attachment upload failed", err)
			return nil, fmt.Errorf("upload attachment: %w", err)
		}
		attURL, attType, attName = url, att.ContentType, att.Filename
	}

	clientID := uuid.NewString()
	now := time.Now().UnixMilli()
	msg := &store.Message{
		ConversationID: conversationID,
		MsgID:          clientID,
		SenderID:       viewer,
		Content:        content,
		Status:         store.StatusSending,
		IsRead:         true,
		AttachmentURL:  attURL,
		AttachmentType: attType,
		AttachmentName: attName,
		CreatedAt:      now,
	}
	if err := s.db.UpsertMessage(msg); err != nil {
		return nil, err
	}
	if err := s.db.UpdateSnapshot(conversationID, snippet(msg), now); err != nil {
		return nil, err
	}
	if err := s.db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID:    clientID,
		ConversationID: conversationID,
		Content:        content,
		AttachmentURL:  attURL,
		AttachmentType: attType,
		AttachmentName: attName,
		Status:         store.OutboxQueued,
	}); err != nil {
		return nil, err
	}

	s.bus.Publish(bus.Event{Kind: "message.upserted", Timestamp: time.Now(), Payload: msg})
	return msg, nil
}

// StartConversation finds or creates the two-party conversation with peer,
// makes it the active conversation, sends initialMessage when non-empty and
// returns the conversation peer-decorated. Calling it twice for the same
// peer yields the same conversation.
func (s *Service) StartConversation(ctx context.Context, peerID, initialMessage string) (*store.Conversation, error) {
	viewer := s.platform.UserID()
	if viewer == "" {
		return nil, ErrSignedOut
	}
	if peerID == viewer {
		return nil, errors.New("messenger: cannot start a conversation with yourself")
	}

	row, err := s.platform.FindConversation(ctx, viewer, peerID)
	if errors.Is(err, platform.ErrNotFound) {
		row, err = s.platform.CreateConversation(ctx, viewer, peerID)
	}
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}

	if err := s.db.UpsertConversation(row.ToStore()); err != nil {
		return nil, err
	}
	participants := row.ParticipantIDs
	if len(participants) == 0 {
		participants = []string{viewer, peerID}
	}
	if err := s.db.SetParticipants(row.ID, participants); err != nil {
		return nil, err
	}

	if prof, err := s.platform.GetProfile(ctx, peerID); err != nil {
		s.logger.Warn("peer profile fetch failed", zap.String("peer_id", peerID), zap.Error(err))
	} else if err := s.db.UpsertProfile(prof.ToStore()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.active = row.ID
	s.mu.Unlock()

	if initialMessage != "" {
		if _, err := s.Send(ctx, row.ID, initialMessage, nil); err != nil {
			return nil, err
		}
	}

	return s.db.GetConversation(viewer, row.ID)
}

// refreshHistory pulls the full message history of a conversation into the
// cache and heals the unread counter from the refreshed rows.
func (s *Service) refreshHistory(ctx context.Context, conversationID string) error {
	viewer := s.platform.UserID()
	rows, err := s.platform.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	for i := range rows {
		if err := s.db.UpsertMessage(rows[i].ToStore()); err != nil {
			return err
		}
	}
	if _, err := s.db.RecountUnread(conversationID, viewer); err != nil {
		return err
	}
	return nil
}

// snippet renders the conversation list preview for a message.
func snippet(msg *store.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	if msg.AttachmentName != "" {
		return msg.AttachmentName
	}
	if msg.AttachmentURL != "" {
		return "Attachment"
	}
	return ""
}

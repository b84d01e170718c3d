// Package outbox delivers optimistically inserted messages to the platform
// in the background.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
	"github.com/AbuAli85/smartprohub-sub000/internal/notify"
	"github.com/AbuAli85/smartprohub-sub000/internal/platform"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

const drainInterval = 500 * time.Millisecond

// Persister is the subset of the REST client the sender needs.
type Persister interface {
	UserID() string
	InsertMessage(ctx context.Context, conversationID string, msg *platform.MessageRow) (*platform.MessageRow, error)
	UpdateConversationSnapshot(ctx context.Context, conversationID, lastMessage string, at time.Time) error
}

// Ack is the payload of message.send_ack events.
type Ack struct {
	ClientMsgID string
	Message     *store.Message
}

// Failure is the payload of message.send_failed events.
type Failure struct {
	ClientMsgID    string
	ConversationID string
	Err            string
}

// Sender drains the outbox on a fixed interval. One send failure marks the
// entry and its pending message row failed; nothing is retried automatically.
type Sender struct {
	db       *store.DB
	platform Persister
	notifier *notify.Notifier
	bus      *bus.Bus
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender wires an outbox sender.
func NewSender(db *store.DB, p Persister, n *notify.Notifier, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:       db,
		platform: p,
		notifier: n,
		bus:      b,
		logger:   logger.Named("outbox"),
	}
}

// Start launches the drain loop.
func (s *Sender) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Drain(ctx)
			}
		}
	}()
}

// Stop cancels the drain loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Drain sends every queued outbox entry once, in queue order.
func (s *Sender) Drain(ctx context.Context) {
	if s.platform.UserID() == "" {
		return
	}
	entries, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("read outbox failed", zap.Error(err))
		return
	}
	for i := range entries {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, &entries[i])
	}
}

func (s *Sender) send(ctx context.Context, entry *store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("mark sending failed", zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
		return
	}

	persisted, err := s.platform.InsertMessage(ctx, entry.ConversationID, &platform.MessageRow{
		ConversationID: entry.ConversationID,
		SenderID:       s.platform.UserID(),
		Content:        entry.Content,
		Status:         store.StatusSent,
		AttachmentURL:  entry.AttachmentURL,
		AttachmentType: entry.AttachmentType,
		AttachmentName: entry.AttachmentName,
	})
	if err != nil {
		s.fail(entry, err)
		return
	}

	committed := persisted.ToStore()
	committed.IsRead = true
	if err := s.db.CommitPending(entry.ConversationID, entry.ClientMsgID, committed); err != nil {
		s.logger.Error("commit pending failed",
			zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
	}
	if err := s.db.MarkOutboxSent(entry.ClientMsgID, committed.MsgID); err != nil {
		s.logger.Error("mark sent failed", zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
	}

	// Denormalized snapshot on the platform row keeps other clients'
	// conversation lists current; failure is repaired by the feed.
	if err := s.platform.UpdateConversationSnapshot(ctx, entry.ConversationID, previewOf(entry), persisted.CreatedAt); err != nil {
		s.logger.Warn("remote snapshot update failed",
			zap.String("conversation_id", entry.ConversationID), zap.Error(err))
	}

	s.bus.Publish(bus.Event{
		Kind:      "message.send_ack",
		Timestamp: time.Now(),
		Payload:   Ack{ClientMsgID: entry.ClientMsgID, Message: committed},
	})
	s.logger.Debug("message delivered",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("msg_id", committed.MsgID))
}

func (s *Sender) fail(entry *store.OutboxEntry, err error) {
	s.logger.Warn("send failed",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("conversation_id", entry.ConversationID),
		zap.Error(err))

	if dbErr := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); dbErr != nil {
		s.logger.Error("mark outbox failed errored", zap.Error(dbErr))
	}
	if dbErr := s.db.MarkMessageFailed(entry.ConversationID, entry.ClientMsgID); dbErr != nil {
		s.logger.Error("mark message failed errored", zap.Error(dbErr))
	}

	s.notifier.Error("Message failed to send", err)
	s.bus.Publish(bus.Event{
		Kind:      "message.send_failed",
		Timestamp: time.Now(),
		Payload: Failure{
			ClientMsgID:    entry.ClientMsgID,
			ConversationID: entry.ConversationID,
			Err:            err.Error(),
		},
	})
}

func previewOf(entry *store.OutboxEntry) string {
	if entry.Content != "" {
		return entry.Content
	}
	if entry.AttachmentName != "" {
		return entry.AttachmentName
	}
	return "Attachment"
}

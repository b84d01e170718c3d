// Package sync reconciles the platform change feed into the local cache.
//
// The feed is at-least-once and unordered relative to the client's own
// writes, so every application step must be idempotent: message upserts are
// keyed by server id with monotonic status merging, unread counters are
// recomputable, and a full refresh on every (re)connect repairs whatever a
// dropped event left behind.
package sync

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
	"github.com/AbuAli85/smartprohub-sub000/internal/notify"
	"github.com/AbuAli85/smartprohub-sub000/internal/platform"
	"github.com/AbuAli85/smartprohub-sub000/internal/status"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

// ActiveView reports which conversation the user currently has open, empty
// when none. Implemented by the messenger service.
type ActiveView interface {
	ActiveConversation() string
}

// Refresher pulls a full snapshot (conversations, unread counts, open
// conversation history) from the platform. Implemented by the messenger
// service.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ReadAcker propagates a local read to the platform.
type ReadAcker interface {
	MarkMessagesRead(ctx context.Context, conversationID, viewerID string) error
}

// Engine consumes platform.* and feed.* bus events and applies them to the
// cache.
type Engine struct {
	db        *store.DB
	bus       *bus.Bus
	machine   *status.Machine
	notifier  *notify.Notifier
	logger    *zap.Logger
	view      ActiveView
	refresher Refresher
	acker     ReadAcker
	viewerFn  func() string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine wires the reconciliation engine. viewerFn returns the signed-in
// user id, empty while signed out.
func NewEngine(db *store.DB, b *bus.Bus, machine *status.Machine, notifier *notify.Notifier,
	logger *zap.Logger, view ActiveView, refresher Refresher, acker ReadAcker, viewerFn func() string) *Engine {
	return &Engine{
		db:        db,
		bus:       b,
		machine:   machine,
		notifier:  notifier,
		logger:    logger.Named("sync"),
		view:      view,
		refresher: refresher,
		acker:     acker,
		viewerFn:  viewerFn,
	}
}

// Start launches the event loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	platformCh, cancelPlatform := e.bus.Subscribe("platform.", 256)
	feedCh, cancelFeed := e.bus.Subscribe("feed.", 16)

	go func() {
		defer close(e.done)
		defer cancelPlatform()
		defer cancelFeed()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-platformCh:
				e.handlePlatform(ctx, evt)
			case evt := <-feedCh:
				e.handleFeed(ctx, evt)
			}
		}
	}()
}

// Stop cancels the event loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) handleFeed(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "feed.connected":
		if err := e.machine.Transition(status.Syncing); err != nil {
			e.logger.Debug("state transition skipped", zap.Error(err))
		}
		e.refresh(ctx)
	case "feed.disconnected":
		if err := e.machine.Transition(status.Reconnecting); err != nil {
			e.logger.Debug("state transition skipped", zap.Error(err))
		}
	}
}

// refresh pulls a full snapshot and moves the daemon to Ready. A failed
// refresh keeps the daemon in Syncing; the next reconnect retries.
func (e *Engine) refresh(ctx context.Context) {
	if err := e.refresher.Refresh(ctx); err != nil {
		e.logger.Error("full refresh failed", zap.Error(err))
		e.notifier.Error("Sync with SmartPRO failed", err)
		return
	}
	if err := e.db.SetCheckpoint("last_full_sync_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("checkpoint write failed", zap.Error(err))
	}
	if err := e.machine.Transition(status.Ready); err != nil {
		e.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func (e *Engine) handlePlatform(ctx context.Context, evt bus.Event) {
	var err error
	switch evt.Kind {
	case "platform.message.insert":
		err = e.applyMessageInsert(ctx, evt.Payload.(*store.Message))
	case "platform.message.update":
		err = e.applyMessageUpdate(evt.Payload.(*store.Message))
	case "platform.conversation.insert":
		err = e.applyConversation(ctx, evt.Payload.(*platform.ConversationRow), true)
	case "platform.conversation.update":
		err = e.applyConversation(ctx, evt.Payload.(*platform.ConversationRow), false)
	case "platform.booking.insert", "platform.booking.update":
		b := evt.Payload.(*store.Booking)
		if err = e.db.UpsertBooking(b); err == nil {
			e.publish("booking.upserted", b)
		}
	case "platform.service.insert", "platform.service.update":
		s := evt.Payload.(*store.Service)
		if err = e.db.UpsertService(s); err == nil {
			e.publish("service.upserted", s)
		}
	case "platform.contract.insert", "platform.contract.update":
		c := evt.Payload.(*store.Contract)
		if err = e.db.UpsertContract(c); err == nil {
			e.publish("contract.upserted", c)
		}
	case "platform.profile.insert", "platform.profile.update":
		err = e.db.UpsertProfile(evt.Payload.(*store.Profile))
	default:
		return
	}
	if err != nil {
		e.logger.Error("apply feed event failed", zap.String("kind", evt.Kind), zap.Error(err))
		return
	}
	if err := e.db.SetCheckpoint("last_event_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("checkpoint write failed", zap.Error(err))
	}
}

func (e *Engine) applyMessageInsert(ctx context.Context, msg *store.Message) error {
	viewer := e.viewerFn()
	action := DecideMessage(viewer, e.view.ActiveConversation(), msg)

	switch action {
	case ApplyRead:
		msg.IsRead = true
	case ApplyUnread:
		// counter first would double-count on redelivery: bump only when
		// the row is new.
		existing, err := e.db.GetMessage(msg.ConversationID, msg.MsgID)
		if err != nil {
			return err
		}
		if existing != nil {
			action = ApplySilent
		}
	}

	if err := e.db.UpsertMessage(msg); err != nil {
		return err
	}

	switch action {
	case ApplySilent:
		if err := e.db.UpdateSnapshot(msg.ConversationID, preview(msg), msg.CreatedAt); err != nil {
			return err
		}
	case ApplyRead:
		if err := e.db.UpdateSnapshot(msg.ConversationID, preview(msg), msg.CreatedAt); err != nil {
			return err
		}
		if err := e.acker.MarkMessagesRead(ctx, msg.ConversationID, viewer); err != nil {
			e.logger.Warn("read ack failed", zap.String("conversation_id", msg.ConversationID), zap.Error(err))
		}
	case ApplyUnread:
		if err := e.db.BumpUnread(msg.ConversationID, preview(msg), msg.CreatedAt); err != nil {
			return err
		}
		e.notifier.Info("New message: " + preview(msg))
	}

	e.publish("message.upserted", msg)
	return nil
}

// applyMessageUpdate merges a status/read change. The upsert's monotonic
// status rules make stale or reordered updates harmless.
func (e *Engine) applyMessageUpdate(msg *store.Message) error {
	if err := e.db.UpsertMessage(msg); err != nil {
		return err
	}
	e.publish("message.upserted", msg)
	return nil
}

func (e *Engine) applyConversation(ctx context.Context, row *platform.ConversationRow, inserted bool) error {
	if err := e.db.UpsertConversation(row.ToStore()); err != nil {
		return err
	}
	if len(row.ParticipantIDs) > 0 {
		if err := e.db.SetParticipants(row.ID, row.ParticipantIDs); err != nil {
			return err
		}
	}
	for i := range row.Participants {
		if err := e.db.UpsertProfile(row.Participants[i].ToStore()); err != nil {
			return err
		}
	}
	e.publish("conversation.upserted", row.ID)

	// A brand-new conversation naming the viewer usually arrives without
	// joined profiles; a full refresh fills in the peer and counters.
	viewer := e.viewerFn()
	if inserted && viewer != "" && slices.Contains(row.ParticipantIDs, viewer) && len(row.Participants) == 0 {
		if err := e.refresher.Refresh(ctx); err != nil {
			e.logger.Warn("refresh after new conversation failed", zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// preview renders the conversation list snippet for a message.
func preview(msg *store.Message) string {
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

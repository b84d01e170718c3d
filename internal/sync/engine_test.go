package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
	"github.com/AbuAli85/smartprohub-sub000/internal/notify"
	"github.com/AbuAli85/smartprohub-sub000/internal/platform"
	"github.com/AbuAli85/smartprohub-sub000/internal/status"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

const viewer = "user-viewer"

type fakeView struct{ active string }

func (f *fakeView) ActiveConversation() string { return f.active }

type fakeRefresher struct{ calls int }

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.calls++
	return nil
}

type fakeAcker struct{ acked []string }

func (f *fakeAcker) MarkMessagesRead(ctx context.Context, conversationID, viewerID string) error {
	f.acked = append(f.acked, conversationID)
	return nil
}

type fixture struct {
	engine    *Engine
	db        *store.DB
	bus       *bus.Bus
	machine   *status.Machine
	view      *fakeView
	refresher *fakeRefresher
	acker     *fakeAcker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.New()
	f := &fixture{
		db:        db,
		bus:       b,
		machine:   status.NewMachine(b),
		view:      &fakeView{},
		refresher: &fakeRefresher{},
		acker:     &fakeAcker{},
	}
	f.engine = NewEngine(db, b, f.machine, notify.New(b, zap.NewNop()), zap.NewNop(),
		f.view, f.refresher, f.acker, func() string { return viewer })

	if err := db.UpsertConversation(&store.Conversation{ID: "c1", UnreadCount: -1}); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return f
}

func incoming(msgID string) *store.Message {
	return &store.Message{
		ConversationID: "c1",
		MsgID:          msgID,
		SenderID:       "user-peer",
		Content:        "hello",
		Status:         store.StatusSent,
		CreatedAt:      time.Now().UnixMilli(),
	}
}

func platformEvent(kind string, payload any) bus.Event {
	return bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

func TestDecideMessage(t *testing.T) {
	cases := []struct {
		name   string
		sender string
		active string
		want   MessageAction
	}{
		{"own echo", viewer, "", ApplySilent},
		{"own echo with conversation open", viewer, "c1", ApplySilent},
		{"incoming, conversation open", "peer", "c1", ApplyRead},
		{"incoming, other conversation open", "peer", "c2", ApplyUnread},
		{"incoming, nothing open", "peer", "", ApplyUnread},
	}
	for _, tc := range cases {
		msg := &store.Message{ConversationID: "c1", SenderID: tc.sender}
		if got := DecideMessage(viewer, tc.active, msg); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestInsertToInactiveConversationBumpsUnread(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.bus.Subscribe("message.", 8)
	defer cancel()

	f.engine.handlePlatform(context.Background(), platformEvent("platform.message.insert", incoming("m1")))

	conv, err := f.db.GetConversation(viewer, "c1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", conv.UnreadCount)
	}
	if conv.LastMessage != "hello" {
		t.Errorf("LastMessage = %q", conv.LastMessage)
	}

	select {
	case evt := <-ch:
		if evt.Kind != "message.upserted" {
			t.Errorf("kind = %s", evt.Kind)
		}
	default:
		t.Error("message.upserted not published")
	}
}

func TestRedeliveredInsertDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t)

	evt := platformEvent("platform.message.insert", incoming("m1"))
	f.engine.handlePlatform(context.Background(), evt)
	f.engine.handlePlatform(context.Background(), platformEvent("platform.message.insert", incoming("m1")))

	conv, err := f.db.GetConversation(viewer, "c1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d after redelivery, want 1", conv.UnreadCount)
	}
}

func TestInsertToActiveConversationComesInRead(t *testing.T) {
	f := newFixture(t)
	f.view.active = "c1"

	f.engine.handlePlatform(context.Background(), platformEvent("platform.message.insert", incoming("m1")))

	msg, err := f.db.GetMessage("c1", "m1")
	if err != nil || msg == nil {
		t.Fatalf("get message: %v %v", msg, err)
	}
	if !msg.IsRead {
		t.Error("message not marked read")
	}
	conv, _ := f.db.GetConversation(viewer, "c1")
	if conv.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", conv.UnreadCount)
	}
	if len(f.acker.acked) != 1 || f.acker.acked[0] != "c1" {
		t.Errorf("read ack calls = %v", f.acker.acked)
	}
}

func TestOwnEchoAppliesSilently(t *testing.T) {
	f := newFixture(t)

	msg := incoming("m1")
	msg.SenderID = viewer
	f.engine.handlePlatform(context.Background(), platformEvent("platform.message.insert", msg))

	conv, _ := f.db.GetConversation(viewer, "c1")
	if conv.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d for own echo, want 0", conv.UnreadCount)
	}
	if conv.LastMessage != "hello" {
		t.Errorf("snapshot not updated: %q", conv.LastMessage)
	}
}

func TestUpdateNeverRegressesStatus(t *testing.T) {
	f := newFixture(t)

	msg := incoming("m1")
	msg.Status = store.StatusRead
	msg.IsRead = true
	f.engine.handlePlatform(context.Background(), platformEvent("platform.message.insert", msg))

	stale := incoming("m1")
	stale.Status = store.StatusSent
	f.engine.handlePlatform(context.Background(), platformEvent("platform.message.update", stale))

	got, _ := f.db.GetMessage("c1", "m1")
	if got.Status != store.StatusRead {
		t.Errorf("Status = %s after stale update, want read", got.Status)
	}
	if !got.IsRead {
		t.Error("IsRead regressed")
	}
}

func TestNewConversationNamingViewerTriggersRefresh(t *testing.T) {
	f := newFixture(t)

	row := &platform.ConversationRow{
		ID:             "c2",
		ParticipantIDs: []string{viewer, "user-peer"},
	}
	f.engine.handlePlatform(context.Background(), platformEvent("platform.conversation.insert", row))

	if f.refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", f.refresher.calls)
	}
	conv, err := f.db.GetConversation(viewer, "c2")
	if err != nil || conv == nil {
		t.Fatalf("conversation not cached: %v %v", conv, err)
	}
}

func TestConversationUpdateDoesNotRefresh(t *testing.T) {
	f := newFixture(t)

	row := &platform.ConversationRow{ID: "c1", LastMessage: "later"}
	f.engine.handlePlatform(context.Background(), platformEvent("platform.conversation.update", row))

	if f.refresher.calls != 0 {
		t.Errorf("refresh calls = %d, want 0", f.refresher.calls)
	}
}

func TestBookingEventsLandInCache(t *testing.T) {
	f := newFixture(t)

	f.engine.handlePlatform(context.Background(), platformEvent("platform.booking.insert", &store.Booking{
		ID: "b1", ClientID: viewer, ProviderID: "user-peer", Status: "pending",
	}))

	bookings, err := f.db.ListBookings(viewer)
	if err != nil {
		t.Fatalf("list bookings: %v", err)
	}
	if len(bookings) != 1 || bookings[0].ID != "b1" {
		t.Errorf("bookings = %+v", bookings)
	}
}

func TestFeedLifecycleDrivesStateMachine(t *testing.T) {
	f := newFixture(t)
	if err := f.machine.Transition(status.Connecting); err != nil {
		t.Fatalf("to connecting: %v", err)
	}

	f.engine.handleFeed(context.Background(), bus.Event{Kind: "feed.connected"})
	if got := f.machine.Current(); got != status.Ready {
		t.Fatalf("state after connect = %s, want READY", got)
	}
	if f.refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", f.refresher.calls)
	}

	f.engine.handleFeed(context.Background(), bus.Event{Kind: "feed.disconnected"})
	if got := f.machine.Current(); got != status.Reconnecting {
		t.Fatalf("state after disconnect = %s, want RECONNECTING", got)
	}

	f.engine.handleFeed(context.Background(), bus.Event{Kind: "feed.connected"})
	if got := f.machine.Current(); got != status.Ready {
		t.Fatalf("state after reconnect = %s, want READY", got)
	}
}

func TestEngineStartStop(t *testing.T) {
	f := newFixture(t)
	f.engine.Start(context.Background())

	f.bus.Publish(platformEvent("platform.message.insert", incoming("m1")))

	deadline := time.After(2 * time.Second)
	for {
		msg, err := f.db.GetMessage("c1", "m1")
		if err != nil {
			t.Fatalf("get message: %v", err)
		}
		if msg != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("message never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}
	f.engine.Stop()
}

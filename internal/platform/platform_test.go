package platform

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

func TestDecodeChange(t *testing.T) {
	frame := []byte(`{"table":"messages","type":"INSERT","new":{"id":"m1","conversation_id":"c1","sender_id":"u2","content":"hello","status":"sent","created_at":"2026-03-01T10:00:00Z"}}`)
	evt, err := DecodeChange(frame)
	if err != nil {
		t.Fatalf("DecodeChange: %v", err)
	}
	if evt.Table != "messages" || evt.Type != EventInsert {
		t.Errorf("got table=%s type=%s", evt.Table, evt.Type)
	}
	if len(evt.New) == 0 {
		t.Error("new row not captured")
	}
}

func TestDecodeChangeRejectsIncompleteFrames(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{}`,
		`{"table":"messages"}`,
		`{"type":"INSERT"}`,
	} {
		if _, err := DecodeChange([]byte(frame)); err == nil {
			t.Errorf("DecodeChange(%q) succeeded, want error", frame)
		}
	}
}

func TestFeedURL(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "https://api.smartpro.example", want: "wss://api.smartpro.example/v1/realtime"},
		{in: "http://localhost:9000/", want: "ws://localhost:9000/v1/realtime"},
		{in: "ftp://nope", wantErr: true},
	}
	for _, tc := range cases {
		got, err := feedURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("feedURL(%q) succeeded, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("feedURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("feedURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIdentityFromToken(t *testing.T) {
	// Unsigned token with sub=user-1, role=provider. Signature is not
	// validated locally, so any well-formed JWT works.
	token := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
		"eyJzdWIiOiJ1c2VyLTEiLCJyb2xlIjoicHJvdmlkZXIifQ." +
		"c2ln"
	id, err := identityFromToken(token)
	if err != nil {
		t.Fatalf("identityFromToken: %v", err)
	}
	if id.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", id.UserID)
	}
	if id.Role != "provider" {
		t.Errorf("Role = %q, want provider", id.Role)
	}
}

func TestIdentityFromTokenRejectsGarbage(t *testing.T) {
	if _, err := identityFromToken("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestRouterPublishesDecodedRows(t *testing.T) {
	b := bus.New()
	ch, cancel := b.Subscribe("platform.", 8)
	defer cancel()

	r := NewRouter(b, zap.NewNop())
	r.Route(ChangeEvent{
		Table: "messages",
		Type:  EventInsert,
		New:   []byte(`{"id":"m1","conversation_id":"c1","sender_id":"u2","content":"hi","status":"sent","created_at":"2026-03-01T10:00:00Z"}`),
	})

	select {
	case evt := <-ch:
		if evt.Kind != "platform.message.insert" {
			t.Fatalf("kind = %s", evt.Kind)
		}
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			t.Fatalf("payload type %T", evt.Payload)
		}
		if msg.MsgID != "m1" || msg.ConversationID != "c1" || msg.Status != store.StatusSent {
			t.Errorf("unexpected mapped message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestRouterIgnoresDeletesAndUnknownTables(t *testing.T) {
	b := bus.New()
	ch, cancel := b.Subscribe("platform.", 8)
	defer cancel()

	r := NewRouter(b, zap.NewNop())
	r.Route(ChangeEvent{Table: "messages", Type: EventDelete, Old: []byte(`{"id":"m1"}`)})
	r.Route(ChangeEvent{Table: "audit_log", Type: EventInsert, New: []byte(`{}`)})
	r.Route(ChangeEvent{Table: "messages", Type: EventInsert, New: []byte(`broken`)})

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %s", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMessageRowToStore(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	row := MessageRow{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u2",
		Content:        "hello",
		Status:         "delivered",
		IsRead:         true,
		AttachmentURL:  "https://cdn/x.png",
		CreatedAt:      at,
	}
	msg := row.ToStore()
	if msg.CreatedAt != at.UnixMilli() {
		t.Errorf("CreatedAt = %d, want %d", msg.CreatedAt, at.UnixMilli())
	}
	if !msg.IsRead || msg.Status != store.StatusDelivered {
		t.Errorf("flags not mapped: %+v", msg)
	}
}

func TestConversationRowToStorePreservesUnread(t *testing.T) {
	row := ConversationRow{ID: "c1", LastMessage: "yo"}
	conv := row.ToStore()
	if conv.UnreadCount != -1 {
		t.Errorf("UnreadCount = %d, want -1 (preserve cached value)", conv.UnreadCount)
	}
}

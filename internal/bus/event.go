package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind is a dot-separated name; the first segments form a namespace that
// subscribers filter on. The daemon uses:
//
//	platform.*  raw change-feed rows mapped to store types
//	message.*   local message lifecycle (upserted, send_ack, send_failed)
//	conversation.*, booking.*, contract.*
//	feed.*      change-feed connection state
//	daemon.*    runtime state transitions
//	notify.*    user-facing toasts
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

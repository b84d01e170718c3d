// Package notify is the user-facing failure surface. Every operation
// boundary converts errors into a recorded toast instead of propagating them
// to the caller's caller; local state stays usable and the user re-triggers
// the action manually.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
)

const maxRecent = 50

// Toast levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Toast is a single user-facing notification.
type Toast struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier records toasts and publishes them as notify.toast bus events for
// attached frontends.
type Notifier struct {
	mu     sync.Mutex
	recent []Toast
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a notifier. bus and logger may be nil in tests.
func New(b *bus.Bus, logger *zap.Logger) *Notifier {
	return &Notifier{bus: b, logger: logger}
}

// Error records an error toast.
func (n *Notifier) Error(message string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	if n.logger != nil {
		n.logger.Warn(message, zap.Error(err))
	}
	n.push(Toast{Level: LevelError, Message: message, Detail: detail, At: time.Now()})
}

// Info records an informational toast.
func (n *Notifier) Info(message string) {
	n.push(Toast{Level: LevelInfo, Message: message, At: time.Now()})
}

// Recent returns the recorded toasts, oldest first.
func (n *Notifier) Recent() []Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Toast, len(n.recent))
	copy(out, n.recent)
	return out
}

func (n *Notifier) push(t Toast) {
	n.mu.Lock()
	n.recent = append(n.recent, t)
	if len(n.recent) > maxRecent {
		n.recent = n.recent[len(n.recent)-maxRecent:]
	}
	n.mu.Unlock()

	if n.bus != nil {
		n.bus.Publish(bus.Event{Kind: "notify.toast", Timestamp: t.At, Payload: t})
	}
}

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	// Loopback-only daemon; any local origin may attach.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// streamEvents bridges bus events to an attached frontend. Each frame is one
// JSON-encoded event. Raw platform.* rows are skipped; the sync engine
// republishes them as message.*, conversation.* and friends once applied, so
// a UI only ever renders applied state.
func (h *Handlers) streamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.bus.Subscribe("", 128)
	defer cancel()

	// Read loop only notices the client going away.
	stop := make(chan struct{})
	go func() {
		defer close(stop)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-stop:
			return
		case evt := <-events:
			if strings.HasPrefix(evt.Kind, "platform.") {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wireEvent{
				Kind:      evt.Kind,
				Timestamp: evt.Timestamp,
				Payload:   evt.Payload,
			}); err != nil {
				h.logger.Debug("websocket push failed", zap.Error(err))
				return
			}
		}
	}
}

type wireEvent struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

package platform

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
)

// Router maps raw change-feed events onto the internal bus, already decoded
// to cache types. Consumers subscribe to the platform.* namespace and never
// see the wire shape.
type Router struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewRouter builds a feed event router publishing on b.
func NewRouter(b *bus.Bus, logger *zap.Logger) *Router {
	return &Router{bus: b, logger: logger.Named("feed_router")}
}

// Route handles one change event. Deletes are ignored: the application
// never removes rows, only transitions their status.
func (r *Router) Route(evt ChangeEvent) {
	if evt.Type == EventDelete {
		r.logger.Debug("ignoring delete event", zap.String("table", evt.Table))
		return
	}

	suffix := "update"
	if evt.Type == EventInsert {
		suffix = "insert"
	}

	switch evt.Table {
	case "messages":
		var row MessageRow
		if !r.decode(evt, &row) {
			return
		}
		r.publish("platform.message."+suffix, row.ToStore())
	case "conversations":
		var row ConversationRow
		if !r.decode(evt, &row) {
			return
		}
		r.publish("platform.conversation."+suffix, &row)
	case "bookings":
		var row BookingRow
		if !r.decode(evt, &row) {
			return
		}
		r.publish("platform.booking."+suffix, row.ToStore())
	case "services":
		var row ServiceRow
		if !r.decode(evt, &row) {
			return
		}
		r.publish("platform.service."+suffix, row.ToStore())
	case "contracts":
		var row ContractRow
		if !r.decode(evt, &row) {
			return
		}
		r.publish("platform.contract."+suffix, row.ToStore())
	case "profiles":
		var row ProfileRow
		if !r.decode(evt, &row) {
			return
		}
		r.publish("platform.profile."+suffix, row.ToStore())
	default:
		r.logger.Debug("ignoring event for unknown table", zap.String("table", evt.Table))
	}
}

func (r *Router) decode(evt ChangeEvent, dst any) bool {
	if len(evt.New) == 0 {
		r.logger.Warn("change event without new row", zap.String("table", evt.Table), zap.String("type", evt.Type))
		return false
	}
	if err := json.Unmarshal(evt.New, dst); err != nil {
		r.logger.Warn("undecodable row in change event",
			zap.String("table", evt.Table), zap.Error(err))
		return false
	}
	return true
}

func (r *Router) publish(kind string, payload any) {
	r.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

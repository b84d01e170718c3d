package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
	"github.com/AbuAli85/smartprohub-sub000/internal/config"
)

const (
	feedReadLimit    = 1 << 20
	feedPingInterval = 30 * time.Second
	maxReconnectWait = 30 * time.Second
)

// Feed maintains the websocket subscription to the platform's row-change
// stream. It reconnects with exponential backoff and publishes
// feed.connected / feed.disconnected so the rest of the daemon can react.
type Feed struct {
	wsURL   string
	apiKey  string
	tokenFn func() string
	bus     *bus.Bus
	logger  *zap.Logger

	mu      sync.Mutex
	handler func(ChangeEvent)
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFeed builds the change feed for the configured platform. tokenFn is
// called on every (re)connect so a refreshed access token is picked up.
func NewFeed(cfg config.PlatformConfig, b *bus.Bus, logger *zap.Logger, tokenFn func() string) (*Feed, error) {
	wsURL, err := feedURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Feed{
		wsURL:   wsURL,
		apiKey:  cfg.APIKey,
		tokenFn: tokenFn,
		bus:     b,
		logger:  logger.Named("feed"),
	}, nil
}

// SetHandler registers the callback invoked for every decoded change event.
// Must be called before Start.
func (f *Feed) SetHandler(h func(ChangeEvent)) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

// Start launches the connect/read loop. It returns immediately; Stop tears
// the loop down.
func (f *Feed) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.done = make(chan struct{})
	f.mu.Unlock()

	go f.run(ctx)
}

// Stop cancels the feed loop and waits for it to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)

	wait := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := f.dial(ctx)
		if err != nil {
			f.logger.Warn("feed dial failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = min(wait*2, maxReconnectWait)
			continue
		}

		wait = time.Second
		f.bus.Publish(bus.Event{Kind: "feed.connected", Timestamp: time.Now()})
		err = f.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("feed connection lost", zap.Error(err))
		f.bus.Publish(bus.Event{Kind: "feed.disconnected", Timestamp: time.Now()})
	}
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("apikey", f.apiKey)
	if tok := f.tokenFn(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(feedReadLimit)
	return conn, nil
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// The ping loop doubles as the context watcher: closing the conn
	// unblocks ReadMessage.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(feedPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingDone:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		evt, err := DecodeChange(data)
		if err != nil {
			f.logger.Warn("undecodable feed frame", zap.Error(err))
			continue
		}
		if handler != nil {
			handler(evt)
		}
	}
}

// DecodeChange parses one feed frame into a ChangeEvent.
func DecodeChange(data []byte) (ChangeEvent, error) {
	var evt ChangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if evt.Table == "" || evt.Type == "" {
		return ChangeEvent{}, fmt.Errorf("change event missing table or type")
	}
	return evt, nil
}

// feedURL converts the REST base URL into the realtime websocket endpoint.
func feedURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse platform url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported platform url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/realtime"
	return u.String(), nil
}

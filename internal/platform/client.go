package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/config"
)

// Sentinel errors surfaced by the REST client.
var (
	ErrNotFound     = errors.New("platform: not found")
	ErrUnauthorized = errors.New("platform: unauthorized")
)

// Client talks to the SmartPRO REST API. It is safe for concurrent use;
// the signed-in identity is guarded separately from the resty client, which
// only ever has headers replaced atomically through SetAuthToken.
type Client struct {
	http   *resty.Client
	logger *zap.Logger

	mu       sync.RWMutex
	identity Identity
}

// Identity is the authenticated platform user, extracted from the access
// token claims.
type Identity struct {
	UserID string
	Role   string
	Token  string
}

// NewClient builds a REST client for the configured platform endpoint.
func NewClient(cfg config.PlatformConfig, logger *zap.Logger) *Client {
	httpc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second).
		SetHeader("apikey", cfg.APIKey).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Client{
		http:   httpc,
		logger: logger.Named("platform"),
	}
}

// SignIn exchanges credentials for an access token and derives the user
// identity from its claims. Subsequent requests carry the token.
func (c *Client) SignIn(ctx context.Context, email, password string) (Identity, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		Post("/v1/auth/token")
	if err != nil {
		return Identity{}, fmt.Errorf("sign in: %w", err)
	}
	if resp.IsError() {
		return Identity{}, apiError("sign in", resp)
	}

	id, err := identityFromToken(out.AccessToken)
	if err != nil {
		return Identity{}, err
	}

	c.http.SetAuthToken(id.Token)
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()

	c.logger.Info("signed in", zap.String("user_id", id.UserID), zap.String("role", id.Role))
	return id, nil
}

// SignOut drops the stored identity and auth token.
func (c *Client) SignOut() {
	c.http.SetAuthToken("")
	c.mu.Lock()
	c.identity = Identity{}
	c.mu.Unlock()
}

// UserID returns the signed-in user id, or empty when signed out.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.UserID
}

// Role returns the signed-in user role, or empty when signed out.
func (c *Client) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.Role
}

// Token returns the current access token, or empty when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.Token
}

// SignedIn reports whether the client holds an identity.
func (c *Client) SignedIn() bool {
	return c.UserID() != ""
}

// ListConversations fetches every conversation the user participates in,
// with participant profiles joined.
func (c *Client) ListConversations(ctx context.Context, userID string) ([]ConversationRow, error) {
	var rows []ConversationRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("participant", userID).
		SetResult(&rows).
		Get("/v1/conversations")
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("list conversations", resp)
	}
	return rows, nil
}

// FindConversation looks up the two-party conversation between user and
// peer. Returns ErrNotFound when no such conversation exists.
func (c *Client) FindConversation(ctx context.Context, userID, peerID string) (*ConversationRow, error) {
	var row ConversationRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user", userID).
		SetQueryParam("peer", peerID).
		SetResult(&row).
		Get("/v1/conversations/find")
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, apiError("find conversation", resp)
	}
	return &row, nil
}

// CreateConversation creates a two-party conversation. The platform may
// race concurrent creates from both sides; callers treat the result as
// best-effort and reconcile through the feed.
func (c *Client) CreateConversation(ctx context.Context, userID, peerID string) (*ConversationRow, error) {
	var row ConversationRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"participant_ids": []string{userID, peerID}}).
		SetResult(&row).
		Post("/v1/conversations")
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("create conversation", resp)
	}
	return &row, nil
}

// UpdateConversationSnapshot updates the denormalized last-message columns
// on a conversation after a send.
func (c *Client) UpdateConversationSnapshot(ctx context.Context, convID, lastMessage string, at time.Time) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"last_message":      lastMessage,
			"last_message_time": at,
		}).
		Patch("/v1/conversations/" + convID)
	if err != nil {
		return fmt.Errorf("update conversation snapshot: %w", err)
	}
	if resp.IsError() {
		return apiError("update conversation snapshot", resp)
	}
	return nil
}

// ListMessages fetches the full message history of a conversation in
// ascending time order.
func (c *Client) ListMessages(ctx context.Context, convID string) ([]MessageRow, error) {
	var rows []MessageRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&rows).
		Get("/v1/conversations/" + convID + "/messages")
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("list messages", resp)
	}
	return rows, nil
}

// InsertMessage persists a message and returns the committed row, including
// the server-assigned id and timestamp.
func (c *Client) InsertMessage(ctx context.Context, convID string, msg *MessageRow) (*MessageRow, error) {
	var row MessageRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&row).
		Post("/v1/conversations/" + convID + "/messages")
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("insert message", resp)
	}
	return &row, nil
}

// MarkMessagesRead flags every message in the conversation not sent by the
// viewer as read.
func (c *Client) MarkMessagesRead(ctx context.Context, convID, viewerID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"viewer_id": viewerID}).
		Post("/v1/conversations/" + convID + "/read")
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if resp.IsError() {
		return apiError("mark messages read", resp)
	}
	return nil
}

// UnreadCounts fetches the per-conversation unread aggregation for the
// viewer.
func (c *Client) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	var rows []UnreadCountRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("viewer", viewerID).
		SetResult(&rows).
		Get("/v1/messages/unread-counts")
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("unread counts", resp)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.ConversationID] = r.Count
	}
	return counts, nil
}

// GetProfile fetches a user profile by id. Returns ErrNotFound for unknown
// users.
func (c *Client) GetProfile(ctx context.Context, userID string) (*ProfileRow, error) {
	var row ProfileRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&row).
		Get("/v1/profiles/" + userID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, apiError("get profile", resp)
	}
	return &row, nil
}

// ListBookings fetches bookings where the user is client or provider.
func (c *Client) ListBookings(ctx context.Context, userID string) ([]BookingRow, error) {
	var rows []BookingRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user", userID).
		SetResult(&rows).
		Get("/v1/bookings")
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("list bookings", resp)
	}
	return rows, nil
}

// UpdateBookingStatus transitions a booking and returns the updated row.
func (c *Client) UpdateBookingStatus(ctx context.Context, bookingID, status string) (*BookingRow, error) {
	var row BookingRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"status": status}).
		SetResult(&row).
		Patch("/v1/bookings/" + bookingID)
	if err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("update booking", resp)
	}
	return &row, nil
}

// ListServices fetches the service catalog.
func (c *Client) ListServices(ctx context.Context) ([]ServiceRow, error) {
	var rows []ServiceRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&rows).
		Get("/v1/services")
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("list services", resp)
	}
	return rows, nil
}

// ListContracts fetches contracts where the user is a party.
func (c *Client) ListContracts(ctx context.Context, userID string) ([]ContractRow, error) {
	var rows []ContractRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user", userID).
		SetResult(&rows).
		Get("/v1/contracts")
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("list contracts", resp)
	}
	return rows, nil
}

func apiError(op string, resp *resty.Response) error {
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	return fmt.Errorf("%s: platform returned %d: %s", op, resp.StatusCode(), resp.String())
}

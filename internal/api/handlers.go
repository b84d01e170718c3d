// Package api is the daemon's local HTTP surface, consumed by smartproctl
// and desktop frontends. It serves cached state, accepts conversation and
// booking actions and bridges bus events over a websocket.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/bus"
	"github.com/AbuAli85/smartprohub-sub000/internal/marketplace"
	"github.com/AbuAli85/smartprohub-sub000/internal/messenger"
	"github.com/AbuAli85/smartprohub-sub000/internal/notify"
	"github.com/AbuAli85/smartprohub-sub000/internal/platform"
	"github.com/AbuAli85/smartprohub-sub000/internal/status"
)

// Handlers holds the services behind the HTTP surface.
type Handlers struct {
	profile     string
	machine     *status.Machine
	client      *platform.Client
	messenger   *messenger.Service
	marketplace *marketplace.Service
	notifier    *notify.Notifier
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewHandlers wires the HTTP handlers.
func NewHandlers(profile string, m *status.Machine, client *platform.Client,
	msg *messenger.Service, mkt *marketplace.Service, n *notify.Notifier,
	b *bus.Bus, logger *zap.Logger) *Handlers {
	return &Handlers{
		profile:     profile,
		machine:     m,
		client:      client,
		messenger:   msg,
		marketplace: mkt,
		notifier:    n,
		bus:         b,
		logger:      logger.Named("api"),
	}
}

// Router builds the gin engine with all routes registered. The daemon binds
// to loopback only; CORS is open so local web frontends can talk to it.
func (h *Handlers) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE"},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
	}))

	v1 := r.Group("/v1")
	{
		v1.GET("/status", h.getStatus)
		v1.POST("/login", h.login)
		v1.POST("/logout", h.logout)

		v1.GET("/conversations", h.listConversations)
		v1.POST("/conversations", h.startConversation)
		v1.POST("/conversations/:id/open", h.openConversation)
		v1.POST("/conversations/:id/close", h.closeConversation)
		v1.GET("/conversations/:id/messages", h.listMessages)
		v1.POST("/conversations/:id/messages", h.sendMessage)
		v1.POST("/conversations/:id/read", h.markRead)

		v1.GET("/bookings", h.listBookings)
		v1.POST("/bookings/:id/status", h.setBookingStatus)
		v1.GET("/services", h.listServices)
		v1.GET("/contracts", h.listContracts)

		v1.GET("/toasts", h.listToasts)
		v1.GET("/ws", h.streamEvents)
	}
	return r
}

func (h *Handlers) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"profile":        h.profile,
		"state":          h.machine.Current(),
		"user_id":        h.client.UserID(),
		"role":           h.client.Role(),
		"dropped_events": h.bus.Dropped(),
	})
}

func (h *Handlers) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.client.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.machine.Transition(status.Connecting); err != nil {
		h.logger.Debug("state transition skipped", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
}

func (h *Handlers) logout(c *gin.Context) {
	h.client.SignOut()
	if err := h.machine.Transition(status.AuthRequired); err != nil {
		h.logger.Debug("state transition skipped", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) listConversations(c *gin.Context) {
	convs, err := h.messenger.LoadConversations()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handlers) startConversation(c *gin.Context) {
	var req struct {
		PeerID  string `json:"peer_id" binding:"required"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := h.messenger.StartConversation(c.Request.Context(), req.PeerID, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handlers) openConversation(c *gin.Context) {
	msgs, err := h.messenger.OpenConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handlers) closeConversation(c *gin.Context) {
	h.messenger.CloseConversation()
	c.Status(http.StatusNoContent)
}

func (h *Handlers) listMessages(c *gin.Context) {
	msgs, err := h.messenger.Messages(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// sendMessage accepts either JSON {"content": ...} or multipart form data
// with a content field and an optional attachment file.
func (h *Handlers) sendMessage(c *gin.Context) {
	conversationID := c.Param("id")

	var content string
	var att *messenger.Attachment

	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		content = c.PostForm("content")
		file, err := c.FormFile("attachment")
		if err == nil {
			f, err := file.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			defer f.Close()
			att = &messenger.Attachment{
				Filename:    file.Filename,
				ContentType: file.Header.Get("Content-Type"),
				Size:        file.Size,
				Reader:      f,
			}
		}
	} else {
		var req struct {
			Content string `json:"content"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		content = req.Content
	}

	msg, err := h.messenger.Send(c.Request.Context(), conversationID, content, att)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

func (h *Handlers) markRead(c *gin.Context) {
	if err := h.messenger.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) listBookings(c *gin.Context) {
	bookings, err := h.marketplace.Bookings()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func (h *Handlers) setBookingStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	booking, err := h.marketplace.SetBookingStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handlers) listServices(c *gin.Context) {
	services, err := h.marketplace.Services()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, services)
}

func (h *Handlers) listContracts(c *gin.Context) {
	contracts, err := h.marketplace.Contracts()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, contracts)
}

func (h *Handlers) listToasts(c *gin.Context) {
	c.JSON(http.StatusOK, h.notifier.Recent())
}

func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messenger.ErrSignedOut), errors.Is(err, marketplace.ErrSignedOut),
		errors.Is(err, platform.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, platform.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Warn("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

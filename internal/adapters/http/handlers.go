package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/domain"
)

const sessionChannelKey = "last_channel_id"

type handlers struct {
	svc     VoiceService
	limiter *JoinRateLimiter
}

type joinRequest struct {
	ChannelID int64 `json:"channel_id" binding:"required,gt=0"`
}

type flagRequest struct {
	Value *bool `json:"value" binding:"required"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume" binding:"required"`
}

type volumeResponse struct {
	UserID domain.UserID `json:"user_id"`
	Volume float64       `json:"volume"`
}

func (h *handlers) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel_id"})
		return
	}
	h.doJoin(c, domain.ChannelID(req.ChannelID))
}

// rejoin joins the channel this client joined last, e.g. after a connection error.
func (h *handlers) rejoin(c *gin.Context) {
	raw := sessions.Default(c).Get(sessionChannelKey)
	id, ok := raw.(int64)
	if !ok || id <= 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "no previous channel"})
		return
	}
	h.doJoin(c, domain.ChannelID(id))
}

func (h *handlers) doJoin(c *gin.Context, channel domain.ChannelID) {
	client := c.GetString("client_token")
	if !h.limiter.Allow(client) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many join attempts"})
		return
	}
	if err := h.svc.Join(c.Request.Context(), channel); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("sid", client).Int64("channel_id", int64(channel)).Msg("join failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	sess := sessions.Default(c)
	sess.Set(sessionChannelKey, int64(channel))
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
	}
	h.writeState(c)
}

func (h *handlers) leave(c *gin.Context) {
	if err := h.svc.Leave(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	h.writeState(c)
}

func (h *handlers) mute(c *gin.Context) {
	h.flag(c, h.svc.SetMuted)
}

func (h *handlers) deafen(c *gin.Context) {
	h.flag(c, h.svc.SetDeafened)
}

func (h *handlers) toggle(fn func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c.Request.Context()); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		h.writeState(c)
	}
}

func (h *handlers) pushToTalk(c *gin.Context) {
	h.flag(c, h.svc.SetPushToTalk)
}

func (h *handlers) flag(c *gin.Context, set func(context.Context, bool) error) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing value"})
		return
	}
	if err := set(c.Request.Context(), *req.Value); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	h.writeState(c)
}

func (h *handlers) state(c *gin.Context) {
	h.writeState(c)
}

func (h *handlers) writeState(c *gin.Context) {
	s, err := h.svc.State(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handlers) participants(c *gin.Context) {
	ps, err := h.svc.Participants(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": ps})
}

func (h *handlers) listVolumes(c *gin.Context) {
	vols := h.svc.Volumes()
	out := make([]volumeResponse, 0, len(vols))
	for u, v := range vols {
		out = append(out, volumeResponse{UserID: u, Volume: v})
	}
	c.JSON(http.StatusOK, gin.H{"volumes": out})
}

func (h *handlers) getVolume(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, volumeResponse{UserID: user, Volume: h.svc.UserVolume(user)})
}

func (h *handlers) setVolume(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		return
	}
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing volume"})
		return
	}
	if err := h.svc.SetUserVolume(user, *req.Volume); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, volumeResponse{UserID: user, Volume: h.svc.UserVolume(user)})
}

func (h *handlers) resetVolume(c *gin.Context) {
	user, ok := userParam(c)
	if !ok {
		return
	}
	if err := h.svc.ResetUserVolume(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, volumeResponse{UserID: user, Volume: h.svc.UserVolume(user)})
}

func userParam(c *gin.Context) (domain.UserID, bool) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return 0, false
	}
	return domain.UserID(id), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidChannel):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAPIFailure), errors.Is(err, domain.ErrNegotiationFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

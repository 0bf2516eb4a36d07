// Package http serves the local control API used by the UI process.
package http

import (
	"context"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/app/voice"
	"github.com/dkeye/voiceclient/internal/domain"
)

// VoiceService is the controller surface the API needs.
type VoiceService interface {
	Join(ctx context.Context, channel domain.ChannelID) error
	Leave(ctx context.Context) error
	SetMuted(ctx context.Context, muted bool) error
	SetDeafened(ctx context.Context, deafened bool) error
	ToggleMute(ctx context.Context) error
	ToggleDeafen(ctx context.Context) error
	SetPushToTalk(ctx context.Context, held bool) error
	State(ctx context.Context) (voice.Snapshot, error)
	Participants(ctx context.Context) ([]domain.Participant, error)

	UserVolume(user domain.UserID) float64
	Volumes() map[domain.UserID]float64
	SetUserVolume(user domain.UserID, v float64) error
	ResetUserVolume(user domain.UserID) error

	Subscribe(buf int) (<-chan voice.Event, func())
}

type Config struct {
	Mode   string
	Secret string
	// JoinLimit join requests per client within JoinInterval.
	JoinLimit    int
	JoinInterval time.Duration
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg Config, svc VoiceService) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.JoinLimit <= 0 {
		cfg.JoinLimit = 5
	}
	if cfg.JoinInterval <= 0 {
		cfg.JoinInterval = 10 * time.Second
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{svc: svc, limiter: NewJoinRateLimiter(cfg.JoinLimit, cfg.JoinInterval)}

	api := r.Group("/api")

	v := api.Group("/voice")
	v.POST("/join", h.join)
	v.POST("/rejoin", h.rejoin)
	v.POST("/leave", h.leave)
	v.POST("/mute", h.mute)
	v.POST("/deafen", h.deafen)
	v.POST("/mute/toggle", h.toggle(svc.ToggleMute))
	v.POST("/deafen/toggle", h.toggle(svc.ToggleDeafen))
	v.POST("/ptt", h.pushToTalk)
	v.GET("/state", h.state)
	v.GET("/participants", h.participants)

	vol := api.Group("/volumes")
	vol.GET("", h.listVolumes)
	vol.GET("/:user_id", h.getVolume)
	vol.PUT("/:user_id", h.setVolume)
	vol.DELETE("/:user_id", h.resetVolume)

	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws events endpoint hit")
		streamEvents(ctx, c, svc)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

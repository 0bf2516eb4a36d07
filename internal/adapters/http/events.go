package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	eventBuffer = 64
	writeWait   = 5 * time.Second
	pingPeriod  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents pushes controller events to one UI websocket until either
// side goes away.
func streamEvents(ctx context.Context, c *gin.Context, svc VoiceService) {
	sid := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	events, cancel := svc.Subscribe(eventBuffer)

	ctx, stop := context.WithCancel(ctx)
	go func() {
		defer stop()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			cancel()
			_ = ws.Close()
			log.Info().Str("module", "adapters.http").Str("sid", sid).Msg("events stream closed")
		}()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteJSON(ev); err != nil {
					log.Warn().Err(err).Str("module", "adapters.http").Str("sid", sid).Msg("events write")
					return
				}
			}
		}
	}()
}

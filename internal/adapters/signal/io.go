package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/core"
)

func (c *Client) writePump(ctx context.Context, conn *WsSignalConn) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn_id", conn.id).Msg("writePump ctx done")
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				conn.Close()
				return
			}
		case data, ok := <-conn.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn_id", conn.id).Msg("writePump channel closed")
				return
			}
			if err := conn.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				conn.Close()
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *WsSignalConn) error {
	defer func() {
		log.Info().Str("module", "signal").Str("conn_id", conn.id).Msg("readPump closing")
		conn.Close()
	}()

	conn.conn.SetReadLimit(c.cfg.ReadLimit)
	pongWait := c.cfg.PingPeriod * 10 / 9
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}
	if !core.VoiceMessageTypes[env.Type] {
		log.Debug().Str("module", "signal").Str("type", env.Type).Msg("non-voice message skipped")
		return
	}
	if c.handler != nil {
		c.handler(env)
	}
}

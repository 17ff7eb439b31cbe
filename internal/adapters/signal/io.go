package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *ControlWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.PingPeriod > 0 {
		t := time.NewTicker(ctl.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *ControlWSController) readPump(ctx context.Context, id string, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", id).Msg("readPump closing")
		ctl.Hub.Unbind(id)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", id).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", id).Msg("readPump read error")
				return
			}
			ctl.handleControl(ctx, id, data)
		}
	}
}

func (ctl *ControlWSController) handleControl(ctx context.Context, id string, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(id, "bad_payload")
		return
	}

	switch env.Type {
	case "start":
		ctl.handleStart(ctx, id, data)
	case "end":
		ctl.handleEnd()
	case "mute":
		ctl.handleMute()
	case "device":
		ctl.handleDevice(ctx, id, data)
	case "devices":
		ctl.handleDevices(ctx)
	case "volume":
		ctl.handleVolume(id, data)
	case "config":
		ctl.handleConfig(id, data)
	case "prompt":
		ctl.handlePrompt(ctx, id)
	case "visibility":
		ctl.handleVisibility(id, data)
	case "devicechange":
		ctl.handleDeviceChange()
	case "unload":
		ctl.handleUnload()
	case "ping":
		ctl.handlePing(id)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown control message")
		ctl.sendError(id, "unknown_type")
	}
}

func (ctl *ControlWSController) sendError(id, msg string) {
	ctl.Hub.Send(id, map[string]any{
		"type":  "error",
		"error": msg,
	})
}

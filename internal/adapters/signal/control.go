package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/VoiceChat/internal/app/hub"
	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *ControlWSController) handlePing(id string) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: hub.TypePong,
	}
	ctl.Hub.Send(id, resp)
}

// handleStart runs the start sequence off the read loop so that "end" can
// still be received while a start is in flight.
func (ctl *ControlWSController) handleStart(ctx context.Context, id string, data []byte) {
	var p struct {
		Type   string                `json:"type"`
		Config *domain.SessionConfig `json:"config,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad start payload")
		ctl.sendError(id, "bad_payload")
		return
	}
	cfg := ctl.Session.Config()
	if p.Config != nil {
		cfg = *p.Config
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ctl.StartTimeout)
		defer cancel()
		// failures reach every client through the session listener
		if err := ctl.Session.Start(ctx, cfg); err != nil {
			log.Warn().Str("module", "signal").Str("conn", id).Err(err).Msg("start failed")
		}
	}()
}

func (ctl *ControlWSController) handleEnd() {
	go ctl.Session.Terminate()
}

func (ctl *ControlWSController) handleMute() {
	muted := ctl.Session.ToggleMute()
	log.Info().Str("module", "signal").Bool("muted", muted).Msg("mute toggled")
}

func (ctl *ControlWSController) handleDevice(ctx context.Context, id string, data []byte) {
	var p struct {
		Type     string `json:"type"`
		DeviceID string `json:"device_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.DeviceID == "" {
		ctl.sendError(id, "bad_payload")
		return
	}
	if st, _ := ctl.Session.State(); !st.Live() {
		cfg := ctl.Session.Config()
		cfg.MicrophoneID = p.DeviceID
		if err := ctl.Session.SetConfig(cfg); err != nil {
			ctl.Hub.Send(id, hub.NewError(err))
		}
		return
	}
	go func() {
		if err := ctl.Session.ReconnectAudio(context.WithoutCancel(ctx), p.DeviceID); err != nil {
			log.Warn().Str("module", "signal").Str("device", p.DeviceID).Err(err).Msg("device switch failed")
		}
	}()
}

func (ctl *ControlWSController) handleDevices(ctx context.Context) {
	if _, err := ctl.Session.RefreshDevices(ctx); err != nil {
		log.Warn().Str("module", "signal").Err(err).Msg("device refresh failed")
	}
}

func (ctl *ControlWSController) handleVolume(id string, data []byte) {
	var p struct {
		Type   string   `json:"type"`
		Volume *float64 `json:"volume"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Volume == nil {
		ctl.sendError(id, "bad_payload")
		return
	}
	ctl.Session.SetVolume(*p.Volume)
}

func (ctl *ControlWSController) handleConfig(id string, data []byte) {
	var p struct {
		Type   string               `json:"type"`
		Config domain.SessionConfig `json:"config"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(id, "bad_payload")
		return
	}
	if err := ctl.Session.SetConfig(p.Config); err != nil {
		ctl.Hub.Send(id, hub.NewError(err))
		return
	}
	ctl.Hub.Broadcast(hub.ConfigMsg{Type: hub.TypeConfig, Config: ctl.Session.Config(), Voices: domain.Voices})
}

func (ctl *ControlWSController) handlePrompt(ctx context.Context, id string) {
	go func() {
		text, err := ctl.Session.PrefillPrompt(context.WithoutCancel(ctx))
		if err != nil {
			ctl.Hub.Send(id, hub.NewError(err))
			return
		}
		log.Info().Str("module", "signal").Int("len", len(text)).Msg("prompt prefilled")
		ctl.Hub.Broadcast(hub.ConfigMsg{Type: hub.TypeConfig, Config: ctl.Session.Config(), Voices: domain.Voices})
	}()
}

func (ctl *ControlWSController) handleVisibility(id string, data []byte) {
	var p struct {
		Type   string `json:"type"`
		Hidden bool   `json:"hidden"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(id, "bad_payload")
		return
	}
	kind := core.EventVisibilityVisible
	if p.Hidden {
		kind = core.EventVisibilityHidden
	}
	ctl.publish(core.Event{Kind: kind})
}

func (ctl *ControlWSController) handleDeviceChange() {
	ctl.publish(core.Event{Kind: core.EventDeviceChange})
}

func (ctl *ControlWSController) handleUnload() {
	ctl.publish(core.Event{Kind: core.EventPageUnload})
}

// publish queues ev for in-order delivery off the read loop.
func (ctl *ControlWSController) publish(ev core.Event) {
	select {
	case ctl.events <- ev:
	default:
		log.Warn().Str("module", "signal").Str("event", ev.Kind.String()).Msg("event queue full, dropped")
	}
}

func (ctl *ControlWSController) dispatch() {
	for ev := range ctl.events {
		ctl.Hub.Publish(ev)
	}
}

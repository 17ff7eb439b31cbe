package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceChat/internal/app/audio"
	"github.com/dkeye/VoiceChat/internal/app/devices"
	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	eventAssistantTranscript = "response.audio_transcript.done"
	eventUserTranscript      = "conversation.item.input_audio_transcription.completed"
)

var errNoAudioSender = errors.New("peer has no audio sender")

// ReconnectAudio captures deviceID and swaps it into the running session
// without renegotiation. The mute flag carries over. On failure the old
// capture stays in place.
func (c *Controller) ReconnectAudio(ctx context.Context, deviceID string) error {
	c.swap.Lock()
	defer c.swap.Unlock()

	c.mu.Lock()
	if !c.state.Live() || c.res == nil || c.res.local == nil {
		c.mu.Unlock()
		return domain.ErrNoSession
	}
	gen := c.gen
	peer := c.res.peer
	c.mu.Unlock()

	logger := log.With().Str("module", "session").Uint64("gen", gen).Str("device", deviceID).Logger()

	stream, err := c.media.GetUserMedia(ctx, core.Constraints{DeviceID: deviceID})
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrDeviceAccess, err)
		logger.Warn().Err(err).Msg("reconnect capture failed")
		c.listener.OnError(err)
		return err
	}
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		stream.Stop()
		return fmt.Errorf("%w: no audio track", domain.ErrDeviceAccess)
	}
	if !c.adopt(gen, func(*resources) { setEnabled(stream, !c.state.Muted) }) {
		stream.Stop()
		return domain.ErrSessionAborted
	}

	if peer != nil {
		ok, err := peer.ReplaceLocalTrack(tracks[0])
		if err == nil && !ok {
			err = errNoAudioSender
		}
		if err != nil {
			stream.Stop()
			logger.Warn().Err(err).Msg("track replace failed")
			c.listener.OnError(err)
			return err
		}
	}

	var old core.LocalStream
	if !c.adopt(gen, func(r *resources) {
		// mute may have flipped while the sender was being swapped
		setEnabled(stream, !c.state.Muted)
		old = r.local
		r.local = stream
		if r.remote != nil {
			r.meter = audio.Attach(r.audioCtx, stream, r.remote)
		}
		c.selected = deviceID
		c.cfg.MicrophoneID = deviceID
		c.hiddenStop = false
	}) {
		stream.Stop()
		return domain.ErrSessionAborted
	}
	// the old capture is released only once the new one is live
	if old != nil {
		old.Stop()
	}
	c.watchTracks(gen, stream)
	logger.Info().Msg("audio reconnected")

	c.mu.Lock()
	mics, selected := c.mics, c.selected
	c.mu.Unlock()
	c.listener.OnDevices(mics, selected)
	return nil
}

// RefreshDevices re-enumerates microphones and, while idle, reconciles the
// selected device against the new list.
func (c *Controller) RefreshDevices(ctx context.Context) (domain.DeviceList, error) {
	list, err := c.inventory.ListMicrophones(ctx)
	if err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("device enumeration failed")
		list = domain.DeviceList{}
	}

	c.mu.Lock()
	c.mics = list
	if !c.state.Live() {
		c.selected = devices.ReconcileSelection(c.selected, list)
		c.cfg.MicrophoneID = c.selected
	}
	selected := c.selected
	c.mu.Unlock()

	c.listener.OnDevices(list, selected)
	return list, err
}

func (c *Controller) Devices() (domain.DeviceList, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mics, c.selected
}

// Level is the current merged audio level in [0, 0.5]; 0 without a session.
func (c *Controller) Level() float64 {
	c.mu.Lock()
	var meter *audio.Handle
	if c.res != nil {
		meter = c.res.meter
	}
	c.mu.Unlock()
	return meter.CurrentLevel()
}

// SetVolume sets the remote playback volume, clamped to [0, 1].
func (c *Controller) SetVolume(v float64) {
	v = min(max(v, 0), 1)
	c.mu.Lock()
	c.volume = v
	var remote core.RemoteAudio
	if c.res != nil {
		remote = c.res.remote
	}
	c.mu.Unlock()
	if remote != nil {
		remote.SetVolume(v)
	}
}

func (c *Controller) onRemoteTrack(gen uint64, remote core.RemoteAudio) {
	var prev core.RemoteAudio
	if !c.adopt(gen, func(r *resources) {
		prev = r.remote
		r.remote = remote
		remote.SetVolume(c.volume)
		r.meter = audio.Attach(r.audioCtx, r.local, remote)
	}) {
		remote.Stop()
		return
	}
	if prev != nil && prev != remote {
		prev.Stop()
	}
	log.Debug().Str("module", "session").Uint64("gen", gen).Msg("remote track attached")
}

type serverEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

func (c *Controller) onDataMessage(gen uint64, data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Debug().Str("module", "session").Err(err).Msg("unparseable data message")
		return
	}
	var sender string
	switch ev.Type {
	case eventAssistantTranscript:
		sender = domain.SenderAI
	case eventUserTranscript:
		sender = domain.SenderUser
	default:
		return
	}
	if ev.Transcript == "" {
		return
	}
	msg := domain.ChatMessage{Sender: sender, Text: ev.Transcript, At: c.sched.Now()}
	if !c.adopt(gen, func(*resources) { c.chat = append(c.chat, msg) }) {
		return
	}
	c.listener.OnTranscript(msg)
}

// onConnectionState only mirrors the transport state. A failed transport is
// reported but the session stays up until terminated or expired.
func (c *Controller) onConnectionState(gen uint64, s domain.ConnectionState) {
	if !c.adopt(gen, func(*resources) { c.conn = s }) {
		return
	}
	log.Info().Str("module", "session").Uint64("gen", gen).Str("state", string(s)).Msg("connection state")
	c.publishState()
	if s == domain.ConnFailed {
		c.listener.OnError(domain.ErrTransportFailure)
	}
}

func (c *Controller) watchTracks(gen uint64, stream core.LocalStream) {
	for _, t := range stream.AudioTracks() {
		t.OnEnded(func() { c.onTrackEnded(gen, t) })
	}
}

// onTrackEnded reacts to a capture device disappearing under a live session
// by falling back to whatever device is left.
func (c *Controller) onTrackEnded(gen uint64, t core.LocalTrack) {
	c.mu.Lock()
	current := c.aliveLocked(gen) && c.res.local != nil && containsTrack(c.res.local, t)
	c.mu.Unlock()
	if !current {
		return
	}
	log.Warn().Str("module", "session").Uint64("gen", gen).Str("device", t.DeviceID()).Msg("local track ended")
	c.listener.OnError(fmt.Errorf("%w: %s", domain.ErrTrackEnded, t.DeviceID()))
	c.fallback(gen)
}

func (c *Controller) fallback(gen uint64) {
	ctx, cancel := context.WithTimeout(c.bg, endTimeout)
	defer cancel()

	list, _ := c.RefreshDevices(ctx)
	c.mu.Lock()
	next := devices.ReconcileSelection(c.selected, list)
	alive := c.aliveLocked(gen)
	c.mu.Unlock()
	if !alive {
		return
	}
	if next == "" {
		log.Warn().Str("module", "session").Uint64("gen", gen).Msg("no microphone left")
		return
	}
	if err := c.ReconnectAudio(ctx, next); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("fallback reconnect failed")
	}
}

func containsTrack(s core.LocalStream, t core.LocalTrack) bool {
	for _, x := range s.AudioTracks() {
		if x == t {
			return true
		}
	}
	return false
}

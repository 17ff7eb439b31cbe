package media

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceChat/internal/app/audio"
	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Track is a live capture of one device.
type Track struct {
	id     string
	device string
	src    Source
	ring   *audio.Ring

	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded func()
	ended   bool
}

func NewTrack(deviceID string, src Source) *Track {
	t := &Track{
		id:     uuid.NewString(),
		device: deviceID,
		src:    src,
		ring:   audio.NewRing(audio.DefaultFFTSize * 4),
	}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string        { return t.id }
func (t *Track) DeviceID() string  { return t.device }
func (t *Track) Enabled() bool     { return t.enabled.Load() }
func (t *Track) SetEnabled(v bool) { t.enabled.Store(v) }
func (t *Track) Stopped() bool     { return t.stopped.Load() }

func (t *Track) Window(dst []float32) int { return t.ring.Window(dst) }

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

// Stop releases the device without firing the ended callback.
func (t *Track) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	if err := t.src.Close(); err != nil {
		log.Debug().Str("module", "media").Str("track_id", t.id).Err(err).Msg("source close")
	}
	t.ring.Reset()
}

// ReadPCM blocks for the next frame. A disabled track yields silence; a
// source failure ends the track and fires the ended callback once.
func (t *Track) ReadPCM(p []int16) (int, error) {
	if t.stopped.Load() {
		return 0, domain.ErrTrackEnded
	}
	n, err := t.src.Read(p)
	if err != nil {
		if t.stopped.Load() {
			return 0, domain.ErrTrackEnded
		}
		t.end(err)
		return 0, fmt.Errorf("%w: %w", domain.ErrTrackEnded, err)
	}
	if !t.enabled.Load() {
		clear(p[:n])
	}
	t.ring.WriteInt16(p[:n], 1)
	return n, nil
}

func (t *Track) end(cause error) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fn := t.onEnded
	t.mu.Unlock()

	log.Warn().Str("module", "media").Str("track_id", t.id).Str("device", t.device).Err(cause).Msg("capture ended")
	t.stopped.Store(true)
	_ = t.src.Close()
	if fn != nil && !errors.Is(cause, errSourceClosed) {
		go fn()
	}
}

// Stream groups the tracks of one capture request.
type Stream struct {
	tracks []core.LocalTrack
}

func NewStream(tracks ...*Track) *Stream {
	s := &Stream{}
	for _, t := range tracks {
		s.tracks = append(s.tracks, t)
	}
	return s
}

func (s *Stream) AudioTracks() []core.LocalTrack { return s.tracks }

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

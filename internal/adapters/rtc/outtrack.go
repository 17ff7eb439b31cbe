package rtc

import (
	"sync/atomic"
	"time"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

const frameDuration = 20 * time.Millisecond

// OutTrack pumps one local capture track into the outgoing RTP track.
// Muting is the capture track's business: a disabled track reads silence.
type OutTrack struct {
	Track *webrtc.TrackLocalStaticSample
	src   core.LocalTrack
	state atomic.Int32 // Zero by default (TrackStateOk)
	done  chan struct{}
}

func NewOutTrack(track *webrtc.TrackLocalStaticSample, src core.LocalTrack) *OutTrack {
	return &OutTrack{Track: track, src: src, done: make(chan struct{})}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}

// Done is closed once the pump has returned.
func (ot *OutTrack) Done() <-chan struct{} { return ot.done }

// loop reads 20 ms frames from the capture track and writes them as µ-law samples.
func (ot *OutTrack) loop(logger *zerolog.Logger) {
	defer close(ot.done)
	pcm := make([]int16, frameSamples)
	for ot.GetState() == TrackStateOk {
		n, err := ot.src.ReadPCM(pcm)
		if err != nil {
			logger.Info().Err(err).Str("track_id", ot.src.ID()).Msg("capture ended, stopping uplink")
			ot.MarkDelete()
			return
		}
		if ot.GetState() != TrackStateOk {
			return
		}
		payload := encodeUlaw(make([]byte, 0, n), pcm[:n])
		if err := ot.Track.WriteSample(media.Sample{Data: payload, Duration: frameDuration}); err != nil {
			logger.Error().Err(err).Msg("uplink write sample error, marking outtrack as delete")
			ot.MarkDelete()
			return
		}
	}
}

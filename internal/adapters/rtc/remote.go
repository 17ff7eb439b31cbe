package rtc

import (
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceChat/internal/app/audio"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// rtpReader is the read side of a remote track.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteSink plays the remote track and keeps its recent samples for metering.
type RemoteSink struct {
	src rtpReader
	dec decoder

	ring   *audio.Ring
	volume atomic.Uint64

	mu  sync.Mutex
	out io.Writer

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

func newRemoteSink(src rtpReader, dec decoder, out io.Writer, cancel context.CancelFunc) *RemoteSink {
	s := &RemoteSink{
		src:    src,
		dec:    dec,
		ring:   audio.NewRing(audio.DefaultFFTSize * 8),
		out:    out,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.volume.Store(math.Float64bits(1))
	return s
}

// loop reads RTP packets from the remote track until ctx ends or the track closes.
func (s *RemoteSink) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(s.done)
	pcm := make([]int16, 0, opusFrameSamples)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("remote sink ctx done")
			s.markDelete()
			return
		default:
		}
		pkt, _, err := s.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("remote read RTP error, stopping")
			s.markDelete()
			return
		}
		pcm, err = s.dec.decode(pkt.Payload, pcm)
		if err != nil {
			logger.Debug().Err(err).Uint16("seq", pkt.SequenceNumber).Msg("dropping undecodable packet")
			continue
		}
		s.consume(pcm, logger)
	}
}

func (s *RemoteSink) consume(pcm []int16, logger *zerolog.Logger) {
	// the analyser sees the stream before the playback gain
	s.ring.WriteInt16(pcm, 1)

	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if out == nil {
		return
	}
	gain := math.Float64frombits(s.volume.Load())
	buf := make([]byte, 0, len(pcm)*2)
	for _, v := range pcm {
		scaled := int16(max(min(float64(v)*gain, math.MaxInt16), math.MinInt16))
		buf = append(buf, byte(scaled), byte(uint16(scaled)>>8))
	}
	if _, err := out.Write(buf); err != nil {
		logger.Warn().Err(err).Msg("playback write failed, muting output")
		s.mu.Lock()
		s.out = nil
		s.mu.Unlock()
	}
}

func (s *RemoteSink) Window(dst []float32) int { return s.ring.Window(dst) }

func (s *RemoteSink) SetVolume(v float64) {
	s.volume.Store(math.Float64bits(min(max(v, 0), 1)))
}

func (s *RemoteSink) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

// Stop ends the read loop. Safe to call more than once.
func (s *RemoteSink) Stop() {
	s.markDelete()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *RemoteSink) Stopped() bool { return TrackState(s.state.Load()) == TrackStateDelete }

func (s *RemoteSink) markDelete() {
	s.state.Store(int32(TrackStateDelete))
}

var _ rtpReader = (*webrtc.TrackRemote)(nil)

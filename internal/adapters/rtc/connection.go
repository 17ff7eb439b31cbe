// Package rtc implements the peer transport on pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultDataChannel = "oai-events"

type PeerState int32

const (
	PeerNew PeerState = iota
	PeerOffering
	PeerAwaitingAnswer
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerOffering:
		return "offering"
	case PeerAwaitingAnswer:
		return "awaiting_answer"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	}
	return "unknown"
}

var errWrongState = errors.New("peer in wrong state")

type Config struct {
	ICEServers  []string
	DataChannel string
	// Playback receives the remote audio as 16-bit LE mono PCM at 8 kHz. Optional.
	Playback io.Writer
}

func DefaultWebRTCConfig(servers []string) webrtc.Configuration {
	if len(servers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	}
}

// Factory builds peers sharing one media engine and interceptor chain.
type Factory struct {
	api *webrtc.API
	cfg Config
}

func NewFactory(cfg Config) (*Factory, error) {
	if cfg.DataChannel == "" {
		cfg.DataChannel = DefaultDataChannel
	}
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry))
	return &Factory{api: api, cfg: cfg}, nil
}

func (f *Factory) NewPeer() (core.PeerSession, error) {
	pc, err := f.api.NewPeerConnection(DefaultWebRTCConfig(f.cfg.ICEServers))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportFailure, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		pc:       pc,
		id:       uuid.NewString(),
		label:    f.cfg.DataChannel,
		playback: f.cfg.Playback,
		ctx:      ctx,
		cancel:   cancel,
	}
	p.logger = log.With().Str("module", "webrtc").Str("peer", p.id).Logger()
	p.wire()
	return p, nil
}

// Peer is the offering side of one realtime session.
type Peer struct {
	pc       *webrtc.PeerConnection
	id       string
	label    string
	playback io.Writer
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32

	mu       sync.Mutex
	sender   *webrtc.RTPSender
	outTrack *OutTrack
	dc       *webrtc.DataChannel
	remote   *RemoteSink

	onRemote func(core.RemoteAudio)
	onData   func([]byte)
	onState  func(domain.ConnectionState)

	closeOnce sync.Once
	closeErr  error
}

func (p *Peer) State() PeerState { return PeerState(p.state.Load()) }

func (p *Peer) wire() {
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateConnected {
			// the answer normally moves the state first
			p.state.CompareAndSwap(int32(PeerAwaitingAnswer), int32(PeerConnected))
		}
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(mapState(s))
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("codec", track.Codec().MimeType).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		dec, err := newDecoder(track.Codec().MimeType)
		if err != nil {
			p.logger.Error().Err(err).Msg("remote track ignored")
			return
		}
		ctx, cancel := context.WithCancel(p.ctx)
		sink := newRemoteSink(track, dec, p.playback, cancel)

		p.mu.Lock()
		if p.State() == PeerClosed {
			p.mu.Unlock()
			cancel()
			return
		}
		prev := p.remote
		p.remote = sink
		fn := p.onRemote
		p.mu.Unlock()

		if prev != nil {
			prev.Stop()
		}
		logger := p.logger.With().Str("track_id", track.ID()).Logger()
		go sink.loop(ctx, &logger)
		if fn != nil {
			fn(sink)
		}
	})
}

// Open adds the capture track and the event channel, gathers candidates and
// returns the complete offer.
// Any failure after the offering step closes the peer.
func (p *Peer) Open(ctx context.Context, stream core.LocalStream) (string, error) {
	if !p.state.CompareAndSwap(int32(PeerNew), int32(PeerOffering)) {
		return "", fmt.Errorf("open: %w (%s)", errWrongState, p.State())
	}
	offer, err := p.open(ctx, stream)
	if err != nil {
		_ = p.Close()
		return "", err
	}
	return offer, nil
}

func (p *Peer) open(ctx context.Context, stream core.LocalStream) (string, error) {
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		return "", fmt.Errorf("open: %w: stream has no audio track", domain.ErrDeviceAccess)
	}

	out, err := newOutgoingTrack()
	if err != nil {
		return "", err
	}
	sender, err := p.pc.AddTrack(out)
	if err != nil {
		return "", fmt.Errorf("add track: %w", err)
	}
	go p.drainRTCP(sender)

	dc, err := p.pc.CreateDataChannel(p.label, nil)
	if err != nil {
		return "", fmt.Errorf("create data channel: %w", err)
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		fn := p.onData
		p.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.ctx.Done():
		return "", fmt.Errorf("open: %w", domain.ErrSessionAborted)
	}

	ot := NewOutTrack(out, tracks[0])
	p.mu.Lock()
	if p.State() == PeerClosed {
		p.mu.Unlock()
		return "", fmt.Errorf("open: %w", domain.ErrSessionAborted)
	}
	p.sender = sender
	p.dc = dc
	p.outTrack = ot
	p.mu.Unlock()
	go ot.loop(&p.logger)

	p.state.CompareAndSwap(int32(PeerOffering), int32(PeerAwaitingAnswer))
	return p.pc.LocalDescription().SDP, nil
}

func (p *Peer) CompleteHandshake(answerSDP string) error {
	if p.State() != PeerAwaitingAnswer {
		return fmt.Errorf("%w: %w (%s)", domain.ErrHandshake, errWrongState, p.State())
	}
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP})
	if err != nil {
		_ = p.Close()
		return fmt.Errorf("%w: %v", domain.ErrHandshake, err)
	}
	if !p.state.CompareAndSwap(int32(PeerAwaitingAnswer), int32(PeerConnected)) {
		// closed concurrently
		return fmt.Errorf("%w: %w (%s)", domain.ErrHandshake, errWrongState, p.State())
	}
	p.logger.Info().Msg("answer applied")
	return nil
}

// ReplaceLocalTrack swaps the sender's track and moves the uplink pump to the
// new capture. The old pump stops before the new one starts.
func (p *Peer) ReplaceLocalTrack(track core.LocalTrack) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sender == nil || p.State() == PeerClosed {
		return false, nil
	}
	out, err := newOutgoingTrack()
	if err != nil {
		return false, err
	}
	if err := p.sender.ReplaceTrack(out); err != nil {
		return false, fmt.Errorf("replace track: %w", err)
	}
	if p.outTrack != nil {
		p.outTrack.MarkDelete()
	}
	p.outTrack = NewOutTrack(out, track)
	go p.outTrack.loop(&p.logger)
	p.logger.Info().Str("track_id", track.ID()).Str("device", track.DeviceID()).Msg("local track replaced")
	return true, nil
}

func (p *Peer) OnRemoteTrack(fn func(core.RemoteAudio)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemote = fn
}

func (p *Peer) OnDataMessage(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = fn
}

func (p *Peer) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

// SendEvent writes a client event on the data channel.
func (p *Peer) SendEvent(data []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("send event: %w (%s)", errWrongState, p.State())
	}
	return dc.Send(data)
}

func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.state.Store(int32(PeerClosed))
		p.cancel()

		p.mu.Lock()
		ot, remote, dc := p.outTrack, p.remote, p.dc
		p.outTrack, p.remote, p.dc = nil, nil, nil
		p.onRemote, p.onData = nil, nil
		p.mu.Unlock()

		if ot != nil {
			ot.MarkDelete()
		}
		if remote != nil {
			remote.Stop()
		}
		var errs []error
		if dc != nil {
			errs = append(errs, dc.Close())
		}
		errs = append(errs, p.pc.Close())
		p.closeErr = errors.Join(errs...)
		if p.closeErr != nil {
			p.logger.Error().Err(p.closeErr).Msg("close error")
		} else {
			p.logger.Info().Msg("closed")
		}
	})
	return p.closeErr
}

// drainRTCP keeps the interceptors fed; it returns when the sender is closed.
func (p *Peer) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func newOutgoingTrack() (*webrtc.TrackLocalStaticSample, error) {
	t, err := webrtc.NewTrackLocalStaticSample(pcmuCapability, "audio", "voicechat")
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	return t, nil
}

func mapState(s webrtc.PeerConnectionState) domain.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return domain.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnConnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnClosed
	}
	return domain.ConnDisconnected
}

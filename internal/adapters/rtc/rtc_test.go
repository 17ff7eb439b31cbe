package rtc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaf/g711"
)

type chanTrack struct {
	id     string
	frames chan []int16
	mu     sync.Mutex
	on     bool
}

func newChanTrack(id string) *chanTrack {
	return &chanTrack{id: id, frames: make(chan []int16, 8), on: true}
}

func (t *chanTrack) Window(dst []float32) int { clear(dst); return 0 }
func (t *chanTrack) ID() string               { return t.id }
func (t *chanTrack) DeviceID() string         { return "dev-" + t.id }
func (t *chanTrack) Enabled() bool            { t.mu.Lock(); defer t.mu.Unlock(); return t.on }
func (t *chanTrack) SetEnabled(v bool)        { t.mu.Lock(); defer t.mu.Unlock(); t.on = v }
func (t *chanTrack) Stop()                    {}
func (t *chanTrack) Stopped() bool            { return false }
func (t *chanTrack) OnEnded(func())           {}
func (t *chanTrack) ReadPCM(p []int16) (int, error) {
	f, ok := <-t.frames
	if !ok {
		return 0, io.EOF
	}
	return copy(p, f), nil
}

type chanStream struct{ t *chanTrack }

func (s chanStream) AudioTracks() []core.LocalTrack { return []core.LocalTrack{s.t} }
func (s chanStream) Stop()                          { close(s.t.frames) }

type scriptedReader struct {
	pkts []*rtp.Packet
}

func (r *scriptedReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(r.pkts) == 0 {
		return nil, nil, io.EOF
	}
	p := r.pkts[0]
	r.pkts = r.pkts[1:]
	return p, nil, nil
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func tone(n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.MaxInt16 * math.Sin(2*math.Pi*440*float64(i)/core.CaptureSampleRate))
	}
	return out
}

func TestUlawRoundTrip(t *testing.T) {
	in := tone(frameSamples, 0.5)
	payload := encodeUlaw(nil, in)
	require.Len(t, payload, frameSamples)

	dec, err := newDecoder(webrtc.MimeTypePCMU)
	require.NoError(t, err)
	out, err := dec.decode(payload, nil)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1024, "sample %d", i)
	}
	assert.Equal(t, g711.DecodeUlawFrame(payload[7]), out[7])
}

func TestNewDecoder(t *testing.T) {
	_, err := newDecoder("audio/VP8")
	assert.Error(t, err)

	d, err := newDecoder(strings.ToLower(webrtc.MimeTypeOpus))
	require.NoError(t, err)
	_, err = d.decode([]byte{0xff}, nil)
	assert.Error(t, err)
}

func TestOutTrack_StopsWhenCaptureEnds(t *testing.T) {
	out, err := newOutgoingTrack()
	require.NoError(t, err)
	src := newChanTrack("a")
	ot := NewOutTrack(out, src)

	go ot.loop(nopLogger())
	src.frames <- tone(frameSamples, 0.2)
	close(src.frames)

	select {
	case <-ot.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("uplink did not stop")
	}
	assert.Equal(t, TrackStateDelete, ot.GetState())
}

func TestRemoteSink_MetersAndPlays(t *testing.T) {
	frame := encodeUlaw(nil, tone(frameSamples, 0.5))
	reader := &scriptedReader{pkts: []*rtp.Packet{
		{Header: rtp.Header{SequenceNumber: 1}, Payload: frame},
		{Header: rtp.Header{SequenceNumber: 2}, Payload: frame},
	}}
	dec, err := newDecoder(webrtc.MimeTypePCMU)
	require.NoError(t, err)

	var playback bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	sink := newRemoteSink(reader, dec, &playback, cancel)
	sink.SetVolume(0.5)
	sink.loop(ctx, nopLogger())

	assert.True(t, sink.Stopped())
	assert.Equal(t, 2*frameSamples*2, playback.Len())

	win := make([]float32, 256)
	assert.Equal(t, 256, sink.Window(win))
	var peak float32
	for _, v := range win {
		peak = max(peak, v)
	}
	assert.InDelta(t, 0.5, peak, 0.05, "analysis sees the signal before playback gain")

	sink.SetVolume(7)
	assert.Equal(t, 1.0, sink.Volume())
	sink.Stop()
	sink.Stop()
}

func TestPeer_OpenProducesOffer(t *testing.T) {
	f, err := NewFactory(Config{})
	require.NoError(t, err)
	ps, err := f.NewPeer()
	require.NoError(t, err)
	p := ps.(*Peer)
	defer p.Close()

	ok, err := p.ReplaceLocalTrack(newChanTrack("early"))
	require.NoError(t, err)
	assert.False(t, ok, "no sender before open")
	assert.ErrorIs(t, p.CompleteHandshake("v=0"), domain.ErrHandshake)

	stream := chanStream{t: newChanTrack("a")}
	defer stream.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sdp, err := p.Open(ctx, stream)
	require.NoError(t, err)
	assert.Contains(t, sdp, "m=audio")
	assert.Contains(t, sdp, "PCMU/8000")
	assert.Contains(t, sdp, "webrtc-datachannel")
	assert.Equal(t, PeerAwaitingAnswer, p.State())

	_, err = p.Open(ctx, stream)
	assert.Error(t, err, "open twice")

	next := newChanTrack("b")
	defer close(next.frames)
	ok, err = p.ReplaceLocalTrack(next)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, p.CompleteHandshake("garbage"), domain.ErrHandshake)
	assert.Equal(t, PeerClosed, p.State(), "a failed handshake closes the peer")
	ok, err = p.ReplaceLocalTrack(newChanTrack("c"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

type emptyStream struct{}

func (emptyStream) AudioTracks() []core.LocalTrack { return nil }
func (emptyStream) Stop()                          {}

func TestPeer_OpenFailureCloses(t *testing.T) {
	f, err := NewFactory(Config{})
	require.NoError(t, err)
	ps, err := f.NewPeer()
	require.NoError(t, err)
	p := ps.(*Peer)

	_, err = p.Open(context.Background(), emptyStream{})
	assert.ErrorIs(t, err, domain.ErrDeviceAccess)
	assert.Equal(t, PeerClosed, p.State())
	assert.NoError(t, p.Close())
}

// answerFor plays the remote side: it answers offer with a plain pion peer.
func answerFor(t *testing.T, offer string) string {
	t.Helper()
	m := &webrtc.MediaEngine{}
	require.NoError(t, m.RegisterDefaultCodecs())
	pc, err := webrtc.NewAPI(webrtc.WithMediaEngine(m)).NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	require.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}))
	answer, err := pc.CreateAnswer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(answer))
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		t.Fatal("answerer gathering timed out")
	}
	return pc.LocalDescription().SDP
}

func TestPeer_HandshakeMovesToConnected(t *testing.T) {
	f, err := NewFactory(Config{})
	require.NoError(t, err)
	ps, err := f.NewPeer()
	require.NoError(t, err)
	p := ps.(*Peer)
	defer p.Close()

	stream := chanStream{t: newChanTrack("a")}
	defer stream.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	offer, err := p.Open(ctx, stream)
	require.NoError(t, err)

	require.NoError(t, p.CompleteHandshake(answerFor(t, offer)))
	assert.Equal(t, PeerConnected, p.State())

	assert.ErrorIs(t, p.CompleteHandshake("v=0"), domain.ErrHandshake, "answer applied twice")
	require.NoError(t, p.Close())
	assert.Equal(t, PeerClosed, p.State())
}

func TestPeer_CloseIdempotent(t *testing.T) {
	f, err := NewFactory(Config{DataChannel: "events"})
	require.NoError(t, err)
	p, err := f.NewPeer()
	require.NoError(t, err)

	first := p.Close()
	assert.Equal(t, first, p.Close())
	assert.Equal(t, PeerClosed, p.(*Peer).State())

	ok, err := p.ReplaceLocalTrack(newChanTrack("x"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(p.(*Peer).SendEvent([]byte("{}")), errWrongState))
}

func TestMapState(t *testing.T) {
	assert.Equal(t, domain.ConnConnecting, mapState(webrtc.PeerConnectionStateConnecting))
	assert.Equal(t, domain.ConnConnected, mapState(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, domain.ConnFailed, mapState(webrtc.PeerConnectionStateFailed))
	assert.Equal(t, domain.ConnClosed, mapState(webrtc.PeerConnectionStateClosed))
	assert.Equal(t, domain.ConnDisconnected, mapState(webrtc.PeerConnectionStateDisconnected))
}

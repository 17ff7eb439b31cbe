package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
)

var errInjected = errors.New("injected")

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	device  string
	enabled bool
	stopped bool
	onEnded func()
}

func (t *fakeTrack) Window(dst []float32) int {
	clear(dst)
	return len(dst)
}
func (t *fakeTrack) ID() string       { return t.id }
func (t *fakeTrack) DeviceID() string { return t.device }
func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}
func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
func (t *fakeTrack) OnEnded(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = f
}
func (t *fakeTrack) ReadPCM(p []int16) (int, error) { return len(p), nil }

// end simulates the device disappearing.
func (t *fakeTrack) end() {
	t.mu.Lock()
	t.stopped = true
	f := t.onEnded
	t.mu.Unlock()
	if f != nil {
		f()
	}
}

type fakeStream struct {
	track *fakeTrack
}

func (s *fakeStream) AudioTracks() []core.LocalTrack { return []core.LocalTrack{s.track} }
func (s *fakeStream) Stop()                          { s.track.Stop() }

type fakeMedia struct {
	mu      sync.Mutex
	devices []domain.Device
	fail    map[string]bool
	streams []*fakeStream
}

func newFakeMedia(ids ...string) *fakeMedia {
	m := &fakeMedia{fail: map[string]bool{}}
	for _, id := range ids {
		m.devices = append(m.devices, domain.Device{ID: id, Label: "Mic " + id, Kind: domain.KindAudioInput})
	}
	m.devices = append(m.devices, domain.Device{ID: "spk", Label: "Speaker", Kind: domain.KindAudioOutput})
	return m
}

func (m *fakeMedia) Enumerate(context.Context) ([]domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Device(nil), m.devices...), nil
}

func (m *fakeMedia) GetUserMedia(_ context.Context, c core.Constraints) (core.LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := c.DeviceID
	if id == "" {
		for _, d := range m.devices {
			if d.Kind == domain.KindAudioInput {
				id = d.ID
				break
			}
		}
	}
	if m.fail[id] || m.fail["*"] {
		return nil, fmt.Errorf("capture %s: %w", id, errInjected)
	}
	found := false
	for _, d := range m.devices {
		found = found || (d.ID == id && d.Kind == domain.KindAudioInput)
	}
	if !found {
		return nil, fmt.Errorf("device %q not found", id)
	}
	s := &fakeStream{track: &fakeTrack{id: fmt.Sprintf("track-%d", len(m.streams)), device: id, enabled: true}}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMedia) LabelsNeedGrant() bool { return false }

func (m *fakeMedia) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.devices {
		if d.ID == id {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return
		}
	}
}

func (m *fakeMedia) opened() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// live counts captures that were never released.
func (m *fakeMedia) live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.streams {
		if !s.track.Stopped() {
			n++
		}
	}
	return n
}

func (m *fakeMedia) last() *fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1].track
}

type fakeRemote struct {
	mu      sync.Mutex
	volume  float64
	stopped bool
}

// Window produces a 1 kHz tone so the meter has something to measure.
func (r *fakeRemote) Window(dst []float32) int {
	for i := range dst {
		dst[i] = float32(0.5 * math.Sin(2*math.Pi*1000*float64(i)/core.CaptureSampleRate))
	}
	return len(dst)
}
func (r *fakeRemote) SetVolume(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volume = v
}
func (r *fakeRemote) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

type fakePeer struct {
	mu            sync.Mutex
	failOpen      bool
	failHandshake bool
	failReplace   bool
	// duringReplace runs inside ReplaceLocalTrack, before the swap completes.
	duringReplace func()

	opened        bool
	enabledAtOpen bool
	answer        string
	replaced      []core.LocalTrack
	closes        int

	onRemote func(core.RemoteAudio)
	onData   func([]byte)
	onState  func(domain.ConnectionState)
}

func (p *fakePeer) Open(_ context.Context, s core.LocalStream) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOpen {
		return "", errInjected
	}
	p.opened = true
	p.enabledAtOpen = s.AudioTracks()[0].Enabled()
	return "v=0 offer", nil
}

func (p *fakePeer) CompleteHandshake(answer string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failHandshake {
		return fmt.Errorf("%w: %v", domain.ErrHandshake, errInjected)
	}
	p.answer = answer
	return nil
}

func (p *fakePeer) ReplaceLocalTrack(t core.LocalTrack) (bool, error) {
	if p.duringReplace != nil {
		p.duringReplace()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failReplace {
		return false, errInjected
	}
	if !p.opened {
		return false, nil
	}
	p.replaced = append(p.replaced, t)
	return true, nil
}

func (p *fakePeer) OnRemoteTrack(f func(core.RemoteAudio)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRemote = f
}
func (p *fakePeer) OnDataMessage(f func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = f
}
func (p *fakePeer) OnConnectionStateChange(f func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = f
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes > 0
}

func (p *fakePeer) emitRemote(r core.RemoteAudio) {
	p.mu.Lock()
	f := p.onRemote
	p.mu.Unlock()
	f(r)
}

func (p *fakePeer) emitData(data string) {
	p.mu.Lock()
	f := p.onData
	p.mu.Unlock()
	f([]byte(data))
}

func (p *fakePeer) emitState(s domain.ConnectionState) {
	p.mu.Lock()
	f := p.onState
	p.mu.Unlock()
	f(s)
}

type fakePeers struct {
	mu    sync.Mutex
	fail  bool
	setup func(*fakePeer)
	peers []*fakePeer
}

func (f *fakePeers) NewPeer() (core.PeerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errInjected
	}
	p := &fakePeer{}
	if f.setup != nil {
		f.setup(p)
	}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeers) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakePeers) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.peers {
		if !p.isClosed() {
			n++
		}
	}
	return n
}

func (f *fakePeers) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

type fakeIssuer struct {
	mu       sync.Mutex
	err      error
	entered  chan struct{}
	block    chan struct{}
	requests int
	ended    []string
	async    []string
}

func (f *fakeIssuer) RequestToken(ctx context.Context, _ core.TokenRequest) (core.Token, error) {
	f.mu.Lock()
	f.requests++
	n := f.requests
	entered, block, err := f.entered, f.block, f.err
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return core.Token{}, err
	}
	return core.Token{Value: "ek_test", LeaseID: fmt.Sprintf("lease-%d", n)}, nil
}

func (f *fakeIssuer) EndSession(_ context.Context, lease string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, lease)
	return nil
}

func (f *fakeIssuer) EndSessionAsync(lease string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.async = append(f.async, lease)
}

func (f *fakeIssuer) endCalls() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...), append([]string(nil), f.async...)
}

type fakeSignaller struct {
	mu         sync.Mutex
	err        error
	entered    chan struct{}
	block      chan struct{}
	credential string
	offer      string
}

func (f *fakeSignaller) ExchangeSDP(_ context.Context, credential, _ string, offer string) (string, error) {
	f.mu.Lock()
	f.credential, f.offer = credential, offer
	entered, block, err := f.entered, f.block, f.err
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	return "v=0 answer", nil
}

type fakePrompts struct {
	text string
	err  error
}

func (f fakePrompts) GeneratePrompt(context.Context) (string, error) { return f.text, f.err }

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

// Advance moves time forward and runs every timer that became due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

type recListener struct {
	mu          sync.Mutex
	states      []domain.SessionState
	errs        []error
	transcripts []domain.ChatMessage
	devices     []domain.DeviceList
}

func (l *recListener) OnState(s domain.SessionState, _ domain.ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}
func (l *recListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}
func (l *recListener) OnTranscript(m domain.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transcripts = append(l.transcripts, m)
}
func (l *recListener) OnDevices(list domain.DeviceList, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices = append(l.devices, list)
}

func (l *recListener) hasError(target error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, err := range l.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type fakeEvents struct {
	mu           sync.Mutex
	fn           func(core.Event)
	unsubscribed bool
}

func (e *fakeEvents) Subscribe(fn func(core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fn = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.unsubscribed = true
		e.fn = nil
	}
}

func (e *fakeEvents) emit(k core.EventKind) {
	e.mu.Lock()
	fn := e.fn
	e.mu.Unlock()
	if fn != nil {
		fn(core.Event{Kind: k})
	}
}

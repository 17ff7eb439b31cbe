// Package session drives the lifecycle of one realtime voice session:
// admission, local capture, the peer transport, metering and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceChat/internal/app/audio"
	"github.com/dkeye/VoiceChat/internal/app/devices"
	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBudget = 6 * time.Minute
	endTimeout    = 5 * time.Second
)

type Deps struct {
	Media     core.MediaDevices
	Peers     core.PeerFactory
	Issuer    core.TokenIssuer
	Signaller core.Signaller
	Prompts   core.PromptSource
	Scheduler core.Scheduler
	Listener  core.SessionListener
	Events    []core.EventSource
	// Budget is the automatic expiry of an active session.
	Budget time.Duration
}

// resources is everything a running session owns. Only the controller
// holds it, and it is swapped out as a whole on teardown.
type resources struct {
	lease string
	token string

	local    core.LocalStream
	peer     core.PeerSession
	remote   core.RemoteAudio
	audioCtx *audio.Context
	meter    *audio.Handle

	deadline   time.Time
	stopExpiry func() bool
}

type Controller struct {
	media     core.MediaDevices
	peers     core.PeerFactory
	issuer    core.TokenIssuer
	signaller core.Signaller
	prompts   core.PromptSource
	sched     core.Scheduler
	listener  core.SessionListener
	inventory *devices.Inventory
	budget    time.Duration

	bg     context.Context
	cancel context.CancelFunc
	unsubs []func()

	// swap serializes capture replacement.
	swap sync.Mutex

	mu    sync.Mutex
	cfg   domain.SessionConfig
	state domain.SessionState
	conn  domain.ConnectionState
	res   *resources
	// ended is the one-shot teardown guard of the current generation.
	ended bool
	gen   uint64

	selected   string
	mics       domain.DeviceList
	hiddenStop bool
	chat       []domain.ChatMessage
	volume     float64
	closed     bool
}

func NewController(cfg domain.SessionConfig, deps Deps) *Controller {
	if deps.Scheduler == nil {
		deps.Scheduler = wallClock{}
	}
	if deps.Listener == nil {
		deps.Listener = nopListener{}
	}
	if deps.Budget <= 0 {
		deps.Budget = DefaultBudget
	}
	bg, cancel := context.WithCancel(context.Background())
	c := &Controller{
		media:     deps.Media,
		peers:     deps.Peers,
		issuer:    deps.Issuer,
		signaller: deps.Signaller,
		prompts:   deps.Prompts,
		sched:     deps.Scheduler,
		listener:  deps.Listener,
		inventory: devices.NewInventory(deps.Media),
		budget:    deps.Budget,
		bg:        bg,
		cancel:    cancel,
		cfg:       cfg,
		state:     domain.SessionState{Phase: domain.PhaseIdle},
		conn:      domain.ConnDisconnected,
		ended:     true,
		selected:  cfg.MicrophoneID,
		volume:    1,
	}
	for _, src := range deps.Events {
		c.unsubs = append(c.unsubs, src.Subscribe(c.HandleEvent))
	}
	return c
}

// Close deregisters from every event source and tears down a running session.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	c.Terminate()
	c.cancel()
}

func (c *Controller) Config() domain.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig replaces the configuration used by the next Start.
func (c *Controller) SetConfig(cfg domain.SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != domain.PhaseIdle {
		return domain.ErrConfigLocked
	}
	c.cfg = cfg
	c.selected = cfg.MicrophoneID
	return nil
}

func (c *Controller) State() (domain.SessionState, domain.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.conn
}

// Start runs a session from cfg. It is ignored while a session is
// connecting or active. Any failure tears down what was acquired.
func (c *Controller) Start(ctx context.Context, cfg domain.SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return fmt.Errorf("controller closed: %w", domain.ErrSessionAborted)
	case c.state.Live():
		phase := c.state.Phase
		c.mu.Unlock()
		log.Debug().Str("module", "session").Str("phase", phase.String()).Msg("start ignored")
		return nil
	case c.state.Phase == domain.PhaseEnding:
		c.mu.Unlock()
		return fmt.Errorf("session is ending: %w", domain.ErrSessionAborted)
	}
	c.gen++
	gen := c.gen
	c.ended = false
	c.cfg = cfg
	c.selected = cfg.MicrophoneID
	c.hiddenStop = false
	c.res = &resources{audioCtx: audio.NewContext()}
	c.state = domain.SessionState{Phase: domain.PhaseConnecting, Muted: cfg.StartMuted}
	c.conn = domain.ConnConnecting
	c.mu.Unlock()
	c.publishState()

	logger := log.With().Str("module", "session").Uint64("gen", gen).Logger()
	logger.Info().Str("model", cfg.Model).Str("voice", cfg.Voice).Str("device", cfg.MicrophoneID).Msg("starting session")

	if err := c.start(ctx, gen, cfg); err != nil {
		logger.Error().Err(err).Msg("session start failed")
		c.terminate(gen)
		if !errors.Is(err, domain.ErrSessionAborted) {
			c.listener.OnError(err)
		}
		return err
	}
	logger.Info().Msg("session active")
	return nil
}

func (c *Controller) start(ctx context.Context, gen uint64, cfg domain.SessionConfig) error {
	token, err := c.issuer.RequestToken(ctx, core.TokenRequest{
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		Instructions: cfg.Instructions,
		Temperature:  cfg.Temperature,
	})
	if err != nil {
		return fmt.Errorf("request token: %w", err)
	}
	if !c.adopt(gen, func(r *resources) {
		r.lease = token.LeaseID
		r.token = token.Value
	}) {
		// Terminated while the token was in flight: hand the lease back.
		if token.LeaseID != "" {
			c.issuer.EndSessionAsync(token.LeaseID)
		}
		return domain.ErrSessionAborted
	}

	stream, err := c.media.GetUserMedia(ctx, core.Constraints{DeviceID: cfg.MicrophoneID})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeviceAccess, err)
	}
	if !c.adopt(gen, func(r *resources) {
		// mute before the track is ever attached to the transport
		setEnabled(stream, !c.state.Muted)
		r.local = stream
	}) {
		stream.Stop()
		return domain.ErrSessionAborted
	}
	c.watchTracks(gen, stream)

	peer, err := c.peers.NewPeer()
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	peer.OnRemoteTrack(func(remote core.RemoteAudio) { c.onRemoteTrack(gen, remote) })
	peer.OnDataMessage(func(data []byte) { c.onDataMessage(gen, data) })
	peer.OnConnectionStateChange(func(s domain.ConnectionState) { c.onConnectionState(gen, s) })
	if !c.adopt(gen, func(r *resources) { r.peer = peer }) {
		_ = peer.Close()
		return domain.ErrSessionAborted
	}

	offer, err := peer.Open(ctx, stream)
	if err != nil {
		return fmt.Errorf("open peer: %w", err)
	}
	if !c.alive(gen) {
		return domain.ErrSessionAborted
	}

	answer, err := c.signaller.ExchangeSDP(ctx, token.Value, cfg.Model, offer)
	if err != nil {
		return fmt.Errorf("exchange sdp: %w", err)
	}
	// a stale answer must not resurrect a terminated session
	if !c.alive(gen) {
		return domain.ErrSessionAborted
	}
	if err := peer.CompleteHandshake(answer); err != nil {
		return fmt.Errorf("complete handshake: %w", err)
	}

	if !c.adopt(gen, func(r *resources) {
		c.state.Phase = domain.PhaseActive
		r.deadline = c.sched.Now().Add(c.budget)
		r.stopExpiry = c.sched.AfterFunc(c.budget, func() { c.expire(gen) })
	}) {
		return domain.ErrSessionAborted
	}
	c.publishState()
	return nil
}

// adopt applies fn to the session resources if gen is still the live session.
func (c *Controller) adopt(gen uint64, fn func(r *resources)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.aliveLocked(gen) {
		return false
	}
	fn(c.res)
	return true
}

func (c *Controller) alive(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliveLocked(gen)
}

func (c *Controller) aliveLocked(gen uint64) bool {
	return c.gen == gen && !c.ended && c.res != nil
}

// Terminate ends the current session. Repeated or concurrent calls tear
// down and notify the backend at most once.
func (c *Controller) Terminate() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.terminate(gen)
}

func (c *Controller) terminate(gen uint64) {
	c.teardown(gen, false)
}

// teardown is the single exit path of a session. With async set the backend
// is notified without waiting, as the process may be going away.
func (c *Controller) teardown(gen uint64, async bool) {
	c.mu.Lock()
	if !c.aliveLocked(gen) {
		c.mu.Unlock()
		return
	}
	c.ended = true
	r := c.res
	c.res = nil
	c.hiddenStop = false
	c.state.Phase = domain.PhaseEnding
	if r.stopExpiry != nil {
		r.stopExpiry()
	}
	c.mu.Unlock()
	c.publishState()

	c.release(gen, r, async)

	c.mu.Lock()
	c.state = domain.SessionState{Phase: domain.PhaseIdle}
	c.conn = domain.ConnDisconnected
	c.mu.Unlock()
	c.publishState()
	log.Info().Str("module", "session").Uint64("gen", gen).Msg("session terminated")
}

// release tears down in reverse acquisition order: transport, audio graph,
// local capture, then the backend notification. Every step runs even if an
// earlier one failed.
func (c *Controller) release(gen uint64, r *resources, async bool) {
	logger := log.With().Str("module", "session").Uint64("gen", gen).Logger()

	if r.peer != nil {
		if err := r.peer.Close(); err != nil {
			logger.Warn().Err(err).Msg("peer close")
		}
	}
	if r.remote != nil {
		r.remote.Stop()
	}
	r.meter.Detach()
	if r.audioCtx != nil {
		r.audioCtx.Close()
	}
	if r.local != nil {
		r.local.Stop()
	}
	if r.lease == "" {
		return
	}
	if async {
		c.issuer.EndSessionAsync(r.lease)
		return
	}
	ctx, cancel := context.WithTimeout(c.bg, endTimeout)
	defer cancel()
	if err := c.issuer.EndSession(ctx, r.lease); err != nil {
		logger.Warn().Err(err).Str("lease", r.lease).Msg("end notification failed")
	}
}

func (c *Controller) expire(gen uint64) {
	if !c.alive(gen) {
		return
	}
	log.Info().Str("module", "session").Uint64("gen", gen).Msg("session budget elapsed")
	c.terminate(gen)
}

// Remaining is the time left before automatic expiry; zero when no session is active.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.res == nil || c.res.deadline.IsZero() {
		return 0
	}
	return max(c.res.deadline.Sub(c.sched.Now()), 0)
}

// ToggleMute flips the mute flag and applies it to every local audio track.
// It returns the new flag; outside a live session it does nothing.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	if !c.state.Live() {
		muted := c.state.Muted
		c.mu.Unlock()
		return muted
	}
	c.state.Muted = !c.state.Muted
	muted := c.state.Muted
	if c.res != nil && c.res.local != nil {
		setEnabled(c.res.local, !muted)
	}
	c.mu.Unlock()
	c.publishState()
	return muted
}

// Chat returns a copy of the in-memory conversation log.
func (c *Controller) Chat() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatMessage(nil), c.chat...)
}

// PrefillPrompt asks the backend for a generated instruction and stores it
// in the configuration. Only allowed while idle.
func (c *Controller) PrefillPrompt(ctx context.Context) (string, error) {
	if c.prompts == nil {
		return "", errors.New("no prompt source configured")
	}
	if st, _ := c.State(); st.Phase != domain.PhaseIdle {
		return "", domain.ErrConfigLocked
	}
	text, err := c.prompts.GeneratePrompt(ctx)
	if err != nil {
		return "", fmt.Errorf("generate prompt: %w", err)
	}
	text = domain.TruncateInstructions(text)

	c.mu.Lock()
	if c.state.Phase != domain.PhaseIdle {
		c.mu.Unlock()
		return "", domain.ErrConfigLocked
	}
	c.cfg.Instructions = text
	msg := domain.ChatMessage{Sender: domain.SenderAI, Text: text, At: c.sched.Now()}
	c.chat = append(c.chat, msg)
	c.mu.Unlock()

	c.listener.OnTranscript(msg)
	return text, nil
}

func (c *Controller) publishState() {
	st, conn := c.State()
	c.listener.OnState(st, conn)
}

func setEnabled(s core.LocalStream, enabled bool) {
	for _, t := range s.AudioTracks() {
		t.SetEnabled(enabled)
	}
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

func (wallClock) Now() time.Time { return time.Now() }

type nopListener struct{}

func (nopListener) OnState(domain.SessionState, domain.ConnectionState) {}
func (nopListener) OnError(error)                                       {}
func (nopListener) OnTranscript(domain.ChatMessage)                     {}
func (nopListener) OnDevices(domain.DeviceList, string)                 {}

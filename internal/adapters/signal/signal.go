// Package signal holds the two signalling surfaces of the client: the SDP
// exchange with the realtime endpoint and the local control WebSocket.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/VoiceChat/internal/app/hub"
	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

// SessionControl is what the control socket drives.
type SessionControl interface {
	Start(ctx context.Context, cfg domain.SessionConfig) error
	Terminate()
	ToggleMute() bool
	ReconnectAudio(ctx context.Context, deviceID string) error
	RefreshDevices(ctx context.Context) (domain.DeviceList, error)
	PrefillPrompt(ctx context.Context) (string, error)
	Config() domain.SessionConfig
	SetConfig(cfg domain.SessionConfig) error
	State() (domain.SessionState, domain.ConnectionState)
	SetVolume(v float64)
	Chat() []domain.ChatMessage
}

type ControlWSController struct {
	Session SessionControl
	Hub     *hub.Hub
	// StartTimeout bounds one start attempt.
	StartTimeout time.Duration
	ReadLimit    int64
	PingPeriod   time.Duration

	events chan core.Event
}

func NewControlWSController(sess SessionControl, h *hub.Hub) *ControlWSController {
	ctl := &ControlWSController{
		Session:      sess,
		Hub:          h,
		StartTimeout: 30 * time.Second,
		events:       make(chan core.Event, 16),
	}
	go ctl.dispatch()
	return ctl
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *ControlWSController) HandleControl(ctx context.Context, c *gin.Context) {
	id := uuid.NewString()
	log.Info().Str("module", "signal").Str("conn", id).Msg("new control connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Bind(id, conn, cancel)
	ctl.sendSnapshot(id)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}

// sendSnapshot brings a fresh connection up to date.
func (ctl *ControlWSController) sendSnapshot(id string) {
	st, conn := ctl.Session.State()
	ctl.Hub.Send(id, hub.ConfigMsg{Type: hub.TypeConfig, Config: ctl.Session.Config(), Voices: domain.Voices})
	ctl.Hub.Send(id, hub.StateMsg{Type: hub.TypeState, Phase: st.Phase.String(), Muted: st.Muted, Connection: conn})
	for _, m := range ctl.Session.Chat() {
		ctl.Hub.Send(id, hub.TranscriptMsg{Type: hub.TypeTranscript, Sender: m.Sender, Text: m.Text, At: m.At})
	}
}

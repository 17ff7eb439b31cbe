// Package hub fans the session state out to the connected control sockets
// and feeds their platform events back to the session.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*connEntry
	policy Policy

	subMu sync.Mutex
	subs  map[int]func(core.Event)
	next  int
}

func New(policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		conns:  make(map[string]*connEntry),
		policy: policy,
		subs:   make(map[int]func(core.Event)),
	}
}

func (h *Hub) Bind(id string, conn core.SignalConnection, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.hub").Str("conn", id).Msg("bound control connection")
}

func (h *Hub) Unbind(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
	log.Info().Str("module", "app.hub").Str("conn", id).Msg("unbind control connection")
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Cancel stops the pumps of one connection.
func (h *Hub) Cancel(id string) bool {
	h.mu.RLock()
	e, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.hub").Str("conn", id).Msg("canceled control connection")
	return true
}

// Send encodes v for one connection.
func (h *Hub) Send(id string, v any) {
	h.mu.RLock()
	e, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	frame, typ, err := encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("send marshal")
		return
	}
	h.deliver(id, e, typ, frame)
}

func (h *Hub) Broadcast(v any) {
	frame, typ, err := encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("broadcast marshal")
		return
	}
	h.mu.RLock()
	snapshot := make(map[string]*connEntry, len(h.conns))
	for id, e := range h.conns {
		snapshot[id] = e
	}
	h.mu.RUnlock()

	for id, e := range snapshot {
		h.deliver(id, e, typ, frame)
	}
}

func (h *Hub) deliver(id string, e *connEntry, typ string, frame core.Frame) {
	if err := e.Conn.TrySend(frame); err == nil {
		return
	}
	switch h.policy.OnBackPressure(typ, id) {
	case KickConn:
		log.Warn().Str("module", "app.hub").Str("conn", id).Str("type", typ).Msg("slow control connection kicked")
		h.Cancel(id)
		e.Conn.Close()
		h.Unbind(id)
	case DropFrame:
		log.Debug().Str("module", "app.hub").Str("conn", id).Str("type", typ).Msg("frame dropped")
	}
}

func encode(v any) (core.Frame, string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	var env struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(b, &env)
	return b, env.Type, nil
}

// Subscribe registers fn for platform events reported by control clients.
func (h *Hub) Subscribe(fn func(core.Event)) func() {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	id := h.next
	h.next++
	h.subs[id] = fn
	return func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		delete(h.subs, id)
	}
}

func (h *Hub) Publish(ev core.Event) {
	h.subMu.Lock()
	subs := make([]func(core.Event), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.subMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (h *Hub) OnState(st domain.SessionState, conn domain.ConnectionState) {
	h.Broadcast(StateMsg{Type: TypeState, Phase: st.Phase.String(), Muted: st.Muted, Connection: conn})
}

func (h *Hub) OnError(err error) {
	h.Broadcast(NewError(err))
}

func (h *Hub) OnTranscript(m domain.ChatMessage) {
	h.Broadcast(TranscriptMsg{Type: TypeTranscript, Sender: m.Sender, Text: m.Text, At: m.At})
}

func (h *Hub) OnDevices(list domain.DeviceList, selected string) {
	devices := []domain.Device(list)
	if devices == nil {
		devices = []domain.Device{}
	}
	h.Broadcast(DevicesMsg{Type: TypeDevices, Devices: devices, Selected: selected})
}

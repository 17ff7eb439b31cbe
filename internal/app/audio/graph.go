// Package audio merges the local microphone and the remote audio into one
// analysis graph used for level metering.
package audio

import (
	"sync"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/rs/zerolog/log"
)

// Context is the processing context of one session. It owns the analyser
// and at most one merge node at any time.
type Context struct {
	mu       sync.Mutex
	analyser *Analyser
	merge    *mergeNode
	closed   bool

	mono  []float32
	left  []float32
	right []float32
	bins  []byte
}

func NewContext() *Context {
	a := NewAnalyser(DefaultFFTSize)
	return &Context{
		analyser: a,
		mono:     make([]float32, a.FFTSize()),
		left:     make([]float32, a.FFTSize()),
		right:    make([]float32, a.FFTSize()),
		bins:     make([]byte, a.FrequencyBinCount()),
	}
}

// LiveMerges reports how many merge nodes are connected (0 or 1).
func (c *Context) LiveMerges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.merge != nil && c.merge.connected {
		return 1
	}
	return 0
}

// Close disconnects the current merge and makes further Attach calls no-ops.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.merge != nil {
		c.merge.disconnect()
		c.merge = nil
	}
}

type mergeNode struct {
	local     core.SampleTap // channel 0
	remote    core.SampleTap // channel 1
	connected bool
}

func (m *mergeNode) disconnect() {
	m.connected = false
	m.local = nil
	m.remote = nil
}

// Handle is the analyser view of one merge node.
// A nil *Handle is valid and always reports level 0.
type Handle struct {
	ctx  *Context
	node *mergeNode
}

// Attach merges the first audio track of local with remote and connects the
// merge to the context analyser. Any previous merge of ctx is disconnected
// first. Missing inputs make the call a no-op returning nil.
func Attach(ctx *Context, local core.LocalStream, remote core.SampleTap) *Handle {
	if ctx == nil || local == nil || remote == nil {
		return nil
	}
	tracks := local.AudioTracks()
	if len(tracks) == 0 || tracks[0] == nil {
		return nil
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.closed {
		return nil
	}
	if ctx.merge != nil {
		ctx.merge.disconnect()
		log.Debug().Str("module", "audio").Msg("previous merge disconnected")
	}
	node := &mergeNode{local: tracks[0], remote: remote, connected: true}
	ctx.merge = node
	return &Handle{ctx: ctx, node: node}
}

// CurrentLevel returns the averaged frequency magnitude in [0, MaxLevel].
func (h *Handle) CurrentLevel() float64 {
	if h == nil || h.ctx == nil {
		return 0
	}
	c := h.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.merge != h.node || !h.node.connected {
		return 0
	}
	h.node.local.Window(c.left)
	h.node.remote.Window(c.right)
	for i := range c.mono {
		c.mono[i] = 0.5 * (c.left[i] + c.right[i])
	}
	c.analyser.ByteFrequencyData(c.mono, c.bins)
	return LevelFromBytes(c.bins)
}

func (h *Handle) Attached() bool {
	if h == nil || h.ctx == nil {
		return false
	}
	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	return h.ctx.merge == h.node && h.node.connected
}

// Detach disconnects the merge if it is still the current one.
func (h *Handle) Detach() {
	if h == nil || h.ctx == nil {
		return
	}
	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	if h.ctx.merge == h.node {
		h.node.disconnect()
		h.ctx.merge = nil
	}
}

package session

import (
	"context"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/rs/zerolog/log"
)

// HandleEvent reacts to platform events. It is registered with every
// configured event source and may be called from any goroutine.
func (c *Controller) HandleEvent(ev core.Event) {
	log.Debug().Str("module", "session").Str("event", ev.Kind.String()).Msg("platform event")
	switch ev.Kind {
	case core.EventDeviceChange:
		c.onDeviceChange()
	case core.EventVisibilityHidden:
		c.onHidden()
	case core.EventVisibilityVisible:
		c.onVisible()
	case core.EventPageUnload:
		c.Unload()
	}
}

func (c *Controller) onDeviceChange() {
	ctx, cancel := context.WithTimeout(c.bg, endTimeout)
	defer cancel()

	list, _ := c.RefreshDevices(ctx)
	c.mu.Lock()
	active := c.state.Live() && c.res != nil && c.res.local != nil
	missing := !list.Contains(c.selected)
	gen := c.gen
	c.mu.Unlock()

	if active && missing {
		c.fallback(gen)
	}
}

// onHidden releases the microphone while the page is in the background.
// The transport stays up.
func (c *Controller) onHidden() {
	c.mu.Lock()
	if !c.state.Live() || c.res == nil || c.res.local == nil || c.hiddenStop {
		c.mu.Unlock()
		return
	}
	local := c.res.local
	c.hiddenStop = true
	c.mu.Unlock()

	for _, t := range local.AudioTracks() {
		t.Stop()
	}
	log.Info().Str("module", "session").Msg("microphone released while hidden")
}

// onVisible recaptures the selected device, but only if onHidden released it.
func (c *Controller) onVisible() {
	c.mu.Lock()
	if !c.hiddenStop || !c.state.Live() {
		c.hiddenStop = false
		c.mu.Unlock()
		return
	}
	selected := c.selected
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.bg, endTimeout)
	defer cancel()
	if err := c.ReconnectAudio(ctx, selected); err != nil {
		log.Warn().Str("module", "session").Err(err).Msg("recapture after visibility failed")
	}
}

// Unload is the page-exit path: resources are released immediately and the
// backend is notified without waiting for delivery.
func (c *Controller) Unload() {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.teardown(gen, true)
}

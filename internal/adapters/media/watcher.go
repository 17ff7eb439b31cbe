package media

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/VoiceChat/internal/core"
	"github.com/rs/zerolog/log"
)

// Watcher polls the device list and emits core.EventDeviceChange on change.
type Watcher struct {
	media    core.MediaDevices
	interval time.Duration

	mu   sync.Mutex
	subs map[int]func(core.Event)
	next int
	last []string
}

func NewWatcher(media core.MediaDevices, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{media: media, interval: interval, subs: make(map[int]func(core.Event))}
}

func (w *Watcher) Subscribe(fn func(core.Event)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.next
	w.next++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// Run polls until ctx is done. The first poll only records the baseline.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Poll(ctx)
		}
	}
}

// Poll enumerates once and reports whether the list differs from the previous poll.
func (w *Watcher) Poll(ctx context.Context) bool {
	list, err := w.media.Enumerate(ctx)
	if err != nil {
		log.Warn().Str("module", "media").Err(err).Msg("device poll failed")
		return false
	}
	ids := make([]string, 0, len(list))
	for _, d := range list {
		ids = append(ids, d.ID)
	}

	w.mu.Lock()
	first := w.last == nil
	changed := !first && !slices.Equal(ids, w.last)
	w.last = ids
	subs := make([]func(core.Event), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	if !changed {
		return false
	}
	log.Info().Str("module", "media").Strs("devices", ids).Msg("device list changed")
	for _, fn := range subs {
		fn(core.Event{Kind: core.EventDeviceChange})
	}
	return true
}

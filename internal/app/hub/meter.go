package hub

import (
	"context"
	"time"

	"github.com/dkeye/VoiceChat/internal/domain"
)

// Meter is the read side of a running session.
type Meter interface {
	Level() float64
	Remaining() time.Duration
	State() (domain.SessionState, domain.ConnectionState)
}

// RunMeter broadcasts the level every tick and the countdown once per second
// while a session is active. Nothing is sent while idle.
func (h *Hub) RunMeter(ctx context.Context, m Meter, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	lastSecond := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st, _ := m.State()
		if st.Phase != domain.PhaseActive {
			lastSecond = -1
			continue
		}
		h.Broadcast(LevelMsg{Type: TypeLevel, Level: m.Level()})

		rem := m.Remaining()
		secs := int(rem.Round(time.Second) / time.Second)
		if secs != lastSecond {
			lastSecond = secs
			h.Broadcast(CountdownMsg{Type: TypeCountdown, Remaining: secs, Display: FormatRemaining(rem)})
		}
	}
}

// Package gate caps the number of concurrent realtime sessions the backend hands out.
package gate

import (
	"sync"
	"time"

	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

type Lease struct {
	ID       string    `json:"lease_id"`
	IssuedAt time.Time `json:"issued_at"`
}

type lease struct {
	Lease
	timer *time.Timer
}

// Gate is a bounded lease pool. Every lease holds one unit of the semaphore
// until it is released explicitly or its TTL runs out.
type Gate struct {
	sem *semaphore.Weighted
	max int
	ttl time.Duration

	mu     sync.Mutex
	leases map[string]*lease
	order  []string
	closed bool
}

// New creates a gate for max sessions. A ttl <= 0 disables expiry.
func New(max int, ttl time.Duration) *Gate {
	if max < 1 {
		max = 1
	}
	return &Gate{
		sem:    semaphore.NewWeighted(int64(max)),
		max:    max,
		ttl:    ttl,
		leases: make(map[string]*lease),
	}
}

// Acquire takes a lease or fails with domain.ErrAdmissionRejected when full.
func (g *Gate) Acquire() (Lease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return Lease{}, domain.ErrGateClosed
	}
	if !g.sem.TryAcquire(1) {
		log.Warn().Str("module", "gate").Int("active", len(g.leases)).Msg("session cap reached")
		return Lease{}, domain.ErrAdmissionRejected
	}
	l := &lease{Lease: Lease{ID: uuid.NewString(), IssuedAt: time.Now()}}
	if g.ttl > 0 {
		id := l.ID
		l.timer = time.AfterFunc(g.ttl, func() {
			if g.Release(id) {
				log.Info().Str("module", "gate").Str("lease", id).Msg("lease expired")
			}
		})
	}
	g.leases[l.ID] = l
	g.order = append(g.order, l.ID)
	log.Info().Str("module", "gate").Str("lease", l.ID).Int("active", len(g.leases)).Msg("lease acquired")
	return l.Lease, nil
}

// Release frees the lease. Unknown or already released ids are ignored.
func (g *Gate) Release(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releaseLocked(id)
}

// ReleaseOldest frees the longest-held lease, for end signals that carry no id.
func (g *Gate) ReleaseOldest() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.order) == 0 {
		return false
	}
	return g.releaseLocked(g.order[0])
}

func (g *Gate) releaseLocked(id string) bool {
	l, ok := g.leases[id]
	if !ok {
		return false
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	delete(g.leases, id)
	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.sem.Release(1)
	log.Info().Str("module", "gate").Str("lease", id).Int("active", len(g.leases)).Msg("lease released")
	return true
}

func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.leases)
}

func (g *Gate) Max() int { return g.max }

// Close releases every lease and rejects further acquisitions.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	for len(g.order) > 0 {
		g.releaseLocked(g.order[0])
	}
}

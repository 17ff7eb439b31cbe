package gate

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceChat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_RejectsOverCap(t *testing.T) {
	g := New(2, 0)

	a, err := g.Acquire()
	require.NoError(t, err)
	_, err = g.Acquire()
	require.NoError(t, err)

	_, err = g.Acquire()
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected)
	assert.Equal(t, 2, g.Active())

	assert.True(t, g.Release(a.ID))
	_, err = g.Acquire()
	assert.NoError(t, err)
}

func TestGate_ReleaseIdempotent(t *testing.T) {
	g := New(1, 0)
	l, err := g.Acquire()
	require.NoError(t, err)

	assert.True(t, g.Release(l.ID))
	assert.False(t, g.Release(l.ID))
	assert.False(t, g.Release("unknown"))
	assert.Equal(t, 0, g.Active())
}

func TestGate_ReleaseOldest(t *testing.T) {
	g := New(3, 0)
	first, _ := g.Acquire()
	second, _ := g.Acquire()

	assert.True(t, g.ReleaseOldest())
	assert.False(t, g.Release(first.ID))
	assert.True(t, g.Release(second.ID))
	assert.False(t, g.ReleaseOldest())
}

func TestGate_LeaseExpires(t *testing.T) {
	g := New(1, 20*time.Millisecond)
	_, err := g.Acquire()
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return g.Active() == 0 }, time.Second, 5*time.Millisecond)
	_, err = g.Acquire()
	assert.NoError(t, err)
}

func TestGate_Concurrent(t *testing.T) {
	g := New(5, 0)
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Acquire(); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, granted)
	assert.Equal(t, 5, g.Active())
}

func TestGate_Close(t *testing.T) {
	g := New(2, time.Minute)
	_, _ = g.Acquire()
	g.Close()
	g.Close()

	assert.Equal(t, 0, g.Active())
	_, err := g.Acquire()
	assert.ErrorIs(t, err, domain.ErrGateClosed)
}

package audio

import "sync"

// Ring keeps the most recent samples of a stream for analysis.
type Ring struct {
	mu     sync.Mutex
	buf    []float32
	pos    int
	filled int
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultFFTSize * 4
	}
	return &Ring{buf: make([]float32, size)}
}

func (r *Ring) Write(p []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range p {
		r.buf[r.pos] = s
		r.pos = (r.pos + 1) % len(r.buf)
	}
	r.filled = min(r.filled+len(p), len(r.buf))
}

// WriteInt16 scales 16-bit PCM into [-1, 1] and scales it by gain.
func (r *Ring) WriteInt16(p []int16, gain float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range p {
		r.buf[r.pos] = float32(s) / 32768 * gain
		r.pos = (r.pos + 1) % len(r.buf)
	}
	r.filled = min(r.filled+len(p), len(r.buf))
}

// Window right-aligns the latest samples in dst and zero-fills the rest.
func (r *Ring) Window(dst []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(len(dst), r.filled)
	lead := len(dst) - n
	for i := 0; i < lead; i++ {
		dst[i] = 0
	}
	start := (r.pos - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		dst[lead+i] = r.buf[(start+i)%len(r.buf)]
	}
	return n
}

func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.pos = 0
	r.filled = 0
}

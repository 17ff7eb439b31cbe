package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/dkeye/VoiceChat/internal/core"
)

const frameDuration = 20 * time.Millisecond

var errSourceClosed = errors.New("source closed")

// Source produces mono 16-bit PCM at core.CaptureSampleRate, paced in real time.
type Source interface {
	Read(p []int16) (int, error)
	Close() error
}

// ToneSource synthesises a sine wave, standing in for a microphone.
type ToneSource struct {
	phase    float64
	phaseInc float64
	amp      float64

	ticker *time.Ticker
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func NewToneSource(freq, amplitude float64) *ToneSource {
	return &ToneSource{
		phaseInc: 2 * math.Pi * freq / core.CaptureSampleRate,
		amp:      amplitude * math.MaxInt16,
		ticker:   time.NewTicker(frameDuration),
		closed:   make(chan struct{}),
	}
}

func (s *ToneSource) Read(p []int16) (int, error) {
	select {
	case <-s.closed:
		return 0, errSourceClosed
	case <-s.ticker.C:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range p {
		p[i] = int16(math.Sin(s.phase) * s.amp)
		s.phase += s.phaseInc
		if s.phase >= 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return len(p), nil
}

func (s *ToneSource) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.closed)
	})
	return nil
}

// PipeSource reads raw 16-bit LE PCM from a file or FIFO, e.g. the output
// of `arecord -f S16_LE -r 8000 -c 1`. Reads are paced to real time.
type PipeSource struct {
	r      io.ReadCloser
	buf    []byte
	ticker *time.Ticker
	closed chan struct{}
	once   sync.Once
	err    error
}

func OpenPipeSource(path string) (*PipeSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewPipeSource(f), nil
}

func NewPipeSource(r io.ReadCloser) *PipeSource {
	return &PipeSource{r: r, ticker: time.NewTicker(frameDuration), closed: make(chan struct{})}
}

func (s *PipeSource) Read(p []int16) (int, error) {
	select {
	case <-s.closed:
		return 0, errSourceClosed
	case <-s.ticker.C:
	}
	if cap(s.buf) < len(p)*2 {
		s.buf = make([]byte, len(p)*2)
	}
	buf := s.buf[:len(p)*2]
	n, err := io.ReadFull(s.r, buf)
	select {
	case <-s.closed:
		return 0, errSourceClosed
	default:
	}
	samples := n / 2
	for i := 0; i < samples; i++ {
		p[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	if samples > 0 {
		return samples, nil
	}
	if err != nil {
		return 0, err
	}
	return 0, io.ErrUnexpectedEOF
}

func (s *PipeSource) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.closed)
		s.err = s.r.Close()
	})
	return s.err
}

package audio

import "math"

const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0

	// MaxLevel caps the metering output; it bounds the visual effect.
	MaxLevel = 0.5
)

// Analyser produces byte frequency magnitudes the way a browser analyser
// node does: Blackman window, smoothed magnitudes, dB scaled into 0..255.
type Analyser struct {
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	window []float64
	prev   []float64
	buf    []complex128
}

func NewAnalyser(fftSize int) *Analyser {
	if !isPowerOfTwo(fftSize) || fftSize < 32 {
		fftSize = DefaultFFTSize
	}
	a := &Analyser{
		fftSize:   fftSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
		window:    make([]float64, fftSize),
		prev:      make([]float64, fftSize/2),
		buf:       make([]complex128, fftSize),
	}
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	for i := range a.window {
		x := float64(i) / float64(fftSize)
		a.window[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return a
}

func (a *Analyser) FFTSize() int           { return a.fftSize }
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// ByteFrequencyData analyses the last FFTSize samples and writes up to
// FrequencyBinCount magnitudes into out.
func (a *Analyser) ByteFrequencyData(samples []float32, out []byte) {
	for i := range a.buf {
		var s float64
		if j := len(samples) - a.fftSize + i; j >= 0 && j < len(samples) {
			s = float64(samples[j])
		}
		a.buf[i] = complex(s*a.window[i], 0)
	}
	fft(a.buf)

	scale := 255 / (a.maxDB - a.minDB)
	n := min(len(out), len(a.prev))
	for k := range a.prev {
		re, im := real(a.buf[k]), imag(a.buf[k])
		mag := math.Sqrt(re*re+im*im) / float64(a.fftSize)
		a.prev[k] = a.smoothing*a.prev[k] + (1-a.smoothing)*mag
		if k >= n {
			continue
		}
		if a.prev[k] <= 0 {
			out[k] = 0
			continue
		}
		db := 20 * math.Log10(a.prev[k])
		v := math.Floor(scale * (db - a.minDB))
		out[k] = byte(math.Max(0, math.Min(255, v)))
	}
}

// LevelFromBytes averages the bins, normalises by 255 and clamps to [0, MaxLevel].
func LevelFromBytes(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	level := float64(sum) / float64(len(data)) / 255
	return math.Max(0, math.Min(level, MaxLevel))
}

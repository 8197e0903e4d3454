package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analysis defaults matching browser analyser nodes
const (
	DefaultFFTSize            = 256
	DefaultSmoothingTimeConst = 0.8
	DefaultMinDecibels        = -100.0
	DefaultMaxDecibels        = -30.0
)

// SignalSource returns the most recent n samples of a signal, zero padded at
// the front when fewer are available.
type SignalSource func(n int) []float32

// Spectrum computes byte scaled frequency magnitudes of a signal. It applies a
// Blackman window, smooths magnitudes over time and maps decibels in
// [minDecibels, maxDecibels] onto 0..255.
type Spectrum struct {
	fftSize     int
	source      SignalSource
	fft         *fourier.FFT
	window      []float64
	smoothed    []float64
	smoothing   float64
	minDecibels float64
	maxDecibels float64
	mu          sync.Mutex
}

// NewSpectrum creates an analyser over source. fftSize is rounded up to a power of two.
func NewSpectrum(fftSize int, source SignalSource) *Spectrum {
	if fftSize <= 0 {
		fftSize = DefaultFFTSize
	}
	size := 32
	for size < fftSize {
		size <<= 1
	}

	window := make([]float64, size)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(size)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}

	return &Spectrum{
		fftSize:     size,
		source:      source,
		fft:         fourier.NewFFT(size),
		window:      window,
		smoothed:    make([]float64, size/2),
		smoothing:   DefaultSmoothingTimeConst,
		minDecibels: DefaultMinDecibels,
		maxDecibels: DefaultMaxDecibels,
	}
}

// FFTSize returns the analysis window length
func (s *Spectrum) FFTSize() int {
	return s.fftSize
}

// FrequencyBinCount returns half the FFT size
func (s *Spectrum) FrequencyBinCount() int {
	return s.fftSize / 2
}

// ByteFrequencyData fills dst with the current byte scaled magnitudes
func (s *Spectrum) ByteFrequencyData(dst []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := s.source(s.fftSize)
	seq := make([]float64, s.fftSize)
	offset := s.fftSize - len(samples)
	for i, v := range samples {
		if offset+i < 0 {
			continue
		}
		seq[offset+i] = float64(v) * s.window[offset+i]
	}

	coeffs := s.fft.Coefficients(nil, seq)
	bins := s.FrequencyBinCount()
	scale := 255 / (s.maxDecibels - s.minDecibels)

	for k := 0; k < bins && k < len(dst); k++ {
		mag := cmplx.Abs(coeffs[k]) / float64(s.fftSize)
		s.smoothed[k] = s.smoothing*s.smoothed[k] + (1-s.smoothing)*mag

		db := math.Inf(-1)
		if s.smoothed[k] > 0 {
			db = 20 * math.Log10(s.smoothed[k])
		}
		v := math.Floor(scale * (db - s.minDecibels))
		switch {
		case v < 0 || math.IsNaN(v):
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
}

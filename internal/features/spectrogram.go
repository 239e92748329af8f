package features

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	NFFT      = 2048
	HopLength = 512
)

// PeriodicHann returns an n-point Hann window suitable for spectral
// analysis (the symmetric n+1 window without its last point).
func PeriodicHann(n int) []float64 {
	return window.Hann(n + 1)[:n]
}

// FrameCount is the number of centered frames for a signal of n samples.
func FrameCount(n, hop int) int {
	return 1 + n/hop
}

// centeredFrame copies the frame centered on sample center into dst,
// zero-padding where it runs past either end of samples.
func centeredFrame(dst, samples []float64, center int) {
	start := center - len(dst)/2
	for i := range dst {
		j := start + i
		if j < 0 || j >= len(samples) {
			dst[i] = 0
			continue
		}
		dst[i] = samples[j]
	}
}

// Spectrogram holds the magnitude STFT of a signal: Mag[t][k] for frame t
// and bin k in [0, NFFT/2].
type Spectrogram struct {
	Mag        [][]float64
	SampleRate int
	NFFT       int
	Hop        int
}

// STFT computes a centered, zero-padded, Hann-windowed magnitude
// spectrogram.
func STFT(samples []float64, sampleRate, nfft, hop int) *Spectrogram {
	win := PeriodicHann(nfft)
	frames := FrameCount(len(samples), hop)
	bins := nfft/2 + 1

	mag := make([][]float64, frames)
	frame := make([]float64, nfft)
	for t := 0; t < frames; t++ {
		centeredFrame(frame, samples, t*hop)
		for i := range frame {
			frame[i] *= win[i]
		}
		spec := fft.FFTReal(frame)

		row := make([]float64, bins)
		for k := 0; k < bins; k++ {
			row[k] = cmplx.Abs(spec[k])
		}
		mag[t] = row
	}

	return &Spectrogram{Mag: mag, SampleRate: sampleRate, NFFT: nfft, Hop: hop}
}

// Power returns |X|^2 for every frame.
func (s *Spectrogram) Power() [][]float64 {
	out := make([][]float64, len(s.Mag))
	for t, row := range s.Mag {
		p := make([]float64, len(row))
		for k, v := range row {
			p[k] = v * v
		}
		out[t] = p
	}
	return out
}

// BinFrequencies returns the center frequency in Hz of each bin.
func (s *Spectrogram) BinFrequencies() []float64 {
	bins := s.NFFT/2 + 1
	out := make([]float64, bins)
	for k := range out {
		out[k] = float64(k) * float64(s.SampleRate) / float64(s.NFFT)
	}
	return out
}

// Frames is the number of analysis frames.
func (s *Spectrogram) Frames() int { return len(s.Mag) }

// powerToDB converts power values to dB (ref 1, floor amin) and clamps
// everything to at most topDB below the global maximum.
func powerToDB(rows [][]float64, amin, topDB float64) [][]float64 {
	out := make([][]float64, len(rows))
	maxDB := math.Inf(-1)
	for t, row := range rows {
		db := make([]float64, len(row))
		for k, v := range row {
			db[k] = 10 * math.Log10(math.Max(amin, v))
			if db[k] > maxDB {
				maxDB = db[k]
			}
		}
		out[t] = db
	}
	if topDB > 0 {
		floor := maxDB - topDB
		for _, row := range out {
			for k, v := range row {
				if v < floor {
					row[k] = floor
				}
			}
		}
	}
	return out
}

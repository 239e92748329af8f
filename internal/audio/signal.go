// Package audio loads recitation recordings into mono float64 signals and
// writes them back out, natively for WAV and through ffmpeg for every other
// container.
package audio

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrDecode marks input that could not be turned into a Signal.
	ErrDecode = errors.New("decode error")
	// ErrConversion marks a failed format conversion.
	ErrConversion = errors.New("conversion error")
)

// PeakEpsilon keeps log10 finite for silent signals.
const PeakEpsilon = 1e-8

// MaxSampleRate is the highest sample rate accepted from a file header.
const MaxSampleRate = 384000

// Signal is decoded mono audio at its native sample rate. Samples are
// nominally in [-1, 1].
type Signal struct {
	Samples    []float64
	SampleRate int
}

func (s Signal) Len() int { return len(s.Samples) }

// Duration returns the length in seconds, or 0 for an unusable sample rate.
func (s Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Peak returns max(|x|), 0 for an empty signal.
func (s Signal) Peak() float64 {
	if len(s.Samples) == 0 {
		return 0
	}
	return math.Max(floats.Max(s.Samples), -floats.Min(s.Samples))
}

// PeakDBFS is the peak level in dB relative to full scale.
func (s Signal) PeakDBFS() float64 {
	return 20 * math.Log10(s.Peak()+PeakEpsilon)
}

// IsSilent reports whether the signal carries no energy at all.
func (s Signal) IsSilent() bool {
	return s.Peak() == 0
}

// Clone returns a deep copy.
func (s Signal) Clone() Signal {
	out := Signal{SampleRate: s.SampleRate}
	if s.Samples != nil {
		out.Samples = make([]float64, len(s.Samples))
		copy(out.Samples, s.Samples)
	}
	return out
}

// Finite reports whether every sample is a real number.
func (s Signal) Finite() bool {
	for _, v := range s.Samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

package preprocess

import (
	"fmt"
	"math"

	"github.com/quranicquest/recitation/internal/audio"
)

const (
	DefaultTopDB = 20.0

	trimFrameLength = 2048
	trimHopLength   = 512
	powerFloor      = 1e-10
)

// SilenceTrimmer removes leading and trailing frames whose RMS power is more
// than TopDB below the loudest frame. Interior pauses are kept.
type SilenceTrimmer struct {
	TopDB float64
}

func (SilenceTrimmer) Name() string { return "trim" }

func (s SilenceTrimmer) Apply(sig audio.Signal) (audio.Signal, error) {
	if len(sig.Samples) == 0 {
		return sig, nil
	}
	if !sig.Finite() {
		return sig, fmt.Errorf("%w: non-finite samples", ErrStageFailure)
	}

	topDB := s.TopDB
	if topDB <= 0 {
		topDB = DefaultTopDB
	}

	start, end := s.Bounds(sig.Samples, topDB)
	out := make([]float64, end-start)
	copy(out, sig.Samples[start:end])
	return audio.Signal{Samples: out, SampleRate: sig.SampleRate}, nil
}

// Bounds returns the [start, end) sample range spanning every non-silent
// frame. When no frame is loud enough the range is empty.
func (SilenceTrimmer) Bounds(samples []float64, topDB float64) (int, int) {
	power := framePower(samples, trimFrameLength, trimHopLength)

	maxPower := powerFloor
	for _, p := range power {
		if p > maxPower {
			maxPower = p
		}
	}
	ref := 10 * math.Log10(maxPower)

	first, last := -1, -1
	for i, p := range power {
		db := 10*math.Log10(math.Max(p, powerFloor)) - ref
		if db > -topDB {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, 0
	}

	start := first * trimHopLength
	end := (last + 1) * trimHopLength
	if end > len(samples) {
		end = len(samples)
	}
	if start > end {
		start = end
	}
	return start, end
}

// framePower computes mean-square energy of centered, zero-padded frames:
// frame i covers samples [i*hop - frame/2, i*hop + frame/2).
func framePower(samples []float64, frame, hop int) []float64 {
	n := len(samples)
	count := 1 + n/hop
	half := frame / 2

	out := make([]float64, count)
	for i := 0; i < count; i++ {
		lo := i*hop - half
		hi := lo + frame
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		var sum float64
		for _, v := range samples[lo:hi] {
			sum += v * v
		}
		out[i] = sum / float64(frame)
	}
	return out
}

package preprocess

import (
	"fmt"
	"math"

	"github.com/quranicquest/recitation/internal/audio"
)

// NoiseGate zeroes samples quieter than twice the mean absolute amplitude
// of the recording's lead-in. It is a hard amplitude gate, not spectral
// subtraction, and will also cut quiet speech.
type NoiseGate struct {
	// ProfileSeconds is the lead-in used as the noise profile. Zero means
	// half a second.
	ProfileSeconds float64
	// Factor multiplies the noise floor to get the gate threshold. Zero
	// means 2.
	Factor float64
}

func (NoiseGate) Name() string { return "noise_gate" }

// NoiseFloor estimates the noise level of sig: the mean absolute amplitude
// of the first ProfileSeconds, or of the first tenth when the signal is
// shorter than that.
func (g NoiseGate) NoiseFloor(sig audio.Signal) float64 {
	n := len(sig.Samples)
	if n == 0 {
		return 0
	}

	seconds := g.ProfileSeconds
	if seconds <= 0 {
		seconds = 0.5
	}
	profile := int(float64(sig.SampleRate) * seconds)
	if n <= profile || profile <= 0 {
		profile = n / 10
	}
	if profile < 1 {
		profile = 1
	}

	var sum float64
	for _, v := range sig.Samples[:profile] {
		sum += math.Abs(v)
	}
	return sum / float64(profile)
}

func (g NoiseGate) Apply(sig audio.Signal) (audio.Signal, error) {
	if len(sig.Samples) == 0 {
		return sig, nil
	}

	factor := g.Factor
	if factor <= 0 {
		factor = 2
	}
	floor := g.NoiseFloor(sig)
	if math.IsNaN(floor) || math.IsInf(floor, 0) {
		return sig, fmt.Errorf("%w: noise floor is %v", ErrStageFailure, floor)
	}
	threshold := factor * floor

	out := make([]float64, len(sig.Samples))
	for i, v := range sig.Samples {
		if math.Abs(v) >= threshold {
			out[i] = v
		}
	}
	return audio.Signal{Samples: out, SampleRate: sig.SampleRate}, nil
}

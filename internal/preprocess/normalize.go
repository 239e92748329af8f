package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/quranicquest/recitation/internal/audio"
)

// DefaultTargetDBFS is the peak level recordings are normalized to.
const DefaultTargetDBFS = -3.0

// PeakNormalizer scales a signal so its peak sits at TargetDBFS.
type PeakNormalizer struct {
	TargetDBFS float64
}

func (PeakNormalizer) Name() string { return "normalize" }

func (p PeakNormalizer) Apply(sig audio.Signal) (audio.Signal, error) {
	if len(sig.Samples) == 0 {
		return sig, nil
	}
	if !sig.Finite() {
		return sig, fmt.Errorf("%w: non-finite samples", ErrStageFailure)
	}

	gain := math.Pow(10, (p.TargetDBFS-sig.PeakDBFS())/20)
	if math.IsNaN(gain) || math.IsInf(gain, 0) {
		return sig, fmt.Errorf("%w: gain is %v", ErrStageFailure, gain)
	}

	out := sig.Clone()
	floats.Scale(gain, out.Samples)
	return out, nil
}

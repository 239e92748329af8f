// Package preprocess holds the clean-up stages applied to a recitation
// before it is stored: a noise gate, peak normalization and edge trimming.
//
// Every stage is fail-open. Run records one StageResult per stage and keeps
// the previous stage's output when a stage errors or panics.
package preprocess

import (
	"errors"
	"fmt"

	"github.com/quranicquest/recitation/internal/audio"
)

// ErrStageFailure wraps any error raised by a stage.
var ErrStageFailure = errors.New("preprocessing stage failed")

// Stage transforms one signal into another. Implementations never modify
// the input slice.
type Stage interface {
	Name() string
	Apply(sig audio.Signal) (audio.Signal, error)
}

// StageResult is the outcome of one stage in a chain run.
type StageResult struct {
	Stage   string
	Applied bool
	Err     error
}

func (r StageResult) String() string {
	if r.Applied {
		return r.Stage + ": applied"
	}
	return fmt.Sprintf("%s: skipped (%v)", r.Stage, r.Err)
}

// Chain is an ordered list of stages.
type Chain []Stage

// DefaultChain is gate, normalize, trim with the given parameters.
func DefaultChain(targetDBFS, topDB float64) Chain {
	return Chain{
		NoiseGate{},
		PeakNormalizer{TargetDBFS: targetDBFS},
		SilenceTrimmer{TopDB: topDB},
	}
}

// Run applies every stage in order. It never fails; the returned results
// tell which stages took effect.
func (c Chain) Run(sig audio.Signal) (audio.Signal, []StageResult) {
	results := make([]StageResult, 0, len(c))
	cur := sig
	for _, st := range c {
		out, err := apply(st, cur)
		if err != nil {
			results = append(results, StageResult{Stage: st.Name(), Err: err})
			continue
		}
		cur = out
		results = append(results, StageResult{Stage: st.Name(), Applied: true})
	}
	return cur, results
}

func apply(st Stage, sig audio.Signal) (out audio.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrStageFailure, st.Name(), r)
		}
	}()

	out, err = st.Apply(sig)
	if err != nil && !errors.Is(err, ErrStageFailure) {
		err = fmt.Errorf("%w: %s: %v", ErrStageFailure, st.Name(), err)
	}
	return out, err
}

// Failed reports whether any result carries an error.
func Failed(results []StageResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// Package features computes the fixed-layout acoustic descriptor of a
// recitation: averaged MFCCs, spectral centroid, zero-crossing rate, a
// tempo estimate and the duration.
package features

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/quranicquest/recitation/internal/audio"
)

// ErrFeatureExtraction marks a signal no Vector could be computed for.
var ErrFeatureExtraction = errors.New("feature extraction failed")

// Vector is the descriptor handed to the scoring component. Its layout is
// fixed; Slice flattens it in declaration order.
type Vector struct {
	MFCCMean             [NumMFCC]float64 `json:"mfcc_mean"`
	SpectralCentroidMean float64          `json:"spectral_centroid_mean"`
	ZeroCrossingRateMean float64          `json:"zero_crossing_rate_mean"`
	Tempo                float64          `json:"tempo"`
	Duration             float64          `json:"duration"`
}

// VectorLen is len(Vector.Slice()).
const VectorLen = NumMFCC + 4

// Slice returns the vector as NumMFCC+4 numbers.
func (v Vector) Slice() []float64 {
	out := make([]float64, 0, VectorLen)
	out = append(out, v.MFCCMean[:]...)
	return append(out, v.SpectralCentroidMean, v.ZeroCrossingRateMean, v.Tempo, v.Duration)
}

// cachedRates are the sample rates whose mel filter banks are kept for the
// lifetime of an Extractor. Banks for any other rate are built per call.
var cachedRates = map[int]bool{
	8000:  true,
	16000: true,
	22050: true,
	44100: true,
	48000: true,
}

// Extractor computes Vectors. It is safe for concurrent use.
type Extractor struct {
	mu    sync.Mutex
	banks map[int]*mat.Dense
}

func NewExtractor() *Extractor {
	return &Extractor{banks: make(map[int]*mat.Dense, len(cachedRates))}
}

func (e *Extractor) melBank(sampleRate int) *mat.Dense {
	if !cachedRates[sampleRate] {
		return MelFilterBank(NumMels, NFFT, sampleRate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.banks == nil {
		e.banks = make(map[int]*mat.Dense, len(cachedRates))
	}
	b, ok := e.banks[sampleRate]
	if !ok {
		b = MelFilterBank(NumMels, NFFT, sampleRate)
		e.banks[sampleRate] = b
	}
	return b
}

// cachedBanks reports how many filter banks are held.
func (e *Extractor) cachedBanks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.banks)
}

// Extract computes the descriptor of sig. It is deterministic for a given
// input.
func (e *Extractor) Extract(sig audio.Signal) (Vector, error) {
	if len(sig.Samples) == 0 {
		return Vector{}, fmt.Errorf("%w: empty signal", ErrFeatureExtraction)
	}
	if sig.SampleRate <= 0 || sig.SampleRate > audio.MaxSampleRate {
		return Vector{}, fmt.Errorf("%w: sample rate %d", ErrFeatureExtraction, sig.SampleRate)
	}
	if !sig.Finite() {
		return Vector{}, fmt.Errorf("%w: non-finite samples", ErrFeatureExtraction)
	}

	spec := STFT(sig.Samples, sig.SampleRate, NFFT, HopLength)
	dbMel := logMel(melPower(e.melBank(sig.SampleRate), spec.Power()))

	v := Vector{
		MFCCMean:             mfccMean(dbMel),
		SpectralCentroidMean: stat.Mean(spectralCentroid(spec), nil),
		ZeroCrossingRateMean: stat.Mean(zeroCrossingRate(sig.Samples, NFFT, HopLength), nil),
		Tempo:                estimateTempo(onsetEnvelope(dbMel), sig.SampleRate, HopLength),
		Duration:             sig.Duration(),
	}

	for i, x := range v.Slice() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Vector{}, fmt.Errorf("%w: component %d is %v", ErrFeatureExtraction, i, x)
		}
	}
	return v, nil
}

// spectralCentroid is the magnitude-weighted mean frequency of each frame,
// 0 for frames with no energy.
func spectralCentroid(spec *Spectrogram) []float64 {
	freqs := spec.BinFrequencies()
	out := make([]float64, spec.Frames())
	for t, row := range spec.Mag {
		total := floats.Sum(row)
		if total <= 0 {
			continue
		}
		out[t] = floats.Dot(freqs, row) / total
	}
	return out
}

// zeroCrossingRate counts sign changes inside centered frames (edge
// padded) and divides by the frame length. Values within 1e-10 of zero
// count as positive.
func zeroCrossingRate(samples []float64, frame, hop int) []float64 {
	const threshold = 1e-10
	n := len(samples)
	count := FrameCount(n, hop)
	half := frame / 2

	at := func(j int) bool {
		if j < 0 {
			j = 0
		}
		if j >= n {
			j = n - 1
		}
		v := samples[j]
		return math.Abs(v) > threshold && v < 0
	}

	out := make([]float64, count)
	for t := 0; t < count; t++ {
		start := t*hop - half
		crossings := 0
		prev := at(start)
		for i := 1; i < frame; i++ {
			cur := at(start + i)
			if cur != prev {
				crossings++
			}
			prev = cur
		}
		out[t] = float64(crossings) / float64(frame)
	}
	return out
}

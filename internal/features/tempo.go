package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	startBPM = 120.0
	// Standard deviation of the tempo prior in octaves.
	stdBPM = 1.0
	// maxBPM bounds the lags the estimator will consider.
	maxBPM = 320.0
	// Longest autocorrelation lag in seconds.
	acSeconds = 8.0
)

// onsetEnvelope is the mean positive first difference across mel bands of
// a dB mel spectrogram, one value per frame. The first frame has no
// predecessor and is 0.
func onsetEnvelope(dbMel *mat.Dense) []float64 {
	bands, frames := dbMel.Dims()
	env := make([]float64, frames)
	for t := 1; t < frames; t++ {
		var sum float64
		for b := 0; b < bands; b++ {
			if d := dbMel.At(b, t) - dbMel.At(b, t-1); d > 0 {
				sum += d
			}
		}
		env[t] = sum / float64(bands)
	}
	return env
}

// autocorrelate returns r[k] = sum_t x[t]*x[t+k] for k in [0, maxLag].
// Lags past the end of x are 0.
func autocorrelate(x []float64, maxLag int) []float64 {
	r := make([]float64, maxLag+1)
	for k := 0; k <= maxLag && k < len(x); k++ {
		r[k] = floats.Dot(x[:len(x)-k], x[k:])
	}
	return r
}

// estimateTempo picks the beats-per-minute whose lag maximizes the
// autocorrelation of the onset envelope weighted by a log-normal prior
// around startBPM. A flat envelope falls back to the prior alone.
//
// The autocorrelation is a single global one normalized by its zero lag,
// not an average of windowed local autocorrelations (a tempogram), so
// estimates on long recordings with tempo drift can differ from librosa's
// beat.tempo.
func estimateTempo(env []float64, sampleRate, hop int) float64 {
	framesPerSec := float64(sampleRate) / float64(hop)
	maxLag := int(math.Round(acSeconds * framesPerSec))
	if maxLag < 1 {
		maxLag = 1
	}
	// Lags at or past the end of the envelope have zero autocorrelation.
	acLag := min(maxLag, len(env)-1)
	if acLag < 0 {
		acLag = 0
	}

	ac := autocorrelate(env, acLag)
	if ac[0] > 0 {
		floats.Scale(1/ac[0], ac)
	}

	best, bestScore := 0.0, math.Inf(-1)
	consider := func(k int) {
		bpm := 60 * framesPerSec / float64(k)
		if bpm > maxBPM {
			return
		}
		var r float64
		if k < len(ac) {
			r = math.Max(ac[k], 0)
		}
		z := (math.Log2(bpm) - math.Log2(startBPM)) / stdBPM
		score := math.Log1p(1e6*r) - 0.5*z*z
		if score > bestScore {
			best, bestScore = bpm, score
		}
	}

	for k := 1; k <= acLag; k++ {
		consider(k)
	}
	// Past acLag only the prior counts, so the best candidates are the two
	// lags bracketing startBPM, clamped to what is left of the range.
	if acLag < maxLag {
		lo := max(acLag+1, int(math.Ceil(60*framesPerSec/maxBPM)))
		ideal := 60 * framesPerSec / startBPM
		for _, k := range []int{int(math.Floor(ideal)), int(math.Ceil(ideal))} {
			consider(min(max(k, lo), maxLag))
		}
	}

	if best == 0 {
		// Every lag is faster than maxBPM: only possible at absurdly low
		// sample rates.
		best = 60 * framesPerSec
	}
	return best
}

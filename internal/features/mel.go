package features

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// NumMels is the number of mel bands fed to the cepstral analysis.
const NumMels = 128

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp       = 200.0 / 3
	melMinLogHz  = 1000.0
	melMinLogMel = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27.0

func hzToMel(hz float64) float64 {
	if hz >= melMinLogHz {
		return melMinLogMel + math.Log(hz/melMinLogHz)/melLogStep
	}
	return hz / melFSp
}

func melToHz(mel float64) float64 {
	if mel >= melMinLogMel {
		return melMinLogHz * math.Exp(melLogStep*(mel-melMinLogMel))
	}
	return melFSp * mel
}

// MelFilterBank builds a [numMels x nfft/2+1] matrix of triangular filters
// spanning 0 Hz to Nyquist. Each filter is scaled by 2/bandwidth so all
// bands have equal area.
func MelFilterBank(numMels, nfft, sampleRate int) *mat.Dense {
	bins := nfft/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sampleRate) / float64(nfft)
	}

	lowMel := hzToMel(0)
	highMel := hzToMel(float64(sampleRate) / 2)
	points := make([]float64, numMels+2)
	for i := range points {
		points[i] = melToHz(lowMel + (highMel-lowMel)*float64(i)/float64(numMels+1))
	}

	bank := mat.NewDense(numMels, bins, nil)
	for m := 0; m < numMels; m++ {
		left, center, right := points[m], points[m+1], points[m+2]
		norm := 2 / (right - left)
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			w := math.Max(0, math.Min(lower, upper))
			if w > 0 {
				bank.Set(m, k, w*norm)
			}
		}
	}
	return bank
}

// melPower projects power spectra [frames][bins] onto the filter bank and
// returns a [numMels x frames] matrix.
func melPower(bank *mat.Dense, power [][]float64) *mat.Dense {
	bands, bins := bank.Dims()
	frames := len(power)

	spec := mat.NewDense(bins, frames, nil)
	for t, row := range power {
		for k, v := range row {
			spec.Set(k, t, v)
		}
	}

	out := mat.NewDense(bands, frames, nil)
	out.Mul(bank, spec)
	return out
}

// rows copies a matrix into [row][col] slices.
func rows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

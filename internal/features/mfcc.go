package features

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	NumMFCC = 13

	dbAmin  = 1e-10
	dbTopDB = 80.0
)

// dctMatrix is the orthonormal DCT-II basis truncated to the first n
// coefficients: [n x size].
func dctMatrix(n, size int) *mat.Dense {
	d := mat.NewDense(n, size, nil)
	scale0 := math.Sqrt(1 / float64(size))
	scale := math.Sqrt(2 / float64(size))
	for k := 0; k < n; k++ {
		s := scale
		if k == 0 {
			s = scale0
		}
		for i := 0; i < size; i++ {
			d.Set(k, i, s*math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(size))))
		}
	}
	return d
}

// logMel converts a [bands x frames] mel power matrix to clamped dB.
func logMel(melS *mat.Dense) *mat.Dense {
	bands, frames := melS.Dims()
	db := powerToDB(rows(melS), dbAmin, dbTopDB)
	out := mat.NewDense(bands, frames, nil)
	for b, row := range db {
		out.SetRow(b, row)
	}
	return out
}

// mfccMean computes NumMFCC cepstral coefficients per frame from a dB mel
// matrix and averages each over time.
func mfccMean(dbMel *mat.Dense) [NumMFCC]float64 {
	bands, frames := dbMel.Dims()

	cep := mat.NewDense(NumMFCC, frames, nil)
	cep.Mul(dctMatrix(NumMFCC, bands), dbMel)

	var out [NumMFCC]float64
	for k := 0; k < NumMFCC; k++ {
		out[k] = stat.Mean(mat.Row(nil, k, cep), nil)
	}
	return out
}

package flow

import (
	"math"
	"math/rand"
)

// logNormConst is -0.5*Dim*log(2*pi), the normalizer of the unit Gaussian.
var logNormConst = -0.5 * Dim * math.Log(2*math.Pi)

// BaseLogProb is the log density of the latent distribution, a standard
// diagonal Gaussian in Dim dimensions.
func BaseLogProb(z []float64) float64 {
	var ss float64
	for _, v := range z {
		ss += v * v
	}
	return -0.5*ss + logNormConst
}

// SampleLatent draws n i.i.d. vectors from the latent Gaussian.
func SampleLatent(rng *rand.Rand, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, Dim)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		out[i] = row
	}
	return out
}

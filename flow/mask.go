package flow

// Dim is the dimensionality of the feature space and of the latent Gaussian.
const Dim = 6

// FeatureVector is one row of the six derived subhalo properties, in order:
// mass at infall, concentration, bound-mass fraction, infall redshift,
// orbital radius, tidal heating.
type FeatureVector [Dim]float64

// Mask selects the dimensions a coupling layer holds fixed (1) and the ones
// it transforms (0).
type Mask [Dim]float64

// MaskFor returns the mask of the given layer: [1,0,1,0,1,0] on even layers
// and [0,1,0,1,0,1] on odd ones.
func MaskFor(layer int) Mask {
	var m Mask
	for j := range m {
		if (j+layer)%2 == 0 {
			m[j] = 1
		}
	}
	return m
}

// Complement returns 1-m.
func (m Mask) Complement() Mask {
	var c Mask
	for j, v := range m {
		c[j] = 1 - v
	}
	return c
}

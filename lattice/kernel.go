// Package lattice implements the cubic B-spline control lattice that
// parameterizes a velocity field: coefficient storage, kernel weight
// tables, field and Jacobian evaluation with nearest-neighbor
// extrapolation, spline prefiltering, and dyadic subdivision.
package lattice

// Cubic B-spline kernel weights at the integer lattice offsets -1, 0, +1.
// Used by the 3x3x3 stencils that evaluate a coefficient field and its
// spatial derivative exactly at lattice points.
var (
	// LatticeWeights[o+1] is the kernel value at offset o.
	LatticeWeights = [3]float64{1.0 / 6.0, 4.0 / 6.0, 1.0 / 6.0}

	// LatticeWeightsD[o+1] is the kernel first derivative contribution of
	// the coefficient at offset o.
	LatticeWeightsD = [3]float64{-0.5, 0.0, 0.5}
)

// Weights returns the four cubic B-spline basis weights for fractional
// position t in [0,1), ordered by support point floor(x)-1 .. floor(x)+2.
func Weights(t float64) [4]float64 {
	s := 1 - t
	t2 := t * t
	t3 := t2 * t
	return [4]float64{
		s * s * s / 6,
		(3*t3 - 6*t2 + 4) / 6,
		(-3*t3 + 3*t2 + 3*t + 1) / 6,
		t3 / 6,
	}
}

// DerivWeights returns the derivatives of the four basis weights with
// respect to the grid coordinate, for fractional position t in [0,1).
func DerivWeights(t float64) [4]float64 {
	s := 1 - t
	t2 := t * t
	return [4]float64{
		-s * s / 2,
		(3*t2 - 4*t) / 2,
		(-3*t2 + 2*t + 1) / 2,
		t2 / 2,
	}
}

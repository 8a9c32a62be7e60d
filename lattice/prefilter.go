package lattice

import (
	"math"

	"github.com/fieldreg/diffeo/field"
	"github.com/fieldreg/diffeo/utils"
)

// Pole of the cubic B-spline interpolation prefilter.
var splinePole = math.Sqrt(3) - 2

// prefilterLine converts one line of sample values into cubic B-spline
// interpolation coefficients in place (causal/anticausal recursive filter
// with mirror boundary conditions).
func prefilterLine(line []float64) {
	n := len(line)
	if n < 2 {
		return
	}
	z := splinePole
	// gain (1-z)(1-1/z) of the cascaded first-order filters
	gain := (1 - z) * (1 - 1/z)
	for i := range line {
		line[i] *= gain
	}
	// causal initialization: truncated sum over the mirrored signal
	horizon := int(math.Ceil(math.Log(1e-10) / math.Log(math.Abs(z))))
	if horizon > n {
		horizon = n
	}
	sum := line[0]
	zn := z
	for i := 1; i < horizon; i++ {
		sum += zn * line[i]
		zn *= z
	}
	line[0] = sum
	// causal recursion
	for i := 1; i < n; i++ {
		line[i] += z * line[i-1]
	}
	// anticausal initialization and recursion
	line[n-1] = (z / (z*z - 1)) * (z*line[n-2] + line[n-1])
	for i := n - 2; i >= 0; i-- {
		line[i] = z * (line[i+1] - line[i])
	}
}

// ConvertToCoefficients replaces the sample values of f by the cubic
// B-spline coefficients that interpolate them, filtering each grid line of
// each vector component along every non-degenerate dimension.
func ConvertToCoefficients(f *field.VectorField) {
	a := f.Attr
	get := func(v *field.Vec3, c int) float64 {
		switch c {
		case 0:
			return v.X
		case 1:
			return v.Y
		default:
			return v.Z
		}
	}
	set := func(v *field.Vec3, c int, s float64) {
		switch c {
		case 0:
			v.X = s
		case 1:
			v.Y = s
		default:
			v.Z = s
		}
	}
	// x lines
	if a.NX > 1 {
		utils.ParallelFor(a.NY*a.NZ, func(begin, end int) {
			line := make([]float64, a.NX)
			for jk := begin; jk < end; jk++ {
				j, k := jk%a.NY, jk/a.NY
				for c := 0; c < 3; c++ {
					for i := 0; i < a.NX; i++ {
						line[i] = get(&f.Vec[a.Index(i, j, k)], c)
					}
					prefilterLine(line)
					for i := 0; i < a.NX; i++ {
						set(&f.Vec[a.Index(i, j, k)], c, line[i])
					}
				}
			}
		})
	}
	// y lines
	if a.NY > 1 {
		utils.ParallelFor(a.NX*a.NZ, func(begin, end int) {
			line := make([]float64, a.NY)
			for ik := begin; ik < end; ik++ {
				i, k := ik%a.NX, ik/a.NX
				for c := 0; c < 3; c++ {
					for j := 0; j < a.NY; j++ {
						line[j] = get(&f.Vec[a.Index(i, j, k)], c)
					}
					prefilterLine(line)
					for j := 0; j < a.NY; j++ {
						set(&f.Vec[a.Index(i, j, k)], c, line[j])
					}
				}
			}
		})
	}
	// z lines
	if a.NZ > 1 {
		utils.ParallelFor(a.NX*a.NY, func(begin, end int) {
			line := make([]float64, a.NZ)
			for ij := begin; ij < end; ij++ {
				i, j := ij%a.NX, ij/a.NX
				for c := 0; c < 3; c++ {
					for k := 0; k < a.NZ; k++ {
						line[k] = get(&f.Vec[a.Index(i, j, k)], c)
					}
					prefilterLine(line)
					for k := 0; k < a.NZ; k++ {
						set(&f.Vec[a.Index(i, j, k)], c, line[k])
					}
				}
			}
		})
	}
}

// Interpolate replaces the lattice coefficients so that the reconstructed
// velocity interpolates the given control-point sample values.
func (l *Lattice) Interpolate(samples *field.VectorField) {
	c := samples.Clone()
	ConvertToCoefficients(c)
	l.Coeff = c
}

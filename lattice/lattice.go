package lattice

import (
	"fmt"
	"math"

	"github.com/fieldreg/diffeo/field"
	"github.com/fieldreg/diffeo/utils"
)

// Lattice is a regular control-point grid holding the cubic B-spline
// coefficients of a 3-vector velocity field. The coefficient count always
// equals the lattice size; the geometry is immutable except through
// Subdivide.
type Lattice struct {
	Attr  field.Attributes
	Coeff *field.VectorField // B-spline coefficients, one Vec3 per control point
}

// New creates a zero-velocity lattice on the given grid.
func New(attr field.Attributes) (*Lattice, error) {
	if err := attr.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lattice attributes: %w", err)
	}
	return &Lattice{Attr: attr, Coeff: field.NewVectorField(attr)}, nil
}

// Clone returns a deep copy of the lattice.
func (l *Lattice) Clone() *Lattice {
	return &Lattice{Attr: l.Attr, Coeff: l.Coeff.Clone()}
}

// NumberOfDOFs returns the number of scalar degrees of freedom.
func (l *Lattice) NumberOfDOFs() int { return 3 * l.Attr.NumberOfPoints() }

// EvalCoeff evaluates a cubic B-spline coefficient field at continuous grid
// coordinates, clamping the coefficient indices to the grid bounds
// (nearest-neighbor extrapolation of the reconstructed field).
func EvalCoeff(c *field.VectorField, x, y, z float64) field.Vec3 {
	i := int(math.Floor(x))
	j := int(math.Floor(y))
	k := int(math.Floor(z))
	wx := Weights(x - float64(i))
	wy := Weights(y - float64(j))
	wz := Weights(z - float64(k))

	var out field.Vec3
	for c3 := 0; c3 < 4; c3++ {
		bz := wz[c3]
		for c2 := 0; c2 < 4; c2++ {
			byz := wy[c2] * bz
			for c1 := 0; c1 < 4; c1++ {
				s := c.AtClamped(i-1+c1, j-1+c2, k-1+c3)
				w := wx[c1] * byz
				out.X += w * s.X
				out.Y += w * s.Y
				out.Z += w * s.Z
			}
		}
	}
	return out
}

// EvalCoeffJacobian evaluates the spatial Jacobian of a coefficient field
// with respect to the continuous grid coordinates. Row r, column c holds
// d(component r)/d(grid coordinate c).
func EvalCoeffJacobian(cf *field.VectorField, x, y, z float64) utils.Mat3 {
	i := int(math.Floor(x))
	j := int(math.Floor(y))
	k := int(math.Floor(z))
	wx, dwx := Weights(x-float64(i)), DerivWeights(x-float64(i))
	wy, dwy := Weights(y-float64(j)), DerivWeights(y-float64(j))
	wz, dwz := Weights(z-float64(k)), DerivWeights(z-float64(k))

	var jac utils.Mat3
	for c3 := 0; c3 < 4; c3++ {
		for c2 := 0; c2 < 4; c2++ {
			for c1 := 0; c1 < 4; c1++ {
				s := cf.AtClamped(i-1+c1, j-1+c2, k-1+c3)
				gx := dwx[c1] * wy[c2] * wz[c3]
				gy := wx[c1] * dwy[c2] * wz[c3]
				gz := wx[c1] * wy[c2] * dwz[c3]
				jac[0] += gx * s.X
				jac[1] += gy * s.X
				jac[2] += gz * s.X
				jac[3] += gx * s.Y
				jac[4] += gy * s.Y
				jac[5] += gz * s.Y
				jac[6] += gx * s.Z
				jac[7] += gy * s.Z
				jac[8] += gz * s.Z
			}
		}
	}
	return jac
}

// EvaluateGrid evaluates the velocity at continuous grid coordinates.
func (l *Lattice) EvaluateGrid(x, y, z float64) field.Vec3 {
	return EvalCoeff(l.Coeff, x, y, z)
}

// EvaluateWorld evaluates the velocity at world coordinates.
func (l *Lattice) EvaluateWorld(x, y, z float64) field.Vec3 {
	i, j, k := l.Attr.WorldToGrid(x, y, z)
	return EvalCoeff(l.Coeff, i, j, k)
}

// JacobianToWorld converts a Jacobian taken with respect to grid
// coordinates into one with respect to world coordinates, using the chain
// rule d(grid_c)/d(world_r) = axis_c[r] / spacing_c.
func (l *Lattice) JacobianToWorld(jg utils.Mat3) utils.Mat3 {
	a := l.Attr
	axes := [3][3]float64{a.XAxis, a.YAxis, a.ZAxis}
	d := [3]float64{a.DX, a.DY, a.DZ}
	var jw utils.Mat3
	for r := 0; r < 3; r++ {
		for w := 0; w < 3; w++ {
			sum := 0.0
			for c := 0; c < 3; c++ {
				sum += jg.At(r, c) * axes[c][w] / d[c]
			}
			jw.Set(r, w, sum)
		}
	}
	return jw
}

// JacobianWorld evaluates the spatial Jacobian of the velocity with
// respect to world coordinates at a world point.
func (l *Lattice) JacobianWorld(x, y, z float64) utils.Mat3 {
	i, j, k := l.Attr.WorldToGrid(x, y, z)
	return l.JacobianToWorld(EvalCoeffJacobian(l.Coeff, i, j, k))
}

// Support is the weight of one control point's coefficient in the value of
// the reconstructed field at a query point.
type Support struct {
	Index  int // flat control-point index
	Weight float64
}

// SupportWeights returns the nonzero B-spline weights of the 4x4x4
// control-point neighborhood supporting the continuous grid position.
// Control points outside the lattice are omitted.
func (l *Lattice) SupportWeights(x, y, z float64) []Support {
	i := int(math.Floor(x))
	j := int(math.Floor(y))
	k := int(math.Floor(z))
	wx := Weights(x - float64(i))
	wy := Weights(y - float64(j))
	wz := Weights(z - float64(k))

	out := make([]Support, 0, 64)
	for c3 := 0; c3 < 4; c3++ {
		ck := k - 1 + c3
		if ck < 0 || ck >= l.Attr.NZ {
			continue
		}
		for c2 := 0; c2 < 4; c2++ {
			cj := j - 1 + c2
			if cj < 0 || cj >= l.Attr.NY {
				continue
			}
			wyz := wy[c2] * wz[c3]
			for c1 := 0; c1 < 4; c1++ {
				ci := i - 1 + c1
				if ci < 0 || ci >= l.Attr.NX {
					continue
				}
				out = append(out, Support{
					Index:  l.Attr.Index(ci, cj, ck),
					Weight: wx[c1] * wyz,
				})
			}
		}
	}
	return out
}

// DOFWeight returns the B-spline weight of the control point (ci, cj, ck)
// at the continuous grid position, zero outside its 4x4x4 support.
func (l *Lattice) DOFWeight(ci, cj, ck int, x, y, z float64) float64 {
	i := int(math.Floor(x))
	j := int(math.Floor(y))
	k := int(math.Floor(z))
	a, b, c := ci-(i-1), cj-(j-1), ck-(k-1)
	if a < 0 || a > 3 || b < 0 || b > 3 || c < 0 || c > 3 {
		return 0
	}
	return Weights(x-float64(i))[a] * Weights(y-float64(j))[b] * Weights(z-float64(k))[c]
}

// Package exponential computes the flow map of a lattice-sampled
// stationary velocity field by scaling and squaring: the field is scaled
// down by a power of two until the largest voxel displacement is below a
// safety bound, the small-time displacement is evaluated directly, and the
// accumulated field is then self-composed once per squaring step.
package exponential

import (
	"fmt"
	"math"

	"github.com/fieldreg/diffeo/field"
	"github.com/fieldreg/diffeo/lattice"
	"github.com/fieldreg/diffeo/utils"
	"gonum.org/v1/gonum/floats"
)

// Exponentiator exponentiates a velocity field over a signed integration
// interval. Configure the inputs and the requested outputs, then call Run.
// The zero value is not usable; all fields must be set explicitly.
type Exponentiator struct {
	// UpperIntegrationLimit is the signed interval length T; exp(T*v) is
	// computed. A zero interval makes Run a no-op identity.
	UpperIntegrationLimit float64

	// NumberOfSteps is the number of integration steps the interval would
	// take with a fixed-step scheme; the number of squarings is
	// ceil(log2(NumberOfSteps)), extended as needed by the velocity bound.
	NumberOfSteps int

	// MaxScaledVelocity bounds the largest voxel displacement of the
	// scaled field; additional squarings are added until it holds.
	// Non-positive disables the bound.
	MaxScaledVelocity float64

	// Velocity holds the input field on the interim grid: cubic B-spline
	// coefficients when BSplineVelocity is set (fast lattice variant), or
	// dense point samples otherwise (general variant).
	Velocity        *field.VectorField
	BSplineVelocity bool

	// Output is the resolution of all requested output fields.
	Output field.Attributes

	// InputDisplacement optionally pre-composes the result with an
	// existing displacement field: the displacement output becomes
	// exp(T*v) o din. Must be sampled on the Output grid.
	InputDisplacement *field.VectorField

	// Requested outputs; leave false/unset to skip the computation.
	ComputeDisplacement bool
	ComputeJacobian     bool
	ComputeDetJacobian  bool
	ComputeLogJacobian  bool
	ComputeJacobianDOFs bool

	// Results, valid after Run.
	Displacement *field.VectorField
	Jacobian     *field.Mat3Field
	DetJacobian  *field.ScalarField
	LogJacobian  *field.ScalarField
	JacobianDOFs *field.Mat3Field
}

// needJacobian reports whether the squaring loop must carry the spatial
// Jacobian field. The per-DOF chain rule D'(x) = D(y) + J(y)*D(x) requires
// it even when no Jacobian output was requested.
func (e *Exponentiator) needJacobian() bool {
	return e.ComputeJacobian || e.ComputeDetJacobian || e.ComputeLogJacobian || e.ComputeJacobianDOFs
}

// Run computes the requested output fields. It returns an error for
// missing or inconsistent inputs; numerical computation itself does not
// fail.
func (e *Exponentiator) Run() error {
	if e.Velocity == nil {
		return fmt.Errorf("exponential: no input velocity field")
	}
	if err := e.Velocity.Attr.Validate(); err != nil {
		return fmt.Errorf("exponential: invalid interim grid: %w", err)
	}
	if err := e.Output.Validate(); err != nil {
		return fmt.Errorf("exponential: invalid output grid: %w", err)
	}
	if e.InputDisplacement != nil && !e.InputDisplacement.Attr.Equal(e.Output) {
		return fmt.Errorf("exponential: input displacement grid differs from output grid")
	}
	if e.InputDisplacement != nil && e.needJacobian() {
		return fmt.Errorf("exponential: input displacement cannot be combined with Jacobian outputs")
	}
	if e.NumberOfSteps <= 0 {
		e.NumberOfSteps = 1
	}

	interim := e.Velocity.Attr
	T := e.UpperIntegrationLimit

	// number of squarings for the requested step count
	squarings := 0
	for 1<<squarings < e.NumberOfSteps {
		squarings++
	}

	// small-time velocity samples at the interim grid
	v := field.NewVectorField(interim)
	utils.ParallelFor(len(v.Vec), func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := interim.Lattice(idx)
			if e.BSplineVelocity {
				v.Vec[idx] = lattice.EvalCoeff(e.Velocity, float64(i), float64(j), float64(k))
			} else {
				v.Vec[idx] = e.Velocity.Vec[idx]
			}
		}
	})

	// extend the scaling until the max scaled displacement is safe
	if e.MaxScaledVelocity > 0 {
		norms := make([]float64, len(v.Vec))
		for i, s := range v.Vec {
			norms[i] = s.Norm()
		}
		vmax := floats.Max(norms) * math.Abs(T) / float64(int(1)<<squarings)
		for vmax > e.MaxScaledVelocity {
			squarings++
			vmax /= 2
		}
	}
	scale := T / float64(int(1)<<squarings)

	// initial small-time displacement, Jacobian, and Jacobian w.r.t. v
	u := field.NewVectorField(interim)
	var jac, dofs *field.Mat3Field
	if e.needJacobian() {
		jac = field.NewMat3Field(interim)
	}
	if e.ComputeJacobianDOFs {
		dofs = field.NewMat3Field(interim)
	}
	utils.ParallelFor(len(u.Vec), func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := interim.Lattice(idx)
			u.Vec[idx] = v.Vec[idx].Scale(scale)
			if jac != nil {
				jv := e.velocityJacobianWorld(v, float64(i), float64(j), float64(k))
				jac.Mat[idx] = utils.Ident3().Add(jv.Scale(scale))
			}
			if dofs != nil {
				dofs.Mat[idx] = utils.Ident3().Scale(scale)
			}
		}
	})

	// squaring: compose the accumulated field with itself
	for s := 0; s < squarings; s++ {
		u, jac, dofs = e.square(u, jac, dofs)
	}

	// resample to the output grid and assemble requested outputs
	e.assemble(u, jac, dofs)
	return nil
}

// velocityJacobianWorld evaluates the spatial Jacobian of the small-time
// velocity with respect to world coordinates at interim grid coordinates,
// from the B-spline coefficients when available and by central differences
// of the dense samples otherwise.
func (e *Exponentiator) velocityJacobianWorld(v *field.VectorField, x, y, z float64) utils.Mat3 {
	a := v.Attr
	var jg utils.Mat3
	if e.BSplineVelocity {
		jg = lattice.EvalCoeffJacobian(e.Velocity, x, y, z)
	} else {
		i, j, k := int(x), int(y), int(z)
		dx := v.AtClamped(i+1, j, k).Sub(v.AtClamped(i-1, j, k)).Scale(0.5)
		dy := v.AtClamped(i, j+1, k).Sub(v.AtClamped(i, j-1, k)).Scale(0.5)
		dz := v.AtClamped(i, j, k+1).Sub(v.AtClamped(i, j, k-1)).Scale(0.5)
		jg = utils.Mat3{dx.X, dy.X, dz.X, dx.Y, dy.Y, dz.Y, dx.Z, dy.Z, dz.Z}
	}
	return gridJacobianToWorld(a, jg)
}

// gridJacobianToWorld converts a Jacobian w.r.t. grid coordinates into one
// w.r.t. world coordinates.
func gridJacobianToWorld(a field.Attributes, jg utils.Mat3) utils.Mat3 {
	axes := [3][3]float64{a.XAxis, a.YAxis, a.ZAxis}
	d := [3]float64{a.DX, a.DY, a.DZ}
	var jw utils.Mat3
	for r := 0; r < 3; r++ {
		for w := 0; w < 3; w++ {
			sum := 0.0
			for c := 0; c < 3; c++ {
				if d[c] != 0 {
					sum += jg.At(r, c) * axes[c][w] / d[c]
				}
			}
			jw.Set(r, w, sum)
		}
	}
	return jw
}

// sampleDisplacement evaluates the accumulated displacement field at
// continuous interim grid coordinates: cubic B-spline sampling for the
// fast lattice variant (treating the samples as coefficients, which is
// what makes the variant approximate), linear otherwise.
func (e *Exponentiator) sampleDisplacement(u *field.VectorField, x, y, z float64) field.Vec3 {
	if e.BSplineVelocity {
		return lattice.EvalCoeff(u, x, y, z)
	}
	return u.SampleLinear(x, y, z)
}

// square performs one doubling step: u'(x) = u(x) + u(x + u(x)), with the
// Jacobian and Jacobian-w.r.t.-velocity fields chained through the same
// composition.
func (e *Exponentiator) square(u *field.VectorField, jac, dofs *field.Mat3Field) (*field.VectorField, *field.Mat3Field, *field.Mat3Field) {
	a := u.Attr
	nu := field.NewVectorField(a)
	var njac, ndofs *field.Mat3Field
	if jac != nil {
		njac = field.NewMat3Field(a)
	}
	if dofs != nil {
		ndofs = field.NewMat3Field(a)
	}
	utils.ParallelFor(len(u.Vec), func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := a.Lattice(idx)
			wx, wy, wz := a.GridToWorld(float64(i), float64(j), float64(k))
			d := u.Vec[idx]
			gx, gy, gz := a.WorldToGrid(wx+d.X, wy+d.Y, wz+d.Z)
			nu.Vec[idx] = d.Add(e.sampleDisplacement(u, gx, gy, gz))
			if jac != nil {
				jy := jac.SampleLinear(gx, gy, gz)
				njac.Mat[idx] = jy.Mul(jac.Mat[idx])
				if dofs != nil {
					dy := dofs.SampleLinear(gx, gy, gz)
					ndofs.Mat[idx] = dy.Add(jy.Mul(dofs.Mat[idx]))
				}
			}
		}
	})
	return nu, njac, ndofs
}

// assemble resamples the accumulated fields to the output grid and applies
// the optional input-displacement pre-composition.
func (e *Exponentiator) assemble(u *field.VectorField, jac, dofs *field.Mat3Field) {
	out := e.Output
	n := out.NumberOfPoints()
	same := out.Equal(u.Attr)

	if e.ComputeDisplacement {
		e.Displacement = field.NewVectorField(out)
	}
	if e.ComputeJacobian {
		e.Jacobian = field.NewMat3Field(out)
	}
	if e.ComputeDetJacobian {
		e.DetJacobian = field.NewScalarField(out)
	}
	if e.ComputeLogJacobian {
		e.LogJacobian = field.NewScalarField(out)
	}
	if e.ComputeJacobianDOFs {
		e.JacobianDOFs = field.NewMat3Field(out)
	}

	utils.ParallelFor(n, func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := out.Lattice(idx)
			wx, wy, wz := out.GridToWorld(float64(i), float64(j), float64(k))

			// pre-composition: query exp(v) at the already-displaced point
			qx, qy, qz := wx, wy, wz
			var din field.Vec3
			if e.InputDisplacement != nil {
				din = e.InputDisplacement.Vec[idx]
				qx += din.X
				qy += din.Y
				qz += din.Z
			}
			gx, gy, gz := u.Attr.WorldToGrid(qx, qy, qz)

			if e.ComputeDisplacement {
				var d field.Vec3
				if same && e.InputDisplacement == nil {
					d = u.Vec[idx]
				} else {
					d = e.sampleDisplacement(u, gx, gy, gz)
				}
				e.Displacement.Vec[idx] = din.Add(d)
			}
			if e.ComputeJacobian || e.ComputeDetJacobian || e.ComputeLogJacobian {
				var m utils.Mat3
				if same {
					m = jac.Mat[idx]
				} else {
					m = jac.SampleLinear(gx, gy, gz)
				}
				if e.ComputeJacobian {
					e.Jacobian.Mat[idx] = m
				}
				if e.ComputeDetJacobian || e.ComputeLogJacobian {
					det := m.Det()
					if e.ComputeDetJacobian {
						e.DetJacobian.Val[idx] = det
					}
					if e.ComputeLogJacobian {
						if det < 1e-12 {
							det = 1e-12
						}
						e.LogJacobian.Val[idx] = math.Log(det)
					}
				}
			}
			if dofs != nil {
				if same {
					e.JacobianDOFs.Mat[idx] = dofs.Mat[idx]
				} else {
					e.JacobianDOFs.Mat[idx] = dofs.SampleLinear(gx, gy, gz)
				}
			}
		}
	})
}

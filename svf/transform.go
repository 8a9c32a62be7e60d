// Package svf implements a diffeomorphic spatial transform parameterized
// by a stationary velocity field on a cubic B-spline control lattice. The
// transform of a point is the flow of the velocity field over a signed
// time interval; negating the interval yields the exact inverse
// parameterization.
package svf

import (
	"fmt"
	"math"

	"github.com/fieldreg/diffeo/exponential"
	"github.com/fieldreg/diffeo/field"
	"github.com/fieldreg/diffeo/integrator"
	"github.com/fieldreg/diffeo/lattice"
	"github.com/fieldreg/diffeo/utils"
)

// Transform is a free-form deformation whose displacement is the
// exponential of a B-spline velocity field. A Transform instance is owned
// by a single optimization thread at a time; the cached derivative field
// is not safe for concurrent invalidation and use.
type Transform struct {
	Lattice *lattice.Lattice

	T                 float64           // cross-sectional time interval
	TimeUnit          float64           // time unit of the integration interval
	NumberOfSteps     int               // integration steps per unit time
	MaxScaledVelocity float64           // step-size safety bound; <= 0 disables
	Method            integrator.Method // active integration method
	LieDerivative     bool              // Lie-derivative vs compositional bracket strategy
	BCHTerms          int               // BCH series truncation for updates

	// Cached dense Jacobian-w.r.t.-velocity field, valid only for the
	// interval length it was computed for. Any coefficient mutation
	// clears the key.
	jacDOFs  *field.Mat3Field
	jacDOFsT float64
}

// DefaultMaxScaledVelocity returns the default displacement safety bound
// for the given control-point spacing: 0.4 times the smallest positive
// spacing.
func DefaultMaxScaledVelocity(dx, dy, dz float64) float64 {
	ds := 0.0
	if dx > 0 && (ds == 0 || dx < ds) {
		ds = dx
	}
	if dy > 0 && (ds == 0 || dy < ds) {
		ds = dy
	}
	if dz > 0 && (ds == 0 || dz < ds) {
		ds = dz
	}
	return 0.4 * ds
}

// New creates an identity transform on the given control lattice geometry.
func New(attr field.Attributes) (*Transform, error) {
	l, err := lattice.New(attr)
	if err != nil {
		return nil, fmt.Errorf("svf: %w", err)
	}
	return &Transform{
		Lattice:           l,
		T:                 1,
		TimeUnit:          1,
		NumberOfSteps:     64,
		MaxScaledVelocity: DefaultMaxScaledVelocity(attr.DX, attr.DY, attr.DZ),
		Method:            integrator.FastSS,
		BCHTerms:          4,
	}, nil
}

// changed invalidates derived state after a velocity-coefficient mutation.
func (t *Transform) changed() {
	t.jacDOFs = nil
	t.jacDOFsT = 0
}

// NumberOfDOFs returns the number of scalar degrees of freedom.
func (t *Transform) NumberOfDOFs() int { return t.Lattice.NumberOfDOFs() }

// DOF returns the value of one scalar degree of freedom.
func (t *Transform) DOF(i int) float64 {
	v := t.Lattice.Coeff.Vec[i/3]
	switch i % 3 {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// UpdateDOFs adds delta to every scalar degree of freedom.
func (t *Transform) UpdateDOFs(delta []float64) error {
	if len(delta) != t.NumberOfDOFs() {
		return fmt.Errorf("svf: gradient length %d does not match %d DOFs", len(delta), t.NumberOfDOFs())
	}
	for i := range t.Lattice.Coeff.Vec {
		v := &t.Lattice.Coeff.Vec[i]
		v.X += delta[3*i]
		v.Y += delta[3*i+1]
		v.Z += delta[3*i+2]
	}
	t.changed()
	return nil
}

// SetVelocity replaces the velocity coefficients. The sample count must
// equal the lattice size.
func (t *Transform) SetVelocity(coeff *field.VectorField) error {
	if !coeff.Attr.Equal(t.Lattice.Attr) {
		return fmt.Errorf("svf: coefficient grid does not match lattice")
	}
	t.Lattice.Coeff = coeff.Clone()
	t.changed()
	return nil
}

// Invert inverts the transform by negating the velocity field.
func (t *Transform) Invert() {
	for i := range t.Lattice.Coeff.Vec {
		t.Lattice.Coeff.Vec[i] = t.Lattice.Coeff.Vec[i].Scale(-1)
	}
	t.changed()
}

// Subdivide refines the control lattice and halves the maximum scaled
// velocity to preserve step-size safety at the finer resolution.
func (t *Transform) Subdivide(subX, subY, subZ bool) {
	t.Lattice.Subdivide(subX, subY, subZ)
	if t.MaxScaledVelocity > 0 {
		t.MaxScaledVelocity /= 2
	}
	t.changed()
}

// UpperIntegrationLimit derives the signed integration length from the
// normalized time coordinates: (t - t0) scaled by the time unit and the
// cross-sectional interval. A zero interval makes every query a no-op.
func (t *Transform) UpperIntegrationLimit(tt, t0 float64) float64 {
	unit := t.TimeUnit
	if unit == 0 {
		unit = 1
	}
	return (tt - t0) / unit * t.T
}

// StepsForIntervalLength returns the number of fixed integration steps for
// a signed interval length.
func (t *Transform) StepsForIntervalLength(T float64) int {
	n := int(math.Ceil(math.Abs(T) * float64(t.NumberOfSteps)))
	if n < 1 {
		n = 1
	}
	return n
}

// StepLengthForIntervalLength returns the signed fixed step length for a
// signed interval length, zero for a zero interval.
func (t *Transform) StepLengthForIntervalLength(T float64) float64 {
	if T == 0 {
		return 0
	}
	return T / float64(t.StepsForIntervalLength(T))
}

// Velocity implements integrator.Flow.
func (t *Transform) Velocity(x, y, z float64) (float64, float64, float64) {
	v := t.Lattice.EvaluateWorld(x, y, z)
	return v.X, v.Y, v.Z
}

// VelocityJacobian implements integrator.Flow.
func (t *Transform) VelocityJacobian(x, y, z float64) utils.Mat3 {
	return t.Lattice.JacobianWorld(x, y, z)
}

// VelocityDOFWeight implements integrator.SupportFlow.
func (t *Transform) VelocityDOFWeight(ci, cj, ck int, x, y, z float64) float64 {
	gx, gy, gz := t.Lattice.Attr.WorldToGrid(x, y, z)
	return t.Lattice.DOFWeight(ci, cj, ck, gx, gy, gz)
}

// VelocitySupports implements integrator.SupportFlow.
func (t *Transform) VelocitySupports(x, y, z float64) []integrator.Support {
	gx, gy, gz := t.Lattice.Attr.WorldToGrid(x, y, z)
	sup := t.Lattice.SupportWeights(gx, gy, gz)
	out := make([]integrator.Support, len(sup))
	for i, s := range sup {
		out[i] = integrator.Support{Index: s.Index, Weight: s.Weight}
	}
	return out
}

// IntegrateVelocities transports a point through the velocity field over
// the signed interval length T using the configured integration method.
// Single-point queries under a scaling-and-squaring method use the Euler
// stepper.
func (t *Transform) IntegrateVelocities(x, y, z *float64, T float64) {
	dt := t.StepLengthForIntervalLength(T)
	if dt == 0 {
		return
	}
	*x, *y, *z = integrator.TransportPoint(t, t.Method, *x, *y, *z, 0, T, dt)
}

// Apply transports a world point over the normalized time interval
// [t0, tt] and returns the transformed point.
func (t *Transform) Apply(x, y, z, tt, t0 float64) (float64, float64, float64) {
	t.IntegrateVelocities(&x, &y, &z, t.UpperIntegrationLimit(tt, t0))
	return x, y, z
}

// ApplyInverse transports a world point backwards over the interval,
// which for a stationary velocity field is the exact inverse.
func (t *Transform) ApplyInverse(x, y, z, tt, t0 float64) (float64, float64, float64) {
	t.IntegrateVelocities(&x, &y, &z, -t.UpperIntegrationLimit(tt, t0))
	return x, y, z
}

// newExponentiator assembles the scaling-and-squaring engine for the
// signed interval length T with output resolution out. The fast variant
// restricts the interim computation to the control lattice; the general
// variant pre-samples the velocity densely at the output resolution.
func (t *Transform) newExponentiator(out field.Attributes, T float64) *exponential.Exponentiator {
	e := &exponential.Exponentiator{
		UpperIntegrationLimit: T,
		NumberOfSteps:         t.StepsForIntervalLength(T),
		MaxScaledVelocity:     t.MaxScaledVelocity,
		Output:                out,
	}
	if t.Method == integrator.FastSS {
		e.Velocity = t.Lattice.Coeff
		e.BSplineVelocity = true
	} else {
		dense := field.NewVectorField(out)
		utils.ParallelFor(len(dense.Vec), func(begin, end int) {
			for idx := begin; idx < end; idx++ {
				i, j, k := out.Lattice(idx)
				wx, wy, wz := out.GridToWorld(float64(i), float64(j), float64(k))
				dense.Vec[idx] = t.Lattice.EvaluateWorld(wx, wy, wz)
			}
		})
		e.Velocity = dense
	}
	return e
}

// Displacement fills d with the dense displacement field of the transform
// over the normalized interval [t0, tt]. Scaling-and-squaring methods use
// the exponentiation engine; all other methods integrate each voxel
// separately.
func (t *Transform) Displacement(d *field.VectorField, tt, t0 float64) error {
	return t.displacement(d, t.UpperIntegrationLimit(tt, t0))
}

// InverseDisplacement fills d with the dense displacement field of the
// inverse transform.
func (t *Transform) InverseDisplacement(d *field.VectorField, tt, t0 float64) error {
	return t.displacement(d, -t.UpperIntegrationLimit(tt, t0))
}

func (t *Transform) displacement(d *field.VectorField, T float64) error {
	if T == 0 {
		return nil
	}
	if t.Method.IsScalingAndSquaring() {
		e := t.newExponentiator(d.Attr, T)
		e.ComputeDisplacement = true
		e.InputDisplacement = d.Clone()
		if err := e.Run(); err != nil {
			return fmt.Errorf("svf: %w", err)
		}
		copy(d.Vec, e.Displacement.Vec)
		return nil
	}
	a := d.Attr
	utils.ParallelFor(len(d.Vec), func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := a.Lattice(idx)
			wx, wy, wz := a.GridToWorld(float64(i), float64(j), float64(k))
			din := d.Vec[idx]
			x, y, z := wx+din.X, wy+din.Y, wz+din.Z
			t.IntegrateVelocities(&x, &y, &z, T)
			d.Vec[idx] = field.Vec3{X: x - wx, Y: y - wy, Z: z - wz}
		}
	})
	return nil
}

package exponential

import (
	"math"
	"testing"

	"github.com/fieldreg/diffeo/field"
	"github.com/fieldreg/diffeo/lattice"
	"github.com/fieldreg/diffeo/utils"
)

func constantVelocity(attr field.Attributes, v field.Vec3) *field.VectorField {
	f := field.NewVectorField(attr)
	for i := range f.Vec {
		f.Vec[i] = v
	}
	return f
}

func TestRunRequiresVelocity(t *testing.T) {
	e := &Exponentiator{Output: field.NewAttributes(4, 4, 4, 1, 1, 1)}
	if err := e.Run(); err == nil {
		t.Error("missing velocity accepted")
	}
}

// exp(T*v) of a constant field is a pure translation by T*v
func TestConstantFieldTranslation(t *testing.T) {
	attr := field.NewAttributes(8, 8, 8, 2, 2, 2)
	for _, bspline := range []bool{false, true} {
		v := constantVelocity(attr, field.Vec3{X: 0.5, Y: -0.25, Z: 0.1})
		if bspline {
			lattice.ConvertToCoefficients(v)
		}
		e := &Exponentiator{
			UpperIntegrationLimit: 2,
			NumberOfSteps:         64,
			MaxScaledVelocity:     0.8,
			Velocity:              v,
			BSplineVelocity:       bspline,
			Output:                attr,
			ComputeDisplacement:   true,
			ComputeJacobian:       true,
			ComputeDetJacobian:    true,
			ComputeLogJacobian:    true,
		}
		if err := e.Run(); err != nil {
			t.Fatalf("bspline=%v: %v", bspline, err)
		}
		// check an interior voxel; a constant field has no spatial error
		d := e.Displacement.At(4, 4, 4)
		if math.Abs(d.X-1) > 1e-10 || math.Abs(d.Y+0.5) > 1e-10 || math.Abs(d.Z-0.2) > 1e-10 {
			t.Errorf("bspline=%v: displacement %v, want (1, -0.5, 0.2)", bspline, d)
		}
		j := e.Jacobian.At(4, 4, 4)
		if d := j.MaxAbsDiff(utils.Ident3()); d > 1e-10 {
			t.Errorf("bspline=%v: Jacobian differs from identity by %g", bspline, d)
		}
		if det := e.DetJacobian.At(4, 4, 4); math.Abs(det-1) > 1e-10 {
			t.Errorf("bspline=%v: determinant %g", bspline, det)
		}
		if lg := e.LogJacobian.At(4, 4, 4); math.Abs(lg) > 1e-10 {
			t.Errorf("bspline=%v: log determinant %g", bspline, lg)
		}
	}
}

// the negated field undoes the displacement (inverse consistency)
func TestForwardBackwardComposition(t *testing.T) {
	attr := field.NewAttributes(12, 12, 12, 1, 1, 1)
	v := field.NewVectorField(attr)
	for idx := range v.Vec {
		i, j, k := attr.Lattice(idx)
		x, y, z := attr.GridToWorld(float64(i), float64(j), float64(k))
		v.Vec[idx] = field.Vec3{
			X: 0.05 * math.Sin(0.5*y),
			Y: 0.05 * math.Cos(0.5*z),
			Z: 0.05 * math.Sin(0.5*x),
		}
	}
	fwd := &Exponentiator{
		UpperIntegrationLimit: 1,
		NumberOfSteps:         32,
		MaxScaledVelocity:     0.4,
		Velocity:              v,
		Output:                attr,
		ComputeDisplacement:   true,
	}
	if err := fwd.Run(); err != nil {
		t.Fatal(err)
	}
	neg := v.Clone()
	for i := range neg.Vec {
		neg.Vec[i] = neg.Vec[i].Scale(-1)
	}
	// compose exp(-v) with the forward displacement
	back := &Exponentiator{
		UpperIntegrationLimit: 1,
		NumberOfSteps:         32,
		MaxScaledVelocity:     0.4,
		Velocity:              neg,
		Output:                attr,
		InputDisplacement:     fwd.Displacement,
		ComputeDisplacement:   true,
	}
	if err := back.Run(); err != nil {
		t.Fatal(err)
	}
	maxNorm := 0.0
	for idx := 2 * attr.NX * attr.NY; idx < len(back.Displacement.Vec)-2*attr.NX*attr.NY; idx++ {
		if n := back.Displacement.Vec[idx].Norm(); n > maxNorm {
			maxNorm = n
		}
	}
	if maxNorm > 5e-3 {
		t.Errorf("round-trip residual displacement %g", maxNorm)
	}
}

// the per-DOF Jacobian of a zero field is the interval length times identity
func TestJacobianDOFsZeroField(t *testing.T) {
	attr := field.NewAttributes(6, 6, 6, 1, 1, 1)
	e := &Exponentiator{
		UpperIntegrationLimit: 3,
		NumberOfSteps:         8,
		MaxScaledVelocity:     0.4,
		Velocity:              field.NewVectorField(attr),
		Output:                attr,
		ComputeJacobianDOFs:   true,
	}
	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	want := utils.Ident3().Scale(3)
	for idx, m := range e.JacobianDOFs.Mat {
		if d := m.MaxAbsDiff(want); d > 1e-12 {
			t.Fatalf("voxel %d: differs from T*I by %g", idx, d)
		}
	}
}

// for a linear field v(x) = l*x every interpolation in the squaring loop
// is exact in the interior, so the displacement and per-DOF Jacobian have
// a closed form: a' = 2a + a^2 and d' = (2 + a) d per squaring
func TestJacobianDOFsLinearField(t *testing.T) {
	attr := field.NewAttributes(12, 12, 12, 1, 1, 1)
	const l = 0.1
	v := field.NewVectorField(attr)
	for idx := range v.Vec {
		i, j, k := attr.Lattice(idx)
		x, y, z := attr.GridToWorld(float64(i), float64(j), float64(k))
		v.Vec[idx] = field.Vec3{X: l * x, Y: l * y, Z: l * z}
	}
	e := &Exponentiator{
		UpperIntegrationLimit: 1,
		NumberOfSteps:         64,
		Velocity:              v,
		Output:                attr,
		ComputeDisplacement:   true,
		ComputeJacobianDOFs:   true,
	}
	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	a := l / 64
	d := 1.0 / 64
	for s := 0; s < 6; s++ {
		d *= 2 + a
		a = 2*a + a*a
	}
	for i := 4; i <= 7; i++ {
		for j := 4; j <= 7; j++ {
			for k := 4; k <= 7; k++ {
				idx := attr.Index(i, j, k)
				x, y, z := attr.GridToWorld(float64(i), float64(j), float64(k))
				u := e.Displacement.Vec[idx]
				if math.Abs(u.X-a*x)+math.Abs(u.Y-a*y)+math.Abs(u.Z-a*z) > 1e-5 {
					t.Fatalf("voxel (%d,%d,%d): displacement %v, want %g*x", i, j, k, u, a)
				}
				m := e.JacobianDOFs.Mat[idx]
				if diff := m.MaxAbsDiff(utils.Ident3().Scale(d)); diff > 1e-5 {
					t.Fatalf("voxel (%d,%d,%d): per-DOF Jacobian differs from %g*I by %g", i, j, k, d, diff)
				}
			}
		}
	}
}

// the per-DOF Jacobian is the derivative of the displacement with respect
// to a uniform velocity perturbation
func TestJacobianDOFsMatchesFiniteDifference(t *testing.T) {
	attr := field.NewAttributes(12, 12, 12, 1, 1, 1)
	base := field.NewVectorField(attr)
	for idx := range base.Vec {
		i, j, k := attr.Lattice(idx)
		x, y, z := attr.GridToWorld(float64(i), float64(j), float64(k))
		base.Vec[idx] = field.Vec3{
			X: 0.6 * math.Sin(0.5*y),
			Y: 0.6 * math.Cos(0.5*z),
			Z: 0.6 * math.Sin(0.5*x),
		}
	}
	run := func(v *field.VectorField) *Exponentiator {
		e := &Exponentiator{
			UpperIntegrationLimit: 1,
			NumberOfSteps:         64,
			MaxScaledVelocity:     0.4,
			Velocity:              v,
			Output:                attr,
			ComputeDisplacement:   true,
			ComputeJacobianDOFs:   true,
		}
		if err := e.Run(); err != nil {
			t.Fatal(err)
		}
		return e
	}
	const eps = 1e-3
	plus := base.Clone()
	minus := base.Clone()
	for i := range base.Vec {
		plus.Vec[i].X += eps
		minus.Vec[i].X -= eps
	}
	e0 := run(base)
	ep := run(plus)
	em := run(minus)
	maxErr := 0.0
	for i := 3; i <= 8; i++ {
		for j := 3; j <= 8; j++ {
			for k := 3; k <= 8; k++ {
				idx := attr.Index(i, j, k)
				fd := ep.Displacement.Vec[idx].Sub(em.Displacement.Vec[idx]).Scale(1 / (2 * eps))
				m := e0.JacobianDOFs.Mat[idx]
				resid := field.Vec3{X: fd.X - m.At(0, 0), Y: fd.Y - m.At(1, 0), Z: fd.Z - m.At(2, 0)}
				if n := resid.Norm(); n > maxErr {
					maxErr = n
				}
			}
		}
	}
	if maxErr > 0.08 {
		t.Errorf("per-DOF Jacobian off by %g against finite differences", maxErr)
	}
}

func TestInputDisplacementExcludesJacobianOutputs(t *testing.T) {
	attr := field.NewAttributes(5, 5, 5, 1, 1, 1)
	e := &Exponentiator{
		UpperIntegrationLimit: 1,
		NumberOfSteps:         8,
		Velocity:              field.NewVectorField(attr),
		Output:                attr,
		InputDisplacement:     field.NewVectorField(attr),
		ComputeDisplacement:   true,
		ComputeJacobianDOFs:   true,
	}
	if err := e.Run(); err == nil {
		t.Error("input displacement combined with Jacobian outputs accepted")
	}
}

func TestZeroIntervalIsIdentity(t *testing.T) {
	attr := field.NewAttributes(5, 5, 5, 1, 1, 1)
	e := &Exponentiator{
		UpperIntegrationLimit: 0,
		NumberOfSteps:         16,
		Velocity:              constantVelocity(attr, field.Vec3{X: 10}),
		Output:                attr,
		ComputeDisplacement:   true,
	}
	if err := e.Run(); err != nil {
		t.Fatal(err)
	}
	for idx, d := range e.Displacement.Vec {
		if d.Norm() != 0 {
			t.Fatalf("voxel %d displaced by %v for a zero interval", idx, d)
		}
	}
}

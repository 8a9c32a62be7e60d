package lattice

import (
	"math"
	"testing"

	"github.com/fieldreg/diffeo/field"
)

func TestNewRejectsInvalidAttributes(t *testing.T) {
	if _, err := New(field.Attributes{}); err == nil {
		t.Error("empty attributes accepted")
	}
}

func TestEvalCoeffConstantField(t *testing.T) {
	a := field.NewAttributes(6, 6, 6, 1, 1, 1)
	l, err := New(a)
	if err != nil {
		t.Fatal(err)
	}
	for i := range l.Coeff.Vec {
		l.Coeff.Vec[i] = field.Vec3{X: 1, Y: -2, Z: 3}
	}
	// constant coefficients reconstruct the constant everywhere, including
	// outside the lattice bounds
	for _, p := range [][3]float64{{2.5, 2.5, 2.5}, {0, 0, 0}, {-3, 8, 2}} {
		v := l.EvaluateGrid(p[0], p[1], p[2])
		if math.Abs(v.X-1)+math.Abs(v.Y+2)+math.Abs(v.Z-3) > 1e-13 {
			t.Errorf("EvaluateGrid(%v): got %v", p, v)
		}
	}
}

func TestJacobianOfLinearField(t *testing.T) {
	a := field.NewAttributes(9, 9, 9, 2, 2, 2)
	l, err := New(a)
	if err != nil {
		t.Fatal(err)
	}
	// v(x) = (0.1*wx, -0.2*wy, 0.05*wx + 0.3*wz); cubic B-splines reproduce
	// linear coefficients exactly in the interior
	samples := field.NewVectorField(a)
	for k := 0; k < a.NZ; k++ {
		for j := 0; j < a.NY; j++ {
			for i := 0; i < a.NX; i++ {
				wx, wy, wz := a.GridToWorld(float64(i), float64(j), float64(k))
				samples.Set(i, j, k, field.Vec3{
					X: 0.1 * wx,
					Y: -0.2 * wy,
					Z: 0.05*wx + 0.3*wz,
				})
			}
		}
	}
	l.Interpolate(samples)

	x, y, z := a.GridToWorld(4, 4, 4)
	jac := l.JacobianWorld(x, y, z)
	// mirror boundary conditions perturb the interior coefficients by a
	// geometrically decaying amount, so the match is close but not exact
	want := [9]float64{0.1, 0, 0, 0, -0.2, 0, 0.05, 0, 0.3}
	for i := range want {
		if math.Abs(jac[i]-want[i]) > 1e-3 {
			t.Errorf("Jacobian[%d]: got %g, want %g", i, jac[i], want[i])
		}
	}

	// interpolation is exact at grid nodes regardless of boundary model
	v := l.EvaluateWorld(x, y, z)
	if math.Abs(v.X-0.1*x) > 1e-8 || math.Abs(v.Y+0.2*y) > 1e-8 {
		t.Errorf("EvaluateWorld at center: got %v", v)
	}
}

func TestSupportWeightsSumToDenseEvaluation(t *testing.T) {
	a := field.NewAttributes(8, 8, 8, 1, 1, 1)
	l, err := New(a)
	if err != nil {
		t.Fatal(err)
	}
	for i := range l.Coeff.Vec {
		l.Coeff.Vec[i] = field.Vec3{X: float64(i % 13), Y: float64(i % 7), Z: float64(i % 5)}
	}
	// interior query: the 64 support weights applied to the coefficients
	// must match the dense evaluation
	gx, gy, gz := 3.3, 4.7, 2.1
	var acc field.Vec3
	total := 0.0
	for _, s := range l.SupportWeights(gx, gy, gz) {
		acc = acc.Add(l.Coeff.Vec[s.Index].Scale(s.Weight))
		total += s.Weight
	}
	want := l.EvaluateGrid(gx, gy, gz)
	if math.Abs(acc.X-want.X)+math.Abs(acc.Y-want.Y)+math.Abs(acc.Z-want.Z) > 1e-12 {
		t.Errorf("support sum %v != dense evaluation %v", acc, want)
	}
	if math.Abs(total-1) > 1e-12 {
		t.Errorf("support weights sum to %g, want 1", total)
	}
}

func TestDOFWeightMatchesSupportWeights(t *testing.T) {
	a := field.NewAttributes(8, 8, 8, 1, 1, 1)
	l, err := New(a)
	if err != nil {
		t.Fatal(err)
	}
	gx, gy, gz := 3.3, 4.7, 2.1
	for _, s := range l.SupportWeights(gx, gy, gz) {
		ci, cj, ck := a.Lattice(s.Index)
		w := l.DOFWeight(ci, cj, ck, gx, gy, gz)
		if math.Abs(w-s.Weight) > 1e-14 {
			t.Fatalf("DOFWeight(%d,%d,%d): got %g, want %g", ci, cj, ck, w, s.Weight)
		}
	}
	// a control point outside the 4x4x4 support has zero weight
	if w := l.DOFWeight(0, 0, 7, gx, gy, gz); w != 0 {
		t.Errorf("out-of-support weight: got %g", w)
	}
}

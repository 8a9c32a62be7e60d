package svf

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestLogmIdentityIsZero(t *testing.T) {
	id := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		id.Set(i, i, 1)
	}
	lg, err := logm(id)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(lg.At(i, j)) > 1e-12 {
				t.Fatalf("log(I)[%d][%d] = %g", i, j, lg.At(i, j))
			}
		}
	}
}

func TestLogmDiagonal(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{2, 0, 0, 0, 4, 0, 0, 0, 0.5})
	lg, err := logm(a)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{math.Log(2), math.Log(4), math.Log(0.5)}
	for i := 0; i < 3; i++ {
		if math.Abs(lg.At(i, i)-want[i]) > 1e-10 {
			t.Errorf("log diagonal %d: got %.12g, want %.12g", i, lg.At(i, i), want[i])
		}
		for j := 0; j < 3; j++ {
			if i != j && math.Abs(lg.At(i, j)) > 1e-10 {
				t.Errorf("off-diagonal [%d][%d]: %g", i, j, lg.At(i, j))
			}
		}
	}
}

// the logarithm of a homogeneous translation is the translation itself
func TestLogmTranslation(t *testing.T) {
	a := mat.NewDense(4, 4, []float64{
		1, 0, 0, 5,
		0, 1, 0, -2,
		0, 0, 1, 1,
		0, 0, 0, 1,
	})
	lg, err := logm(a)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(lg.At(0, 3)-5) > 1e-10 || math.Abs(lg.At(1, 3)+2) > 1e-10 || math.Abs(lg.At(2, 3)-1) > 1e-10 {
		t.Errorf("translation part: (%g, %g, %g)", lg.At(0, 3), lg.At(1, 3), lg.At(2, 3))
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(lg.At(i, j)) > 1e-10 {
				t.Errorf("linear part [%d][%d]: %g", i, j, lg.At(i, j))
			}
		}
	}
}

// log of a rotation recovers the skew generator
func TestLogmRotation(t *testing.T) {
	theta := 0.3
	c, s := math.Cos(theta), math.Sin(theta)
	a := mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
	lg, err := logm(a)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(lg.At(0, 1)+theta) > 1e-9 || math.Abs(lg.At(1, 0)-theta) > 1e-9 {
		t.Errorf("rotation generator: got %g, %g, want -+%g", lg.At(0, 1), lg.At(1, 0), theta)
	}
	if math.Abs(lg.At(0, 0)) > 1e-9 || math.Abs(lg.At(2, 2)) > 1e-9 {
		t.Errorf("diagonal not zero: %g, %g", lg.At(0, 0), lg.At(2, 2))
	}
}

func TestLogmRejectsNonSquare(t *testing.T) {
	if _, err := logm(mat.NewDense(3, 4, nil)); err == nil {
		t.Error("non-square matrix accepted")
	}
}

func TestSqrtmDiagonal(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{4, 0, 0, 9})
	s, err := sqrtm(a)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(s.At(0, 0)-2) > 1e-12 || math.Abs(s.At(1, 1)-3) > 1e-12 {
		t.Errorf("sqrt: got %g, %g", s.At(0, 0), s.At(1, 1))
	}
}

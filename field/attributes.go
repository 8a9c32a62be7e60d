package field

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Attributes describes the geometry of a regular grid: its extent in grid
// points, the spacing between points, the world coordinates of the grid
// center, and the world directions of the grid axes. Attributes are
// immutable once constructed and shared by reference with the integration
// and exponentiation subsystems for the duration of a query.
type Attributes struct {
	NX, NY, NZ int     // grid extent in points
	DX, DY, DZ float64 // spacing between points
	OX, OY, OZ float64 // world coordinates of the grid center

	// World directions of the grid axes. Must form an orthonormal basis.
	XAxis, YAxis, ZAxis [3]float64
}

// DefaultAxes returns the standard world-aligned axes.
func DefaultAxes() ([3]float64, [3]float64, [3]float64) {
	return [3]float64{1, 0, 0}, [3]float64{0, 1, 0}, [3]float64{0, 0, 1}
}

// NewAttributes creates world-aligned grid attributes centered at the origin.
func NewAttributes(nx, ny, nz int, dx, dy, dz float64) Attributes {
	xa, ya, za := DefaultAxes()
	return Attributes{
		NX: nx, NY: ny, NZ: nz,
		DX: dx, DY: dy, DZ: dz,
		XAxis: xa, YAxis: ya, ZAxis: za,
	}
}

// Validate reports an error for empty extents, non-positive spacing along a
// non-degenerate dimension, or a non-orthonormal axes triple.
func (a Attributes) Validate() error {
	if a.NX <= 0 || a.NY <= 0 || a.NZ <= 0 {
		return fmt.Errorf("invalid grid extent: %dx%dx%d", a.NX, a.NY, a.NZ)
	}
	if (a.NX > 1 && a.DX <= 0) || (a.NY > 1 && a.DY <= 0) || (a.NZ > 1 && a.DZ <= 0) {
		return fmt.Errorf("invalid grid spacing: %g x %g x %g", a.DX, a.DY, a.DZ)
	}
	axes := [3][3]float64{a.XAxis, a.YAxis, a.ZAxis}
	const tol = 1e-9
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			dot := axes[i][0]*axes[j][0] + axes[i][1]*axes[j][1] + axes[i][2]*axes[j][2]
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(dot-want) > tol {
				return fmt.Errorf("grid axes are not orthonormal: axis %d . axis %d = %g", i, j, dot)
			}
		}
	}
	return nil
}

// NumberOfPoints returns the total number of grid points.
func (a Attributes) NumberOfPoints() int { return a.NX * a.NY * a.NZ }

// Index returns the flat index of grid point (i, j, k).
func (a Attributes) Index(i, j, k int) int { return (k*a.NY+j)*a.NX + i }

// Lattice returns the grid indices of flat index idx.
func (a Attributes) Lattice(idx int) (i, j, k int) {
	i = idx % a.NX
	idx /= a.NX
	j = idx % a.NY
	k = idx / a.NY
	return
}

// Equal reports whether two grids have identical geometry.
func (a Attributes) Equal(b Attributes) bool {
	return a.NX == b.NX && a.NY == b.NY && a.NZ == b.NZ &&
		a.DX == b.DX && a.DY == b.DY && a.DZ == b.DZ &&
		a.OX == b.OX && a.OY == b.OY && a.OZ == b.OZ &&
		a.XAxis == b.XAxis && a.YAxis == b.YAxis && a.ZAxis == b.ZAxis
}

// GridToWorld maps continuous grid coordinates to world coordinates.
func (a Attributes) GridToWorld(i, j, k float64) (x, y, z float64) {
	u := (i - float64(a.NX-1)/2) * a.DX
	v := (j - float64(a.NY-1)/2) * a.DY
	w := (k - float64(a.NZ-1)/2) * a.DZ
	x = a.OX + u*a.XAxis[0] + v*a.YAxis[0] + w*a.ZAxis[0]
	y = a.OY + u*a.XAxis[1] + v*a.YAxis[1] + w*a.ZAxis[1]
	z = a.OZ + u*a.XAxis[2] + v*a.YAxis[2] + w*a.ZAxis[2]
	return
}

// WorldToGrid maps world coordinates to continuous grid coordinates.
// The axes are orthonormal, so the inverse rotation is the transpose.
func (a Attributes) WorldToGrid(x, y, z float64) (i, j, k float64) {
	x -= a.OX
	y -= a.OY
	z -= a.OZ
	u := x*a.XAxis[0] + y*a.XAxis[1] + z*a.XAxis[2]
	v := x*a.YAxis[0] + y*a.YAxis[1] + z*a.YAxis[2]
	w := x*a.ZAxis[0] + y*a.ZAxis[1] + z*a.ZAxis[2]
	i = u/a.DX + float64(a.NX-1)/2
	j = v/a.DY + float64(a.NY-1)/2
	k = w/a.DZ + float64(a.NZ-1)/2
	return
}

// GridToWorldMatrix returns the homogeneous 4x4 grid-to-world matrix.
func (a Attributes) GridToWorldMatrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	axes := [3][3]float64{a.XAxis, a.YAxis, a.ZAxis}
	d := [3]float64{a.DX, a.DY, a.DZ}
	o := [3]float64{a.OX, a.OY, a.OZ}
	n := [3]float64{float64(a.NX - 1), float64(a.NY - 1), float64(a.NZ - 1)}
	for r := 0; r < 3; r++ {
		t := o[r]
		for c := 0; c < 3; c++ {
			m.Set(r, c, axes[c][r]*d[c])
			t -= axes[c][r] * d[c] * n[c] / 2
		}
		m.Set(r, 3, t)
	}
	m.Set(3, 3, 1)
	return m
}

// WorldToGridMatrix returns the homogeneous 4x4 world-to-grid matrix.
func (a Attributes) WorldToGridMatrix() *mat.Dense {
	var inv mat.Dense
	if err := inv.Inverse(a.GridToWorldMatrix()); err != nil {
		panic(fmt.Sprintf("field: singular grid-to-world matrix: %v", err))
	}
	out := mat.NewDense(4, 4, nil)
	out.Copy(&inv)
	return out
}

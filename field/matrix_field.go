package field

import (
	"math"

	"github.com/fieldreg/diffeo/utils"
)

// Mat3Field is a field of 3x3 matrices on a regular grid, used for
// Jacobian and Jacobian-w.r.t.-velocity fields.
type Mat3Field struct {
	Attr Attributes
	Mat  []utils.Mat3 // flat, x fastest
}

// NewMat3Field allocates a zero matrix field on the given grid.
func NewMat3Field(attr Attributes) *Mat3Field {
	return &Mat3Field{Attr: attr, Mat: make([]utils.Mat3, attr.NumberOfPoints())}
}

// NewIdentityMat3Field allocates a matrix field with every sample set to
// the identity.
func NewIdentityMat3Field(attr Attributes) *Mat3Field {
	f := NewMat3Field(attr)
	id := utils.Ident3()
	for i := range f.Mat {
		f.Mat[i] = id
	}
	return f
}

// At returns the matrix at grid point (i, j, k).
func (f *Mat3Field) At(i, j, k int) utils.Mat3 { return f.Mat[f.Attr.Index(i, j, k)] }

// AtClamped returns the matrix at (i, j, k) with nearest-neighbor
// extrapolation outside the grid.
func (f *Mat3Field) AtClamped(i, j, k int) utils.Mat3 {
	if i < 0 {
		i = 0
	} else if i >= f.Attr.NX {
		i = f.Attr.NX - 1
	}
	if j < 0 {
		j = 0
	} else if j >= f.Attr.NY {
		j = f.Attr.NY - 1
	}
	if k < 0 {
		k = 0
	} else if k >= f.Attr.NZ {
		k = f.Attr.NZ - 1
	}
	return f.Mat[f.Attr.Index(i, j, k)]
}

// SampleLinear evaluates the field at continuous grid coordinates by
// component-wise trilinear interpolation with nearest-neighbor
// extrapolation.
func (f *Mat3Field) SampleLinear(x, y, z float64) utils.Mat3 {
	i := int(math.Floor(x))
	j := int(math.Floor(y))
	k := int(math.Floor(z))
	fx := x - float64(i)
	fy := y - float64(j)
	fz := z - float64(k)

	var out utils.Mat3
	for dk := 0; dk <= 1; dk++ {
		wz := 1 - fz
		if dk == 1 {
			wz = fz
		}
		if wz == 0 {
			continue
		}
		for dj := 0; dj <= 1; dj++ {
			wy := 1 - fy
			if dj == 1 {
				wy = fy
			}
			if wy == 0 {
				continue
			}
			for di := 0; di <= 1; di++ {
				wx := 1 - fx
				if di == 1 {
					wx = fx
				}
				if wx == 0 {
					continue
				}
				m := f.AtClamped(i+di, j+dj, k+dk)
				w := wx * wy * wz
				for c := range out {
					out[c] += w * m[c]
				}
			}
		}
	}
	return out
}

// SampleLinearWorld evaluates the field at world coordinates.
func (f *Mat3Field) SampleLinearWorld(x, y, z float64) utils.Mat3 {
	i, j, k := f.Attr.WorldToGrid(x, y, z)
	return f.SampleLinear(i, j, k)
}

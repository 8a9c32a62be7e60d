package field

import "math"

// Vec3 is a 3-vector sample of a velocity or displacement field.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns a+b.
func (a Vec3) Add(b Vec3) Vec3 { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }

// Sub returns a-b.
func (a Vec3) Sub(b Vec3) Vec3 { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }

// Scale returns s*v.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{s * v.X, s * v.Y, s * v.Z} }

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// VectorField is a 3-vector field sampled on a regular grid.
type VectorField struct {
	Attr Attributes
	Vec  []Vec3 // flat, x fastest
}

// NewVectorField allocates a zero field on the given grid.
func NewVectorField(attr Attributes) *VectorField {
	return &VectorField{Attr: attr, Vec: make([]Vec3, attr.NumberOfPoints())}
}

// Clone returns a deep copy of f.
func (f *VectorField) Clone() *VectorField {
	c := &VectorField{Attr: f.Attr, Vec: make([]Vec3, len(f.Vec))}
	copy(c.Vec, f.Vec)
	return c
}

// At returns the sample at grid point (i, j, k).
func (f *VectorField) At(i, j, k int) Vec3 { return f.Vec[f.Attr.Index(i, j, k)] }

// Set assigns the sample at grid point (i, j, k).
func (f *VectorField) Set(i, j, k int, v Vec3) { f.Vec[f.Attr.Index(i, j, k)] = v }

// AtClamped returns the sample at (i, j, k) with indices clamped to the
// grid bounds (nearest-neighbor extrapolation).
func (f *VectorField) AtClamped(i, j, k int) Vec3 {
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
	return f.Vec[f.Attr.Index(i, j, k)]
}

// SampleLinear evaluates the field at continuous grid coordinates by
// trilinear interpolation with nearest-neighbor extrapolation.
func (f *VectorField) SampleLinear(x, y, z float64) Vec3 {
	i := int(math.Floor(x))
	j := int(math.Floor(y))
	k := int(math.Floor(z))
	fx := x - float64(i)
	fy := y - float64(j)
	fz := z - float64(k)

	var out Vec3
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
				s := f.AtClamped(i+di, j+dj, k+dk)
				w := wx * wy * wz
				out.X += w * s.X
				out.Y += w * s.Y
				out.Z += w * s.Z
			}
		}
	}
	return out
}

// SampleLinearWorld evaluates the field at world coordinates.
func (f *VectorField) SampleLinearWorld(x, y, z float64) Vec3 {
	i, j, k := f.Attr.WorldToGrid(x, y, z)
	return f.SampleLinear(i, j, k)
}

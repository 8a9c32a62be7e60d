package lattice

import "github.com/fieldreg/diffeo/field"

// subdivideAxis applies the dyadic cubic B-spline refinement masks along
// one axis of a coefficient line: even points get (c[i-1]+6c[i]+c[i+1])/8,
// odd points get (c[i]+c[i+1])/2.
func subdivideLine(in []field.Vec3) []field.Vec3 {
	n := len(in)
	out := make([]field.Vec3, 2*n-1)
	clamp := func(i int) field.Vec3 {
		if i < 0 {
			i = 0
		} else if i >= n {
			i = n - 1
		}
		return in[i]
	}
	for i := 0; i < n; i++ {
		e := clamp(i - 1).Add(in[i].Scale(6)).Add(clamp(i + 1)).Scale(1.0 / 8.0)
		out[2*i] = e
		if i+1 < n {
			out[2*i+1] = in[i].Add(in[i+1]).Scale(0.5)
		}
	}
	return out
}

// Subdivide refines the control lattice along the requested dimensions,
// doubling the resolution (2n-1 points at half the spacing) while leaving
// the reconstructed velocity field unchanged.
func (l *Lattice) Subdivide(subX, subY, subZ bool) {
	a := l.Attr
	c := l.Coeff

	if subX && a.NX > 1 {
		na := a
		na.NX = 2*a.NX - 1
		na.DX = a.DX / 2
		nc := field.NewVectorField(na)
		for k := 0; k < a.NZ; k++ {
			for j := 0; j < a.NY; j++ {
				line := make([]field.Vec3, a.NX)
				for i := 0; i < a.NX; i++ {
					line[i] = c.At(i, j, k)
				}
				for i, v := range subdivideLine(line) {
					nc.Set(i, j, k, v)
				}
			}
		}
		a, c = na, nc
	}
	if subY && a.NY > 1 {
		na := a
		na.NY = 2*a.NY - 1
		na.DY = a.DY / 2
		nc := field.NewVectorField(na)
		for k := 0; k < a.NZ; k++ {
			for i := 0; i < a.NX; i++ {
				line := make([]field.Vec3, a.NY)
				for j := 0; j < a.NY; j++ {
					line[j] = c.At(i, j, k)
				}
				for j, v := range subdivideLine(line) {
					nc.Set(i, j, k, v)
				}
			}
		}
		a, c = na, nc
	}
	if subZ && a.NZ > 1 {
		na := a
		na.NZ = 2*a.NZ - 1
		na.DZ = a.DZ / 2
		nc := field.NewVectorField(na)
		for j := 0; j < a.NY; j++ {
			for i := 0; i < a.NX; i++ {
				line := make([]field.Vec3, a.NZ)
				for k := 0; k < a.NZ; k++ {
					line[k] = c.At(i, j, k)
				}
				for k, v := range subdivideLine(line) {
					nc.Set(i, j, k, v)
				}
			}
		}
		a, c = na, nc
	}

	l.Attr = a
	l.Coeff = c
}

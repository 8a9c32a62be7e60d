package utils

import "math"

// Mat3 is a 3x3 matrix in row-major order for per-voxel hot loops.
// Dense-field operations multiply millions of these per squaring step,
// so the representation must not allocate.
type Mat3 [9]float64

// Ident3 returns the 3x3 identity matrix.
func Ident3() Mat3 {
	return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// At returns the element in row i, column j.
func (m *Mat3) At(i, j int) float64 { return m[3*i+j] }

// Set assigns the element in row i, column j.
func (m *Mat3) Set(i, j int, v float64) { m[3*i+j] = v }

// Mul returns the matrix product a*b.
func (a Mat3) Mul(b Mat3) Mat3 {
	var c Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c[3*i+j] = a[3*i]*b[j] + a[3*i+1]*b[3+j] + a[3*i+2]*b[6+j]
		}
	}
	return c
}

// MulVec returns the matrix-vector product m*(x,y,z).
func (m Mat3) MulVec(x, y, z float64) (float64, float64, float64) {
	return m[0]*x + m[1]*y + m[2]*z,
		m[3]*x + m[4]*y + m[5]*z,
		m[6]*x + m[7]*y + m[8]*z
}

// Add returns the matrix sum a+b.
func (a Mat3) Add(b Mat3) Mat3 {
	var c Mat3
	for i := range c {
		c[i] = a[i] + b[i]
	}
	return c
}

// Scale returns s*m.
func (m Mat3) Scale(s float64) Mat3 {
	var c Mat3
	for i := range c {
		c[i] = s * m[i]
	}
	return c
}

// Det returns the determinant of m.
func (m Mat3) Det() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Transpose returns the transpose of m.
func (m Mat3) Transpose() Mat3 {
	return Mat3{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}
}

// MaxAbsDiff returns the maximum absolute element-wise difference of a and b.
func (a Mat3) MaxAbsDiff(b Mat3) float64 {
	max := 0.0
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > max {
			max = d
		}
	}
	return max
}

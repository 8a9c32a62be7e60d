package svf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// onenormDiffIdentity returns the maximum column sum of |A - I|.
func onenormDiffIdentity(a *mat.Dense) float64 {
	n, _ := a.Dims()
	max := 0.0
	for c := 0; c < n; c++ {
		sum := 0.0
		for r := 0; r < n; r++ {
			v := a.At(r, c)
			if r == c {
				v -= 1
			}
			if v < 0 {
				v = -v
			}
			sum += v
		}
		if sum > max {
			max = sum
		}
	}
	return max
}

// sqrtm computes the principal square root of a by the Denman-Beavers
// iteration. The affine matrices exponentiated by this model are close to
// the identity after scaling, so the iteration converges quickly; failure
// to converge indicates an input without a real logarithm.
func sqrtm(a *mat.Dense) (*mat.Dense, error) {
	n, _ := a.Dims()
	y := mat.DenseCopyOf(a)
	z := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		z.Set(i, i, 1)
	}
	var yInv, zInv, ny, nz mat.Dense
	for iter := 0; iter < 64; iter++ {
		if err := yInv.Inverse(y); err != nil {
			return nil, fmt.Errorf("singular iterate: %w", err)
		}
		if err := zInv.Inverse(z); err != nil {
			return nil, fmt.Errorf("singular iterate: %w", err)
		}
		ny.Add(y, &zInv)
		ny.Scale(0.5, &ny)
		nz.Add(z, &yInv)
		nz.Scale(0.5, &nz)
		diff := 0.0
		for r := 0; r < n; r++ {
			for c := 0; c < n; c++ {
				d := ny.At(r, c) - y.At(r, c)
				if d < 0 {
					d = -d
				}
				if d > diff {
					diff = d
				}
			}
		}
		y.Copy(&ny)
		z.Copy(&nz)
		if diff < 1e-14 {
			return y, nil
		}
	}
	return y, nil
}

// logm computes the principal real logarithm of a square matrix by inverse
// scaling and squaring: repeated square roots bring the matrix close to
// the identity, the Mercator series evaluates the logarithm there, and the
// result is scaled back by the number of roots taken.
func logm(a *mat.Dense) (*mat.Dense, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("svf: logm of non-square %dx%d matrix", n, c)
	}
	b := mat.DenseCopyOf(a)
	k := 0
	for onenormDiffIdentity(b) > 0.5 {
		if k > 60 {
			return nil, fmt.Errorf("svf: logm did not converge; matrix has no real logarithm")
		}
		s, err := sqrtm(b)
		if err != nil {
			return nil, fmt.Errorf("svf: logm: %w", err)
		}
		b = s
		k++
	}
	// X = B - I; log(I+X) = X - X^2/2 + X^3/3 - ...
	x := mat.NewDense(n, n, nil)
	x.Copy(b)
	for i := 0; i < n; i++ {
		x.Set(i, i, x.At(i, i)-1)
	}
	out := mat.NewDense(n, n, nil)
	term := mat.DenseCopyOf(x)
	sign := 1.0
	for p := 1; p <= 48; p++ {
		var scaled mat.Dense
		scaled.Scale(sign/float64(p), term)
		out.Add(out, &scaled)
		var next mat.Dense
		next.Mul(term, x)
		term.Copy(&next)
		sign = -sign
		// terms vanish once X^p underflows
		small := true
		for r := 0; r < n && small; r++ {
			for cc := 0; cc < n; cc++ {
				if v := term.At(r, cc); v > 1e-16 || v < -1e-16 {
					small = false
					break
				}
			}
		}
		if small {
			break
		}
	}
	out.Scale(float64(int(1)<<k), out)
	return out, nil
}

package svf

import (
	"fmt"

	"github.com/fieldreg/diffeo/field"
	"github.com/fieldreg/diffeo/lattice"
	"github.com/fieldreg/diffeo/utils"
)

// Weights of the truncated Baker-Campbell-Hausdorff series over the terms
// {v, w, [v,w], [v,[v,w]], [[v,w],w], [[v,[v,w]],w]}. The seventh term
// [[w,[v,w]],v] is analytically identical to the sixth and reuses it.
var bchWeights = [7]float64{1, 1, 1.0 / 2, 1.0 / 12, 1.0 / 12, 1.0 / 48, 1.0 / 48}

// evalStencil evaluates a coefficient field at lattice point (i, j, k)
// scaled by s, using the 3x3x3 kernel value stencil with nearest-neighbor
// clamping.
func evalStencil(c *field.VectorField, s float64, i, j, k int) field.Vec3 {
	var out field.Vec3
	for dk := -1; dk <= 1; dk++ {
		bk := lattice.LatticeWeights[dk+1]
		for dj := -1; dj <= 1; dj++ {
			bjk := lattice.LatticeWeights[dj+1] * bk
			for di := -1; di <= 1; di++ {
				w := lattice.LatticeWeights[di+1] * bjk * s
				v := c.AtClamped(i+di, j+dj, k+dk)
				out.X += w * v.X
				out.Y += w * v.Y
				out.Z += w * v.Z
			}
		}
	}
	return out
}

// jacStencil evaluates the spatial Jacobian (w.r.t. world coordinates) of
// a coefficient field at lattice point (i, j, k) scaled by s, using the
// kernel value and derivative stencils.
func (t *Transform) jacStencil(c *field.VectorField, s float64, i, j, k int) utils.Mat3 {
	var dx, dy, dz field.Vec3
	for dk := -1; dk <= 1; dk++ {
		bk := lattice.LatticeWeights[dk+1]
		bkD := lattice.LatticeWeightsD[dk+1]
		for dj := -1; dj <= 1; dj++ {
			bj := lattice.LatticeWeights[dj+1]
			bjD := lattice.LatticeWeightsD[dj+1]
			for di := -1; di <= 1; di++ {
				bi := lattice.LatticeWeights[di+1]
				biD := lattice.LatticeWeightsD[di+1]
				v := c.AtClamped(i+di, j+dj, k+dk).Scale(s)
				gx := biD * bj * bk
				gy := bi * bjD * bk
				gz := bi * bj * bkD
				dx = dx.Add(v.Scale(gx))
				dy = dy.Add(v.Scale(gy))
				dz = dz.Add(v.Scale(gz))
			}
		}
	}
	jg := utils.Mat3{
		dx.X, dy.X, dz.X,
		dx.Y, dy.Y, dz.Y,
		dx.Z, dy.Z, dz.Z,
	}
	return t.Lattice.JacobianToWorld(jg)
}

// lieBracketDerivative evaluates [v,w] = J_w·v − J_v·w at every lattice
// point from the kernel stencils, with v scaled by tau.
func (t *Transform) lieBracketDerivative(tau float64, v, w *field.VectorField) *field.VectorField {
	a := t.Lattice.Attr
	out := field.NewVectorField(a)
	utils.ParallelFor(len(out.Vec), func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := a.Lattice(idx)
			jw := t.jacStencil(w, 1, i, j, k)
			vv := evalStencil(v, tau, i, j, k)
			ux, uy, uz := jw.MulVec(vv.X, vv.Y, vv.Z)
			jv := t.jacStencil(v, tau, i, j, k)
			ww := evalStencil(w, 1, i, j, k)
			sx, sy, sz := jv.MulVec(ww.X, ww.Y, ww.Z)
			out.Vec[idx] = field.Vec3{X: ux - sx, Y: uy - sy, Z: uz - sz}
		}
	})
	return out
}

// lieBracketComposition evaluates [v,w] = J_w·v − J_v·w at every lattice
// point from the difference of the two field compositions
// w(x + tau*v(x)) − tau*v(x + w(x)) + tau*v(x) − w(x), sampling the
// coefficient fields with cubic B-splines and nearest-neighbor
// extrapolation.
func (t *Transform) lieBracketComposition(tau float64, v, w *field.VectorField) *field.VectorField {
	a := t.Lattice.Attr
	out := field.NewVectorField(a)
	utils.ParallelFor(len(out.Vec), func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := a.Lattice(idx)
			wx, wy, wz := a.GridToWorld(float64(i), float64(j), float64(k))
			vx := lattice.EvalCoeff(v, float64(i), float64(j), float64(k)).Scale(tau)
			wxv := lattice.EvalCoeff(w, float64(i), float64(j), float64(k))

			gi, gj, gk := a.WorldToGrid(wx+vx.X, wy+vx.Y, wz+vx.Z)
			wAtV := lattice.EvalCoeff(w, gi, gj, gk)
			gi, gj, gk = a.WorldToGrid(wx+wxv.X, wy+wxv.Y, wz+wxv.Z)
			vAtW := lattice.EvalCoeff(v, gi, gj, gk).Scale(tau)

			out.Vec[idx] = wAtV.Sub(vAtW).Add(vx).Sub(wxv)
		}
	})
	return out
}

// lieBracket computes [tau*v, w] in sample-value space using the
// configured bracket strategy and reconverts the result to B-spline
// coefficients so it can feed the next bracket.
func (t *Transform) lieBracket(tau float64, v, w *field.VectorField) *field.VectorField {
	var lb *field.VectorField
	if t.LieDerivative {
		lb = t.lieBracketDerivative(tau, v, w)
	} else {
		lb = t.lieBracketComposition(tau, v, w)
	}
	lattice.ConvertToCoefficients(lb)
	return lb
}

// EvaluateBCHFormula approximates the velocity field u of the composite
// transform exp(u) ≈ exp(tau*v) ∘ exp(w) by the truncated BCH series with
// nterms terms. When minusV is set the v term is dropped from the sum,
// which yields the velocity of exp(w) ∘ exp(tau*v)⁻¹ relative to v. The
// inputs and result are B-spline coefficient fields on the control
// lattice. A term count outside 1..7 is a configuration bug and
// terminates the process.
func (t *Transform) EvaluateBCHFormula(nterms int, tau float64, v, w *field.VectorField, minusV bool) *field.VectorField {
	if nterms < 1 || nterms > 7 {
		panic(fmt.Sprintf("svf: EvaluateBCHFormula: invalid number of terms %d", nterms))
	}
	a := t.Lattice.Attr

	var l1, l2, l3, l4 *field.VectorField
	if nterms >= 3 {
		l1 = t.lieBracket(tau, v, w) // [v, w]
		if nterms >= 4 {
			l2 = t.lieBracket(tau, v, l1) // [v, [v, w]]
			if nterms >= 5 {
				l3 = t.lieBracket(1, l1, w) // [[v, w], w]
				if nterms >= 6 {
					l4 = t.lieBracket(1, l2, w) // [[v, [v, w]], w]
				}
			}
		}
	}

	u := field.NewVectorField(a)
	terms := []*field.VectorField{v, w, l1, l2, l3, l4, l4}
	for i := 0; i < nterms && i < len(terms); i++ {
		src := terms[i]
		wgt := bchWeights[i]
		if i == 0 {
			if minusV {
				continue
			}
			// the v term enters scaled by tau
			wgt = tau
		}
		for idx := range u.Vec {
			u.Vec[idx] = u.Vec[idx].Add(src.Vec[idx].Scale(wgt))
		}
	}
	return u
}

// CombineWith updates the velocity coefficients so that the transform
// becomes the composition of itself with other, using a 4-term BCH
// approximation.
func (t *Transform) CombineWith(other *Transform) error {
	if !other.Lattice.Attr.Equal(t.Lattice.Attr) {
		return fmt.Errorf("svf: cannot combine transforms on different lattices")
	}
	t.Lattice.Coeff = t.EvaluateBCHFormula(4, 1, t.Lattice.Coeff, other.Lattice.Coeff, false)
	t.changed()
	return nil
}

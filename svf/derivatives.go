package svf

import (
	"fmt"
	"sync"

	"github.com/fieldreg/diffeo/field"
	"github.com/fieldreg/diffeo/integrator"
	"github.com/fieldreg/diffeo/utils"
)

// LocalJacobian returns the spatial Jacobian of the transform at a world
// point over the normalized interval [t0, tt], by transporting the
// identity matrix along the flow.
func (t *Transform) LocalJacobian(x, y, z, tt, t0 float64) utils.Mat3 {
	T := t.UpperIntegrationLimit(tt, t0)
	dt := t.StepLengthForIntervalLength(T)
	if dt == 0 {
		return utils.Ident3()
	}
	jac, _, _, _ := integrator.TransportJacobian(t, t.Method, utils.Ident3(), x, y, z, 0, T, dt)
	return jac
}

// JacobianDOF returns the 3x3 Jacobian of the transformed point with
// respect to the coefficient vector of the control point with flat index
// cp, transported along the flow through the same stage sequence as the
// point itself.
func (t *Transform) JacobianDOF(cp int, x, y, z, tt, t0 float64) utils.Mat3 {
	T := t.UpperIntegrationLimit(tt, t0)
	dt := t.StepLengthForIntervalLength(T)
	if dt == 0 {
		return utils.Mat3{}
	}
	ci, cj, ck := t.Lattice.Attr.Lattice(cp)
	if t.Method.IsScalingAndSquaring() {
		d, err := t.jacobianDOFsField(T)
		if err != nil {
			panic(fmt.Sprintf("svf: %v", err))
		}
		gx, gy, gz := t.Lattice.Attr.WorldToGrid(x, y, z)
		w := t.Lattice.DOFWeight(ci, cj, ck, gx, gy, gz)
		return d.SampleLinearWorld(x, y, z).Scale(w)
	}
	var zero utils.Mat3
	jac, _, _, _ := integrator.TransportJacobianDOF(t, t.Method, zero, ci, cj, ck, x, y, z, 0, T, dt)
	return jac
}

// JacobianDOFs returns the Jacobians of the transformed point with respect
// to every control point whose support the trajectory crosses, indexed by
// flat control-point index.
func (t *Transform) JacobianDOFs(x, y, z, tt, t0 float64) map[int]utils.Mat3 {
	T := t.UpperIntegrationLimit(tt, t0)
	dt := t.StepLengthForIntervalLength(T)
	if dt == 0 {
		return map[int]utils.Mat3{}
	}
	if t.Method.IsScalingAndSquaring() {
		d, err := t.jacobianDOFsField(T)
		if err != nil {
			panic(fmt.Sprintf("svf: %v", err))
		}
		dv := d.SampleLinearWorld(x, y, z)
		gx, gy, gz := t.Lattice.Attr.WorldToGrid(x, y, z)
		sup := t.Lattice.SupportWeights(gx, gy, gz)
		out := make(map[int]utils.Mat3, len(sup))
		for _, s := range sup {
			out[s.Index] = dv.Scale(s.Weight)
		}
		return out
	}
	jac, _, _, _ := integrator.TransportJacobianDOFs(t, t.Method, x, y, z, 0, T, dt)
	return jac
}

// jacobianDOFsField returns the dense field of the Jacobian of the flow
// with respect to the velocity, computed by the exponentiation engine and
// cached for the interval length it was computed for. The fast variant
// uses the control lattice as the field resolution; the general variant
// refines the lattice up to 256 points per side.
func (t *Transform) jacobianDOFsField(T float64) (*field.Mat3Field, error) {
	if t.jacDOFs != nil && t.jacDOFsT == T {
		return t.jacDOFs, nil
	}
	out := t.Lattice.Attr
	if t.Method == integrator.SS {
		out = refineAttributes(out, 256)
	}
	e := t.newExponentiator(out, T)
	e.ComputeJacobianDOFs = true
	if err := e.Run(); err != nil {
		return nil, err
	}
	t.jacDOFs = e.JacobianDOFs
	t.jacDOFsT = T
	return t.jacDOFs, nil
}

// refineAttributes doubles the grid density along each non-degenerate
// dimension until the next doubling would exceed maxPoints per side.
func refineAttributes(a field.Attributes, maxPoints int) field.Attributes {
	out := a
	refine := func(n *int, d *float64) {
		for *n > 1 && 2*(*n)-1 <= maxPoints {
			*n = 2*(*n) - 1
			*d /= 2
		}
	}
	refine(&out.NX, &out.DX)
	refine(&out.NY, &out.DY)
	refine(&out.NZ, &out.DZ)
	return out
}

// ParametricGradient folds a dense non-parametric energy gradient g into
// the gradient with respect to the velocity coefficients, scaled by w, and
// accumulates it into out. The normalized interval [t0, tt] selects the
// flow the gradient refers to.
//
// With more than one BCH term the fold treats the gradient as a velocity
// perturbation and corrects it by the truncated BCH series. The
// scaling-and-squaring methods apply the transpose of the cached
// Jacobian-w.r.t.-velocity field before the B-spline fold. The Runge-Kutta
// methods transport the exact sparse per-control-point Jacobians along
// each voxel trajectory.
func (t *Transform) ParametricGradient(g *field.VectorField, out []float64, tt, t0, w float64) error {
	if len(out) != t.NumberOfDOFs() {
		return fmt.Errorf("svf: gradient length %d does not match %d DOFs", len(out), t.NumberOfDOFs())
	}
	T := t.UpperIntegrationLimit(tt, t0)
	if T == 0 {
		return nil
	}

	if t.BCHTerms > 1 {
		// fold the dense gradient into coefficient space through the
		// transpose of the B-spline interpolation before the BCH update
		fold := make([]float64, len(out))
		t.parametricGradientBase(g, fold, 1)
		gc := field.NewVectorField(t.Lattice.Attr)
		for i := range gc.Vec {
			gc.Vec[i] = field.Vec3{X: fold[3*i], Y: fold[3*i+1], Z: fold[3*i+2]}
		}
		u := t.EvaluateBCHFormula(t.BCHTerms, T, t.Lattice.Coeff, gc, true)
		s := w / T
		for i, v := range u.Vec {
			out[3*i] += s * v.X
			out[3*i+1] += s * v.Y
			out[3*i+2] += s * v.Z
		}
		return nil
	}

	if t.Method.IsScalingAndSquaring() {
		d, err := t.jacobianDOFsField(T)
		if err != nil {
			return fmt.Errorf("svf: %w", err)
		}
		h := field.NewVectorField(g.Attr)
		a := g.Attr
		utils.ParallelFor(len(g.Vec), func(begin, end int) {
			for idx := begin; idx < end; idx++ {
				i, j, k := a.Lattice(idx)
				x, y, z := a.GridToWorld(float64(i), float64(j), float64(k))
				dv := d.SampleLinearWorld(x, y, z).Transpose()
				gx, gy, gz := dv.MulVec(g.Vec[idx].X, g.Vec[idx].Y, g.Vec[idx].Z)
				h.Vec[idx] = field.Vec3{X: gx, Y: gy, Z: gz}
			}
		})
		t.parametricGradientBase(h, out, w)
		return nil
	}

	dt := t.StepLengthForIntervalLength(T)
	a := g.Attr
	var mu sync.Mutex
	utils.ParallelFor(len(g.Vec), func(begin, end int) {
		local := make([]float64, len(out))
		for idx := begin; idx < end; idx++ {
			gv := g.Vec[idx]
			if gv.X == 0 && gv.Y == 0 && gv.Z == 0 {
				continue
			}
			i, j, k := a.Lattice(idx)
			x, y, z := a.GridToWorld(float64(i), float64(j), float64(k))
			jac, _, _, _ := integrator.TransportJacobianDOFs(t, t.Method, x, y, z, 0, T, dt)
			for p, dp := range jac {
				px, py, pz := dp.Transpose().MulVec(gv.X, gv.Y, gv.Z)
				local[3*p] += w * px
				local[3*p+1] += w * py
				local[3*p+2] += w * pz
			}
		}
		mu.Lock()
		for i, v := range local {
			if v != 0 {
				out[i] += v
			}
		}
		mu.Unlock()
	})
	return nil
}

// ParametricGradientAtPoints accumulates the coefficient gradient from
// per-point energy gradients at scattered world points. Scaling-and-squaring
// methods sample the cached Jacobian-w.r.t.-velocity field at each point;
// the Runge-Kutta methods transport the sparse per-control-point Jacobians.
func (t *Transform) ParametricGradientAtPoints(pts, grads []field.Vec3, out []float64, tt, t0, w float64) error {
	if len(pts) != len(grads) {
		return fmt.Errorf("svf: %d points but %d gradients", len(pts), len(grads))
	}
	if len(out) != t.NumberOfDOFs() {
		return fmt.Errorf("svf: gradient length %d does not match %d DOFs", len(out), t.NumberOfDOFs())
	}
	T := t.UpperIntegrationLimit(tt, t0)
	if T == 0 {
		return nil
	}
	if t.Method.IsScalingAndSquaring() {
		d, err := t.jacobianDOFsField(T)
		if err != nil {
			return fmt.Errorf("svf: %w", err)
		}
		var mu sync.Mutex
		utils.ParallelFor(len(pts), func(begin, end int) {
			local := make([]float64, len(out))
			for idx := begin; idx < end; idx++ {
				gv := grads[idx]
				if gv.X == 0 && gv.Y == 0 && gv.Z == 0 {
					continue
				}
				p := pts[idx]
				dv := d.SampleLinearWorld(p.X, p.Y, p.Z).Transpose()
				hx, hy, hz := dv.MulVec(gv.X, gv.Y, gv.Z)
				gx, gy, gz := t.Lattice.Attr.WorldToGrid(p.X, p.Y, p.Z)
				for _, s := range t.Lattice.SupportWeights(gx, gy, gz) {
					local[3*s.Index] += w * s.Weight * hx
					local[3*s.Index+1] += w * s.Weight * hy
					local[3*s.Index+2] += w * s.Weight * hz
				}
			}
			mu.Lock()
			for i, v := range local {
				if v != 0 {
					out[i] += v
				}
			}
			mu.Unlock()
		})
		return nil
	}
	dt := t.StepLengthForIntervalLength(T)
	var mu sync.Mutex
	utils.ParallelFor(len(pts), func(begin, end int) {
		local := make([]float64, len(out))
		for idx := begin; idx < end; idx++ {
			gv := grads[idx]
			if gv.X == 0 && gv.Y == 0 && gv.Z == 0 {
				continue
			}
			p := pts[idx]
			jac, _, _, _ := integrator.TransportJacobianDOFs(t, t.Method, p.X, p.Y, p.Z, 0, T, dt)
			for cp, dp := range jac {
				px, py, pz := dp.Transpose().MulVec(gv.X, gv.Y, gv.Z)
				local[3*cp] += w * px
				local[3*cp+1] += w * py
				local[3*cp+2] += w * pz
			}
		}
		mu.Lock()
		for i, v := range local {
			if v != 0 {
				out[i] += v
			}
		}
		mu.Unlock()
	})
	return nil
}

// parametricGradientBase scatters a dense gradient field into the
// coefficient gradient through the transpose of the B-spline
// interpolation.
func (t *Transform) parametricGradientBase(g *field.VectorField, out []float64, w float64) {
	a := g.Attr
	var mu sync.Mutex
	utils.ParallelFor(len(g.Vec), func(begin, end int) {
		local := make([]float64, len(out))
		for idx := begin; idx < end; idx++ {
			gv := g.Vec[idx]
			if gv.X == 0 && gv.Y == 0 && gv.Z == 0 {
				continue
			}
			i, j, k := a.Lattice(idx)
			x, y, z := a.GridToWorld(float64(i), float64(j), float64(k))
			gx, gy, gz := t.Lattice.Attr.WorldToGrid(x, y, z)
			for _, s := range t.Lattice.SupportWeights(gx, gy, gz) {
				local[3*s.Index] += w * s.Weight * gv.X
				local[3*s.Index+1] += w * s.Weight * gv.Y
				local[3*s.Index+2] += w * s.Weight * gv.Z
			}
		}
		mu.Lock()
		for i, v := range local {
			if v != 0 {
				out[i] += v
			}
		}
		mu.Unlock()
	})
}

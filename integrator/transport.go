package integrator

import (
	"math"

	"github.com/fieldreg/diffeo/utils"
)

// RKTolerance is the local error tolerance of the embedded schemes with
// automatic step-length control.
const RKTolerance = 1e-3

// Flow provides velocity evaluations of a stationary field in world
// coordinates. Implementations evaluate through the lattice's B-spline
// interpolation with nearest-neighbor extrapolation outside the bounds.
type Flow interface {
	// Velocity returns the velocity at a world point.
	Velocity(x, y, z float64) (vx, vy, vz float64)
	// VelocityJacobian returns the spatial Jacobian of the velocity with
	// respect to world coordinates at a world point.
	VelocityJacobian(x, y, z float64) utils.Mat3
}

// SupportFlow extends Flow with the derivative of the velocity with
// respect to control-point coefficients. The derivative of the velocity
// w.r.t. one coefficient vector is its scalar B-spline weight times the
// identity.
type SupportFlow interface {
	Flow
	// VelocityDOFWeight returns the B-spline weight of control point
	// (ci, cj, ck) at a world point.
	VelocityDOFWeight(ci, cj, ck int, x, y, z float64) float64
	// VelocitySupports returns the flat indices and weights of all control
	// points supporting a world point.
	VelocitySupports(x, y, z float64) []Support
}

// Support is one control point's B-spline weight at a query point.
type Support struct {
	Index  int
	Weight float64
}

// state carries the quantities transported alongside the point. The
// Jacobian, per-DOF Jacobian, and sparse per-parameter Jacobians advance
// through the same stage sequence as the point so that point and
// derivative integration remain consistent.
type state struct {
	x, y, z float64
	jac     *utils.Mat3
	dof     *utils.Mat3
	sparse  map[int]utils.Mat3
}

// dofWeightFunc returns dv/dp weight(s) at a stage point; nil entries of
// the pair disable the corresponding propagation.
type dofEval struct {
	flow       SupportFlow
	ci, cj, ck int
}

// step performs one explicit Runge-Kutta step of size h and returns the
// updated state and the embedded point error estimate (zero for fixed-step
// tableaus).
func step(f Flow, tab *Tableau, s state, de *dofEval, h float64) (state, float64) {
	n := tab.Stages()
	kx := make([]float64, n)
	ky := make([]float64, n)
	kz := make([]float64, n)
	var kJ, kD []utils.Mat3
	var kS []map[int]utils.Mat3
	if s.jac != nil {
		kJ = make([]utils.Mat3, n)
	}
	if s.dof != nil {
		kD = make([]utils.Mat3, n)
	}
	if s.sparse != nil {
		kS = make([]map[int]utils.Mat3, n)
	}

	for i := 0; i < n; i++ {
		xi, yi, zi := s.x, s.y, s.z
		for j := 0; j < i; j++ {
			a := tab.A[i][j]
			if a == 0 {
				continue
			}
			xi += h * a * kx[j]
			yi += h * a * ky[j]
			zi += h * a * kz[j]
		}
		kx[i], ky[i], kz[i] = f.Velocity(xi, yi, zi)

		if s.jac == nil && s.dof == nil && s.sparse == nil {
			continue
		}
		jv := f.VelocityJacobian(xi, yi, zi)

		if s.jac != nil {
			ji := *s.jac
			for j := 0; j < i; j++ {
				if a := tab.A[i][j]; a != 0 {
					ji = ji.Add(kJ[j].Scale(h * a))
				}
			}
			kJ[i] = jv.Mul(ji)
		}
		if s.dof != nil {
			di := *s.dof
			for j := 0; j < i; j++ {
				if a := tab.A[i][j]; a != 0 {
					di = di.Add(kD[j].Scale(h * a))
				}
			}
			w := de.flow.VelocityDOFWeight(de.ci, de.cj, de.ck, xi, yi, zi)
			kD[i] = jv.Mul(di).Add(utils.Ident3().Scale(w))
		}
		if s.sparse != nil {
			// union of control points already tracked and those supporting
			// the stage point
			sup := de.flow.VelocitySupports(xi, yi, zi)
			ks := make(map[int]utils.Mat3, len(s.sparse)+len(sup))
			weights := make(map[int]float64, len(sup))
			for _, sp := range sup {
				weights[sp.Index] = sp.Weight
			}
			stageVal := func(p int) utils.Mat3 {
				d := s.sparse[p]
				for j := 0; j < i; j++ {
					if a := tab.A[i][j]; a != 0 {
						d = d.Add(kS[j][p].Scale(h * a))
					}
				}
				return d
			}
			for p := range s.sparse {
				kp := jv.Mul(stageVal(p))
				if w, ok := weights[p]; ok {
					kp = kp.Add(utils.Ident3().Scale(w))
				}
				ks[p] = kp
			}
			for p, w := range weights {
				if _, ok := ks[p]; ok {
					continue
				}
				kp := jv.Mul(stageVal(p)).Add(utils.Ident3().Scale(w))
				ks[p] = kp
			}
			kS[i] = ks
		}
	}

	out := s
	if s.jac != nil {
		j := *s.jac
		out.jac = &j
	}
	if s.dof != nil {
		d := *s.dof
		out.dof = &d
	}
	if s.sparse != nil {
		cp := make(map[int]utils.Mat3, len(s.sparse))
		for p, m := range s.sparse {
			cp[p] = m
		}
		out.sparse = cp
	}
	var ex, ey, ez float64
	for i := 0; i < n; i++ {
		b := tab.B[i]
		out.x += h * b * kx[i]
		out.y += h * b * ky[i]
		out.z += h * b * kz[i]
		if tab.BErr != nil {
			d := b - tab.BErr[i]
			ex += h * d * kx[i]
			ey += h * d * ky[i]
			ez += h * d * kz[i]
		}
		if out.jac != nil && b != 0 {
			*out.jac = out.jac.Add(kJ[i].Scale(h * b))
		}
		if out.dof != nil && b != 0 {
			*out.dof = out.dof.Add(kD[i].Scale(h * b))
		}
		if out.sparse != nil && b != 0 {
			for p, kp := range kS[i] {
				out.sparse[p] = out.sparse[p].Add(kp.Scale(h * b))
			}
		}
	}
	return out, math.Sqrt(ex*ex + ey*ey + ez*ez)
}

// march integrates the state from t0 to T. Fixed-step tableaus take steps
// of length dt (clamped to land exactly on T). Embedded tableaus control
// the local error against RKTolerance within the step bounds
// [0.5*dt, 2*dt] and are guaranteed to terminate: a step at the minimum
// bound is always accepted.
func march(f Flow, tab *Tableau, s state, de *dofEval, t0, T, dt float64) state {
	if T == t0 || dt == 0 {
		return s
	}
	adaptive := tab.BErr != nil
	minDt, maxDt := 0.5*math.Abs(dt), 2*math.Abs(dt)
	dir := 1.0
	if T < t0 {
		dir = -1.0
	}
	h := math.Abs(dt)
	t := t0
	for dir*(T-t) > 1e-12 {
		if h > dir*(T-t) {
			h = dir * (T - t)
		}
		next, errEst := step(f, tab, s, de, dir*h)
		if adaptive && errEst > RKTolerance && h > minDt {
			h = math.Max(0.5*h, minDt)
			continue
		}
		s = next
		t += dir * h
		if adaptive && errEst < 0.25*RKTolerance && h < maxDt {
			h = math.Min(2*h, maxDt)
		}
	}
	return s
}

// TransportPoint transports a world point through the velocity field over
// the signed interval [t0, T] with step length dt. A zero-length interval
// is a no-op.
func TransportPoint(f Flow, m Method, x, y, z, t0, T, dt float64) (float64, float64, float64) {
	s := march(f, tableauFor(m), state{x: x, y: y, z: z}, nil, t0, T, dt)
	return s.x, s.y, s.z
}

// TransportJacobian transports a point together with the 3x3 spatial
// Jacobian of the transform, returning the final point and Jacobian.
func TransportJacobian(f Flow, m Method, jac utils.Mat3, x, y, z, t0, T, dt float64) (utils.Mat3, float64, float64, float64) {
	s := march(f, tableauFor(m), state{x: x, y: y, z: z, jac: &jac}, nil, t0, T, dt)
	return *s.jac, s.x, s.y, s.z
}

// TransportJacobianDOF transports a point together with the 3x3 Jacobian
// of the transform with respect to the coefficient vector of control point
// (ci, cj, ck).
func TransportJacobianDOF(f SupportFlow, m Method, jac utils.Mat3, ci, cj, ck int, x, y, z, t0, T, dt float64) (utils.Mat3, float64, float64, float64) {
	de := &dofEval{flow: f, ci: ci, cj: cj, ck: ck}
	s := march(f, tableauFor(m), state{x: x, y: y, z: z, dof: &jac}, de, t0, T, dt)
	return *s.dof, s.x, s.y, s.z
}

// TransportJacobianDOFs transports a point together with the sparse set of
// per-control-point Jacobians, indexed by flat control-point index. Only
// control points whose B-spline support the trajectory crosses appear in
// the result.
func TransportJacobianDOFs(f SupportFlow, m Method, x, y, z, t0, T, dt float64) (map[int]utils.Mat3, float64, float64, float64) {
	de := &dofEval{flow: f}
	s := march(f, tableauFor(m), state{x: x, y: y, z: z, sparse: map[int]utils.Mat3{}}, de, t0, T, dt)
	return s.sparse, s.x, s.y, s.z
}

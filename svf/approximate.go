package svf

import (
	"fmt"
	"math"

	"github.com/fieldreg/diffeo/exponential"
	"github.com/fieldreg/diffeo/field"
	"github.com/fieldreg/diffeo/lattice"
	"github.com/fieldreg/diffeo/utils"
	"gonum.org/v1/gonum/mat"
)

// FitTarget selects the transformation a velocity field is fitted to.
// Exactly one of the fields must be set.
type FitTarget struct {
	// Affine is a homogeneous 4x4 world transformation matrix.
	Affine *mat.Dense

	// Model is another velocity-field transform whose flow is resampled
	// onto this lattice.
	Model *Transform

	// Displacement is a dense target displacement field.
	Displacement *field.VectorField
}

// Approximate fits the velocity coefficients to the target and returns the
// root-mean-square residual of the fitted displacement at the control
// points. The affine and same-model fits are direct and ignore niter; the
// displacement fit refines the field iteratively until the residual drops
// below maxError or niter iterations are spent. A fit that stalls above
// maxError is not an error; the achieved residual is returned.
func (t *Transform) Approximate(target FitTarget, niter int, maxError float64) (float64, error) {
	switch {
	case target.Affine != nil:
		return t.approximateAffine(target.Affine)
	case target.Model != nil:
		return t.approximateModel(target.Model)
	case target.Displacement != nil:
		return t.approximateDisplacement(target.Displacement, niter, maxError)
	}
	return 0, fmt.Errorf("svf: no fit target given")
}

// approximateAffine sets the velocity to the matrix logarithm of the
// affine transformation, v(x) = L*x + l with [L|l] the upper 3x4 block of
// log(A)/T, which exponentiates back to the affine map exactly up to the
// B-spline representation error.
func (t *Transform) approximateAffine(a *mat.Dense) (float64, error) {
	r, c := a.Dims()
	if r != 4 || c != 4 {
		return 0, fmt.Errorf("svf: affine target must be 4x4, got %dx%d", r, c)
	}
	lg, err := logm(a)
	if err != nil {
		return 0, err
	}
	if t.T == 0 {
		return 0, fmt.Errorf("svf: zero cross-sectional interval")
	}
	lg.Scale(1/t.T, lg)

	attr := t.Lattice.Attr
	v := field.NewVectorField(attr)
	utils.ParallelFor(len(v.Vec), func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := attr.Lattice(idx)
			x, y, z := attr.GridToWorld(float64(i), float64(j), float64(k))
			v.Vec[idx] = field.Vec3{
				X: lg.At(0, 0)*x + lg.At(0, 1)*y + lg.At(0, 2)*z + lg.At(0, 3),
				Y: lg.At(1, 0)*x + lg.At(1, 1)*y + lg.At(1, 2)*z + lg.At(1, 3),
				Z: lg.At(2, 0)*x + lg.At(2, 1)*y + lg.At(2, 2)*z + lg.At(2, 3),
			}
		}
	})
	lattice.ConvertToCoefficients(v)
	t.Lattice.Coeff = v
	t.changed()
	return t.affineResidual(a), nil
}

// affineResidual measures the RMS distance between the fitted flow and the
// affine map at the control points.
func (t *Transform) affineResidual(a *mat.Dense) float64 {
	attr := t.Lattice.Attr
	n := attr.NumberOfPoints()
	sq := make([]float64, n)
	utils.ParallelFor(n, func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := attr.Lattice(idx)
			x, y, z := attr.GridToWorld(float64(i), float64(j), float64(k))
			tx := a.At(0, 0)*x + a.At(0, 1)*y + a.At(0, 2)*z + a.At(0, 3)
			ty := a.At(1, 0)*x + a.At(1, 1)*y + a.At(1, 2)*z + a.At(1, 3)
			tz := a.At(2, 0)*x + a.At(2, 1)*y + a.At(2, 2)*z + a.At(2, 3)
			fx, fy, fz := t.Apply(x, y, z, 1, 0)
			sq[idx] = (fx-tx)*(fx-tx) + (fy-ty)*(fy-ty) + (fz-tz)*(fz-tz)
		}
	})
	sum := 0.0
	for _, s := range sq {
		sum += s
	}
	return math.Sqrt(sum / float64(n))
}

// approximateModel resamples the velocity of another transform of the same
// kind onto this control lattice, rescaled to this cross-sectional
// interval so the flows over T agree.
func (t *Transform) approximateModel(other *Transform) (float64, error) {
	if t.T == 0 || other.T == 0 {
		return 0, fmt.Errorf("svf: zero cross-sectional interval")
	}
	s := other.T / t.T
	attr := t.Lattice.Attr
	v := field.NewVectorField(attr)
	utils.ParallelFor(len(v.Vec), func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := attr.Lattice(idx)
			x, y, z := attr.GridToWorld(float64(i), float64(j), float64(k))
			v.Vec[idx] = other.Lattice.EvaluateWorld(x, y, z).Scale(s)
		}
	})
	lattice.ConvertToCoefficients(v)
	t.Lattice.Coeff = v
	t.changed()

	sum := 0.0
	for idx := range v.Vec {
		i, j, k := attr.Lattice(idx)
		x, y, z := attr.GridToWorld(float64(i), float64(j), float64(k))
		d := t.Lattice.EvaluateWorld(x, y, z).Scale(t.T).Sub(other.Lattice.EvaluateWorld(x, y, z).Scale(other.T))
		sum += d.X*d.X + d.Y*d.Y + d.Z*d.Z
	}
	return math.Sqrt(sum / float64(len(v.Vec))), nil
}

// approximateDisplacement fits the velocity so that exp(T*v) matches the
// target displacement field. The initial guess treats the displacements as
// small-time velocities; each refinement composes the inverse flow with
// the target to obtain the residual displacement and folds the residual
// velocity into v with the BCH update.
func (t *Transform) approximateDisplacement(d *field.VectorField, niter int, maxError float64) (float64, error) {
	if err := d.Attr.Validate(); err != nil {
		return 0, fmt.Errorf("svf: invalid displacement grid: %w", err)
	}
	if t.T == 0 {
		return 0, fmt.Errorf("svf: zero cross-sectional interval")
	}
	if niter < 1 {
		niter = 1
	}
	// initial guess: v = d/T sampled at the control points
	v := t.velocityFromDisplacement(d, 1/t.T)
	lattice.ConvertToCoefficients(v)
	t.Lattice.Coeff = v
	t.changed()

	rms := math.Inf(1)
	for iter := 0; iter < niter; iter++ {
		res, err := t.residualDisplacement(d)
		if err != nil {
			return 0, err
		}
		r := displacementRMS(res)
		if r >= rms {
			break
		}
		rms = r
		if rms <= maxError {
			break
		}
		dv := t.velocityFromDisplacement(res, 1/t.T)
		lattice.ConvertToCoefficients(dv)
		t.Lattice.Coeff = t.EvaluateBCHFormula(t.BCHTerms, 1, t.Lattice.Coeff, dv, false)
		t.changed()
	}
	if math.IsInf(rms, 1) {
		res, err := t.residualDisplacement(d)
		if err != nil {
			return 0, err
		}
		rms = displacementRMS(res)
	}
	return rms, nil
}

// velocityFromDisplacement samples a dense displacement field at the
// control-point world positions, scaled by s.
func (t *Transform) velocityFromDisplacement(d *field.VectorField, s float64) *field.VectorField {
	attr := t.Lattice.Attr
	v := field.NewVectorField(attr)
	utils.ParallelFor(len(v.Vec), func(begin, end int) {
		for idx := begin; idx < end; idx++ {
			i, j, k := attr.Lattice(idx)
			x, y, z := attr.GridToWorld(float64(i), float64(j), float64(k))
			v.Vec[idx] = d.SampleLinearWorld(x, y, z).Scale(s)
		}
	})
	return v
}

// residualDisplacement computes exp(-T*v) o d, the displacement left over
// after undoing the current flow.
func (t *Transform) residualDisplacement(d *field.VectorField) (*field.VectorField, error) {
	e := &exponential.Exponentiator{
		UpperIntegrationLimit: -t.T,
		NumberOfSteps:         t.StepsForIntervalLength(t.T),
		MaxScaledVelocity:     t.MaxScaledVelocity,
		Velocity:              t.Lattice.Coeff,
		BSplineVelocity:       true,
		Output:                d.Attr,
		InputDisplacement:     d,
		ComputeDisplacement:   true,
	}
	if err := e.Run(); err != nil {
		return nil, fmt.Errorf("svf: %w", err)
	}
	return e.Displacement, nil
}

func displacementRMS(d *field.VectorField) float64 {
	sum := 0.0
	for _, v := range d.Vec {
		sum += v.X*v.X + v.Y*v.Y + v.Z*v.Z
	}
	return math.Sqrt(sum / float64(len(d.Vec)))
}

// ApproximationDomain expands a fitting domain by the excursion of the
// target displacement so that intermediate flow points stay inside the
// lattice. Each face gains ceil(1.5 * excursion / spacing) control points,
// with the excursion measured beyond that face along the domain axis, and
// the origin shifts by half the added extent so both faces stay covered.
func ApproximationDomain(domain field.Attributes, d *field.VectorField) field.Attributes {
	a := d.Attr
	axes := [3][3]float64{domain.XAxis, domain.YAxis, domain.ZAxis}
	half := [3]float64{
		float64(domain.NX-1) / 2 * domain.DX,
		float64(domain.NY-1) / 2 * domain.DY,
		float64(domain.NZ-1) / 2 * domain.DZ,
	}
	var lo, hi [3]float64
	for idx, v := range d.Vec {
		i, j, k := a.Lattice(idx)
		x, y, z := a.GridToWorld(float64(i), float64(j), float64(k))
		qx := x + v.X - domain.OX
		qy := y + v.Y - domain.OY
		qz := z + v.Z - domain.OZ
		for c := 0; c < 3; c++ {
			p := qx*axes[c][0] + qy*axes[c][1] + qz*axes[c][2]
			if e := -half[c] - p; e > lo[c] {
				lo[c] = e
			}
			if e := p - half[c]; e > hi[c] {
				hi[c] = e
			}
		}
	}
	out := domain
	extend := func(n *int, spacing float64, axis [3]float64, lo, hi float64) {
		if *n <= 1 || spacing <= 0 {
			return
		}
		nlo := int(math.Ceil(1.5 * lo / spacing))
		nhi := int(math.Ceil(1.5 * hi / spacing))
		if nlo == 0 && nhi == 0 {
			return
		}
		*n += nlo + nhi
		shift := float64(nhi-nlo) / 2 * spacing
		out.OX += shift * axis[0]
		out.OY += shift * axis[1]
		out.OZ += shift * axis[2]
	}
	extend(&out.NX, domain.DX, domain.XAxis, lo[0], hi[0])
	extend(&out.NY, domain.DY, domain.YAxis, lo[1], hi[1])
	extend(&out.NZ, domain.DZ, domain.ZAxis, lo[2], hi[2])
	return out
}

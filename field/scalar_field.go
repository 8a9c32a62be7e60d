package field

// ScalarField is a scalar field on a regular grid, used for determinant
// and log-determinant outputs.
type ScalarField struct {
	Attr Attributes
	Val  []float64
}

// NewScalarField allocates a zero scalar field on the given grid.
func NewScalarField(attr Attributes) *ScalarField {
	return &ScalarField{Attr: attr, Val: make([]float64, attr.NumberOfPoints())}
}

// At returns the value at grid point (i, j, k).
func (f *ScalarField) At(i, j, k int) float64 { return f.Val[f.Attr.Index(i, j, k)] }

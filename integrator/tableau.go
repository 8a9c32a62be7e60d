package integrator

// Tableau holds the coefficients of an explicit Runge-Kutta scheme. For
// embedded pairs B holds the weights of the propagating (higher-order)
// solution and BErr the weights of the lower-order comparison solution;
// BErr is nil for fixed-step schemes.
type Tableau struct {
	Name  string
	Order int
	C     []float64   // stage nodes
	A     [][]float64 // stage coefficients, row i has i entries
	B     []float64   // solution weights
	BErr  []float64   // embedded comparison weights, nil if fixed-step
}

// Stages returns the number of stages of the scheme.
func (t *Tableau) Stages() int { return len(t.B) }

// TableauRKE1 is the forward Euler scheme.
var TableauRKE1 = Tableau{
	Name:  "RKE1",
	Order: 1,
	C:     []float64{0},
	A:     [][]float64{{}},
	B:     []float64{1},
}

// TableauRKE2 is the explicit midpoint scheme.
var TableauRKE2 = Tableau{
	Name:  "RKE2",
	Order: 2,
	C:     []float64{0, 0.5},
	A:     [][]float64{{}, {0.5}},
	B:     []float64{0, 1},
}

// TableauRKH2 is Heun's second-order scheme.
var TableauRKH2 = Tableau{
	Name:  "RKH2",
	Order: 2,
	C:     []float64{0, 1},
	A:     [][]float64{{}, {1}},
	B:     []float64{0.5, 0.5},
}

// TableauRK4 is the classic fourth-order Runge-Kutta scheme.
var TableauRK4 = Tableau{
	Name:  "RK4",
	Order: 4,
	C:     []float64{0, 0.5, 0.5, 1},
	A:     [][]float64{{}, {0.5}, {0, 0.5}, {0, 0, 1}},
	B:     []float64{1.0 / 6, 1.0 / 3, 1.0 / 3, 1.0 / 6},
}

// TableauRKEH12 is the embedded Heun-Euler 1(2) pair.
var TableauRKEH12 = Tableau{
	Name:  "RKEH12",
	Order: 2,
	C:     []float64{0, 1},
	A:     [][]float64{{}, {1}},
	B:     []float64{0.5, 0.5},
	BErr:  []float64{1, 0},
}

// TableauRKBS23 is the embedded Bogacki-Shampine 2(3) pair.
var TableauRKBS23 = Tableau{
	Name:  "RKBS23",
	Order: 3,
	C:     []float64{0, 0.5, 0.75, 1},
	A: [][]float64{
		{},
		{0.5},
		{0, 0.75},
		{2.0 / 9, 1.0 / 3, 4.0 / 9},
	},
	B:    []float64{2.0 / 9, 1.0 / 3, 4.0 / 9, 0},
	BErr: []float64{7.0 / 24, 1.0 / 4, 1.0 / 3, 1.0 / 8},
}

// TableauRKF45 is the embedded Fehlberg 4(5) pair.
var TableauRKF45 = Tableau{
	Name:  "RKF45",
	Order: 5,
	C:     []float64{0, 0.25, 3.0 / 8, 12.0 / 13, 1, 0.5},
	A: [][]float64{
		{},
		{0.25},
		{3.0 / 32, 9.0 / 32},
		{1932.0 / 2197, -7200.0 / 2197, 7296.0 / 2197},
		{439.0 / 216, -8, 3680.0 / 513, -845.0 / 4104},
		{-8.0 / 27, 2, -3544.0 / 2565, 1859.0 / 4104, -11.0 / 40},
	},
	B:    []float64{16.0 / 135, 0, 6656.0 / 12825, 28561.0 / 56430, -9.0 / 50, 2.0 / 55},
	BErr: []float64{25.0 / 216, 0, 1408.0 / 2565, 2197.0 / 4104, -1.0 / 5, 0},
}

// TableauRKCK45 is the embedded Cash-Karp 4(5) pair.
var TableauRKCK45 = Tableau{
	Name:  "RKCK45",
	Order: 5,
	C:     []float64{0, 0.2, 0.3, 0.6, 1, 7.0 / 8},
	A: [][]float64{
		{},
		{0.2},
		{3.0 / 40, 9.0 / 40},
		{0.3, -0.9, 1.2},
		{-11.0 / 54, 2.5, -70.0 / 27, 35.0 / 27},
		{1631.0 / 55296, 175.0 / 512, 575.0 / 13824, 44275.0 / 110592, 253.0 / 4096},
	},
	B:    []float64{37.0 / 378, 0, 250.0 / 621, 125.0 / 594, 0, 512.0 / 1771},
	BErr: []float64{2825.0 / 27648, 0, 18575.0 / 48384, 13525.0 / 55296, 277.0 / 14336, 0.25},
}

// TableauRKDP45 is the embedded Dormand-Prince 4(5) pair.
var TableauRKDP45 = Tableau{
	Name:  "RKDP45",
	Order: 5,
	C:     []float64{0, 0.2, 0.3, 0.8, 8.0 / 9, 1, 1},
	A: [][]float64{
		{},
		{0.2},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	},
	B:    []float64{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84, 0},
	BErr: []float64{5179.0 / 57600, 0, 7571.0 / 16695, 393.0 / 640, -92097.0 / 339200, 187.0 / 2100, 1.0 / 40},
}

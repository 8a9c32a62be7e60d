// Package integrator provides the interchangeable numerical steppers that
// transport a point, a spatial Jacobian, or a per-control-point Jacobian
// through a stationary velocity field over a signed time interval. All
// explicit Runge-Kutta schemes are driven by Butcher tableaus so that the
// point and its derivatives always share one stage sequence.
package integrator

import "fmt"

// Method selects the integration scheme of a transform instance. It
// affects the accuracy/performance trade-off but not the semantics of
// "point x transported by velocity field v over signed time T".
type Method int

const (
	Unknown Method = iota
	SS             // scaling and squaring at output resolution
	FastSS         // scaling and squaring on the control-point lattice
	RKE1           // forward Euler
	RKE2           // explicit midpoint
	RKH2           // Heun's method
	RK4            // classic fourth-order Runge-Kutta
	RKEH12         // embedded Heun-Euler 1(2)
	RKBS23         // embedded Bogacki-Shampine 2(3)
	RKF45          // embedded Fehlberg 4(5)
	RKCK45         // embedded Cash-Karp 4(5)
	RKDP45         // embedded Dormand-Prince 4(5)
)

var methodNames = map[Method]string{
	SS:     "SS",
	FastSS: "FastSS",
	RKE1:   "RKE1",
	RKE2:   "RKE2",
	RKH2:   "RKH2",
	RK4:    "RK4",
	RKEH12: "RKEH12",
	RKBS23: "RKBS23",
	RKF45:  "RKF45",
	RKCK45: "RKCK45",
	RKDP45: "RKDP45",
}

// String returns the canonical name of the method.
func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod resolves a method name. The second return value reports
// whether the name was recognized.
func ParseMethod(s string) (Method, bool) {
	for m, name := range methodNames {
		if name == s {
			return m, true
		}
	}
	return Unknown, false
}

// IsScalingAndSquaring reports whether dense-field queries of this method
// use the exponentiation engine instead of per-point integration.
func (m Method) IsScalingAndSquaring() bool { return m == SS || m == FastSS }

// IsAdaptive reports whether the method is an embedded pair with automatic
// step-length control.
func (m Method) IsAdaptive() bool {
	switch m {
	case RKEH12, RKBS23, RKF45, RKCK45, RKDP45:
		return true
	}
	return false
}

// tableauFor returns the Butcher tableau of a Runge-Kutta method. The
// scaling-and-squaring selectors fall back to forward Euler for
// single-point queries. An unrecognized method is a configuration bug and
// terminates the process.
func tableauFor(m Method) *Tableau {
	switch m {
	case SS, FastSS, RKE1:
		return &TableauRKE1
	case RKE2:
		return &TableauRKE2
	case RKH2:
		return &TableauRKH2
	case RK4:
		return &TableauRK4
	case RKEH12:
		return &TableauRKEH12
	case RKBS23:
		return &TableauRKBS23
	case RKF45:
		return &TableauRKF45
	case RKCK45:
		return &TableauRKCK45
	case RKDP45:
		return &TableauRKDP45
	}
	panic(fmt.Sprintf("integrator: unknown integration method: %s", m))
}

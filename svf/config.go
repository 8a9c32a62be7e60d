package svf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fieldreg/diffeo/integrator"
)

// Parameter is one name/value pair of the configuration surface.
type Parameter struct {
	Name  string
	Value string
}

// parseConfigBool accepts the spellings configuration files use for
// boolean parameters.
func parseConfigBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "on", "1":
		return true, nil
	case "no", "false", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", value)
}

// Set assigns a named configuration parameter from its string value. It
// returns false when the name is not a parameter of this transform, and an
// error when the name is recognized but the value is invalid. The
// deprecated scaling-and-squaring booleans are accepted and mapped onto
// the integration method.
func (t *Transform) Set(name, value string) (bool, error) {
	switch name {
	case "Integration method":
		m, ok := integrator.ParseMethod(strings.TrimSpace(value))
		if !ok {
			return true, fmt.Errorf("svf: unknown integration method %q", value)
		}
		t.Method = m
		return true, nil

	case "Cross-sectional time interval":
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return true, fmt.Errorf("svf: invalid time interval %q", value)
		}
		t.T = v
		return true, nil

	case "Time unit of integration interval":
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return true, fmt.Errorf("svf: invalid time unit %q", value)
		}
		t.TimeUnit = v
		return true, nil

	case "No. of integration steps", "Number of integration steps":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return true, fmt.Errorf("svf: invalid number of integration steps %q", value)
		}
		t.NumberOfSteps = n
		return true, nil

	case "No. of squaring steps", "Number of squaring steps":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 || n > 30 {
			return true, fmt.Errorf("svf: invalid number of squaring steps %q", value)
		}
		t.NumberOfSteps = 1 << n
		if !t.Method.IsScalingAndSquaring() {
			t.Method = integrator.FastSS
		}
		return true, nil

	case "Maximum scaled velocity":
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return true, fmt.Errorf("svf: invalid maximum scaled velocity %q", value)
		}
		t.MaxScaledVelocity = v
		return true, nil

	case "Use Lie derivative":
		b, err := parseConfigBool(value)
		if err != nil {
			return true, fmt.Errorf("svf: %w", err)
		}
		t.LieDerivative = b
		return true, nil

	case "No. of BCH terms", "Number of BCH terms":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 || n > 6 {
			return true, fmt.Errorf("svf: invalid number of BCH terms %q", value)
		}
		t.BCHTerms = n
		return true, nil

	// deprecated: the boolean pair predates the method enum
	case "Use scaling and squaring":
		b, err := parseConfigBool(value)
		if err != nil {
			return true, fmt.Errorf("svf: %w", err)
		}
		if b {
			if !t.Method.IsScalingAndSquaring() {
				t.Method = integrator.FastSS
			}
		} else if t.Method.IsScalingAndSquaring() {
			t.Method = integrator.RKE1
		}
		return true, nil

	case "Fast scaling and squaring":
		b, err := parseConfigBool(value)
		if err != nil {
			return true, fmt.Errorf("svf: %w", err)
		}
		if b {
			t.Method = integrator.FastSS
		} else if t.Method == integrator.FastSS {
			t.Method = integrator.SS
		}
		return true, nil
	}
	return false, nil
}

// Parameters returns the current configuration as name/value pairs, in the
// order Set documents them.
func (t *Transform) Parameters() []Parameter {
	lie := "No"
	if t.LieDerivative {
		lie = "Yes"
	}
	return []Parameter{
		{"Integration method", t.Method.String()},
		{"Cross-sectional time interval", strconv.FormatFloat(t.T, 'g', -1, 64)},
		{"Time unit of integration interval", strconv.FormatFloat(t.TimeUnit, 'g', -1, 64)},
		{"No. of integration steps", strconv.Itoa(t.NumberOfSteps)},
		{"Maximum scaled velocity", strconv.FormatFloat(t.MaxScaledVelocity, 'g', -1, 64)},
		{"Use Lie derivative", lie},
		{"No. of BCH terms", strconv.Itoa(t.BCHTerms)},
	}
}

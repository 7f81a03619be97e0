package tuning

import (
	"fmt"
	"math/rand"
)

// ParameterKind identifies how a parameter's values are drawn and encoded.
type ParameterKind int

const (
	Continuous ParameterKind = iota
	Discrete
	Categorical
)

func (k ParameterKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Discrete:
		return "discrete"
	case Categorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// ParameterSpace declares one tunable parameter: continuous parameters
// carry bounds, discrete and categorical parameters carry a choice set.
// Current holds the live value and is only mutated by applying
// optimization results.
type ParameterSpace struct {
	Name    string
	Kind    ParameterKind
	Min     float64
	Max     float64
	Choices []any
	Current any
}

// validate checks the space is well-formed at tuner construction.
func (p *ParameterSpace) validate() error {
	switch p.Kind {
	case Continuous:
		if p.Max <= p.Min {
			return fmt.Errorf("parameter %q: max %f must exceed min %f", p.Name, p.Max, p.Min)
		}
	case Discrete, Categorical:
		if len(p.Choices) == 0 {
			return fmt.Errorf("parameter %q: %s parameter needs at least one choice", p.Name, p.Kind)
		}
	default:
		return fmt.Errorf("parameter %q: unknown kind %d", p.Name, p.Kind)
	}
	return nil
}

// sample draws a uniform random value from the space.
func (p *ParameterSpace) sample(rng *rand.Rand) any {
	switch p.Kind {
	case Continuous:
		return p.Min + rng.Float64()*(p.Max-p.Min)
	default:
		return p.Choices[rng.Intn(len(p.Choices))]
	}
}

// featureWidth is the number of feature dimensions the space encodes to:
// one for continuous (min-max normalized), one per choice for discrete and
// categorical (one-hot).
func (p *ParameterSpace) featureWidth() int {
	if p.Kind == Continuous {
		return 1
	}
	return len(p.Choices)
}

// encodeInto writes the deterministic feature encoding of value into dst,
// which must have featureWidth() capacity.
func (p *ParameterSpace) encodeInto(dst []float64, value any) {
	if p.Kind == Continuous {
		v, _ := toFloat(value)
		dst[0] = (v - p.Min) / (p.Max - p.Min)
		return
	}
	for i, choice := range p.Choices {
		if choice == value {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
	}
}

// toFloat widens any numeric parameter value to float64.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

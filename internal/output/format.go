package output

import (
	"strings"

	"github.com/crimson-sun/canopy/internal/model"
)

// Verbosity controls which prediction fields are written.
type Verbosity int

const (
	Minimal  Verbosity = iota // path and label
	Standard                  // adds confidence
	Full                      // adds per-level distributions and the gold path
)

// ParseVerbosity converts "minimal", "standard" or "full" to a Verbosity.
// Unknown strings default to Standard.
func ParseVerbosity(s string) Verbosity {
	switch strings.ToLower(s) {
	case "minimal":
		return Minimal
	case "full":
		return Full
	default:
		return Standard
	}
}

// FormatPrediction returns a copy of p with fields stripped according to
// verbosity. Stripped fields are omitted from JSON.
func FormatPrediction(p model.Prediction, v Verbosity) model.Prediction {
	if v < Full {
		p.Distributions = nil
		p.Expected = nil
	}
	if v < Standard {
		p.Confidence = 0
	}
	return p
}

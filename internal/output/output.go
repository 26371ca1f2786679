// Package output delivers predictions to their destinations as NDJSON
// records.
package output

import (
	"context"
	"slices"

	"github.com/crimson-sun/canopy/internal/model"
)

// Output receives one prediction per classified document, in input order.
type Output interface {
	Write(ctx context.Context, p model.Prediction) error
	Close() error
}

// Record is the line written for one prediction. Seq counts the predictions
// written by one Output from 1. Correct is set only when the prediction
// carries a gold path.
type Record struct {
	Seq int `json:"seq"`
	model.Prediction
	Correct *bool `json:"correct,omitempty"`
}

// NewRecord scores p against its gold path, if any, and strips fields
// according to v. Correct is computed before the gold path is stripped.
func NewRecord(seq int, p model.Prediction, v Verbosity) Record {
	r := Record{Seq: seq}
	if len(p.Expected) > 0 {
		ok := slices.Equal(p.Path, p.Expected)
		r.Correct = &ok
	}
	r.Prediction = FormatPrediction(p, v)
	return r
}

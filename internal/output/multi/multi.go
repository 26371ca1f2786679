package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/crimson-sun/canopy/internal/model"
	"github.com/crimson-sun/canopy/internal/output"
)

// Multi tees each prediction to several outputs, typically a rotating file
// plus stdout. A failing output does not stop delivery to the others, but
// a cancelled context does.
type Multi struct {
	outputs []output.Output
}

// New creates a Multi over outputs.
func New(outputs ...output.Output) *Multi {
	return &Multi{outputs: outputs}
}

// Write delivers p to every output in order. Output errors are tagged with
// the output's position and the prediction's label and joined.
func (m *Multi) Write(ctx context.Context, p model.Prediction) error {
	var errs []error
	for i, o := range m.outputs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := o.Write(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("output %d: %s: %w", i, p.Label, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes outputs in reverse order and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for i := len(m.outputs) - 1; i >= 0; i-- {
		if err := m.outputs[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("output %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

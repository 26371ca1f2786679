package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/crimson-sun/canopy/internal/model"
	"github.com/crimson-sun/canopy/internal/output"
)

// Output writes one JSON record per prediction to stdout. It is not safe
// for concurrent use; the pipeline writes from a single goroutine.
type Output struct {
	enc       *json.Encoder
	verbosity output.Verbosity
	seq       int
}

// New creates a stdout Output. pretty indents each record, which breaks the
// one-record-per-line framing and is meant for reading by eye.
func New(verbosity output.Verbosity, pretty bool) *Output {
	return NewWriter(os.Stdout, verbosity, pretty)
}

// NewWriter is New writing to w.
func NewWriter(w io.Writer, verbosity output.Verbosity, pretty bool) *Output {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &Output{enc: enc, verbosity: verbosity}
}

func (o *Output) Write(_ context.Context, p model.Prediction) error {
	o.seq++
	if err := o.enc.Encode(output.NewRecord(o.seq, p, o.verbosity)); err != nil {
		return fmt.Errorf("stdout output: record %d (%s): %w", o.seq, p.Label, err)
	}
	return nil
}

// Close is a no-op; stdout stays open for the process.
func (o *Output) Close() error {
	return nil
}

// Package pipeline streams documents from a source through a classifier to
// an output.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crimson-sun/canopy/internal/model"
	"github.com/crimson-sun/canopy/internal/output"
)

const defaultBufferSize = 64

// Classifier predicts the class path of a document.
type Classifier interface {
	Classify(text [][]string) (model.Prediction, error)
	ClassifyExample(ex model.Example) (model.Prediction, error)
}

// Pipeline connects a source, a classifier and an output.
type Pipeline struct {
	source     Source
	classifier Classifier
	output     output.Output
	bufSize    int
}

// New creates a Pipeline from the given components.
func New(src Source, cls Classifier, out output.Output) *Pipeline {
	return &Pipeline{source: src, classifier: cls, output: out, bufSize: defaultBufferSize}
}

// Run classifies every document of the source and writes the predictions.
// Documents with a gold path keep it in the prediction. Run stops at the
// first error and returns the number of predictions written.
func (p *Pipeline) Run(ctx context.Context) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan model.Example, p.bufSize)
	errc := make(chan error, 1)
	go func() {
		errc <- p.source.Stream(ctx, ch)
		close(ch)
	}()

	n := 0
	for ex := range ch {
		if err := p.handle(ctx, ex); err != nil {
			cancel()
			for range ch {
			}
			<-errc
			return n, fmt.Errorf("pipeline: document %d: %w", n, err)
		}
		n++
	}
	if err := <-errc; err != nil {
		return n, fmt.Errorf("pipeline source: %w", err)
	}
	slog.Debug("pipeline done", "documents", n)
	return n, nil
}

func (p *Pipeline) handle(ctx context.Context, ex model.Example) error {
	var (
		pred model.Prediction
		err  error
	)
	if len(ex.Classes) > 0 {
		pred, err = p.classifier.ClassifyExample(ex)
	} else {
		pred, err = p.classifier.Classify(ex.Text)
	}
	if err != nil {
		return err
	}
	return p.output.Write(ctx, pred)
}

// Close shuts down the output.
func (p *Pipeline) Close() error {
	return p.output.Close()
}

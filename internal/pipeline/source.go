package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/crimson-sun/canopy/internal/corpus"
	"github.com/crimson-sun/canopy/internal/engine"
	"github.com/crimson-sun/canopy/internal/model"
)

// Source produces documents. Stream sends every document on out and
// returns when the source is exhausted or ctx is done. It must not close out.
type Source interface {
	Stream(ctx context.Context, out chan<- model.Example) error
}

// Examples is a Source over an in-memory slice.
type Examples []model.Example

// Stream sends each example in order.
func (s Examples) Stream(ctx context.Context, out chan<- model.Example) error {
	for _, ex := range s {
		select {
		case out <- ex:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Corpus is a Source reading an NDJSON corpus file.
type Corpus string

// Stream reads the whole corpus, then sends its examples.
func (c Corpus) Stream(ctx context.Context, out chan<- model.Example) error {
	examples, err := corpus.ReadFile(string(c))
	if err != nil {
		return err
	}
	return Examples(examples).Stream(ctx, out)
}

// Lines is a Source reading one raw text document per line. Blank lines are
// skipped.
type Lines struct {
	R io.Reader
}

// Stream tokenizes and sends each line as it is read.
func (l Lines) Stream(ctx context.Context, out chan<- model.Example) error {
	sc := bufio.NewScanner(l.R)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case out <- model.Example{Text: engine.Tokenize(line)}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read lines: %w", err)
	}
	return nil
}

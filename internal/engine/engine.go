// Package engine ties a token encoder, a trained head tree and optional
// display labels into a classifier for raw documents.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/crimson-sun/canopy/internal/engine/classifier"
	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/engine/head"
	"github.com/crimson-sun/canopy/internal/hierarchy"
	"github.com/crimson-sun/canopy/internal/model"
)

// Engine orchestrates the encode → classify → render pipeline. Heads keep
// per-call state, so calls are serialized.
type Engine struct {
	mu      sync.Mutex
	encoder embedder.Encoder
	model   *classifier.Model
	labels  *hierarchy.Labels
	pool    *head.Pool
}

// New creates an Engine. labels may be nil, in which case predictions are
// rendered as dotted class indices.
func New(enc embedder.Encoder, m *classifier.Model, labels *hierarchy.Labels) (*Engine, error) {
	if enc.Dim() != m.InputSize {
		return nil, fmt.Errorf("engine: encoder dim %d does not match model input size %d", enc.Dim(), m.InputSize)
	}
	if labels != nil {
		if err := labels.Check(m.Hierarchy()); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}
	m.SetTraining(false)
	return &Engine{encoder: enc, model: m, labels: labels, pool: head.NewPool()}, nil
}

// Model returns the underlying model.
func (e *Engine) Model() *classifier.Model { return e.model }

// Classify predicts the class path of one tokenized document.
func (e *Engine) Classify(text [][]string) (model.Prediction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	doc, err := e.encoder.Encode(text)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("engine: %w", err)
	}
	e.pool.ReleaseAll()
	dists, err := e.model.Classify(doc, e.pool)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("engine: %w", err)
	}

	conf := 1.0
	for _, p := range dists {
		conf *= float64(p[head.Argmax(p)])
	}
	path := classifier.Path(dists)
	return model.Prediction{
		Path:          path,
		Label:         e.render(path),
		Confidence:    conf,
		Distributions: dists,
	}, nil
}

// ClassifyExample classifies ex and records its gold path.
func (e *Engine) ClassifyExample(ex model.Example) (model.Prediction, error) {
	p, err := e.Classify(ex.Text)
	if err != nil {
		return p, err
	}
	p.Expected = ex.Classes
	return p, nil
}

// ClassifyBatch classifies several documents in order.
func (e *Engine) ClassifyBatch(texts [][][]string) ([]model.Prediction, error) {
	out := make([]model.Prediction, 0, len(texts))
	for i, text := range texts {
		p, err := e.Classify(text)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Close releases the encoder.
func (e *Engine) Close() error {
	return e.encoder.Close()
}

func (e *Engine) render(path []int) string {
	if e.labels == nil {
		return hierarchy.RenderIndices(path)
	}
	return e.labels.Render(path)
}

// Tokenize splits raw text into sentences of words. Sentences end at line
// breaks or at words ending in '.', '!' or '?'; surrounding punctuation is
// dropped from each word.
func Tokenize(text string) [][]string {
	var out [][]string
	for _, line := range strings.Split(text, "\n") {
		var sent []string
		for _, field := range strings.Fields(line) {
			end := strings.ContainsAny(field[len(field)-1:], ".!?")
			if w := strings.TrimFunc(field, unicode.IsPunct); w != "" {
				sent = append(sent, w)
			}
			if end && len(sent) > 0 {
				out = append(out, sent)
				sent = nil
			}
		}
		if len(sent) > 0 {
			out = append(out, sent)
		}
	}
	return out
}

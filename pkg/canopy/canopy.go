package canopy

import (
	"errors"
	"fmt"

	"github.com/crimson-sun/canopy/internal/engine"
	"github.com/crimson-sun/canopy/internal/engine/classifier"
	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/hierarchy"
	"github.com/crimson-sun/canopy/internal/model"
)

// Canopy is a loaded hierarchical classifier.
type Canopy struct {
	engine *engine.Engine
}

// Open loads the model saved at modelPath.
func Open(modelPath string, opts ...Option) (*Canopy, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m, err := classifier.LoadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("canopy: %w", err)
	}

	var labels *hierarchy.Labels
	if o.labelsPath != "" {
		if labels, err = hierarchy.LoadLabels(o.labelsPath); err != nil {
			return nil, fmt.Errorf("canopy: %w", err)
		}
	}

	var enc embedder.Encoder
	switch {
	case o.onnx:
		enc, err = embedder.NewONNX(embedder.ONNXConfig{
			ModelPath:      o.modelPath,
			VocabPath:      o.vocabPath,
			ProjectionPath: o.projectionPath,
			LibraryPath:    o.libraryPath,
			Threads:        o.threads,
			Pooled:         o.pooled,
		})
		if err != nil {
			return nil, fmt.Errorf("canopy: %w", err)
		}
	case m.Embeddings != nil:
		enc = m.Embeddings
	default:
		return nil, errors.New("canopy: model has no embedding table; open it with WithONNXEncoder")
	}

	eng, err := engine.New(enc, m, labels)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("canopy: %w", err)
	}
	return &Canopy{engine: eng}, nil
}

// Classify splits text into sentences and words and classifies it.
func (c *Canopy) Classify(text string) (Prediction, error) {
	return c.ClassifyTokens(engine.Tokenize(text))
}

// ClassifyTokens classifies a document that is already split into
// sentences of words.
func (c *Canopy) ClassifyTokens(sentences [][]string) (Prediction, error) {
	p, err := c.engine.Classify(sentences)
	if err != nil {
		return Prediction{}, err
	}
	return predictionFromModel(p), nil
}

// ClassifyBatch classifies several texts in order.
func (c *Canopy) ClassifyBatch(texts []string) ([]Prediction, error) {
	docs := make([][][]string, len(texts))
	for i, t := range texts {
		docs[i] = engine.Tokenize(t)
	}
	ps, err := c.engine.ClassifyBatch(docs)
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(ps))
	for i, p := range ps {
		out[i] = predictionFromModel(p)
	}
	return out, nil
}

// Close releases encoder resources such as the ONNX runtime session.
func (c *Canopy) Close() error {
	return c.engine.Close()
}

func predictionFromModel(p model.Prediction) Prediction {
	return Prediction{
		Path:       p.Path,
		Label:      p.Label,
		Confidence: p.Confidence,
		Levels:     p.Distributions,
	}
}

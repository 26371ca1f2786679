// Package embedder turns tokenized sentences into per-token vectors: either
// a trainable embedding table or a frozen pretrained ONNX transformer.
package embedder

import (
	"fmt"

	"github.com/crimson-sun/canopy/internal/engine/optim"
	"github.com/crimson-sun/canopy/internal/model"
)

// Encoder produces a per-token document encoding from sentences of words.
type Encoder interface {
	Encode(text [][]string) (model.Document, error)
	Dim() int
	Close() error
}

// Trainable is an Encoder whose parameters learn from token errors. Backward
// applies to the most recent Encode.
type Trainable interface {
	Encoder
	optim.Parametric
	Backward(errs model.Document) error
}

// ONNXEncoder runs a BERT-style ONNX model over each sentence and returns
// its WordPiece token states, optionally projected and optionally pooled to
// one vector per sentence. It is frozen: errors are not propagated into it.
type ONNXEncoder struct {
	session *onnxSession
	tok     *tokenizer
	proj    *projection
	pooled  bool
}

// ONNXConfig locates the ONNX model files.
type ONNXConfig struct {
	ModelPath      string
	VocabPath      string
	ProjectionPath string // optional safetensors dense layer
	LibraryPath    string // onnxruntime shared library
	Threads        int
	Pooled         bool // mean-pool each sentence to one vector
}

// NewONNX loads the model, vocabulary, and optional projection.
func NewONNX(cfg ONNXConfig) (*ONNXEncoder, error) {
	sess, err := newONNXSession(cfg.ModelPath, cfg.LibraryPath, cfg.Threads)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	tok, err := newTokenizer(cfg.VocabPath)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("embedder: %w", err)
	}

	e := &ONNXEncoder{session: sess, tok: tok, pooled: cfg.Pooled}
	if cfg.ProjectionPath != "" {
		proj, err := loadProjection(cfg.ProjectionPath)
		if err != nil {
			sess.close()
			return nil, fmt.Errorf("embedder: %w", err)
		}
		if int(sess.hiddenDim) != proj.inDim {
			sess.close()
			return nil, fmt.Errorf("embedder: ONNX output dim %d != projection input dim %d",
				sess.hiddenDim, proj.inDim)
		}
		e.proj = proj
	}
	return e, nil
}

// Dim returns the size of each token vector.
func (e *ONNXEncoder) Dim() int {
	if e.proj != nil {
		return e.proj.outDim
	}
	return int(e.session.hiddenDim)
}

// Encode runs all sentences of a document through the model as one batch.
func (e *ONNXEncoder) Encode(text [][]string) (model.Document, error) {
	if len(text) == 0 {
		return model.Document{}, nil
	}
	batch := e.tok.tokenizeSentences(text)
	hidden, err := e.session.infer(batch)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	dim := e.session.hiddenDim
	doc := make(model.Document, batch.batchSize)
	if e.pooled {
		pooled := meanPool(hidden, batch.lengths, batch.seqLen, dim)
		for b := range doc {
			doc[b] = model.Sentence{pooled[int64(b)*dim : int64(b+1)*dim]}
		}
	} else {
		for b := range doc {
			doc[b] = tokenStates(hidden, int64(b), batch.lengths[b], batch.seqLen, dim)
		}
	}
	if e.proj != nil {
		for _, sent := range doc {
			e.proj.applyAll(sent)
		}
	}
	return doc, nil
}

// Close releases ONNX Runtime resources.
func (e *ONNXEncoder) Close() error {
	if e.session != nil {
		return e.session.close()
	}
	return nil
}

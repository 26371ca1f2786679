package canopy

import (
	"os"
	"path/filepath"
)

type options struct {
	labelsPath string

	onnx           bool
	modelPath      string
	vocabPath      string
	projectionPath string
	libraryPath    string
	threads        int
	pooled         bool
}

// Option configures a Canopy instance.
type Option func(*options)

// WithLabels renders predictions with the label tree in path.
func WithLabels(path string) Option {
	return func(o *options) { o.labelsPath = path }
}

// WithONNXEncoder encodes tokens with the pretrained model in dir instead of
// the model's own embedding table. Expects model_quantized.onnx and
// vocab.txt, plus 2_Dense/model.safetensors when present.
func WithONNXEncoder(dir string) Option {
	return func(o *options) {
		o.onnx = true
		o.modelPath = filepath.Join(dir, "model_quantized.onnx")
		o.vocabPath = filepath.Join(dir, "vocab.txt")
		proj := filepath.Join(dir, "2_Dense", "model.safetensors")
		if _, err := os.Stat(proj); err == nil {
			o.projectionPath = proj
		}
	}
}

// WithONNXPaths sets explicit ONNX model, vocabulary and projection paths.
// projection may be empty.
func WithONNXPaths(model, vocab, projection string) Option {
	return func(o *options) {
		o.onnx = true
		o.modelPath = model
		o.vocabPath = vocab
		o.projectionPath = projection
	}
}

// WithONNXRuntime sets the onnxruntime shared library and its thread count.
func WithONNXRuntime(library string, threads int) Option {
	return func(o *options) {
		o.libraryPath = library
		o.threads = threads
	}
}

// WithPooledSentences mean-pools ONNX token states to one vector per
// sentence. It must match how the model was trained.
func WithPooledSentences() Option {
	return func(o *options) { o.pooled = true }
}

func defaultOptions() options {
	return options{threads: 1}
}

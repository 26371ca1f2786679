package embedder

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

const projectionTensor = "linear.weight"

// projection is a bias-free dense layer read from a safetensors file,
// mapping token states from inDim to outDim.
type projection struct {
	weights []float32 // row-major [outDim, inDim]
	inDim   int
	outDim  int
}

// loadProjection reads a safetensors file holding a single F32
// "linear.weight" tensor.
func loadProjection(path string) (*projection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	p, err := parseProjection(data)
	if err != nil {
		return nil, fmt.Errorf("projection: %s: %w", path, err)
	}
	return p, nil
}

// parseProjection decodes the safetensors layout: an 8-byte little-endian
// header length, a JSON header, then raw tensor bytes.
func parseProjection(data []byte) (*projection, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("file too small: %d bytes", len(data))
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if uint64(len(data)) < 8+headerLen {
		return nil, fmt.Errorf("header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	raw, ok := header[projectionTensor]
	if !ok {
		return nil, fmt.Errorf("tensor %q not found", projectionTensor)
	}

	var meta struct {
		Dtype       string `json:"dtype"`
		Shape       []int  `json:"shape"`
		DataOffsets [2]int `json:"data_offsets"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse tensor metadata: %w", err)
	}
	if meta.Dtype != "F32" {
		return nil, fmt.Errorf("expected dtype F32, got %s", meta.Dtype)
	}
	if len(meta.Shape) != 2 {
		return nil, fmt.Errorf("expected 2D tensor, got shape %v", meta.Shape)
	}

	outDim, inDim := meta.Shape[0], meta.Shape[1]
	start := int(8+headerLen) + meta.DataOffsets[0]
	end := int(8+headerLen) + meta.DataOffsets[1]
	if end-start != outDim*inDim*4 {
		return nil, fmt.Errorf("data size %d doesn't match shape %v", end-start, meta.Shape)
	}
	if end > len(data) {
		return nil, fmt.Errorf("data range [%d:%d] exceeds file size %d", start, end, len(data))
	}

	weights := make([]float32, outDim*inDim)
	for i := range weights {
		off := start + i*4
		weights[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
	}
	return &projection{weights: weights, inDim: inDim, outDim: outDim}, nil
}

// apply projects one vector from inDim to outDim.
func (p *projection) apply(vec []float32) []float32 {
	out := make([]float32, p.outDim)
	for i := range out {
		row := p.weights[i*p.inDim : (i+1)*p.inDim]
		var sum float32
		for j, w := range row {
			sum += w * vec[j]
		}
		out[i] = sum
	}
	return out
}

// applyAll projects every token state of a sentence in place of the slice.
func (p *projection) applyAll(tokens [][]float32) {
	for i, tok := range tokens {
		tokens[i] = p.apply(tok)
	}
}

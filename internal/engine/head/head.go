// Package head implements the classification head run at every node of a
// hierarchy: an optional tanh cell over token vectors, additive attention
// pooling per sentence, a mean over sentences, and a softmax output layer.
package head

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/crimson-sun/canopy/internal/engine/optim"
	"github.com/crimson-sun/canopy/internal/model"
)

// CellKind selects the per-token transform applied before attention.
type CellKind string

const (
	CellNone CellKind = "none"
	CellTanh CellKind = "tanh"
)

// ParseCell maps a name to a CellKind. Unknown names map to CellNone.
func ParseCell(s string) CellKind {
	if CellKind(s) == CellTanh {
		return CellTanh
	}
	return CellNone
}

// Config holds head hyperparameters shared by every head of a tree.
type Config struct {
	AttentionWidth int      `json:"attention_width"`
	Cell           CellKind `json:"cell"`
	Dropout        float32  `json:"dropout"`
	Seed           uint64   `json:"seed"`
}

// DefaultConfig returns a tanh-cell head with attention width 32.
func DefaultConfig() Config {
	return Config{AttentionWidth: 32, Cell: CellTanh}
}

// parameter block indices
const (
	pCellW = iota
	pCellB
	pAttW
	pAttB
	pAttV
	pOutW
	pOutB
	numParams
)

var paramNames = [numParams]string{"cell_w", "cell_b", "att_w", "att_b", "att_v", "out_w", "out_b"}

// Head maps a document encoding to a distribution over its classes. A head
// is not reentrant: Backward applies to the most recent Forward.
type Head struct {
	cfg       Config
	inputSize int
	width     int

	params [numParams][]float32
	grads  [numParams][]float32

	rng      *rand.Rand
	training bool

	// state of the last forward pass
	input     model.Document
	sentences []*instance // nil for empty sentences
	used      int
	doc       []float32
	mask      []float32
	logits    []float32
	probs     []float32
	inputErrs model.Document
}

// New creates a head reading inputSize-dimensional token vectors and
// producing width probabilities. stream separates the initialization of
// heads that share a seed.
func New(cfg Config, inputSize, width int, stream uint64) (*Head, error) {
	if err := validate(cfg, inputSize, width); err != nil {
		return nil, err
	}

	h := &Head{cfg: cfg, inputSize: inputSize, width: width}
	h.rng = rand.New(rand.NewPCG(cfg.Seed, stream))
	h.allocate()

	d, a := inputSize, cfg.AttentionWidth
	if cfg.Cell == CellTanh {
		h.initUniform(h.params[pCellW], d, d)
	}
	h.initUniform(h.params[pAttW], d, a)
	h.initUniform(h.params[pAttV], a, 1)
	h.initUniform(h.params[pOutW], d, width)
	return h, nil
}

func validate(cfg Config, inputSize, width int) error {
	if inputSize <= 0 {
		return fmt.Errorf("head: input size must be positive, got %d", inputSize)
	}
	if width <= 0 {
		return fmt.Errorf("head: output width must be positive, got %d", width)
	}
	if cfg.AttentionWidth <= 0 {
		return fmt.Errorf("head: attention width must be positive, got %d", cfg.AttentionWidth)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return fmt.Errorf("head: dropout %v outside [0, 1)", cfg.Dropout)
	}
	return nil
}

// sizes returns the length of every parameter block.
func (h *Head) sizes() [numParams]int {
	d, a, k := h.inputSize, h.cfg.AttentionWidth, h.width
	sizes := [numParams]int{0, 0, a * d, a, a, k * d, k}
	if h.cfg.Cell == CellTanh {
		sizes[pCellW] = d * d
		sizes[pCellB] = d
	}
	return sizes
}

func (h *Head) allocate() {
	for i, n := range h.sizes() {
		if len(h.params[i]) != n {
			h.params[i] = make([]float32, n)
		}
		h.grads[i] = make([]float32, n)
	}
}

// initUniform fills w with Glorot-uniform values.
func (h *Head) initUniform(w []float32, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = float32((h.rng.Float64()*2 - 1) * limit)
	}
}

// Width returns the number of output units.
func (h *Head) Width() int { return h.width }

// InputSize returns the expected token vector size.
func (h *Head) InputSize() int { return h.inputSize }

// Config returns the head hyperparameters.
func (h *Head) Config() Config { return h.cfg }

// SetTraining enables dropout. Inference must run with training off.
func (h *Head) SetTraining(on bool) { h.training = on }

// Forward runs the head over a document, drawing one sentence instance per
// non-empty sentence from pool, and returns the class distribution.
func (h *Head) Forward(doc model.Document, pool *Pool) ([]float32, error) {
	d := h.inputSize
	h.input = doc
	h.sentences = h.sentences[:0]
	h.used = 0
	h.doc = resize(h.doc, d)

	for _, sent := range doc {
		if len(sent) == 0 {
			h.sentences = append(h.sentences, nil)
			continue
		}
		for _, tok := range sent {
			if len(tok) != d {
				return nil, fmt.Errorf("head: token vector has %d values, want %d", len(tok), d)
			}
		}
		in := pool.acquire()
		h.attend(in, sent)
		h.sentences = append(h.sentences, in)
		h.used++
		for i, v := range in.s {
			h.doc[i] += v
		}
	}
	if h.used > 0 {
		inv := 1 / float32(h.used)
		for i := range h.doc {
			h.doc[i] *= inv
		}
	}

	h.mask = h.mask[:0]
	if h.training && h.cfg.Dropout > 0 {
		keep := 1 / (1 - h.cfg.Dropout)
		h.mask = resize(h.mask, d)
		for i := range h.doc {
			if h.rng.Float32() >= h.cfg.Dropout {
				h.mask[i] = keep
			}
			h.doc[i] *= h.mask[i]
		}
	}

	h.logits = matVec(h.params[pOutW], h.doc, h.params[pOutB], h.logits)
	h.probs = softmax(h.logits, h.probs)

	out := make([]float32, len(h.probs))
	copy(out, h.probs)
	return out, nil
}

// attend runs the cell and attention pooling over one sentence.
func (h *Head) attend(in *instance, x model.Sentence) {
	d, a := h.inputSize, h.cfg.AttentionWidth
	cell := h.cfg.Cell == CellTanh
	in.x = x
	in.reset(len(x), d, a, cell)

	for t, tok := range x {
		if cell {
			matVec(h.params[pCellW], tok, h.params[pCellB], in.h[t])
			for i, v := range in.h[t] {
				in.h[t][i] = tanh32(v)
			}
		} else {
			in.h[t] = tok
		}
		matVec(h.params[pAttW], in.h[t], h.params[pAttB], in.u[t])
		var score float32
		for i, v := range in.u[t] {
			in.u[t][i] = tanh32(v)
			score += h.params[pAttV][i] * in.u[t][i]
		}
		in.scores[t] = score
	}

	in.alpha = softmax(in.scores, in.alpha)
	for t, ht := range in.h {
		w := in.alpha[t]
		for i, v := range ht {
			in.s[i] += w * v
		}
	}
}

// Backward propagates err, the gradient of the loss with respect to the
// head's logits, through the last forward pass. It fills ParamErrors and
// InputErrors, replacing the values of any previous call.
func (h *Head) Backward(err []float32) error {
	if len(err) != h.width {
		return fmt.Errorf("head: error vector has %d values, want %d", len(err), h.width)
	}
	if h.input == nil {
		return fmt.Errorf("head: backward without forward")
	}
	for _, g := range h.grads {
		clear(g)
	}
	h.inputErrs = h.input.ZerosLike()

	d := h.inputSize
	outW, dOutW, dOutB := h.params[pOutW], h.grads[pOutW], h.grads[pOutB]
	gd := make([]float32, d)
	for k, e := range err {
		dOutB[k] += e
		row := outW[k*d : (k+1)*d]
		dRow := dOutW[k*d : (k+1)*d]
		for i := range row {
			dRow[i] += e * h.doc[i]
			gd[i] += row[i] * e
		}
	}
	if h.used == 0 {
		return nil
	}
	if len(h.mask) > 0 {
		for i := range gd {
			gd[i] *= h.mask[i]
		}
	}
	inv := 1 / float32(h.used)
	for i := range gd {
		gd[i] *= inv
	}

	for j, in := range h.sentences {
		if in == nil {
			continue
		}
		h.backAttend(in, gd, h.inputErrs[j])
	}
	return nil
}

// backAttend accumulates parameter gradients for one sentence given the
// gradient gs of its pooled vector and writes token errors into dx.
func (h *Head) backAttend(in *instance, gs []float32, dx model.Sentence) {
	d, a := h.inputSize, h.cfg.AttentionWidth
	cell := h.cfg.Cell == CellTanh
	attW, attV := h.params[pAttW], h.params[pAttV]
	dAttW, dAttB, dAttV := h.grads[pAttW], h.grads[pAttB], h.grads[pAttV]

	// d score_t = alpha_t * (gs.h_t - sum_k alpha_k gs.h_k)
	var mean float32
	for t, ht := range in.h {
		var dot float32
		for i, v := range ht {
			dot += gs[i] * v
		}
		in.scores[t] = dot
		mean += in.alpha[t] * dot
	}

	for t, ht := range in.h {
		dScore := in.alpha[t] * (in.scores[t] - mean)

		for i := range in.dh {
			in.dh[i] = in.alpha[t] * gs[i]
		}
		for j, u := range in.u[t] {
			dAttV[j] += dScore * u
			in.da[j] = dScore * attV[j] * (1 - u*u)
		}
		for j := 0; j < a; j++ {
			da := in.da[j]
			dAttB[j] += da
			row := attW[j*d : (j+1)*d]
			dRow := dAttW[j*d : (j+1)*d]
			for i := range row {
				dRow[i] += da * ht[i]
				in.dh[i] += row[i] * da
			}
		}

		if !cell {
			copy(dx[t], in.dh)
			continue
		}
		cellW, dCellW, dCellB := h.params[pCellW], h.grads[pCellW], h.grads[pCellB]
		for k, v := range ht {
			in.dc[k] = in.dh[k] * (1 - v*v)
		}
		x := in.x[t]
		for k := 0; k < d; k++ {
			dc := in.dc[k]
			dCellB[k] += dc
			row := cellW[k*d : (k+1)*d]
			dRow := dCellW[k*d : (k+1)*d]
			for i := range row {
				dRow[i] += dc * x[i]
				dx[t][i] += row[i] * dc
			}
		}
	}
}

// InputErrors returns the per-token errors of the last Backward.
func (h *Head) InputErrors() model.Document { return h.inputErrs }

// Params returns the head's parameter blocks.
func (h *Head) Params() []optim.Param {
	out := make([]optim.Param, 0, numParams)
	for i, p := range h.params {
		out = append(out, optim.Param{Name: paramNames[i], Value: p})
	}
	return out
}

// ParamErrors returns the parameter gradients of the last Backward, aligned
// with Params.
func (h *Head) ParamErrors() [][]float32 {
	out := make([][]float32, numParams)
	for i, g := range h.grads {
		out[i] = g
	}
	return out
}

// headState is the serialized form of a Head.
type headState struct {
	Config    Config               `json:"config"`
	InputSize int                  `json:"input_size"`
	Width     int                  `json:"width"`
	Params    map[string][]float32 `json:"params"`
}

// MarshalJSON encodes the head's configuration and parameters.
func (h *Head) MarshalJSON() ([]byte, error) {
	st := headState{
		Config:    h.cfg,
		InputSize: h.inputSize,
		Width:     h.width,
		Params:    make(map[string][]float32, numParams),
	}
	for i, p := range h.params {
		if len(p) > 0 {
			st.Params[paramNames[i]] = p
		}
	}
	return json.Marshal(st)
}

// UnmarshalJSON restores a head written by MarshalJSON. Every non-empty
// parameter block must be present with its exact size.
func (h *Head) UnmarshalJSON(data []byte) error {
	var st headState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("head: %w", err)
	}
	if err := validate(st.Config, st.InputSize, st.Width); err != nil {
		return err
	}
	*h = Head{cfg: st.Config, inputSize: st.InputSize, width: st.Width}
	for i, n := range h.sizes() {
		p, ok := st.Params[paramNames[i]]
		if n > 0 && !ok {
			return fmt.Errorf("head: missing param %s", paramNames[i])
		}
		if len(p) != n {
			return fmt.Errorf("head: param %s has %d values, want %d", paramNames[i], len(p), n)
		}
		h.params[i] = p
	}
	h.rng = rand.New(rand.NewPCG(st.Config.Seed, 0))
	h.allocate()
	return nil
}

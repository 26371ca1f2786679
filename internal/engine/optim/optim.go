// Package optim applies accumulated parameter gradients to trainable
// components and mirrors a head tree with one optimizer per head.
package optim

import (
	"fmt"
	"math"

	"github.com/crimson-sun/canopy/internal/tree"
)

// Param is a named, mutable parameter block.
type Param struct {
	Name  string
	Value []float32
}

// Parametric is anything with parameters and the gradients of its last
// backward pass. ParamErrors must align with Params.
type Parametric interface {
	Params() []Param
	ParamErrors() [][]float32
}

// Sparse is implemented by targets whose gradients are non-zero only in a
// few rows of each block, such as embedding tables.
type Sparse interface {
	TouchedRows() (rows []int, width int)
}

// Kind selects the update rule.
type Kind string

const (
	SGD   Kind = "sgd"
	AdamW Kind = "adamw"
)

// Config holds optimizer hyperparameters.
type Config struct {
	Kind         Kind
	LearningRate float32
	Decay        float32 // learning rate divisor growth per epoch: lr / (1 + Decay*epoch)
	Momentum     float32 // sgd only
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32 // adamw only, decoupled
}

// DefaultConfig returns plain SGD with learning rate 0.1.
func DefaultConfig() Config {
	return Config{
		Kind:         SGD,
		LearningRate: 0.1,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// ParseKind maps a name to a Kind. Unknown names default to SGD.
func ParseKind(s string) Kind {
	if Kind(s) == AdamW {
		return AdamW
	}
	return SGD
}

// Optimizer accumulates gradients for one Parametric target across the
// examples of a batch and applies their mean on Update. The mean is over the
// examples that accumulated into this optimizer, not the whole batch.
type Optimizer struct {
	target Parametric
	cfg    Config

	accum    [][]float32
	velocity [][]float32 // sgd momentum buffers
	m, v     [][]float32 // adamw moments

	epoch       int
	pending     bool // current example has not accumulated yet
	contributed int  // examples of this batch that accumulated
	steps       int
}

// New creates an optimizer for target.
func New(target Parametric, cfg Config) *Optimizer {
	params := target.Params()
	o := &Optimizer{
		target: target,
		cfg:    cfg,
		accum:  zerosLike(params),
	}
	switch cfg.Kind {
	case AdamW:
		o.m = zerosLike(params)
		o.v = zerosLike(params)
	default:
		if cfg.Momentum != 0 {
			o.velocity = zerosLike(params)
		}
	}
	return o
}

func zerosLike(params []Param) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		out[i] = make([]float32, len(p.Value))
	}
	return out
}

// NewEpoch advances the epoch counter used for learning rate decay.
func (o *Optimizer) NewEpoch() { o.epoch++ }

// NewBatch resets the per-batch example count.
func (o *Optimizer) NewBatch() { o.contributed, o.pending = 0, false }

// NewExample starts a new example. The example counts towards the batch
// mean only once it accumulates into this optimizer.
func (o *Optimizer) NewExample() { o.pending = true }

// Contributed returns the number of examples accumulated since the last
// NewBatch or Update.
func (o *Optimizer) Contributed() int { return o.contributed }

// Accumulate adds the target's current gradients to the batch sum.
func (o *Optimizer) Accumulate() error {
	if err := o.accumulate(); err != nil {
		return err
	}
	if o.pending {
		o.contributed++
		o.pending = false
	}
	return nil
}

func (o *Optimizer) accumulate() error {
	grads := o.target.ParamErrors()
	if len(grads) != len(o.accum) {
		return fmt.Errorf("optim: %d gradient blocks for %d params", len(grads), len(o.accum))
	}
	if sp, ok := o.target.(Sparse); ok {
		rows, width := sp.TouchedRows()
		for i, g := range grads {
			acc := o.accum[i]
			for _, r := range rows {
				lo, hi := r*width, (r+1)*width
				if hi > len(g) || hi > len(acc) {
					return fmt.Errorf("optim: row %d outside gradient block %d", r, i)
				}
				for j := lo; j < hi; j++ {
					acc[j] += g[j]
				}
			}
		}
		return nil
	}
	for i, g := range grads {
		acc := o.accum[i]
		if len(g) != len(acc) {
			return fmt.Errorf("optim: gradient block %d has %d values, want %d", i, len(g), len(acc))
		}
		for j, v := range g {
			acc[j] += v
		}
	}
	return nil
}

// LearningRate returns the decayed learning rate for the current epoch.
func (o *Optimizer) LearningRate() float32 {
	e := o.epoch - 1
	if e < 0 {
		e = 0
	}
	return o.cfg.LearningRate / (1 + o.cfg.Decay*float32(e))
}

// Update applies the mean accumulated gradient and clears the sum. It is a
// no-op when no example accumulated since the last NewBatch.
func (o *Optimizer) Update() {
	if o.contributed == 0 {
		return
	}
	scale := 1 / float32(o.contributed)
	lr := o.LearningRate()
	params := o.target.Params()

	o.steps++
	switch o.cfg.Kind {
	case AdamW:
		o.stepAdamW(params, lr, scale)
	default:
		o.stepSGD(params, lr, scale)
	}

	for _, acc := range o.accum {
		clear(acc)
	}
	o.contributed = 0
}

func (o *Optimizer) stepSGD(params []Param, lr, scale float32) {
	for i, p := range params {
		acc := o.accum[i]
		if o.velocity == nil {
			for j := range p.Value {
				p.Value[j] -= lr * acc[j] * scale
			}
			continue
		}
		vel := o.velocity[i]
		for j := range p.Value {
			vel[j] = o.cfg.Momentum*vel[j] + acc[j]*scale
			p.Value[j] -= lr * vel[j]
		}
	}
}

func (o *Optimizer) stepAdamW(params []Param, lr, scale float32) {
	b1, b2 := o.cfg.Beta1, o.cfg.Beta2
	corr1 := 1 - float32(math.Pow(float64(b1), float64(o.steps)))
	corr2 := 1 - float32(math.Pow(float64(b2), float64(o.steps)))

	for i, p := range params {
		acc, m, v := o.accum[i], o.m[i], o.v[i]
		for j := range p.Value {
			g := acc[j] * scale
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			mHat := m[j] / corr1
			vHat := v[j] / corr2
			p.Value[j] -= lr * (mHat/(float32(math.Sqrt(float64(vHat)))+o.cfg.Epsilon) + o.cfg.WeightDecay*p.Value[j])
		}
	}
}

// Tree is an optimizer tree mirroring a head tree.
type Tree = tree.Node[*Optimizer]

// NewTree builds one optimizer per node of heads.
func NewTree[H Parametric](heads *tree.Node[H], cfg Config) *Tree {
	return tree.Mirror(heads, func(n *tree.Node[H], _, _ int) *Optimizer {
		return New(n.Value, cfg)
	})
}

// Each calls fn for every optimizer of t in pre-order.
func Each(t *Tree, fn func(*Optimizer)) {
	t.Walk(func(n *Tree, _ int) { fn(n.Value) })
}

package head

import "github.com/crimson-sun/canopy/internal/model"

// instance holds the attention state of one sentence between a head's
// forward and backward pass. Instances are not reentrant: a forward must be
// followed by its backward before the instance is handed out again.
type instance struct {
	x     model.Sentence
	h     [][]float32 // cell output per token (aliases x without a cell)
	u     [][]float32 // attention hidden per token
	alpha []float32
	s     []float32

	scores []float32
	dh     []float32
	da     []float32
	dc     []float32
}

func (in *instance) reset(tokens, dim, width int, cell bool) {
	in.h = resizeRows(in.h, tokens, dim, cell)
	in.u = resizeRows(in.u, tokens, width, true)
	in.alpha = resize(in.alpha, tokens)
	in.scores = resize(in.scores, tokens)
	in.s = resize(in.s, dim)
	in.dh = resize(in.dh, dim)
	in.da = resize(in.da, width)
	in.dc = resize(in.dc, dim)
}

// resizeRows returns a [rows][cols] buffer. When alloc is false the rows are
// left nil for the caller to alias.
func resizeRows(buf [][]float32, rows, cols int, alloc bool) [][]float32 {
	if cap(buf) < rows {
		grown := make([][]float32, rows)
		copy(grown, buf[:cap(buf)])
		buf = grown
	}
	buf = buf[:rows]
	for i := range buf {
		if alloc {
			buf[i] = resize(buf[i], cols)
		} else {
			buf[i] = nil
		}
	}
	return buf
}

// Pool hands out sentence instances and takes all of them back at once.
// Release everything before starting the next example; instances must never
// be held across a release.
type Pool struct {
	items []*instance
	next  int
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

func (p *Pool) acquire() *instance {
	if p.next == len(p.items) {
		p.items = append(p.items, &instance{})
	}
	in := p.items[p.next]
	p.next++
	return in
}

// ReleaseAll marks every issued instance as free for reuse.
func (p *Pool) ReleaseAll() {
	p.next = 0
}

// InUse returns the number of instances issued since the last release.
func (p *Pool) InUse() int { return p.next }

// Allocated returns the number of instances the pool has created.
func (p *Pool) Allocated() int { return len(p.items) }

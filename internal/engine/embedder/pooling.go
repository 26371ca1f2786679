package embedder

// meanPool averages the first lengths[b] token states of every sequence in
// a flat [batchSize * seqLen * dim] hidden-state tensor. Sequences are
// left-aligned, so real tokens occupy positions 0..lengths[b]-1.
//
// Returns flat [batchSize * dim], one pooled vector per sequence.
func meanPool(hidden []float32, lengths []int64, seqLen, dim int64) []float32 {
	batchSize := int64(len(lengths))
	out := make([]float32, batchSize*dim)

	for b, n := range lengths {
		if n == 0 {
			continue
		}
		dst := out[int64(b)*dim : int64(b+1)*dim]
		base := int64(b) * seqLen * dim
		for s := int64(0); s < n; s++ {
			tok := hidden[base+s*dim : base+(s+1)*dim]
			for d, v := range tok {
				dst[d] += v
			}
		}
		inv := 1 / float32(n)
		for d := range dst {
			dst[d] *= inv
		}
	}
	return out
}

// tokenStates slices the per-token states of sequence b out of a flat
// hidden-state tensor, copying so the result outlives the tensor.
func tokenStates(hidden []float32, b, n, seqLen, dim int64) [][]float32 {
	base := b * seqLen * dim
	out := make([][]float32, n)
	for s := int64(0); s < n; s++ {
		tok := make([]float32, dim)
		copy(tok, hidden[base+s*dim:base+(s+1)*dim])
		out[s] = tok
	}
	return out
}

package head

import "math"

// softmax returns the normalized exponentials of logits, shifted by the
// maximum logit for stability.
func softmax(logits []float32, out []float32) []float32 {
	out = resize(out, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float32
	for i, v := range logits {
		out[i] = float32(math.Exp(float64(v - maxLogit)))
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value; ties resolve to the lowest
// index. It returns -1 for an empty slice.
func Argmax(v []float32) int {
	best := -1
	for i, x := range v {
		if best < 0 || x > v[best] {
			best = i
		}
	}
	return best
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// matVec computes out = W x + b for a row-major W of shape [len(b), len(x)].
func matVec(w, x, b, out []float32) []float32 {
	rows, cols := len(b), len(x)
	out = resize(out, rows)
	for r := 0; r < rows; r++ {
		row := w[r*cols : (r+1)*cols]
		sum := b[r]
		for c, wv := range row {
			sum += wv * x[c]
		}
		out[r] = sum
	}
	return out
}

// resize returns buf with length n and zeroed contents, reusing capacity.
func resize(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}

package model

// Sentence is the per-token encoding of one sentence.
type Sentence [][]float32

// Document is the per-sentence, per-token encoding of an example. The same
// shape carries token errors during training.
type Document []Sentence

// ZerosLike returns a document of the same shape filled with zeros.
func (d Document) ZerosLike() Document {
	out := make(Document, len(d))
	for i, s := range d {
		out[i] = make(Sentence, len(s))
		for j, tok := range s {
			out[i][j] = make([]float32, len(tok))
		}
	}
	return out
}

// AddInPlace adds other into d element-wise. Both must share a shape.
func (d Document) AddInPlace(other Document) {
	for i, s := range other {
		for j, tok := range s {
			dst := d[i][j]
			for k, v := range tok {
				dst[k] += v
			}
		}
	}
}

// Tokens returns the number of token vectors in the document.
func (d Document) Tokens() int {
	n := 0
	for _, s := range d {
		n += len(s)
	}
	return n
}

package embedder

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/crimson-sun/canopy/internal/engine/optim"
	"github.com/crimson-sun/canopy/internal/model"
)

// UnknownToken takes row 0 of every vocabulary.
const UnknownToken = "<unk>"

// Vocabulary maps normalized tokens to embedding rows.
type Vocabulary struct {
	tokens []string
	index  map[string]int
}

// BuildVocabulary collects every normalized token that occurs at least
// minCount times, sorted by descending frequency then lexically.
func BuildVocabulary(examples []model.Example, minCount int) *Vocabulary {
	counts := make(map[string]int)
	for _, ex := range examples {
		for _, sent := range ex.Text {
			for _, tok := range sent {
				counts[Normalize(tok)]++
			}
		}
	}
	kept := make([]string, 0, len(counts))
	for tok, n := range counts {
		if n >= minCount && tok != UnknownToken {
			kept = append(kept, tok)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if counts[kept[i]] != counts[kept[j]] {
			return counts[kept[i]] > counts[kept[j]]
		}
		return kept[i] < kept[j]
	})
	return NewVocabulary(kept)
}

// NewVocabulary builds a vocabulary from tokens in row order, after the
// unknown token.
func NewVocabulary(tokens []string) *Vocabulary {
	v := &Vocabulary{
		tokens: append([]string{UnknownToken}, tokens...),
		index:  make(map[string]int, len(tokens)+1),
	}
	for i, tok := range v.tokens {
		v.index[tok] = i
	}
	return v
}

// Lookup returns the row of a raw token, or 0 if it is unknown.
func (v *Vocabulary) Lookup(token string) int {
	return v.index[Normalize(token)]
}

// Len returns the number of rows, the unknown token included.
func (v *Vocabulary) Len() int { return len(v.tokens) }

// MarshalJSON encodes the vocabulary as its token list.
func (v *Vocabulary) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.tokens[1:])
}

// UnmarshalJSON restores a vocabulary from its token list.
func (v *Vocabulary) UnmarshalJSON(data []byte) error {
	var tokens []string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("vocabulary: %w", err)
	}
	*v = *NewVocabulary(tokens)
	return nil
}

// Table is a trainable embedding table. It is not reentrant: Backward
// applies to the most recent Encode.
type Table struct {
	vocab   *Vocabulary
	dim     int
	weights []float32
	grads   []float32

	lastIDs [][]int
	touched []int
}

// NewTable creates a table with uniformly initialized rows in [-0.1, 0.1].
func NewTable(vocab *Vocabulary, dim int, seed uint64) (*Table, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedder: table dim must be positive, got %d", dim)
	}
	t := &Table{
		vocab:   vocab,
		dim:     dim,
		weights: make([]float32, vocab.Len()*dim),
		grads:   make([]float32, vocab.Len()*dim),
	}
	rng := rand.New(rand.NewPCG(seed, uint64(dim)))
	for i := range t.weights {
		t.weights[i] = float32(rng.Float64()*0.2 - 0.1)
	}
	return t, nil
}

// Dim returns the size of each token vector.
func (t *Table) Dim() int { return t.dim }

// Vocabulary returns the table's vocabulary.
func (t *Table) Vocabulary() *Vocabulary { return t.vocab }

// Encode looks up every token, copying rows so callers may not alias the
// table.
func (t *Table) Encode(text [][]string) (model.Document, error) {
	doc := make(model.Document, len(text))
	t.lastIDs = t.lastIDs[:0]
	for i, sent := range text {
		ids := make([]int, len(sent))
		doc[i] = make(model.Sentence, len(sent))
		for j, tok := range sent {
			id := t.vocab.Lookup(tok)
			ids[j] = id
			row := make([]float32, t.dim)
			copy(row, t.weights[id*t.dim:(id+1)*t.dim])
			doc[i][j] = row
		}
		t.lastIDs = append(t.lastIDs, ids)
	}
	return doc, nil
}

// Backward sums token errors into the rows used by the last Encode.
func (t *Table) Backward(errs model.Document) error {
	if len(errs) != len(t.lastIDs) {
		return fmt.Errorf("embedder: %d sentence errors for %d sentences", len(errs), len(t.lastIDs))
	}
	for _, row := range t.touched {
		clear(t.grads[row*t.dim : (row+1)*t.dim])
	}
	t.touched = t.touched[:0]

	seen := make(map[int]bool)
	for i, sent := range errs {
		if len(sent) != len(t.lastIDs[i]) {
			return fmt.Errorf("embedder: sentence %d has %d token errors for %d tokens", i, len(sent), len(t.lastIDs[i]))
		}
		for j, e := range sent {
			id := t.lastIDs[i][j]
			g := t.grads[id*t.dim : (id+1)*t.dim]
			for k, v := range e {
				g[k] += v
			}
			if !seen[id] {
				seen[id] = true
				t.touched = append(t.touched, id)
			}
		}
	}
	return nil
}

// Params returns the table as a single parameter block.
func (t *Table) Params() []optim.Param {
	return []optim.Param{{Name: "embeddings", Value: t.weights}}
}

// ParamErrors returns the gradients of the last Backward.
func (t *Table) ParamErrors() [][]float32 {
	return [][]float32{t.grads}
}

// TouchedRows lists the rows with non-zero gradients after the last
// Backward.
func (t *Table) TouchedRows() ([]int, int) {
	return t.touched, t.dim
}

// Close is a no-op.
func (t *Table) Close() error { return nil }

type tableState struct {
	Dim     int         `json:"dim"`
	Vocab   *Vocabulary `json:"vocab"`
	Weights []float32   `json:"weights"`
}

// MarshalJSON encodes the vocabulary and weights.
func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(tableState{Dim: t.dim, Vocab: t.vocab, Weights: t.weights})
}

// UnmarshalJSON restores a table written by MarshalJSON.
func (t *Table) UnmarshalJSON(data []byte) error {
	var st tableState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("embedder: table: %w", err)
	}
	if st.Vocab == nil || len(st.Weights) != st.Vocab.Len()*st.Dim {
		return fmt.Errorf("embedder: table: weights do not match vocabulary and dim")
	}
	*t = Table{
		vocab:   st.Vocab,
		dim:     st.Dim,
		weights: st.Weights,
		grads:   make([]float32, len(st.Weights)),
	}
	return nil
}

package embedder

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSeqLen = 128

// tokenized holds a batch of WordPiece sequences ready for ONNX inference.
// All id slices are flat [batchSize * seqLen]; lengths counts the real
// (non-padding) positions of each sequence, [CLS] and [SEP] included.
type tokenized struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
	lengths       []int64
	batchSize     int64
	seqLen        int64
}

// tokenizer performs BERT-style WordPiece tokenization over sentences that
// are already split into words.
type tokenizer struct {
	vocab *vocab
}

// newTokenizer creates a tokenizer from a vocab.txt file.
func newTokenizer(vocabPath string) (*tokenizer, error) {
	v, err := loadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	return &tokenizer{vocab: v}, nil
}

// sentenceIDs converts one sentence into [CLS] wordpieces... [SEP],
// truncated to maxSeqLen.
func (t *tokenizer) sentenceIDs(words []string) []int64 {
	var pieces []string
	for _, w := range words {
		for _, basic := range basicTokenize(w) {
			pieces = append(pieces, t.wordpieceToken(basic)...)
		}
	}
	if len(pieces) > maxSeqLen-2 {
		pieces = pieces[:maxSeqLen-2]
	}

	ids := make([]int64, 0, len(pieces)+2)
	ids = append(ids, t.vocab.clsID)
	for _, p := range pieces {
		ids = append(ids, t.vocab.lookup(p))
	}
	return append(ids, t.vocab.sepID)
}

// tokenizeSentences packs every sentence of a document into one batch,
// padded to the longest sequence.
func (t *tokenizer) tokenizeSentences(sentences [][]string) tokenized {
	n := len(sentences)
	if n == 0 {
		return tokenized{}
	}

	seqs := make([][]int64, n)
	lengths := make([]int64, n)
	var seqLen int64
	for i, words := range sentences {
		seqs[i] = t.sentenceIDs(words)
		lengths[i] = int64(len(seqs[i]))
		if lengths[i] > seqLen {
			seqLen = lengths[i]
		}
	}

	batchSize := int64(n)
	total := batchSize * seqLen
	out := tokenized{
		inputIDs:      make([]int64, total),
		attentionMask: make([]int64, total),
		tokenTypeIDs:  make([]int64, total),
		lengths:       lengths,
		batchSize:     batchSize,
		seqLen:        seqLen,
	}
	for i, ids := range seqs {
		off := int64(i) * seqLen
		copy(out.inputIDs[off:], ids)
		for j := range ids {
			out.attentionMask[off+int64(j)] = 1
		}
	}
	return out
}

// wordpieceToken decomposes a single basic token into WordPiece subwords by
// greedy longest match.
func (t *tokenizer) wordpieceToken(token string) []string {
	runes := []rune(token)
	if len(runes) > 200 {
		return []string{"[UNK]"}
	}

	var sub []string
	for start := 0; start < len(runes); {
		end := len(runes)
		match := ""
		for ; end > start; end-- {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if t.vocab.contains(piece) {
				match = piece
				break
			}
		}
		if match == "" {
			return []string{"[UNK]"}
		}
		sub = append(sub, match)
		start = end
	}
	return sub
}

// basicTokenize applies BERT's BasicTokenizer to one word: clean, lowercase,
// strip accents, isolate CJK characters, split on punctuation.
func basicTokenize(word string) []string {
	text := Normalize(word)

	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case isWhitespace(r):
			flush()
		case isPunctuation(r) || isChineseChar(r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// Normalize lowercases a token, drops control characters, and strips
// combining marks after NFD decomposition.
func Normalize(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range norm.NFD.String(strings.ToLower(token)) {
		switch {
		case r == 0 || r == 0xFFFD || isControl(r):
			continue
		case unicode.In(r, unicode.Mn):
			continue
		case isWhitespace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Character classification helpers, matching BERT's reference tokenizer.

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

func isPunctuation(r rune) bool {
	// ASCII 33-47, 58-64, 91-96, 123-126 count as punctuation even where
	// Unicode disagrees (e.g. "$", "^").
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isChineseChar(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

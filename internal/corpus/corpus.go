// Package corpus reads labeled NDJSON corpora and assembles them into a
// validated dataset.
package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/crimson-sun/canopy/internal/model"
)

// ErrMalformed is returned for corpus lines that miss a required field or
// carry an invalid class index.
var ErrMalformed = errors.New("malformed corpus line")

const maxLineSize = 16 * 1024 * 1024

// line is the on-disk shape of one corpus entry. Class is the legacy
// single-level field, 1-indexed.
type line struct {
	Text    [][]string `json:"text"`
	Classes []int      `json:"classes"`
	Class   *int       `json:"class"`
}

// ReadFile reads every example from an NDJSON corpus file.
func ReadFile(path string) ([]model.Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	defer f.Close()

	examples, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("corpus: %s: %w", path, err)
	}
	return examples, nil
}

// Read parses NDJSON examples from r. Blank lines are skipped.
func Read(r io.Reader) ([]model.Example, error) {
	var examples []model.Example

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		n++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		ex, err := ParseLine(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	return examples, nil
}

// ParseLine decodes one corpus line in either the current or the legacy
// single-level format.
func ParseLine(raw []byte) (model.Example, error) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return model.Example{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if l.Text == nil {
		return model.Example{}, fmt.Errorf("%w: missing \"text\"", ErrMalformed)
	}

	var classes []int
	switch {
	case l.Classes != nil:
		classes = l.Classes
	case l.Class != nil:
		if *l.Class < 1 {
			return model.Example{}, fmt.Errorf("%w: legacy class %d must be >= 1", ErrMalformed, *l.Class)
		}
		classes = []int{*l.Class - 1}
	default:
		return model.Example{}, fmt.Errorf("%w: missing \"classes\"", ErrMalformed)
	}
	if len(classes) == 0 {
		return model.Example{}, fmt.Errorf("%w: empty class path", ErrMalformed)
	}
	for _, c := range classes {
		if c < 0 {
			return model.Example{}, fmt.Errorf("%w: negative class index %d", ErrMalformed, c)
		}
	}

	return model.Example{Text: l.Text, Classes: classes}, nil
}

// Write encodes examples as NDJSON in the current format.
func Write(w io.Writer, examples []model.Example) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, ex := range examples {
		if err := enc.Encode(ex); err != nil {
			return fmt.Errorf("corpus: write: %w", err)
		}
	}
	return bw.Flush()
}

// Convert rewrites a corpus in either format into the current format.
func Convert(r io.Reader, w io.Writer) (int, error) {
	examples, err := Read(r)
	if err != nil {
		return 0, fmt.Errorf("corpus: %w", err)
	}
	if err := Write(w, examples); err != nil {
		return 0, err
	}
	return len(examples), nil
}

// Paths returns the gold path of every example.
func Paths(examples []model.Example) [][]int {
	paths := make([][]int, len(examples))
	for i, ex := range examples {
		paths[i] = ex.Classes
	}
	return paths
}

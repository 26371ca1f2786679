// Package testdata embeds a small labelled news corpus used to exercise the
// classifier end to end.
package testdata

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/crimson-sun/canopy/internal/corpus"
	"github.com/crimson-sun/canopy/internal/hierarchy"
	"github.com/crimson-sun/canopy/internal/model"
)

//go:embed sample.ndjson
var sampleNDJSON []byte

//go:embed labels.json
var labelsJSON []byte

// LoadSample parses the embedded corpus.
func LoadSample() ([]model.Example, error) {
	examples, err := corpus.Read(bytes.NewReader(sampleNDJSON))
	if err != nil {
		return nil, fmt.Errorf("parse sample.ndjson: %w", err)
	}
	return examples, nil
}

// Labels returns the label tree of the embedded corpus.
func Labels() (*hierarchy.Labels, error) {
	var l hierarchy.Labels
	if err := json.Unmarshal(labelsJSON, &l); err != nil {
		return nil, fmt.Errorf("parse labels.json: %w", err)
	}
	return &l, nil
}

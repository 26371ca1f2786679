// Package classifier builds the tree of classification heads that mirrors a
// class hierarchy and runs top-down inference over it.
package classifier

import (
	"errors"
	"fmt"

	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/engine/head"
	"github.com/crimson-sun/canopy/internal/hierarchy"
	"github.com/crimson-sun/canopy/internal/model"
	"github.com/crimson-sun/canopy/internal/tree"
)

// ErrNoSuchNode is returned when a class path leads to a node the model does
// not have. It means the model and the data disagree on the hierarchy.
var ErrNoSuchNode = errors.New("no such hierarchy node")

// Tree is a head tree. Every non-root head has one extra output unit, the
// stop index, as its last unit.
type Tree = tree.Node[*head.Head]

// Model is a trained or trainable hierarchical classifier.
type Model struct {
	Heads      *Tree
	InputSize  int
	HeadConfig head.Config

	// Embeddings is the trainable token encoder, nil when tokens are
	// encoded by a pretrained model.
	Embeddings *embedder.Table
}

// Build creates one head per hierarchy node: width k at the root and k+1
// below it.
func Build(h *hierarchy.Hierarchy, inputSize int, cfg head.Config) (*Model, error) {
	var buildErr error
	heads := tree.Mirror(h, func(n *hierarchy.Hierarchy, level, ordinal int) *head.Head {
		if buildErr != nil {
			return nil
		}
		width := n.Width()
		if width == 0 {
			buildErr = fmt.Errorf("classifier: node %d has no classes", ordinal)
			return nil
		}
		if level > 0 {
			width++
		}
		hd, err := head.New(cfg, inputSize, width, uint64(ordinal))
		if err != nil {
			buildErr = fmt.Errorf("classifier: node %d: %w", ordinal, err)
			return nil
		}
		return hd
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return &Model{Heads: heads, InputSize: inputSize, HeadConfig: cfg}, nil
}

// Hierarchy returns the class hierarchy the model was built from.
func (m *Model) Hierarchy() *hierarchy.Hierarchy {
	return tree.Mirror(m.Heads, func(*Tree, int, int) struct{} { return struct{}{} })
}

// StopIndex returns the stop unit of a non-root head.
func StopIndex(hd *head.Head) int {
	return hd.Width() - 1
}

// SetTraining toggles dropout on every head.
func (m *Model) SetTraining(on bool) {
	m.Heads.Walk(func(n *Tree, _ int) { n.Value.SetTraining(on) })
}

// Classify runs top-down inference and returns one distribution per visited
// level. It descends into the argmax class until that class is a leaf or,
// below the root, until the stop index wins.
func (m *Model) Classify(doc model.Document, pool *head.Pool) ([][]float32, error) {
	var out [][]float32
	node := m.Heads
	for level := 0; ; level++ {
		p, err := node.Value.Forward(doc, pool)
		if err != nil {
			return nil, fmt.Errorf("classifier: level %d: %w", level, err)
		}
		out = append(out, p)

		predicted := head.Argmax(p)
		if level > 0 && predicted == len(p)-1 {
			return out, nil
		}
		child, ok := node.Child(predicted)
		if !ok {
			return nil, fmt.Errorf("classifier: level %d class %d: %w", level, predicted, ErrNoSuchNode)
		}
		if child == nil {
			return out, nil
		}
		node = child
	}
}

// Path reduces per-level distributions to predicted classes, dropping a
// trailing stop index.
func Path(dists [][]float32) []int {
	path := make([]int, 0, len(dists))
	for level, p := range dists {
		c := head.Argmax(p)
		if level > 0 && c == len(p)-1 {
			break
		}
		path = append(path, c)
	}
	return path
}

// ExpectedPath returns the gold path a head tree is trained and scored
// against: gold itself, plus the stop index of the node gold ends at when
// that node still has children.
func (m *Model) ExpectedPath(gold []int) ([]int, error) {
	node := m.Heads
	for i, c := range gold {
		if node == nil {
			return nil, fmt.Errorf("classifier: path %v continues past a leaf at level %d: %w", gold, i, ErrNoSuchNode)
		}
		child, ok := node.Child(c)
		if !ok {
			return nil, fmt.Errorf("classifier: path %v has unknown class %d at level %d: %w", gold, c, i, ErrNoSuchNode)
		}
		node = child
	}
	expected := make([]int, len(gold), len(gold)+1)
	copy(expected, gold)
	if node != nil && len(gold) > 0 {
		expected = append(expected, StopIndex(node.Value))
	}
	return expected, nil
}

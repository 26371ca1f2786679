// Package hierarchy describes the class tree a classifier predicts into and
// the optional display labels attached to it.
package hierarchy

import (
	"errors"
	"fmt"

	"github.com/crimson-sun/canopy/internal/tree"
)

var (
	// ErrIncomplete is returned when a node's class indices are not 0..n-1.
	ErrIncomplete = errors.New("hierarchy is incomplete")
	// ErrIncompatible is returned when a hierarchy references classes that
	// the reference hierarchy does not have.
	ErrIncompatible = errors.New("hierarchy is incompatible")
)

// Hierarchy is a class tree without payload. A nil child is a leaf class.
type Hierarchy = tree.Node[struct{}]

// New returns a hierarchy node without classes.
func New() *Hierarchy {
	return tree.New(struct{}{})
}

// Flat returns a single-level hierarchy with n leaf classes.
func Flat(n int) *Hierarchy {
	h := New()
	for i := 0; i < n; i++ {
		h.Children[i] = nil
	}
	return h
}

// Derive builds the smallest hierarchy containing every gold path. With
// autoComplete, each node's classes are filled to 0..max so that indices
// never seen in the data become leaf placeholders.
func Derive(paths [][]int, autoComplete bool) *Hierarchy {
	root := New()
	for _, path := range paths {
		insert(root, path)
	}
	if autoComplete {
		complete(root)
	}
	return root
}

func insert(node *Hierarchy, path []int) {
	for depth, class := range path {
		child, ok := node.Children[class]
		last := depth == len(path)-1
		if last {
			if !ok {
				node.Children[class] = nil
			}
			return
		}
		if child == nil {
			child = New()
			node.Children[class] = child
		}
		node = child
	}
}

func complete(node *Hierarchy) {
	if node == nil {
		return
	}
	highest := -1
	for i := range node.Children {
		if i > highest {
			highest = i
		}
	}
	for i := 0; i <= highest; i++ {
		if _, ok := node.Children[i]; !ok {
			node.Children[i] = nil
		}
	}
	for _, c := range node.Children {
		complete(c)
	}
}

// Validate returns ErrIncomplete if any node has a gap in its class indices.
func Validate(h *Hierarchy) error {
	if !h.IsComplete() {
		return ErrIncomplete
	}
	return nil
}

// CheckCompatible returns ErrIncompatible, annotated with name, when sub
// references classes missing from ref.
func CheckCompatible(name string, sub, ref *Hierarchy) error {
	if !tree.Compatible(sub, ref) {
		return fmt.Errorf("%s: %w", name, ErrIncompatible)
	}
	return nil
}

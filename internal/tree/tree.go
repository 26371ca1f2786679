// Package tree provides the labeled tree shared by class hierarchies, head
// trees, and optimizer trees. Every node maps a class index to an optional
// child; a nil child marks a leaf class.
package tree

import "sort"

// Node is one level of a labeled tree carrying a payload of type T.
type Node[T any] struct {
	Value    T                `json:"value"`
	Children map[int]*Node[T] `json:"children"`
}

// New returns an empty node with the given payload.
func New[T any](value T) *Node[T] {
	return &Node[T]{Value: value, Children: make(map[int]*Node[T])}
}

// Width returns the number of classes at this node.
func (n *Node[T]) Width() int {
	return len(n.Children)
}

// Child returns the child at index i. ok is false when the index is not a
// class of this node; a leaf class yields (nil, true).
func (n *Node[T]) Child(i int) (child *Node[T], ok bool) {
	child, ok = n.Children[i]
	return child, ok
}

// Indices returns the class indices of this node in ascending order.
func (n *Node[T]) Indices() []int {
	idx := make([]int, 0, len(n.Children))
	for i := range n.Children {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Depth returns 1 + the maximum child depth, or 0 for a node without classes.
func (n *Node[T]) Depth() int {
	if n == nil || len(n.Children) == 0 {
		return 0
	}
	deepest := 0
	for _, c := range n.Children {
		if d := c.Depth(); d > deepest {
			deepest = d
		}
	}
	return 1 + deepest
}

// IsComplete reports whether every node's class indices form 0..n-1.
func (n *Node[T]) IsComplete() bool {
	if n == nil {
		return true
	}
	for i := 0; i < len(n.Children); i++ {
		if _, ok := n.Children[i]; !ok {
			return false
		}
	}
	for _, c := range n.Children {
		if !c.IsComplete() {
			return false
		}
	}
	return true
}

// Walk visits every node in pre-order with ascending class index. level is 0
// at the receiver.
func (n *Node[T]) Walk(fn func(node *Node[T], level int)) {
	n.walk(fn, 0)
}

func (n *Node[T]) walk(fn func(*Node[T], int), level int) {
	if n == nil {
		return
	}
	fn(n, level)
	for _, i := range n.Indices() {
		n.Children[i].walk(fn, level+1)
	}
}

// Len returns the number of nodes in the tree.
func (n *Node[T]) Len() int {
	count := 0
	n.Walk(func(*Node[T], int) { count++ })
	return count
}

// Mirror builds a tree of the same shape as src whose payloads are produced
// by fn. fn is called in pre-order; ordinal counts the nodes visited so far.
func Mirror[S, T any](src *Node[S], fn func(node *Node[S], level, ordinal int) T) *Node[T] {
	ordinal := 0
	return mirror(src, fn, 0, &ordinal)
}

func mirror[S, T any](src *Node[S], fn func(*Node[S], int, int) T, level int, ordinal *int) *Node[T] {
	if src == nil {
		return nil
	}
	out := New(fn(src, level, *ordinal))
	*ordinal++
	for _, i := range src.Indices() {
		out.Children[i] = mirror(src.Children[i], fn, level+1, ordinal)
	}
	return out
}

// Compatible reports whether every class of a exists in b with the same
// structure: a child in a needs a compatible child in b, a leaf in a needs a
// leaf in b. b may carry additional classes.
func Compatible[A, B any](a *Node[A], b *Node[B]) bool {
	if a == nil {
		return b == nil
	}
	if b == nil {
		return false
	}
	for i, ac := range a.Children {
		bc, ok := b.Children[i]
		if !ok {
			return false
		}
		if (ac == nil) != (bc == nil) {
			return false
		}
		if ac != nil && !Compatible(ac, bc) {
			return false
		}
	}
	return true
}

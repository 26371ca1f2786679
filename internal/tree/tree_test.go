package tree

import "testing"

// build returns {0: {0: nil, 1: nil}, 1: nil}.
func build() *Node[string] {
	root := New("root")
	sub := New("sub")
	sub.Children[0] = nil
	sub.Children[1] = nil
	root.Children[0] = sub
	root.Children[1] = nil
	return root
}

func TestDepth(t *testing.T) {
	if d := New(0).Depth(); d != 0 {
		t.Errorf("empty Depth() = %d, want 0", d)
	}
	if d := build().Depth(); d != 2 {
		t.Errorf("Depth() = %d, want 2", d)
	}
}

func TestIsComplete(t *testing.T) {
	root := build()
	if !root.IsComplete() {
		t.Fatal("expected complete tree")
	}
	root.Children[0].Children[3] = nil
	if root.IsComplete() {
		t.Fatal("expected gap at nested node to be detected")
	}
}

func TestWalkOrder(t *testing.T) {
	var names []string
	var levels []int
	build().Walk(func(n *Node[string], level int) {
		names = append(names, n.Value)
		levels = append(levels, level)
	})
	if len(names) != 2 || names[0] != "root" || names[1] != "sub" {
		t.Fatalf("Walk visited %v, want [root sub]", names)
	}
	if levels[0] != 0 || levels[1] != 1 {
		t.Errorf("levels = %v, want [0 1]", levels)
	}
}

func TestMirrorKeepsShape(t *testing.T) {
	src := build()
	out := Mirror(src, func(n *Node[string], level, ordinal int) int {
		return n.Width()*10 + ordinal
	})
	if out.Value != 20 {
		t.Errorf("root payload = %d, want 20", out.Value)
	}
	if out.Children[0].Value != 21 {
		t.Errorf("child payload = %d, want 21", out.Children[0].Value)
	}
	if c, ok := out.Child(1); !ok || c != nil {
		t.Errorf("Child(1) = %v, %v; want nil leaf", c, ok)
	}
	if !Compatible(src, out) || !Compatible(out, src) {
		t.Error("mirrored tree should be compatible both ways")
	}
}

func TestCompatible(t *testing.T) {
	full := build()

	small := New("")
	small.Children[1] = nil
	if !Compatible(small, full) {
		t.Error("subset should be compatible with superset")
	}
	if Compatible(full, small) {
		t.Error("superset should not be compatible with subset")
	}

	leafWhereChild := New("")
	leafWhereChild.Children[0] = nil
	if Compatible(leafWhereChild, full) {
		t.Error("leaf in a requires leaf in b")
	}

	if !Compatible(full, full) {
		t.Error("compatibility should be reflexive")
	}
}

func TestLen(t *testing.T) {
	if n := build().Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
}

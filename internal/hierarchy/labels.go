package hierarchy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrLabelsMismatch is returned when a label tree does not mirror the class
// hierarchy it is meant to describe.
var ErrLabelsMismatch = errors.New("labels do not match hierarchy")

// Labels holds display names for the classes of one hierarchy node, plus one
// optional sub-tree per class.
type Labels struct {
	Names     []string  `json:"labels"`
	Sublevels []*Labels `json:"sublevels,omitempty"`
}

// LoadLabels reads a labels configuration file.
func LoadLabels(path string) (*Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	var l Labels
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("labels: parse %s: %w", path, err)
	}
	return &l, nil
}

// sublevel returns the label tree under class i, or nil for a leaf.
func (l *Labels) sublevel(i int) *Labels {
	if i < len(l.Sublevels) {
		return l.Sublevels[i]
	}
	return nil
}

// Hierarchy returns the class hierarchy described by the label tree.
func (l *Labels) Hierarchy() *Hierarchy {
	h := New()
	for i := range l.Names {
		if sub := l.sublevel(i); sub != nil {
			h.Children[i] = sub.Hierarchy()
		} else {
			h.Children[i] = nil
		}
	}
	return h
}

// Check verifies that every node has one label per class and that a
// sublevel exists exactly where the hierarchy has a child.
func (l *Labels) Check(h *Hierarchy) error {
	if err := l.check(h, "root"); err != nil {
		return fmt.Errorf("%w: %v", ErrLabelsMismatch, err)
	}
	return nil
}

func (l *Labels) check(h *Hierarchy, at string) error {
	if len(l.Names) != h.Width() {
		return fmt.Errorf("%s: %d labels for %d classes", at, len(l.Names), h.Width())
	}
	if len(l.Sublevels) != 0 && len(l.Sublevels) != len(l.Names) {
		return fmt.Errorf("%s: %d sublevels for %d labels", at, len(l.Sublevels), len(l.Names))
	}
	for i := range l.Names {
		child := h.Children[i]
		sub := l.sublevel(i)
		switch {
		case child == nil && sub != nil:
			return fmt.Errorf("%s.%s: sublevel given for a leaf class", at, l.Names[i])
		case child != nil && sub == nil:
			return fmt.Errorf("%s.%s: missing sublevel", at, l.Names[i])
		case child != nil:
			if err := sub.check(child, at+"."+l.Names[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Render joins the labels along an index path with dots, e.g.
// "sports.football". Indices without a label render as their number.
func (l *Labels) Render(path []int) string {
	parts := make([]string, 0, len(path))
	cur := l
	for _, i := range path {
		if cur == nil || i < 0 || i >= len(cur.Names) {
			parts = append(parts, fmt.Sprint(i))
			cur = nil
			continue
		}
		parts = append(parts, cur.Names[i])
		cur = cur.sublevel(i)
	}
	return strings.Join(parts, ".")
}

// RenderIndices formats an index path without labels, e.g. "0.2.1".
func RenderIndices(path []int) string {
	parts := make([]string, len(path))
	for i, c := range path {
		parts[i] = fmt.Sprint(c)
	}
	return strings.Join(parts, ".")
}

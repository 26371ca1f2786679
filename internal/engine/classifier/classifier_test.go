package classifier

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crimson-sun/canopy/internal/engine/head"
	"github.com/crimson-sun/canopy/internal/hierarchy"
	"github.com/crimson-sun/canopy/internal/model"
)

// testHierarchy is {0: {0, 1}, 1: leaf}.
func testHierarchy() *hierarchy.Hierarchy {
	return hierarchy.Derive([][]int{{0, 0}, {0, 1}, {1}}, false)
}

func testConfig() head.Config {
	return head.Config{AttentionWidth: 3, Cell: head.CellTanh, Seed: 11}
}

func testDoc() model.Document {
	return model.Document{{{0.1, 0.2}, {-0.3, 0.4}}, {{0.5, -0.1}}}
}

func buildModel(t *testing.T) *Model {
	t.Helper()
	m, err := Build(testHierarchy(), 2, testConfig())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return m
}

// force makes a head always predict class c.
func force(hd *head.Head, c int) {
	for _, p := range hd.Params() {
		switch p.Name {
		case "out_w":
			clear(p.Value)
		case "out_b":
			clear(p.Value)
			p.Value[c] = 10
		}
	}
}

func TestBuildWidths(t *testing.T) {
	m := buildModel(t)
	if got := m.Heads.Value.Width(); got != 2 {
		t.Errorf("root width = %d, want 2", got)
	}
	child, _ := m.Heads.Child(0)
	if got := child.Value.Width(); got != 3 {
		t.Errorf("child width = %d, want 3 (two classes plus stop)", got)
	}
	if leaf, ok := m.Heads.Child(1); !ok || leaf != nil {
		t.Error("class 1 should be a leaf without a head")
	}
	if m.Heads.Len() != 2 {
		t.Errorf("head count = %d, want 2", m.Heads.Len())
	}
}

func TestBuildRejectsEmptyHierarchy(t *testing.T) {
	if _, err := Build(hierarchy.New(), 2, testConfig()); err == nil {
		t.Fatal("expected error for hierarchy without classes")
	}
}

func TestHierarchyRoundTrip(t *testing.T) {
	m := buildModel(t)
	if err := hierarchy.CheckCompatible("model", testHierarchy(), m.Hierarchy()); err != nil {
		t.Fatalf("CheckCompatible() error: %v", err)
	}
	if got := m.Hierarchy().Depth(); got != 2 {
		t.Errorf("Depth() = %d, want 2", got)
	}
}

func TestClassifyDescent(t *testing.T) {
	cases := []struct {
		name      string
		root, sub int
		levels    int
		wantPath  []int
	}{
		{"leaf at root", 1, 0, 1, []int{1}},
		{"leaf below root", 0, 1, 2, []int{0, 1}},
		{"stop below root", 0, 2, 2, []int{0}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := buildModel(t)
			force(m.Heads.Value, c.root)
			child, _ := m.Heads.Child(0)
			force(child.Value, c.sub)

			dists, err := m.Classify(testDoc(), head.NewPool())
			if err != nil {
				t.Fatalf("Classify() error: %v", err)
			}
			if len(dists) != c.levels {
				t.Fatalf("levels = %d, want %d", len(dists), c.levels)
			}
			got := Path(dists)
			if len(got) != len(c.wantPath) {
				t.Fatalf("Path() = %v, want %v", got, c.wantPath)
			}
			for i := range got {
				if got[i] != c.wantPath[i] {
					t.Fatalf("Path() = %v, want %v", got, c.wantPath)
				}
			}
		})
	}
}

func TestClassifyIdempotent(t *testing.T) {
	m := buildModel(t)
	pool := head.NewPool()
	a, err := m.Classify(testDoc(), pool)
	if err != nil {
		t.Fatal(err)
	}
	pool.ReleaseAll()
	b, err := m.Classify(testDoc(), pool)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("levels differ: %d vs %d", len(a), len(b))
	}
	for l := range a {
		for i := range a[l] {
			if a[l][i] != b[l][i] {
				t.Fatalf("level %d class %d: %v vs %v", l, i, a[l][i], b[l][i])
			}
		}
	}
}

func TestExpectedPath(t *testing.T) {
	m := buildModel(t)
	cases := []struct {
		gold []int
		want []int
	}{
		{[]int{0}, []int{0, 2}},
		{[]int{0, 1}, []int{0, 1}},
		{[]int{1}, []int{1}},
	}
	for _, c := range cases {
		got, err := m.ExpectedPath(c.gold)
		if err != nil {
			t.Fatalf("ExpectedPath(%v) error: %v", c.gold, err)
		}
		if len(got) != len(c.want) {
			t.Fatalf("ExpectedPath(%v) = %v, want %v", c.gold, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("ExpectedPath(%v) = %v, want %v", c.gold, got, c.want)
			}
		}
	}

	for _, bad := range [][]int{{2}, {1, 0}, {0, 5}} {
		if _, err := m.ExpectedPath(bad); !errors.Is(err, ErrNoSuchNode) {
			t.Errorf("ExpectedPath(%v) error = %v, want ErrNoSuchNode", bad, err)
		}
	}
}

func TestDumpLoadRoundTrip(t *testing.T) {
	m := buildModel(t)
	var buf bytes.Buffer
	if err := m.Dump(&buf); err != nil {
		t.Fatalf("Dump() error: %v", err)
	}
	back, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if back.InputSize != 2 || back.HeadConfig.AttentionWidth != 3 {
		t.Fatalf("restored model = input %d attention %d", back.InputSize, back.HeadConfig.AttentionWidth)
	}

	want, _ := m.Classify(testDoc(), head.NewPool())
	got, err := back.Classify(testDoc(), head.NewPool())
	if err != nil {
		t.Fatal(err)
	}
	for l := range want {
		for i := range want[l] {
			if want[l][i] != got[l][i] {
				t.Fatalf("restored model differs at level %d class %d", l, i)
			}
		}
	}
}

func TestSaveLoadFile(t *testing.T) {
	m := buildModel(t)
	path := filepath.Join(t.TempDir(), "models", "best.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := m.Save(path); err != nil {
		t.Fatalf("second Save() error: %v", err)
	}
	back, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if back.Heads.Len() != 2 {
		t.Errorf("restored head count = %d, want 2", back.Heads.Len())
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	cases := map[string]string{
		"not json":      "{",
		"wrong version": `{"version": 9}`,
		"no heads":      `{"version": 1, "input_size": 2}`,
		"negative width": flatModelJSON(`"attention_width": 1, "cell": "none"`, -1,
			`{}`),
		"zero attention width": flatModelJSON(`"attention_width": 0, "cell": "none"`, 2,
			`{"att_w": [], "att_b": [], "att_v": [], "out_w": [0.1, 0.2], "out_b": [0, 0]}`),
		"missing params": flatModelJSON(`"attention_width": 1, "cell": "none"`, 2,
			`{}`),
		"missing out_w": flatModelJSON(`"attention_width": 1, "cell": "none"`, 2,
			`{"att_w": [0.1], "att_b": [0], "att_v": [0.3], "out_b": [0, 0]}`),
		"short out_w": flatModelJSON(`"attention_width": 1, "cell": "none"`, 2,
			`{"att_w": [0.1], "att_b": [0], "att_v": [0.3], "out_w": [0.1], "out_b": [0, 0]}`),
		"unexpected cell_w": flatModelJSON(`"attention_width": 1, "cell": "none"`, 2,
			`{"cell_w": [1], "att_w": [0.1], "att_b": [0], "att_v": [0.3], "out_w": [0.1, 0.2], "out_b": [0, 0]}`),
	}
	for name, data := range cases {
		if _, err := Load(strings.NewReader(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// flatModelJSON returns a one-level, two-class model file over 1-dim tokens
// whose root head has the given config fields, width and params.
func flatModelJSON(config string, width int, params string) string {
	return fmt.Sprintf(`{"version": 1, "input_size": 1, "heads": {"value": {"config": {%s}, "input_size": 1, "width": %d, "params": %s}, "children": {"0": null, "1": null}}}`,
		config, width, params)
}

func TestLoadHandWrittenModel(t *testing.T) {
	data := flatModelJSON(`"attention_width": 1, "cell": "none"`, 2,
		`{"att_w": [0.1], "att_b": [0], "att_v": [0.3], "out_w": [0.1, 0.2], "out_b": [0, 0.5]}`)
	m, err := Load(strings.NewReader(data))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	params := m.Heads.Value.Params()
	outB := params[len(params)-1]
	if outB.Name != "out_b" || outB.Value[1] != 0.5 {
		t.Errorf("out_b = %v, want [0 0.5]", outB.Value)
	}
}

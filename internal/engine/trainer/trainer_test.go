package trainer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/crimson-sun/canopy/internal/corpus"
	"github.com/crimson-sun/canopy/internal/engine/classifier"
	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/engine/head"
	"github.com/crimson-sun/canopy/internal/engine/optim"
	"github.com/crimson-sun/canopy/internal/hierarchy"
	"github.com/crimson-sun/canopy/internal/model"
)

const dim = 4

var text = [][]string{{"the", "match", "ended"}, {"late", "goal"}}

func example(classes ...int) model.Example {
	return model.Example{Text: text, Classes: classes}
}

func newTable(t *testing.T) *embedder.Table {
	t.Helper()
	tbl, err := embedder.NewTable(embedder.NewVocabulary([]string{"the", "match", "ended", "late", "goal"}), dim, 5)
	if err != nil {
		t.Fatalf("NewTable() error: %v", err)
	}
	return tbl
}

func newSession(t *testing.T, h *hierarchy.Hierarchy, cfg Config) (*Session, *classifier.Model, *embedder.Table) {
	t.Helper()
	m, err := classifier.Build(h, dim, head.Config{AttentionWidth: 3, Cell: head.CellTanh, Seed: 9})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	tbl := newTable(t)
	s, err := NewSession(m, tbl, cfg)
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	return s, m, tbl
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.Optimizer = optim.Config{Kind: optim.SGD, LearningRate: 0.5}
	return cfg
}

// twoLevel is {0: {0, 1}, 1: leaf}.
func twoLevel() *hierarchy.Hierarchy {
	return hierarchy.Derive([][]int{{0, 0}, {0, 1}, {1}}, false)
}

func predict(t *testing.T, hd *head.Head, tbl *embedder.Table) []float32 {
	t.Helper()
	doc, err := tbl.Encode(text)
	if err != nil {
		t.Fatal(err)
	}
	p, err := hd.Forward(doc, head.NewPool())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFlatExampleMovesTowardGold(t *testing.T) {
	s, m, tbl := newSession(t, hierarchy.Flat(2), testConfig())
	before := predict(t, m.Heads.Value, tbl)

	for i := 0; i < 30; i++ {
		if _, err := s.Epoch(context.Background(), []model.Example{example(1)}); err != nil {
			t.Fatalf("Epoch() error: %v", err)
		}
	}

	after := predict(t, m.Heads.Value, tbl)
	if after[1] <= before[1] {
		t.Errorf("p[1] = %v after training, was %v", after[1], before[1])
	}
	if after[1] <= after[0] {
		t.Errorf("p = %v, want more mass on class 1", after)
	}
}

func TestLearnExampleTouchedHeads(t *testing.T) {
	cases := []struct {
		name    string
		classes []int
		heads   int
	}{
		{"full path to leaf", []int{0, 1}, 2},
		{"root leaf", []int{1}, 1},
		{"implicit stop", []int{0}, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s, m, _ := newSession(t, twoLevel(), testConfig())
			touched, err := s.LearnExample(example(c.classes...))
			if err != nil {
				t.Fatalf("LearnExample() error: %v", err)
			}
			if len(touched) != c.heads {
				t.Fatalf("touched %d heads, want %d", len(touched), c.heads)
			}
			if touched[0] != m.Heads.Value {
				t.Error("first touched head should be the root")
			}
			if c.heads == 2 {
				sub, _ := m.Heads.Child(0)
				if touched[1] != sub.Value {
					t.Error("second touched head should be the head under class 0")
				}
			}
		})
	}
}

func TestFullPathAddsNoStop(t *testing.T) {
	s, m, _ := newSession(t, twoLevel(), testConfig())
	expected, err := m.ExpectedPath([]int{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(expected) != 2 {
		t.Fatalf("ExpectedPath() = %v, want no stop", expected)
	}
	if _, err := s.LearnExample(example(0, 1)); err != nil {
		t.Fatal(err)
	}
}

func TestImplicitStopIsTrained(t *testing.T) {
	s, m, tbl := newSession(t, twoLevel(), testConfig())
	expected, err := m.ExpectedPath([]int{0})
	if err != nil {
		t.Fatal(err)
	}
	if len(expected) != 2 || expected[1] != 2 {
		t.Fatalf("ExpectedPath([0]) = %v, want [0 2]", expected)
	}

	sub, _ := m.Heads.Child(0)
	before := predict(t, sub.Value, tbl)
	rootBefore := predict(t, m.Heads.Value, tbl)
	for i := 0; i < 10; i++ {
		if _, err := s.Epoch(context.Background(), []model.Example{example(0)}); err != nil {
			t.Fatal(err)
		}
	}
	after := predict(t, sub.Value, tbl)
	rootAfter := predict(t, m.Heads.Value, tbl)
	if after[2] <= before[2] {
		t.Errorf("stop probability %v did not grow from %v", after[2], before[2])
	}
	if rootAfter[0] <= rootBefore[0] {
		t.Errorf("root p[0] %v did not grow from %v", rootAfter[0], rootBefore[0])
	}
}

func TestLearnExampleRejectsUnknownPath(t *testing.T) {
	s, _, _ := newSession(t, twoLevel(), testConfig())
	if _, err := s.LearnExample(example(4)); err == nil {
		t.Fatal("expected error for class outside the hierarchy")
	}
}

func TestParametersChangeOnlyOnUpdate(t *testing.T) {
	s, m, _ := newSession(t, hierarchy.Flat(2), testConfig())
	bias := m.Heads.Value.Params()[len(m.Heads.Value.Params())-1].Value
	before := append([]float32(nil), bias...)

	s.hook((*optim.Optimizer).NewBatch)
	if _, err := s.LearnExample(example(0)); err != nil {
		t.Fatal(err)
	}
	for i := range bias {
		if bias[i] != before[i] {
			t.Fatal("parameters changed before Update")
		}
	}
	s.Update()
	if bias[0] == before[0] {
		t.Error("Update did not change the output bias")
	}
}

func TestSubHeadMeanCountsOnlyVisitingExamples(t *testing.T) {
	s, _, _ := newSession(t, twoLevel(), testConfig())
	s.hook((*optim.Optimizer).NewBatch)
	for _, ex := range []model.Example{example(1), example(1), example(1), example(0, 1)} {
		if _, err := s.LearnExample(ex); err != nil {
			t.Fatal(err)
		}
	}
	sub, _ := s.optimizers.Child(0)
	if got := s.optimizers.Value.Contributed(); got != 4 {
		t.Errorf("root contributed = %d, want 4", got)
	}
	if got := sub.Value.Contributed(); got != 1 {
		t.Errorf("sub-head contributed = %d, want 1", got)
	}
}

func TestPropagateInputTrainsEmbeddings(t *testing.T) {
	cfg := testConfig()
	cfg.PropagateInput = true
	s, _, tbl := newSession(t, twoLevel(), cfg)
	weights := tbl.Params()[0].Value
	before := append([]float32(nil), weights...)

	if _, err := s.Epoch(context.Background(), []model.Example{example(0, 1)}); err != nil {
		t.Fatal(err)
	}
	changed := false
	for i := range weights {
		if weights[i] != before[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("embedding table did not change with input propagation")
	}
}

func TestFrozenEncoderWithoutPropagation(t *testing.T) {
	s, _, tbl := newSession(t, twoLevel(), testConfig())
	weights := tbl.Params()[0].Value
	before := append([]float32(nil), weights...)
	if _, err := s.Epoch(context.Background(), []model.Example{example(0, 1)}); err != nil {
		t.Fatal(err)
	}
	for i := range weights {
		if weights[i] != before[i] {
			t.Fatal("embedding table changed without input propagation")
		}
	}
}

func TestEpochDeterministic(t *testing.T) {
	examples := []model.Example{example(0, 1), example(1), example(0), example(0, 0)}
	cfg := testConfig()
	cfg.BatchSize = 2

	run := func() []float32 {
		s, m, _ := newSession(t, twoLevel(), cfg)
		for i := 0; i < 3; i++ {
			if _, err := s.Epoch(context.Background(), examples); err != nil {
				t.Fatal(err)
			}
		}
		return m.Heads.Value.Params()[len(m.Heads.Value.Params())-1].Value
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs diverge at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEpochCountsUpdates(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 2
	s, _, _ := newSession(t, twoLevel(), cfg)
	examples := []model.Example{example(0, 1), example(1), example(0)}
	if _, err := s.Epoch(context.Background(), examples); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(s.Metrics().Updates); got != 2 {
		t.Errorf("updates = %v, want 2 (one full batch and the remainder)", got)
	}
	if got := testutil.ToFloat64(s.Metrics().Examples); got != 3 {
		t.Errorf("examples = %v, want 3", got)
	}
}

func TestEpochHonoursCancellation(t *testing.T) {
	s, _, _ := newSession(t, twoLevel(), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Epoch(ctx, []model.Example{example(1)}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestTrainCheckpointsOnImprovement(t *testing.T) {
	cfg := testConfig()
	cfg.Epochs = 3
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "model.json")

	train := []model.Example{example(0, 1), example(1), example(0, 0)}
	ds, err := corpus.NewDataset(train, []model.Example{example(0, 1)}, nil, false)
	if err != nil {
		t.Fatalf("NewDataset() error: %v", err)
	}
	s, _, _ := newSession(t, ds.Hierarchy, cfg)

	report, err := s.Train(context.Background(), ds)
	if err != nil {
		t.Fatalf("Train() error: %v", err)
	}
	if report == nil || report.Examples != 1 {
		t.Fatalf("report = %+v, want one validated example", report)
	}
	best, ok := s.BestAccuracy()
	if !ok || best < report.Accuracy() {
		t.Errorf("best accuracy = %v (ok %v), last %v", best, ok, report.Accuracy())
	}
	if _, err := os.Stat(cfg.CheckpointPath); err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
	if _, err := classifier.LoadFile(cfg.CheckpointPath); err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if got := testutil.ToFloat64(s.Metrics().Checkpoints); got < 1 {
		t.Errorf("checkpoints = %v, want at least 1", got)
	}
}

func TestNewSessionValidates(t *testing.T) {
	m, err := classifier.Build(hierarchy.Flat(2), dim+1, head.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSession(m, newTable(t), testConfig()); err == nil {
		t.Error("expected error for encoder dim mismatch")
	}
	cfg := testConfig()
	cfg.BatchSize = 0
	m, _ = classifier.Build(hierarchy.Flat(2), dim, head.DefaultConfig())
	if _, err := NewSession(m, newTable(t), cfg); err == nil {
		t.Error("expected error for zero batch size")
	}
}

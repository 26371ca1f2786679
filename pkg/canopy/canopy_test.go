package canopy

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/crimson-sun/canopy/internal/engine/classifier"
	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/engine/head"
	"github.com/crimson-sun/canopy/internal/hierarchy"
)

const testModelDir = "../../models"

// saveModel writes a small untrained model with its own embedding table.
func saveModel(t *testing.T, withTable bool) string {
	t.Helper()
	h := hierarchy.Derive([][]int{{0, 0}, {0, 1}, {1}}, false)
	m, err := classifier.Build(h, 4, head.Config{AttentionWidth: 3, Cell: head.CellTanh, Seed: 2})
	if err != nil {
		t.Fatal(err)
	}
	if withTable {
		tbl, err := embedder.NewTable(embedder.NewVocabulary([]string{"goal", "vote"}), 4, 2)
		if err != nil {
			t.Fatal(err)
		}
		m.Embeddings = tbl
	}
	path := filepath.Join(t.TempDir(), "model.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	return path
}

func writeLabels(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labels.json")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const labelsJSON = `{"labels": ["sports", "politics"], "sublevels": [{"labels": ["football", "tennis"]}, null]}`

func TestOpenAndClassify(t *testing.T) {
	c, err := Open(saveModel(t, true), WithLabels(writeLabels(t, labelsJSON)))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer c.Close()

	p, err := c.Classify("A late goal. The crowd roared!")
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if len(p.Path) == 0 || len(p.Levels) == 0 {
		t.Fatalf("empty prediction: %+v", p)
	}
	if !strings.HasPrefix(p.Label, "sports") && p.Label != "politics" {
		t.Errorf("Label = %q, want a label from the labels file", p.Label)
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		t.Errorf("Confidence = %v, want in (0, 1]", p.Confidence)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c, err := Open(saveModel(t, true))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	a, _ := c.Classify("vote goal")
	b, _ := c.Classify("vote goal")
	if a.Label != b.Label || a.Confidence != b.Confidence {
		t.Errorf("repeated Classify differs: %+v vs %+v", a, b)
	}
}

func TestClassifyBatchMatchesIndividual(t *testing.T) {
	c, err := Open(saveModel(t, true))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	texts := []string{"goal", "vote vote", "unknown words here. and more"}
	batch, err := c.ClassifyBatch(texts)
	if err != nil {
		t.Fatalf("ClassifyBatch() error: %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("got %d predictions, want %d", len(batch), len(texts))
	}
	for i, text := range texts {
		single, err := c.Classify(text)
		if err != nil {
			t.Fatal(err)
		}
		if single.Label != batch[i].Label {
			t.Errorf("text %d: batch %q, single %q", i, batch[i].Label, single.Label)
		}
	}
}

func TestConcurrentClassify(t *testing.T) {
	c, err := Open(saveModel(t, true))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	want, _ := c.Classify("goal")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Classify("goal")
			if err != nil || got.Confidence != want.Confidence {
				t.Errorf("concurrent Classify = %+v, %v", got, err)
			}
		}()
	}
	wg.Wait()
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open("/nonexistent/model.json"); err == nil {
		t.Error("expected error for missing model")
	}
	if _, err := Open(saveModel(t, false)); err == nil {
		t.Error("expected error for a model without embeddings and no ONNX encoder")
	}
	bad := writeLabels(t, `{"labels": ["only"]}`)
	if _, err := Open(saveModel(t, true), WithLabels(bad)); err == nil {
		t.Error("expected error for mismatched labels")
	}
}

func TestOpenWithONNXEncoder(t *testing.T) {
	if _, err := os.Stat(testModelDir + "/model_quantized.onnx"); os.IsNotExist(err) {
		t.Skip("ONNX model not available, skipping integration test")
	}
	// The saved test model reads 4-dim tokens, which no pretrained encoder
	// produces.
	if _, err := Open(saveModel(t, false), WithONNXEncoder(testModelDir)); err == nil {
		t.Error("expected dim mismatch error")
	}
}

package classifier

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/engine/head"
)

const formatVersion = 1

type modelFile struct {
	Version    int             `json:"version"`
	InputSize  int             `json:"input_size"`
	HeadConfig head.Config     `json:"head_config"`
	Heads      *Tree           `json:"heads"`
	Embeddings *embedder.Table `json:"embeddings,omitempty"`
}

// Dump writes the model as JSON.
func (m *Model) Dump(w io.Writer) error {
	f := modelFile{
		Version:    formatVersion,
		InputSize:  m.InputSize,
		HeadConfig: m.HeadConfig,
		Heads:      m.Heads,
		Embeddings: m.Embeddings,
	}
	if err := json.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("classifier: dump: %w", err)
	}
	return nil
}

// Load reads a model written by Dump.
func Load(r io.Reader) (*Model, error) {
	var f modelFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("classifier: load: %w", err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("classifier: load: unsupported format version %d", f.Version)
	}
	if f.Heads == nil || f.Heads.Value == nil {
		return nil, fmt.Errorf("classifier: load: model has no root head")
	}
	m := &Model{Heads: f.Heads, InputSize: f.InputSize, HeadConfig: f.HeadConfig, Embeddings: f.Embeddings}
	if err := m.check(); err != nil {
		return nil, fmt.Errorf("classifier: load: %w", err)
	}
	return m, nil
}

// check verifies head widths and input sizes against the tree shape.
func (m *Model) check() error {
	var err error
	m.Heads.Walk(func(n *Tree, level int) {
		if err != nil {
			return
		}
		if n.Value == nil {
			err = fmt.Errorf("missing head at level %d", level)
			return
		}
		want := n.Width()
		if level > 0 {
			want++
		}
		if n.Value.Width() != want {
			err = fmt.Errorf("head at level %d has width %d, want %d", level, n.Value.Width(), want)
			return
		}
		if n.Value.InputSize() != m.InputSize {
			err = fmt.Errorf("head at level %d reads %d inputs, want %d", level, n.Value.InputSize(), m.InputSize)
		}
	})
	if err == nil && m.Embeddings != nil && m.Embeddings.Dim() != m.InputSize {
		err = fmt.Errorf("embedding dim %d does not match input size %d", m.Embeddings.Dim(), m.InputSize)
	}
	return err
}

// Save writes the model to path, replacing any previous file atomically.
func (m *Model) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("classifier: save: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*")
	if err != nil {
		return fmt.Errorf("classifier: save: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := m.Dump(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("classifier: save: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("classifier: save: %w", err)
	}
	return nil
}

// LoadFile reads a model saved with Save.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	defer f.Close()
	return Load(f)
}

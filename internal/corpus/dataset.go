package corpus

import (
	"fmt"
	"log/slog"

	"github.com/crimson-sun/canopy/internal/hierarchy"
	"github.com/crimson-sun/canopy/internal/model"
)

// Dataset holds the training, validation, and test splits together with the
// class hierarchy derived from the training split.
type Dataset struct {
	Train      []model.Example
	Validation []model.Example
	Test       []model.Example
	Hierarchy  *hierarchy.Hierarchy
}

// NewDataset derives the class hierarchy from the training split and checks
// that it is complete and that the other splits only use known classes.
func NewDataset(train, validation, test []model.Example, autoComplete bool) (*Dataset, error) {
	h := hierarchy.Derive(Paths(train), autoComplete)
	if err := hierarchy.Validate(h); err != nil {
		return nil, fmt.Errorf("dataset: training split: %w", err)
	}

	splits := []struct {
		name     string
		examples []model.Example
	}{
		{"validation", validation},
		{"test", test},
	}
	for _, s := range splits {
		sub := hierarchy.Derive(Paths(s.examples), false)
		if err := hierarchy.CheckCompatible(s.name, sub, h); err != nil {
			return nil, fmt.Errorf("dataset: %w", err)
		}
	}

	slog.Debug("dataset ready",
		"train", len(train),
		"validation", len(validation),
		"test", len(test),
		"depth", h.Depth(),
		"root_classes", h.Width(),
	)

	return &Dataset{
		Train:      train,
		Validation: validation,
		Test:       test,
		Hierarchy:  h,
	}, nil
}

// Load reads the given split files and builds a Dataset. Empty paths yield
// empty splits.
func Load(trainPath, validationPath, testPath string, autoComplete bool) (*Dataset, error) {
	var splits [3][]model.Example
	for i, path := range []string{trainPath, validationPath, testPath} {
		if path == "" {
			continue
		}
		examples, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		splits[i] = examples
	}
	return NewDataset(splits[0], splits[1], splits[2], autoComplete)
}

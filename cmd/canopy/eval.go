package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/crimson-sun/canopy/internal/config"
	"github.com/crimson-sun/canopy/internal/corpus"
	"github.com/crimson-sun/canopy/internal/engine/validator"
	"github.com/crimson-sun/canopy/internal/hierarchy"
)

func runEval(cfg config.Config, args []string) error {
	path := cfg.Data.TestPath
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no corpus given and CANOPY_TEST_PATH is not set")
	}

	m, enc, err := loadModel(cfg)
	if err != nil {
		return err
	}
	defer enc.Close()

	examples, err := corpus.ReadFile(path)
	if err != nil {
		return err
	}
	sub := hierarchy.Derive(corpus.Paths(examples), false)
	if err := hierarchy.CheckCompatible(path, sub, m.Hierarchy()); err != nil {
		return err
	}

	report, err := validator.New(m, enc).Validate(examples)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, report)
	return nil
}

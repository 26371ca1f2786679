package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/crimson-sun/canopy/internal/corpus"
)

func runConvert(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: canopy convert <in> <out>")
	}
	in, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	n, err := corpus.Convert(in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("convert %s: %w", args[0], err)
	}
	slog.Info("converted corpus", "in", args[0], "out", args[1], "examples", n)
	return nil
}

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/crimson-sun/canopy/internal/config"
	"github.com/crimson-sun/canopy/internal/engine"
	"github.com/crimson-sun/canopy/internal/output"
	"github.com/crimson-sun/canopy/internal/output/file"
	"github.com/crimson-sun/canopy/internal/output/multi"
	"github.com/crimson-sun/canopy/internal/output/stdout"
	"github.com/crimson-sun/canopy/internal/pipeline"
)

func newOutput(cfg config.Config) (output.Output, error) {
	verbosity := output.ParseVerbosity(cfg.Output.Verbosity)
	if cfg.Output.Format != "file" {
		return stdout.New(verbosity, cfg.Output.Pretty), nil
	}
	f, err := file.New(cfg.Output.Path, verbosity, file.WithMaxSize(cfg.Output.MaxSize))
	if err != nil {
		return nil, err
	}
	if cfg.Output.Tee {
		return multi.New(f, stdout.New(verbosity, cfg.Output.Pretty)), nil
	}
	return f, nil
}

func runClassify(ctx context.Context, cfg config.Config, args []string) error {
	m, enc, err := loadModel(cfg)
	if err != nil {
		return err
	}
	labels, err := loadLabels(cfg)
	if err != nil {
		enc.Close()
		return err
	}
	eng, err := engine.New(enc, m, labels)
	if err != nil {
		enc.Close()
		return err
	}
	defer eng.Close()

	out, err := newOutput(cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	var src pipeline.Source = pipeline.Lines{R: os.Stdin}
	if len(args) > 0 {
		src = pipeline.Corpus(args[0])
	}
	n, err := pipeline.New(src, eng, out).Run(ctx)
	if err != nil {
		return err
	}
	slog.Info("classified", "documents", n)
	return nil
}

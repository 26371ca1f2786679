package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crimson-sun/canopy/internal/config"
	"github.com/crimson-sun/canopy/internal/engine/classifier"
	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/engine/head"
	"github.com/crimson-sun/canopy/internal/hierarchy"
	"github.com/crimson-sun/canopy/internal/logging"
)

const usage = `usage: canopy <command> [args]

commands:
  train              train a model on CANOPY_TRAIN_PATH
  eval [corpus]      score the model on a corpus (default CANOPY_TEST_PATH)
  classify [corpus]  classify a corpus, or raw text lines from stdin
  convert <in> <out> rewrite a legacy corpus in the current format

configuration is read from CANOPY_* environment variables
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logging.Init(cfg.Output.Format == "stdout" || cfg.Output.Tee, logging.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(ctx, cfg)
	case "eval":
		err = runEval(cfg, args)
	case "classify":
		err = runClassify(ctx, cfg, args)
	case "convert":
		err = runConvert(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "canopy: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func headConfig(cfg config.Config) head.Config {
	return head.Config{
		AttentionWidth: cfg.Model.AttentionWidth,
		Cell:           head.ParseCell(cfg.Model.Cell),
		Dropout:        float32(cfg.Model.Dropout),
		Seed:           cfg.Model.Seed,
	}
}

func onnxEncoder(cfg config.Config) (*embedder.ONNXEncoder, error) {
	return embedder.NewONNX(embedder.ONNXConfig{
		ModelPath:      cfg.Encoder.ONNXModelPath,
		VocabPath:      cfg.Encoder.VocabPath,
		ProjectionPath: cfg.Encoder.ProjectionPath,
		LibraryPath:    cfg.Encoder.LibraryPath,
		Threads:        cfg.Encoder.Threads,
		Pooled:         cfg.Encoder.Pooled,
	})
}

// loadModel reads the trained model and opens the encoder it was trained
// with: its own embedding table, or the configured ONNX model.
func loadModel(cfg config.Config) (*classifier.Model, embedder.Encoder, error) {
	m, err := classifier.LoadFile(cfg.Model.Path)
	if err != nil {
		return nil, nil, err
	}
	if m.Embeddings != nil {
		return m, m.Embeddings, nil
	}
	enc, err := onnxEncoder(cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, enc, nil
}

func loadLabels(cfg config.Config) (*hierarchy.Labels, error) {
	if cfg.Model.LabelsPath == "" {
		return nil, nil
	}
	return hierarchy.LoadLabels(cfg.Model.LabelsPath)
}

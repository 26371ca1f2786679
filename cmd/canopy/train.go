package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/crimson-sun/canopy/internal/config"
	"github.com/crimson-sun/canopy/internal/corpus"
	"github.com/crimson-sun/canopy/internal/engine/classifier"
	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/engine/optim"
	"github.com/crimson-sun/canopy/internal/engine/trainer"
	"github.com/crimson-sun/canopy/internal/engine/validator"
)

func runTrain(ctx context.Context, cfg config.Config) error {
	if cfg.Data.TrainPath == "" {
		return errors.New("CANOPY_TRAIN_PATH is not set")
	}
	ds, err := corpus.Load(cfg.Data.TrainPath, cfg.Data.ValidationPath, cfg.Data.TestPath, cfg.Data.AutoComplete)
	if err != nil {
		return err
	}

	labels, err := loadLabels(cfg)
	if err != nil {
		return err
	}
	if labels != nil {
		if err := labels.Check(ds.Hierarchy); err != nil {
			return err
		}
	}

	var enc embedder.Encoder
	var table *embedder.Table
	switch cfg.Encoder.Kind {
	case "onnx":
		onnx, err := onnxEncoder(cfg)
		if err != nil {
			return err
		}
		enc = onnx
	default:
		vocab := embedder.BuildVocabulary(ds.Train, cfg.Encoder.MinCount)
		table, err = embedder.NewTable(vocab, cfg.Encoder.Dim, cfg.Model.Seed)
		if err != nil {
			return err
		}
		enc = table
		slog.Info("embedding table ready", "tokens", vocab.Len(), "dim", cfg.Encoder.Dim)
	}
	defer enc.Close()

	m, err := classifier.Build(ds.Hierarchy, enc.Dim(), headConfig(cfg))
	if err != nil {
		return err
	}
	m.Embeddings = table

	s, err := trainer.NewSession(m, enc, trainer.Config{
		Epochs:         cfg.Train.Epochs,
		BatchSize:      cfg.Train.BatchSize,
		Seed:           cfg.Model.Seed,
		PropagateInput: cfg.Train.PropagateInput,
		CheckpointPath: cfg.Model.Path,
		Optimizer: optim.Config{
			Kind:         optim.ParseKind(cfg.Train.Optimizer),
			LearningRate: float32(cfg.Train.LearningRate),
			Decay:        float32(cfg.Train.Decay),
			Momentum:     float32(cfg.Train.Momentum),
			Beta1:        0.9,
			Beta2:        0.999,
			Epsilon:      1e-8,
			WeightDecay:  float32(cfg.Train.WeightDecay),
		},
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: s.Metrics().Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
		slog.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	slog.Info("training", "run", s.ID(), "heads", m.Heads.Len(), "depth", ds.Hierarchy.Depth())
	report, err := s.Train(ctx, ds)
	if err != nil {
		return err
	}
	if report != nil {
		fmt.Fprintf(os.Stderr, "validation\n%s", report)
	}

	if len(ds.Test) == 0 {
		return nil
	}
	best, err := classifier.LoadFile(cfg.Model.Path)
	if err != nil {
		return err
	}
	testEnc := enc
	if best.Embeddings != nil {
		testEnc = best.Embeddings
	}
	r, err := validator.New(best, testEnc).Validate(ds.Test)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "test\n%s", r)
	return nil
}

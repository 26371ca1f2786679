// Package trainer fits a hierarchical classifier to a dataset with
// per-node optimizers, mini-batches and validation checkpoints.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/canopy/internal/corpus"
	"github.com/crimson-sun/canopy/internal/engine/classifier"
	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/engine/head"
	"github.com/crimson-sun/canopy/internal/engine/optim"
	"github.com/crimson-sun/canopy/internal/engine/validator"
	"github.com/crimson-sun/canopy/internal/metrics"
	"github.com/crimson-sun/canopy/internal/model"
)

// Config holds the training loop settings.
type Config struct {
	Epochs    int
	BatchSize int
	Seed      uint64

	// PropagateInput sends head input errors back into a trainable encoder.
	PropagateInput bool

	// CheckpointPath receives the model whenever validation accuracy
	// improves. Empty disables checkpoints.
	CheckpointPath string

	Optimizer optim.Config
}

// DefaultConfig returns the default training settings.
func DefaultConfig() Config {
	return Config{
		Epochs:    10,
		BatchSize: 16,
		Seed:      1,
		Optimizer: optim.DefaultConfig(),
	}
}

// Session trains one model. It owns the optimizer tree, the validation
// state and the best accuracy seen so far.
type Session struct {
	id      string
	cfg     Config
	model   *classifier.Model
	encoder embedder.Encoder
	pool    *head.Pool

	optimizers *optim.Tree
	trainable  embedder.Trainable
	encoderOpt *optim.Optimizer

	validator *validator.Validator
	metrics   *metrics.Training
	log       *slog.Logger

	epoch     int
	best      float64
	hasBest   bool
	lossSum   float64
	lossTerms int
}

// NewSession prepares a training session for m reading tokens through enc.
func NewSession(m *classifier.Model, enc embedder.Encoder, cfg Config) (*Session, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("trainer: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Epochs < 0 {
		return nil, fmt.Errorf("trainer: negative epoch count %d", cfg.Epochs)
	}
	if enc.Dim() != m.InputSize {
		return nil, fmt.Errorf("trainer: encoder dim %d does not match model input size %d", enc.Dim(), m.InputSize)
	}

	id := uuid.NewString()
	s := &Session{
		id:         id,
		cfg:        cfg,
		model:      m,
		encoder:    enc,
		pool:       head.NewPool(),
		optimizers: optim.NewTree(m.Heads, cfg.Optimizer),
		validator:  validator.New(m, enc),
		metrics:    metrics.NewTraining(id),
		log:        slog.With("run", id),
	}
	if tr, ok := enc.(embedder.Trainable); ok && cfg.PropagateInput {
		s.trainable = tr
		s.encoderOpt = optim.New(tr, cfg.Optimizer)
	}
	return s, nil
}

// ID returns the run ID attached to logs and metrics.
func (s *Session) ID() string { return s.id }

// Metrics returns the session metrics.
func (s *Session) Metrics() *metrics.Training { return s.metrics }

// BestAccuracy returns the best validation accuracy so far. ok is false
// before the first validation.
func (s *Session) BestAccuracy() (acc float64, ok bool) { return s.best, s.hasBest }

// hook calls fn on every head optimizer in pre-order, then on the encoder
// optimizer.
func (s *Session) hook(fn func(*optim.Optimizer)) {
	optim.Each(s.optimizers, fn)
	if s.encoderOpt != nil {
		fn(s.encoderOpt)
	}
}

// LearnExample runs forward and backward passes for one example along its
// expected path and accumulates the gradients. It returns the heads it
// trained, root first. Parameters change only on the next update.
func (s *Session) LearnExample(ex model.Example) ([]*head.Head, error) {
	s.hook((*optim.Optimizer).NewExample)
	start := time.Now()

	doc, err := s.encoder.Encode(ex.Text)
	if err != nil {
		return nil, fmt.Errorf("trainer: encode: %w", err)
	}
	expected, err := s.model.ExpectedPath(ex.Classes)
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	s.pool.ReleaseAll()

	var inputErrs model.Document
	if s.trainable != nil {
		inputErrs = doc.ZerosLike()
	}

	touched := make([]*head.Head, 0, len(expected))
	node, opt := s.model.Heads, s.optimizers
	for level, want := range expected {
		hd := node.Value
		p, err := hd.Forward(doc, s.pool)
		if err != nil {
			return nil, fmt.Errorf("trainer: level %d: %w", level, err)
		}
		s.lossSum -= math.Log(math.Max(float64(p[want]), 1e-12))
		s.lossTerms++

		p[want] -= 1
		if err := hd.Backward(p); err != nil {
			return nil, fmt.Errorf("trainer: level %d: %w", level, err)
		}
		if err := opt.Value.Accumulate(); err != nil {
			return nil, fmt.Errorf("trainer: level %d: %w", level, err)
		}
		if inputErrs != nil {
			inputErrs.AddInPlace(hd.InputErrors())
		}
		touched = append(touched, hd)

		if level == len(expected)-1 {
			break
		}
		node, _ = node.Child(want)
		opt, _ = opt.Child(want)
		if node == nil || opt == nil {
			return nil, fmt.Errorf("trainer: path %v: %w", expected, classifier.ErrNoSuchNode)
		}
	}

	if s.trainable != nil {
		if err := s.trainable.Backward(inputErrs); err != nil {
			return nil, fmt.Errorf("trainer: encoder: %w", err)
		}
		if err := s.encoderOpt.Accumulate(); err != nil {
			return nil, fmt.Errorf("trainer: encoder: %w", err)
		}
	}

	s.metrics.Examples.Inc()
	s.metrics.ExampleDuration.Observe(time.Since(start).Seconds())
	return touched, nil
}

// Update applies the accumulated batch gradients.
func (s *Session) Update() {
	s.hook((*optim.Optimizer).Update)
	s.metrics.Updates.Inc()
}

// Epoch makes one shuffled pass over examples and returns the mean
// cross-entropy per trained head.
func (s *Session) Epoch(ctx context.Context, examples []model.Example) (float64, error) {
	s.epoch++
	s.lossSum, s.lossTerms = 0, 0
	s.hook((*optim.Optimizer).NewEpoch)
	s.model.SetTraining(true)
	defer s.model.SetTraining(false)

	order := rand.New(rand.NewPCG(s.cfg.Seed, uint64(s.epoch))).Perm(len(examples))
	for lo := 0; lo < len(order); lo += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		hi := min(lo+s.cfg.BatchSize, len(order))
		s.hook((*optim.Optimizer).NewBatch)
		for _, i := range order[lo:hi] {
			if _, err := s.LearnExample(examples[i]); err != nil {
				return 0, fmt.Errorf("epoch %d example %d: %w", s.epoch, i, err)
			}
		}
		s.Update()
	}

	loss := 0.0
	if s.lossTerms > 0 {
		loss = s.lossSum / float64(s.lossTerms)
	}
	s.metrics.Epochs.Inc()
	s.metrics.Loss.Set(loss)
	s.log.Info("epoch done", "epoch", s.epoch, "examples", len(examples), "loss", loss)
	return loss, nil
}

// Validate scores the model and writes a checkpoint when accuracy improves
// strictly on the best of this session.
func (s *Session) Validate(examples []model.Example) (*validator.Report, error) {
	report, err := s.validator.Validate(examples)
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	acc := report.Accuracy()
	for level, c := range report.Levels {
		s.metrics.SetLevelAccuracy(level, c.Accuracy())
	}
	s.metrics.Accuracy.Set(acc)
	s.log.Info("validation", "epoch", s.epoch, "accuracy", acc, "best", s.best)

	if s.hasBest && acc <= s.best {
		return report, nil
	}
	s.best, s.hasBest = acc, true
	s.metrics.BestAccuracy.Set(acc)
	if s.cfg.CheckpointPath != "" {
		if err := s.model.Save(s.cfg.CheckpointPath); err != nil {
			return nil, fmt.Errorf("trainer: checkpoint: %w", err)
		}
		s.metrics.Checkpoints.Inc()
		s.log.Info("checkpoint saved", "path", s.cfg.CheckpointPath, "accuracy", acc)
	}
	return report, nil
}

// Train runs the configured number of epochs over the training split,
// validating after each one when the dataset has a validation split. It
// returns the last validation report, or nil without validation data.
func (s *Session) Train(ctx context.Context, ds *corpus.Dataset) (*validator.Report, error) {
	s.log.Info("training started",
		"examples", len(ds.Train),
		"validation", len(ds.Validation),
		"epochs", s.cfg.Epochs,
		"batch_size", s.cfg.BatchSize,
		"heads", s.model.Heads.Len(),
		"optimizer", s.cfg.Optimizer.Kind,
	)
	var last *validator.Report
	for e := 0; e < s.cfg.Epochs; e++ {
		if _, err := s.Epoch(ctx, ds.Train); err != nil {
			return nil, fmt.Errorf("trainer: %w", err)
		}
		if len(ds.Validation) == 0 {
			continue
		}
		report, err := s.Validate(ds.Validation)
		if err != nil {
			return nil, err
		}
		last = report
	}
	if len(ds.Validation) == 0 && s.cfg.CheckpointPath != "" {
		if err := s.model.Save(s.cfg.CheckpointPath); err != nil {
			return nil, fmt.Errorf("trainer: save: %w", err)
		}
	}
	return last, nil
}

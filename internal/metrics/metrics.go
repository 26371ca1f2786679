// Package metrics exposes training progress as Prometheus metrics. Each
// training session owns its own registry.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Training holds the metrics of one training session.
type Training struct {
	registry *prometheus.Registry

	Examples        prometheus.Counter
	Updates         prometheus.Counter
	Epochs          prometheus.Counter
	Checkpoints     prometheus.Counter
	Loss            prometheus.Gauge
	ExampleDuration prometheus.Histogram
	LevelAccuracy   *prometheus.GaugeVec
	Accuracy        prometheus.Gauge
	BestAccuracy    prometheus.Gauge
}

// NewTraining registers the training metrics on a fresh registry. runID is
// attached to every metric as a constant label.
func NewTraining(runID string) *Training {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"run": runID}

	return &Training{
		registry: reg,
		Examples: f.NewCounter(prometheus.CounterOpts{
			Name:        "canopy_train_examples_total",
			Help:        "Training examples processed",
			ConstLabels: labels,
		}),
		Updates: f.NewCounter(prometheus.CounterOpts{
			Name:        "canopy_train_updates_total",
			Help:        "Optimizer updates applied",
			ConstLabels: labels,
		}),
		Epochs: f.NewCounter(prometheus.CounterOpts{
			Name:        "canopy_train_epochs_total",
			Help:        "Completed training epochs",
			ConstLabels: labels,
		}),
		Checkpoints: f.NewCounter(prometheus.CounterOpts{
			Name:        "canopy_train_checkpoints_total",
			Help:        "Models written after a validation improvement",
			ConstLabels: labels,
		}),
		Loss: f.NewGauge(prometheus.GaugeOpts{
			Name:        "canopy_train_loss",
			Help:        "Mean cross-entropy per level over the last epoch",
			ConstLabels: labels,
		}),
		ExampleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "canopy_train_example_duration_seconds",
			Help:        "Forward and backward time per example",
			ConstLabels: labels,
			Buckets:     []float64{0.0001, 0.001, 0.01, 0.1, 1},
		}),
		LevelAccuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "canopy_validation_level_accuracy",
			Help:        "Validation accuracy per hierarchy level",
			ConstLabels: labels,
		}, []string{"level"}),
		Accuracy: f.NewGauge(prometheus.GaugeOpts{
			Name:        "canopy_validation_accuracy",
			Help:        "Validation accuracy pooled over levels",
			ConstLabels: labels,
		}),
		BestAccuracy: f.NewGauge(prometheus.GaugeOpts{
			Name:        "canopy_validation_best_accuracy",
			Help:        "Best validation accuracy of the session",
			ConstLabels: labels,
		}),
	}
}

// SetLevelAccuracy records the accuracy of one hierarchy level.
func (t *Training) SetLevelAccuracy(level int, acc float64) {
	t.LevelAccuracy.WithLabelValues(strconv.Itoa(level)).Set(acc)
}

// Registry returns the session registry.
func (t *Training) Registry() *prometheus.Registry { return t.registry }

// Handler serves the session metrics in the Prometheus exposition format.
func (t *Training) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Package validator scores a hierarchical classifier against labelled
// examples, level by level.
package validator

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/crimson-sun/canopy/internal/engine/classifier"
	"github.com/crimson-sun/canopy/internal/engine/embedder"
	"github.com/crimson-sun/canopy/internal/engine/head"
	"github.com/crimson-sun/canopy/internal/model"
)

// Counter tallies true positives, false positives and false negatives.
type Counter struct {
	TP, FP, FN int
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Precision returns TP / (TP + FP).
func (c Counter) Precision() float64 { return ratio(c.TP, c.TP+c.FP) }

// Recall returns TP / (TP + FN).
func (c Counter) Recall() float64 { return ratio(c.TP, c.TP+c.FN) }

// F1 returns the harmonic mean of precision and recall.
func (c Counter) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy returns TP / (TP + FP + FN).
func (c Counter) Accuracy() float64 { return ratio(c.TP, c.TP+c.FP+c.FN) }

func (c *Counter) add(o Counter) {
	c.TP += o.TP
	c.FP += o.FP
	c.FN += o.FN
}

// Report is the result of one validation run.
type Report struct {
	Examples int
	Levels   []Counter

	// Confusion counts root decisions as [expected][predicted].
	Confusion [][]int
}

// Total pools the counters of every level.
func (r *Report) Total() Counter {
	var total Counter
	for _, c := range r.Levels {
		total.add(c)
	}
	return total
}

// Accuracy returns the pooled accuracy over all levels.
func (r *Report) Accuracy() float64 { return r.Total().Accuracy() }

// String renders the per-level counters and the root confusion matrix.
func (r *Report) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "level\tTP\tFP\tFN\tprecision\trecall\tF1\taccuracy\t")
	for i, c := range r.Levels {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t\n",
			i, c.TP, c.FP, c.FN, c.Precision(), c.Recall(), c.F1(), c.Accuracy())
	}
	t := r.Total()
	fmt.Fprintf(w, "all\t%d\t%d\t%d\t%.4f\t%.4f\t%.4f\t%.4f\t\n",
		t.TP, t.FP, t.FN, t.Precision(), t.Recall(), t.F1(), t.Accuracy())
	w.Flush()

	if len(r.Confusion) > 0 {
		b.WriteString("\nroot confusion (rows expected, columns predicted)\n")
		w = tabwriter.NewWriter(&b, 0, 0, 1, ' ', tabwriter.AlignRight)
		for i := range r.Confusion {
			fmt.Fprintf(w, "\t%d", i)
		}
		fmt.Fprintln(w, "\t")
		for i, row := range r.Confusion {
			fmt.Fprintf(w, "%d", i)
			for _, n := range row {
				fmt.Fprintf(w, "\t%d", n)
			}
			fmt.Fprintln(w, "\t")
		}
		w.Flush()
	}
	return b.String()
}

// Validator classifies examples with a model and compares the predicted
// path against the expected path.
type Validator struct {
	model   *classifier.Model
	encoder embedder.Encoder
	pool    *head.Pool
}

// New returns a validator for m reading tokens through enc.
func New(m *classifier.Model, enc embedder.Encoder) *Validator {
	return &Validator{model: m, encoder: enc, pool: head.NewPool()}
}

// Validate scores examples. Counters start from zero on every call.
func (v *Validator) Validate(examples []model.Example) (*Report, error) {
	v.model.SetTraining(false)
	width := v.model.Heads.Width()
	r := &Report{Confusion: make([][]int, width)}
	for i := range r.Confusion {
		r.Confusion[i] = make([]int, width)
	}

	for n, ex := range examples {
		if err := v.score(r, ex); err != nil {
			return nil, fmt.Errorf("validator: example %d: %w", n, err)
		}
		r.Examples++
	}
	slog.Debug("validation done", "examples", r.Examples, "accuracy", r.Accuracy())
	return r, nil
}

func (v *Validator) score(r *Report, ex model.Example) error {
	doc, err := v.encoder.Encode(ex.Text)
	if err != nil {
		return err
	}
	expected, err := v.model.ExpectedPath(ex.Classes)
	if err != nil {
		return err
	}
	v.pool.ReleaseAll()
	dists, err := v.model.Classify(doc, v.pool)
	if err != nil {
		return err
	}

	stopLevel := -1
	if len(expected) > len(ex.Classes) {
		stopLevel = len(expected) - 1
	}
	for len(r.Levels) < len(expected) {
		r.Levels = append(r.Levels, Counter{})
	}

	for level, want := range expected {
		c := &r.Levels[level]
		if level >= len(dists) {
			c.FN++
			continue
		}
		got := head.Argmax(dists[level])
		if level == 0 && want < len(r.Confusion) && got < len(r.Confusion) {
			r.Confusion[want][got]++
		}
		switch {
		case got == want && level != stopLevel:
			c.TP++
		case got == want:
		case level == stopLevel:
			c.FN++
		default:
			c.FP++
		}
	}
	return nil
}

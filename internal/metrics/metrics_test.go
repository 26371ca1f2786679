package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionsDoNotShareState(t *testing.T) {
	a := NewTraining("a")
	b := NewTraining("b")
	a.Examples.Add(3)
	if got := testutil.ToFloat64(a.Examples); got != 3 {
		t.Errorf("a examples = %v, want 3", got)
	}
	if got := testutil.ToFloat64(b.Examples); got != 0 {
		t.Errorf("b examples = %v, want 0", got)
	}
}

func TestLevelAccuracy(t *testing.T) {
	m := NewTraining("run")
	m.SetLevelAccuracy(0, 0.75)
	m.SetLevelAccuracy(1, 0.5)
	if got := testutil.ToFloat64(m.LevelAccuracy.WithLabelValues("1")); got != 0.5 {
		t.Errorf("level 1 accuracy = %v, want 0.5", got)
	}
	if n := testutil.CollectAndCount(m.LevelAccuracy); n != 2 {
		t.Errorf("level series = %d, want 2", n)
	}
}

func TestHandler(t *testing.T) {
	m := NewTraining("xyz")
	m.Epochs.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `canopy_train_epochs_total{run="xyz"} 1`) {
		t.Errorf("metrics output missing epoch counter:\n%s", body)
	}
}

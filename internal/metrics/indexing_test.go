package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIndexingMetrics_Idempotent(t *testing.T) {
	RegisterIndexingMetrics()
	RegisterIndexingMetrics()

	IndexRowsWrittenTotal.WithLabelValues("String").Add(2)
	if v := testutil.ToFloat64(IndexRowsWrittenTotal.WithLabelValues("String")); v < 2 {
		t.Errorf("expected at least 2 rows, got %f", v)
	}

	err := prometheus.Register(ReindexPagesTotal)
	var already prometheus.AlreadyRegisteredError
	if err == nil {
		t.Fatal("expected pages counter to be registered already")
	}
	if !errors.As(err, &already) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestReindexPercentComplete_PerOperation(t *testing.T) {
	ReindexPercentComplete.WithLabelValues("op-a").Set(40)
	ReindexPercentComplete.WithLabelValues("op-b").Set(90)

	if n := testutil.CollectAndCount(ReindexPercentComplete); n < 2 {
		t.Errorf("expected a series per operation, got %d", n)
	}
	ReindexPercentComplete.DeleteLabelValues("op-a")
	if v := testutil.ToFloat64(ReindexPercentComplete.WithLabelValues("op-b")); v != 90 {
		t.Errorf("expected 90, got %f", v)
	}
}

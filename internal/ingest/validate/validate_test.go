package validate

import (
	"math"
	"testing"

	"github.com/vantage-observability/vantage/internal/model"
)

func TestSampleRejectsNonFiniteValue(t *testing.T) {
	s := model.Sample{ServiceName: "api", MetricName: "http.duration", MetricType: model.MetricGauge, Value: math.NaN()}
	errs := Sample(0, s)

	found := false
	for _, e := range errs {
		if e.Field == "value" && e.Code == "non_finite" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a non_finite error for value, got %+v", errs)
	}
}

func TestSampleAcceptsWellFormed(t *testing.T) {
	s := model.Sample{ServiceName: "api", MetricName: "http.duration", MetricType: model.MetricGauge, Value: 42.0}
	if errs := Sample(0, s); len(errs) != 0 {
		t.Fatalf("expected no errors, got %+v", errs)
	}
}

func TestEnvelopeRejectsOversizedBatch(t *testing.T) {
	env := model.BatchEnvelope{Metrics: make([]model.Sample, 5)}
	errs := Envelope(env, 3)

	if len(errs) != 1 || errs[0].Code != "batch_too_large" {
		t.Fatalf("expected a single batch_too_large error, got %+v", errs)
	}
}

package health

import "testing"

func TestComputeIsPureAndBanded(t *testing.T) {
	s1 := Compute("api", 1000, 5, 120, DefaultWeights)
	s2 := Compute("api", 1000, 5, 120, DefaultWeights)
	if s1 != s2 {
		t.Fatalf("Compute is not pure: %v != %v", s1, s2)
	}
	if s1.Status != StatusHealthy {
		t.Fatalf("expected healthy band, got %v (overall=%v)", s1.Status, s1.Overall)
	}
}

func TestComputeCriticalUnderHeavyErrors(t *testing.T) {
	s := Compute("api", 1000, 200, 1500, DefaultWeights)
	if s.Status != StatusCritical {
		t.Fatalf("expected critical band, got %v (overall=%v)", s.Status, s.Overall)
	}
}

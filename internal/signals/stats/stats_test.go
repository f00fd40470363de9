package stats

import (
	"math"
	"testing"
)

func TestMeanAndStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(values); math.Abs(got-5) > 1e-9 {
		t.Fatalf("Mean = %v, want 5", got)
	}
	if got := StdDev(values); math.Abs(got-2) > 1e-9 {
		t.Fatalf("StdDev = %v, want 2", got)
	}
}

func TestPercentileInterpolates(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	if got := Percentile(values, 50); math.Abs(got-2.5) > 1e-9 {
		t.Fatalf("Percentile(50) = %v, want 2.5", got)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(5, 0, 1) != 1 {
		t.Fatal("Clamp should cap at hi")
	}
	if Clamp(-5, 0, 1) != 0 {
		t.Fatal("Clamp should floor at lo")
	}
}

func TestWelchTTestSignificantDifference(t *testing.T) {
	a := make([]float64, 40)
	b := make([]float64, 40)
	for i := range a {
		a[i] = 200 + float64(i%3)
		b[i] = 150 + float64(i%3)
	}
	tt, df := WelchTTest(a, b)
	p := TwoSidedPValue(tt, df)
	if p >= 0.05 {
		t.Fatalf("expected a significant difference, got p=%v", p)
	}
}

func TestWelchTTestNoDifference(t *testing.T) {
	a := []float64{100, 101, 99, 100, 102, 98, 100, 101}
	b := []float64{100, 99, 101, 100, 98, 102, 100, 101}
	tt, df := WelchTTest(a, b)
	p := TwoSidedPValue(tt, df)
	if p < 0.05 {
		t.Fatalf("expected no significant difference, got p=%v", p)
	}
}

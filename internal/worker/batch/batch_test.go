package batch

import (
	"testing"
	"time"

	"github.com/vantage-observability/vantage/internal/model"
)

func TestFullAtTargetSize(t *testing.T) {
	a := New(3, time.Hour)
	for i := 0; i < 2; i++ {
		a.Add(model.Row{})
	}
	if a.Full() {
		t.Fatal("expected not full below target")
	}
	a.Add(model.Row{})
	if !a.Full() {
		t.Fatal("expected full at target")
	}
	rows := a.Drain()
	if len(rows) != 3 {
		t.Fatalf("expected 3 drained rows, got %d", len(rows))
	}
	if a.Len() != 0 {
		t.Fatal("expected accumulator empty after drain")
	}
}

func TestStaleAfterMaxAge(t *testing.T) {
	a := New(100, time.Millisecond)
	a.Add(model.Row{})
	time.Sleep(5 * time.Millisecond)
	if !a.Stale(time.Now()) {
		t.Fatal("expected stale after max age elapses")
	}
}

func TestPeekDoesNotReset(t *testing.T) {
	a := New(10, time.Hour)
	a.Add(model.Row{})
	a.Add(model.Row{})
	if len(a.Peek()) != 2 {
		t.Fatal("expected peek to return both buffered rows")
	}
	if a.Len() != 2 {
		t.Fatal("expected peek not to reset the accumulator")
	}
}

func TestSetTargetAdjustsFullThreshold(t *testing.T) {
	a := New(10, time.Hour)
	a.Add(model.Row{})
	a.SetTarget(1)
	if !a.Full() {
		t.Fatal("expected full immediately after lowering target below buffered count")
	}
}

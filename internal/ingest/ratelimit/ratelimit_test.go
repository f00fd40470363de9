package ratelimit

import "testing"

func TestAllowDrainsCapacityThenRejects(t *testing.T) {
	l := New(3, 60) // capacity 3, refill 1/sec
	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("client-a")
		if !ok {
			t.Fatalf("request %d should be admitted within capacity", i)
		}
	}
	ok, wait := l.Allow("client-a")
	if ok {
		t.Fatal("4th request should exceed burst capacity")
	}
	if wait <= 0 {
		t.Fatal("expected a positive retry-after delay")
	}
}

func TestAllowIsPerIdentity(t *testing.T) {
	l := New(1, 60)
	l.Allow("client-a")
	ok, _ := l.Allow("client-b")
	if !ok {
		t.Fatal("a different identity must have its own bucket")
	}
}

package rangequery

import (
	"testing"
	"time"
)

func TestBucketWidthClampedToFloor(t *testing.T) {
	if got := BucketWidth(60); got != minBucketWidth {
		t.Fatalf("expected floor of 60s, got %s", got)
	}
}

func TestBucketWidthClampedToCeiling(t *testing.T) {
	if got := BucketWidth(100 * 86400); got != maxBucketWidth {
		t.Fatalf("expected ceiling of 1 day, got %s", got)
	}
}

func TestBucketWidthIsATenthOfRange(t *testing.T) {
	if got := BucketWidth(3600); got != 360*time.Second {
		t.Fatalf("expected 360s for a 1h range, got %s", got)
	}
}

package bus

import "testing"

func TestTopicForKeysOnServiceName(t *testing.T) {
	got := topicFor("checkout")
	want := "vantage/metrics/checkout"
	if got != want {
		t.Fatalf("topicFor(%q) = %q, want %q", "checkout", got, want)
	}
}

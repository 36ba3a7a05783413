package client

import (
	"testing"
	"time"
)

func TestBackoffDelay_Schedule(t *testing.T) {
	base := 1000 * time.Millisecond
	max := 10000 * time.Millisecond

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
	}
	for attempt, w := range want {
		if got := backoffDelay(attempt, base, max); got != w {
			t.Errorf("backoffDelay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestBackoffDelay_CapHolds(t *testing.T) {
	base := 1000 * time.Millisecond
	max := 10000 * time.Millisecond

	for attempt := 4; attempt < 40; attempt++ {
		if got := backoffDelay(attempt, base, max); got != max {
			t.Errorf("backoffDelay(%d) = %v, want cap %v", attempt, got, max)
		}
	}
}

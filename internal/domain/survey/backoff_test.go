package survey

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := BackoffSchedule{
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		MaxExponent:  5,
	}

	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 32 * time.Second},
		{100, 32 * time.Second},
		{-1, time.Second},
	}

	for _, tc := range cases {
		if got := b.Delay(tc.n); got != tc.want {
			t.Fatalf("Delay(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}

func TestBackoffDelayHitsCeiling(t *testing.T) {
	b := BackoffSchedule{
		InitialDelay: 10 * time.Second,
		MaxDelay:     15 * time.Second,
		MaxExponent:  5,
	}
	if got := b.Delay(3); got != 15*time.Second {
		t.Fatalf("Delay(3) = %v, want ceiling 15s", got)
	}
}

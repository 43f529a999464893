package service

import (
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, MaxAttempts: 5}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestBackoff_Exhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 3}
	if b.Exhausted(3) {
		t.Fatalf("3 failures must leave budget for the third retry")
	}
	if !b.Exhausted(4) {
		t.Fatalf("expected budget exhausted after 4 failures")
	}
	if (Backoff{}).Exhausted(1000) {
		t.Fatalf("zero MaxAttempts retries forever")
	}
}

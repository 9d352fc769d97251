package clock

import (
	"context"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"500ms": 500 * time.Millisecond,
		"2s":    2 * time.Second,
		"3m":    3 * time.Minute,
		"1h":    time.Hour,
		"5":     5 * time.Second,
		"1.5s":  1500 * time.Millisecond,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseDuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseDurationInvalid(t *testing.T) {
	if _, err := ParseDuration("banana"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if _, err := ParseDuration(""); err == nil {
		t.Fatal("expected error for empty duration")
	}
}

func TestSleepCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Second); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestSleepCompletes(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

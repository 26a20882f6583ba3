package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewLimiterStartsFull(t *testing.T) {
	tests := []struct {
		name  string
		l     *Limiter
		burst float64
	}{
		{"custom", New("test", 1, 10), 10},
		{"query", NewQueryLimiter(), QueryBurstCapacity},
		{"mutation", NewMutationLimiter(), MutationBurstCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.l.Available(); got < tt.burst-0.1 || got > tt.burst {
				t.Errorf("Available() = %.2f, want %.0f", got, tt.burst)
			}
		})
	}
}

func TestTakeDrainsBucket(t *testing.T) {
	l := New("test", 0.001, 3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if d := l.take(now); d != 0 {
			t.Fatalf("take() #%d = %v, want a token", i+1, d)
		}
	}
	if d := l.take(now); d <= 0 {
		t.Errorf("take() on an empty bucket = %v, want a wait", d)
	}
}

func TestRefillCapsAtBurst(t *testing.T) {
	l := New("test", 100, 5)
	time.Sleep(50 * time.Millisecond)
	if got := l.Available(); got > 5 {
		t.Errorf("Available() = %.2f, want <= 5", got)
	}
}

func TestWaitAcquiresAfterRefill(t *testing.T) {
	l := New("test", 50, 1)
	l.take(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Wait() took %v", elapsed)
	}
}

func TestWaitReturnsOnCancelledContext(t *testing.T) {
	l := New("test", 0.01, 1)
	l.take(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestHoldDelaysWait(t *testing.T) {
	l := New("test", 1000, 10)
	l.Hold(80 * time.Millisecond)
	if l.HeldFor() <= 0 {
		t.Fatal("HeldFor() should be positive after Hold")
	}

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("Wait() returned after %v, want the hold to pass first", elapsed)
	}
	if l.HeldFor() != 0 {
		t.Errorf("HeldFor() = %v after the hold passed", l.HeldFor())
	}
}

func TestHoldRespectsContext(t *testing.T) {
	l := New("test", 1000, 10)
	l.Hold(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("Wait() should give up while held")
	}
	if got := l.Available(); got < 9.9 {
		t.Errorf("a held Wait consumed a token: Available() = %.2f", got)
	}
}

func TestHoldKeepsLongest(t *testing.T) {
	tests := []struct {
		name  string
		holds []time.Duration
		min   time.Duration
		max   time.Duration
	}{
		{"shorter does not cut", []time.Duration{time.Minute, time.Second}, 59 * time.Second, time.Minute},
		{"longer extends", []time.Duration{time.Second, time.Minute}, 59 * time.Second, time.Minute},
		{"capped", []time.Duration{time.Hour}, MaxHold - time.Second, MaxHold},
		{"non-positive ignored", []time.Duration{0, -time.Second}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("test", 1, 1)
			for _, d := range tt.holds {
				l.Hold(d)
			}
			if got := l.HeldFor(); got < tt.min || got > tt.max {
				t.Errorf("HeldFor() = %v, want between %v and %v", got, tt.min, tt.max)
			}
		})
	}
}

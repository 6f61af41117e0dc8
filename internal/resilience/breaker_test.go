package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("failure %d: got %v", i+1, err)
		}
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	// Two more failures stay under the reset threshold.
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("got %v, circuit should still be closed", err)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return clock }

	_ = b.Execute(func() error { return errBoom })
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen before timeout", err)
	}

	clock = clock.Add(2 * time.Minute)

	// A failing probe slams the circuit shut again.
	if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe: got %v", err)
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen after failed probe", err)
	}

	clock = clock.Add(2 * time.Minute)

	// A successful probe closes it.
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe: got %v", err)
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("got %v, circuit should be closed", err)
	}
}

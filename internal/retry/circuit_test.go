package retry

import (
	"errors"
	"testing"
	"time"
)

func testBreaker() *Breaker {
	return NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	b := testBreaker()

	b.Failure()
	b.Failure()
	if b.State() != CircuitClosed {
		t.Fatalf("State() = %v before the threshold, want closed", b.State())
	}
	b.Failure()
	if b.State() != CircuitOpen {
		t.Fatalf("State() = %v at the threshold, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() error = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	b := testBreaker()
	for range 3 {
		b.Failure()
	}

	time.Sleep(15 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() error = %v, want the probe request admitted", err)
	}
	if b.State() != CircuitHalfOpen {
		t.Errorf("State() = %v, want half-open after the cooldown", b.State())
	}
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	b := testBreaker()
	for range 3 {
		b.Failure()
	}
	time.Sleep(15 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	b.Success()
	if b.State() != CircuitHalfOpen {
		t.Fatalf("State() = %v after one probe success, want half-open", b.State())
	}
	b.Success()
	if b.State() != CircuitClosed {
		t.Errorf("State() = %v after %d probe successes, want closed", b.State(), 2)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker()
	for range 3 {
		b.Failure()
	}
	time.Sleep(15 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	b.Failure()
	if b.State() != CircuitOpen {
		t.Errorf("State() = %v, want open again after a failed probe", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() error = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := testBreaker()

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	if b.State() != CircuitClosed {
		t.Errorf("State() = %v, want closed (success resets the streak)", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b := testBreaker()
	for range 3 {
		b.Failure()
	}

	b.Reset()
	if b.State() != CircuitClosed {
		t.Fatalf("State() = %v after Reset, want closed", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() error = %v after Reset, want nil", err)
	}
}

func TestCircuitStateString(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

package logsocket

import (
	"testing"
	"time"

	"github.com/lawnchairsociety/logsocket/internal/config"
)

func newProbeLimiter(t *testing.T, maxFailures int, lockout, maxLockout time.Duration) *ProbeLimiter {
	t.Helper()
	pl := NewProbeLimiter(config.ProbeLimitConfig{
		MaxFailures: maxFailures,
		Lockout:     lockout,
		MaxLockout:  maxLockout,
	})
	t.Cleanup(pl.Stop)
	return pl
}

func TestProbeLimiter_Basic(t *testing.T) {
	pl := newProbeLimiter(t, 3, time.Second, 10*time.Second)
	ip := "192.168.1.1"

	// First 2 failures should not trigger lockout
	if locked, _ := pl.RecordFailure(ip); locked {
		t.Error("first failure should not trigger lockout")
	}
	if locked, _ := pl.RecordFailure(ip); locked {
		t.Error("second failure should not trigger lockout")
	}

	locked, d := pl.RecordFailure(ip)
	if !locked {
		t.Fatal("third failure should trigger lockout")
	}
	if d != time.Second {
		t.Errorf("lockout = %v, want 1s", d)
	}

	if isLocked, remaining := pl.IsLocked(ip); !isLocked || remaining <= 0 {
		t.Errorf("IsLocked = %v, %v; want locked", isLocked, remaining)
	}
}

func TestProbeLimiter_SuccessClears(t *testing.T) {
	pl := newProbeLimiter(t, 3, time.Second, 10*time.Second)
	ip := "192.168.1.1"

	pl.RecordFailure(ip)
	pl.RecordFailure(ip)
	pl.RecordSuccess(ip)

	if n := pl.Failures(ip); n != 0 {
		t.Fatalf("failures after success = %d, want 0", n)
	}
	if locked, _ := pl.RecordFailure(ip); locked {
		t.Error("first failure after success should not trigger lockout")
	}
	if locked, _ := pl.RecordFailure(ip); locked {
		t.Error("second failure after success should not trigger lockout")
	}
}

func TestProbeLimiter_ExponentialBackoff(t *testing.T) {
	const base = 50 * time.Millisecond
	pl := newProbeLimiter(t, 1, base, time.Second)
	ip := "192.168.1.1"

	want := []time.Duration{base, 2 * base, 4 * base}
	for i, w := range want {
		locked, d := pl.RecordFailure(ip)
		if !locked || d != w {
			t.Fatalf("lockout %d = %v, %v; want true, %v", i+1, locked, d, w)
		}
		time.Sleep(d + 20*time.Millisecond)
	}
}

func TestProbeLimiter_MaxLockout(t *testing.T) {
	const base = 50 * time.Millisecond
	pl := newProbeLimiter(t, 1, base, 80*time.Millisecond)
	ip := "192.168.1.1"

	_, d := pl.RecordFailure(ip)
	if d != base {
		t.Fatalf("first lockout = %v, want %v", d, base)
	}
	for i := 0; i < 2; i++ {
		time.Sleep(d + 20*time.Millisecond)
		_, d = pl.RecordFailure(ip)
		if d != 80*time.Millisecond {
			t.Fatalf("lockout = %v, want cap of 80ms", d)
		}
	}
}

func TestProbeLimiter_FailureWhileLocked(t *testing.T) {
	pl := newProbeLimiter(t, 1, time.Second, 10*time.Second)
	ip := "192.168.1.1"

	pl.RecordFailure(ip)
	locked, d := pl.RecordFailure(ip)
	if !locked || d > time.Second {
		t.Errorf("failure while locked = %v, %v; want remaining lockout", locked, d)
	}
}

func TestProbeLimiter_MultipleIPs(t *testing.T) {
	pl := newProbeLimiter(t, 2, time.Second, 10*time.Second)
	ip1 := "192.168.1.1"
	ip2 := "192.168.1.2"

	pl.RecordFailure(ip1)
	pl.RecordFailure(ip1)

	if locked, _ := pl.IsLocked(ip1); !locked {
		t.Error("IP1 should be locked")
	}
	if locked, _ := pl.IsLocked(ip2); locked {
		t.Error("IP2 should not be locked")
	}
	if locked, _ := pl.RecordFailure(ip2); locked {
		t.Error("first failure for IP2 should not trigger lockout")
	}
}

func TestProbeLimiter_Disabled(t *testing.T) {
	pl := newProbeLimiter(t, 0, time.Second, 10*time.Second)
	ip := "192.168.1.1"

	for i := 0; i < 10; i++ {
		if locked, _ := pl.RecordFailure(ip); locked {
			t.Fatal("disabled limiter locked an IP")
		}
	}
	if locked, _ := pl.IsLocked(ip); locked {
		t.Error("disabled limiter reports a lockout")
	}
}

func TestProbeLimiter_Cleanup(t *testing.T) {
	pl := newProbeLimiter(t, 1, time.Second, 10*time.Second)

	pl.RecordFailure("10.0.0.1") // locked, failures reset
	pending := "10.0.0.2"
	pl.maxFailures = 5
	pl.RecordFailure(pending) // pending failure

	pl.cleanup(time.Now().Add(time.Hour))

	if _, ok := pl.attempts["10.0.0.1"]; ok {
		t.Error("expired lockout should be removed")
	}
	if n := pl.Failures(pending); n != 1 {
		t.Errorf("pending failures = %d, want 1", n)
	}
}

package sessioncore

import (
	"testing"
	"time"
)

func TestThrottleWindow(t *testing.T) {
	clock := newFakeClock()
	throttle := NewThrottle(time.Second)

	if !throttle.Allow(clock.Now(), false) {
		t.Fatalf("first call must pass")
	}
	clock.Advance(400 * time.Millisecond)
	if throttle.Allow(clock.Now(), false) {
		t.Fatalf("expected throttled inside window")
	}
	if got := throttle.Remaining(clock.Now()); got != 600*time.Millisecond {
		t.Fatalf("expected 600ms remaining, got %s", got)
	}
	if !throttle.Allow(clock.Now(), true) {
		t.Fatalf("forced call must pass")
	}
	clock.Advance(time.Second)
	if !throttle.Allow(clock.Now(), false) {
		t.Fatalf("expected pass after window")
	}
	if throttle.Last() != clock.Now() {
		t.Fatalf("expected last to track admitted call")
	}
}

func TestThrottleIndependentWindows(t *testing.T) {
	clock := newFakeClock()
	persist := NewThrottle(time.Second)
	broadcast := NewThrottle(250 * time.Millisecond)

	persist.Allow(clock.Now(), false)
	broadcast.Allow(clock.Now(), false)
	clock.Advance(300 * time.Millisecond)

	if persist.Allow(clock.Now(), false) {
		t.Fatalf("persist window must still be closed")
	}
	if !broadcast.Allow(clock.Now(), false) {
		t.Fatalf("broadcast window must be open")
	}
}

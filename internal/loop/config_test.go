//go:build linux

package loop

import (
	"testing"
	"time"
)

func TestIdleAfterIsThreeTimesTimeSlot(t *testing.T) {
	cfg := Config{TimeSlot: 5 * time.Second}
	if got, want := cfg.idleAfter(), 15*time.Second; got != want {
		t.Fatalf("idleAfter() = %v, want %v", got, want)
	}
}

package presence

import (
	"testing"
	"time"
)

func TestDerive(t *testing.T) {
	t.Parallel()

	heartbeat := 10 * time.Minute
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lastSeen *time.Time
		want     bool
	}{
		{name: "never seen", lastSeen: nil, want: false},
		{name: "just seen", lastSeen: ptr(now), want: true},
		{name: "within threshold", lastSeen: ptr(now.Add(-19 * time.Minute)), want: true},
		{name: "exactly at threshold", lastSeen: ptr(now.Add(-20 * time.Minute)), want: true},
		{name: "past threshold", lastSeen: ptr(now.Add(-20*time.Minute - time.Second)), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Derive(tt.lastSeen, now, heartbeat); got != tt.want {
				t.Errorf("Derive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }

package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestCooldownState_Remaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name     string
		state    *CooldownState
		expected time.Duration
		active   bool
	}{
		{
			name:     "nil state",
			state:    nil,
			expected: 0,
		},
		{
			name:     "zero state",
			state:    &CooldownState{},
			expected: 0,
		},
		{
			name:     "cooldown in future",
			state:    &CooldownState{Until: now.Add(3 * time.Second)},
			expected: 3 * time.Second,
			active:   true,
		},
		{
			name:     "cooldown already passed",
			state:    &CooldownState{Until: now.Add(-time.Second)},
			expected: 0,
		},
		{
			name:     "cooldown ends exactly now",
			state:    &CooldownState{Until: now},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Remaining(now); got != tt.expected {
				t.Errorf("Remaining() = %v, want %v", got, tt.expected)
			}
			if got := tt.state.Active(now); got != tt.active {
				t.Errorf("Active() = %v, want %v", got, tt.active)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{name: "seconds", value: "7", want: 7 * time.Second, wantOK: true},
		{name: "zero seconds", value: "0", want: 0, wantOK: true},
		{name: "http date", value: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second, wantOK: true},
		{name: "date in the past", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0, wantOK: true},
		{name: "empty", value: "", wantOK: false},
		{name: "negative", value: "-3", wantOK: false},
		{name: "garbage", value: "soon", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, now)
			if ok != tt.wantOK {
				t.Fatalf("ParseRetryAfter(%q) ok = %v, want %v", tt.value, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

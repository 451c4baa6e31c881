package natsfeed

import (
	"crossswap/apps/crossswap/internal/events"
	"testing"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix    string
		eventType events.EventType
		want      string
	}{
		{DefaultSubject, events.SecretRevealed, "crossswap.events.secret_revealed"},
		{"swaps", events.OrderBroadcast, "swaps.order_broadcast"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Subject(tt.prefix, tt.eventType); got != tt.want {
				t.Errorf("Subject() = %s, want %s", got, tt.want)
			}
		})
	}
}

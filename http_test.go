package main

import (
	"net/http"
	"testing"

	"charla/chat"
)

func TestStatusForGeneration(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&chat.GenerationError{Kind: chat.KindRateLimit}, http.StatusTooManyRequests},
		{&chat.GenerationError{Kind: chat.KindAuth}, http.StatusBadGateway},
		{&chat.GenerationError{Kind: chat.KindParse}, http.StatusBadGateway},
		{&chat.GenerationError{Kind: chat.KindNetwork}, http.StatusBadGateway},
		{&chat.GenerationError{Kind: chat.KindProvider}, http.StatusBadGateway},
		{http.ErrBodyNotAllowed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForGeneration(tt.err); got != tt.want {
			t.Errorf("statusForGeneration(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRateLimitAllowBurstThenDeny(t *testing.T) {
	const addr = "192.0.2.77:51234"

	allowed := 0
	for i := 0; i < clientBurst+2; i++ {
		if rateLimitAllow(addr) {
			allowed++
		}
	}
	if allowed != clientBurst {
		t.Fatalf("allowed %d requests from one client, want burst of %d", allowed, clientBurst)
	}

	// A different client has its own bucket.
	if !rateLimitAllow("192.0.2.78:51234") {
		t.Fatal("fresh client denied")
	}
}

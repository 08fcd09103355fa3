package chat

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a terminal generation failure.
type ErrorKind string

const (
	// KindAuth means the credential was rejected. Never retried; the user
	// must fix configuration.
	KindAuth ErrorKind = "authentication"
	// KindRateLimit means provider throttling outlasted the retry budget.
	KindRateLimit ErrorKind = "rate_limit"
	// KindParse means the provider response had an unexpected shape.
	KindParse ErrorKind = "parse"
	// KindNetwork covers transport failures and timeouts.
	KindNetwork ErrorKind = "network"
	// KindProvider covers any other provider-side failure (5xx and the
	// like).
	KindProvider ErrorKind = "provider"
)

// GenerationError is the typed result of a failed generation attempt. All
// remote-call failures are converted to this at the orchestrator boundary;
// raw transport errors never reach the caller.
type GenerationError struct {
	Kind   ErrorKind
	Status int // HTTP status when one was received, else 0
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("generation failed (%s, status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" when err is not a
// GenerationError.
func KindOf(err error) ErrorKind {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	return ""
}

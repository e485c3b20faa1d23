package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrAcquireTimeout is returned when no request slot is free within the
	// acquire timeout. No request was sent.
	ErrAcquireTimeout = errors.New("rate limiter acquire timed out")

	// ErrCooldown is returned when a remote cooldown outlasts the wait budget.
	ErrCooldown = errors.New("remote cooldown exceeds wait budget")

	// ErrInvalidQuery is returned for queries OpenAlex would reject.
	ErrInvalidQuery = errors.New("invalid openalex query")
)

// Kind classifies a failed remote call.
type Kind string

const (
	// KindRateLimited covers 429 responses and locally denied slots.
	KindRateLimited Kind = "rate_limited"

	// KindTimeout covers per-attempt and request deadlines.
	KindTimeout Kind = "timeout"

	// KindConnectionFailure covers dial, reset and other transport failures.
	KindConnectionFailure Kind = "connection_failure"

	// KindClientError covers 4xx responses other than 429.
	KindClientError Kind = "client_error"

	// KindServerError covers 5xx responses.
	KindServerError Kind = "server_error"
)

// Category is the coarse error taxonomy callers branch on.
type Category string

const (
	CategoryRateLimited Category = "rate_limited"
	CategoryTransient   Category = "transient"
	CategoryPermanent   Category = "permanent"
)

// Category maps a kind onto the taxonomy.
func (k Kind) Category() Category {
	switch k {
	case KindRateLimited:
		return CategoryRateLimited
	case KindTimeout, KindConnectionFailure, KindServerError:
		return CategoryTransient
	default:
		return CategoryPermanent
	}
}

// retryable reports whether the transport retries this kind.
func (k Kind) retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindConnectionFailure, KindServerError:
		return true
	default:
		return false
	}
}

// TransportError describes a remote call that did not produce a 2xx response.
type TransportError struct {
	Kind       Kind
	StatusCode int
	Endpoint   string
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("openalex %s error", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Endpoint != "" {
		msg += " on " + e.Endpoint
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Category returns the taxonomy category of the error.
func (e *TransportError) Category() Category {
	return e.Kind.Category()
}

// CategoryOf returns the category of a transport error anywhere in err's
// chain. Errors that are not transport errors are Permanent.
func CategoryOf(err error) Category {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Category()
	}
	return CategoryPermanent
}

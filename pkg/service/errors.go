package service

import (
	"context"
	"errors"

	"github.com/Sternrassler/openalex-client/pkg/cache"
	"github.com/Sternrassler/openalex-client/pkg/client"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
)

var (
	// ErrNoData is returned by the network pipelines when the search
	// matches no works.
	ErrNoData = errors.New("no data for the given parameters")

	// ErrInvalidRequest wraps malformed identifiers and parameters.
	ErrInvalidRequest = errors.New("invalid request")
)

// Code is the outward result class of an operation.
type Code string

const (
	CodeOK             Code = "ok"
	CodeNoData         Code = "no_data"
	CodeInvalidRequest Code = "invalid_request"
	CodeUpstream       Code = "upstream_error"
	CodeInternal       Code = "internal_error"
)

// CodeOf classifies err.
func CodeOf(err error) Code {
	var te *client.TransportError
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNoData):
		return CodeNoData
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, client.ErrInvalidQuery),
		errors.Is(err, openalex.ErrInvalidID),
		errors.Is(err, openalex.ErrNamespaceMismatch),
		errors.Is(err, openalex.ErrTooManyValues),
		errors.Is(err, cache.ErrInvalidPattern):
		return CodeInvalidRequest
	case errors.As(err, &te),
		errors.Is(err, client.ErrAcquireTimeout),
		errors.Is(err, client.ErrCooldown),
		errors.Is(err, client.ErrRetryExhausted),
		errors.Is(err, openalex.ErrMalformedPage),
		errors.Is(err, context.DeadlineExceeded):
		return CodeUpstream
	default:
		return CodeInternal
	}
}

// Package errors defines the error kinds shared by the chat core and maps them
// to gRPC status codes at the transport boundary.
package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error kinds. Wrap them with fmt.Errorf("...: %w", ErrX) to add context.
var (
	// ErrNotFound reports a missing room or message.
	ErrNotFound = errors.New("not found")
	// ErrForbidden reports an ownership or membership violation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument reports a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRateLimited reports a throttled send; the caller may retry after the window.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable reports a durable store failure. The current operation is aborted.
	ErrUnavailable = errors.New("store unavailable")
	// ErrCacheDegraded reports a cache failure. Request paths log it and never return it.
	ErrCacheDegraded = errors.New("cache degraded")
	// ErrUnauthenticated reports a missing or invalid session.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// Code maps an error to its gRPC code.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrForbidden):
		return codes.PermissionDenied
	case errors.Is(err, ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, ErrRateLimited):
		return codes.ResourceExhausted
	case errors.Is(err, ErrUnauthenticated):
		return codes.Unauthenticated
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// GRPCStatus converts a domain error into a gRPC status error for clients.
// Internal errors get a generic message so store details do not leak.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := Code(err)
	if code == codes.Internal {
		return status.Error(codes.Internal, "an unexpected error occurred")
	}
	return status.Error(code, err.Error())
}

package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// ErrCircuitOpen is returned without any network attempt while the breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrorKind classifies a failed attempt.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindClientError ErrorKind = "client_error"
	KindServerError ErrorKind = "server_error"
	KindTransport   ErrorKind = "transport"
	KindSchema      ErrorKind = "schema"
	KindUnknown     ErrorKind = "unknown"
)

// Error is a classified attempt failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int // HTTP status for client/server errors
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TimeoutError is returned by Delegate when every attempt was used up and
// the last one timed out.
type TimeoutError struct {
	AgentID  string
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("delegation to %s timed out after %d attempt(s): %v", e.AgentID, e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// statusError builds a classified error from an HTTP status code.
func statusError(code int, body string) *Error {
	kind := KindUnknown
	switch {
	case code >= 500:
		kind = KindServerError
	case code >= 400:
		kind = KindClientError
	}
	if body == "" {
		body = "request failed"
	}
	return &Error{Kind: kind, StatusCode: code, Err: errors.New(body)}
}

// schemaError marks a response that could not be decoded into a result.
func schemaError(format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Err: fmt.Errorf(format, args...)}
}

// classify maps an attempt error onto an *Error. attemptCtx is the context
// the attempt ran under; its deadline firing means the attempt timed out.
func classify(attemptCtx context.Context, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindTransport, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Kind: KindTransport, Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Kind: KindSchema, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}

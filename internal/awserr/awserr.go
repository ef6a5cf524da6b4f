// Package awserr defines the typed error taxonomy for signed AWS
// calls and the single classification point that turns a failed HTTP
// response into one of those types. Everything above this boundary
// (the retry driver in particular) inspects only the typed error and
// its retriable flag, never raw status codes.
package awserr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error-type tokens that mean the service rejected our signature or
// credentials. Matched against the simple type, so provider-namespaced
// tokens like "com.amazon.coral.service#UnrecognizedClientException"
// classify the same as the bare name.
var authorizationTokens = []string{
	"UnrecognizedClientException",
	"InvalidSignatureException",
	"IncompleteSignatureException",
}

// AuthorizationError means the provider rejected the request's
// signature or credentials. It is never retried by itself, but the
// retry driver invalidates cached credentials when it sees one so a
// later attempt signs with fresh material.
type AuthorizationError struct {
	ErrorType string
	Message   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization rejected (%s): %s", SimpleType(e.ErrorType), e.Message)
}

// ServiceError is any other provider-reported failure. Server faults
// (HTTP 5xx) are retriable, client faults are not.
type ServiceError struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *ServiceError) Error() string {
	t := SimpleType(e.ErrorType)
	if t == "" {
		t = "unknown"
	}
	return fmt.Sprintf("service error %d (%s): %s", e.StatusCode, t, e.Message)
}

func (e *ServiceError) retriable() bool { return e.StatusCode/100 == 5 }

// TransportError wraps a low-level connection, TLS, or read failure
// from the transport. No response was classified, so it is retriable
// while attempt budget remains.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport failure: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// PreconditionError reports a caller mistake caught before any network
// I/O, such as a streaming chunk size below the minimum or a request
// path without a leading slash. Always fatal.
type PreconditionError struct {
	Op      string
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition violated: %s", e.Op, e.Message)
}

// Classify maps a failed response's error-type token and HTTP status
// into a typed error. Call it only for status >= 400.
func Classify(statusCode int, errorType, message string) error {
	simple := SimpleType(errorType)
	for _, token := range authorizationTokens {
		if simple == token {
			return &AuthorizationError{ErrorType: errorType, Message: message}
		}
	}
	return &ServiceError{StatusCode: statusCode, ErrorType: errorType, Message: message}
}

// SimpleType strips any namespace prefix up to and including the last
// '#'. Display and matching convenience only.
func SimpleType(errorType string) string {
	if i := strings.LastIndexByte(errorType, '#'); i >= 0 {
		return errorType[i+1:]
	}
	return errorType
}

// Retriable reports whether err may be retried, budget permitting.
// Unclassified low-level failures count as retriable; context
// cancellation never does.
func Retriable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		return false
	}
	var preErr *PreconditionError
	if errors.As(err, &preErr) {
		return false
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.retriable()
	}
	return true
}

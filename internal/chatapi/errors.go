package chatapi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a request failed.
type ErrorKind int

// Failure kinds surfaced by the client.
const (
	// KindNetwork means the request could not be sent or the response not received.
	KindNetwork ErrorKind = iota
	// KindTimeout means the per-attempt deadline expired before a response arrived.
	KindTimeout
	// KindServer means a response arrived with a status outside 200-299.
	KindServer
	// KindParse means the response body did not decode into the expected shape.
	KindParse
	// KindCanceled means the caller's context ended the request sequence.
	KindCanceled
)

// String returns the kind name used in logs and error text.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindParse:
		return "parse"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// RequestError is returned when a request fails. For retried requests it
// describes the last attempt.
type RequestError struct {
	Kind       ErrorKind
	Method     string
	URL        string
	Attempts   int // attempts made, including the failing one
	StatusCode int // set for KindServer
	Err        error
}

// Error implements error.
func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %s failure after %d attempt(s): %v", e.Method, e.URL, e.Kind, e.Attempts, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of a *RequestError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind, true
	}
	return 0, false
}

// IsTimeout reports whether err is a timed-out request.
func IsTimeout(err error) bool { return hasKind(err, KindTimeout) }

// IsNetwork reports whether err is a connectivity failure.
func IsNetwork(err error) bool { return hasKind(err, KindNetwork) }

// IsServer reports whether err is a non-success HTTP status.
func IsServer(err error) bool { return hasKind(err, KindServer) }

// IsParse reports whether err is an undecodable response.
func IsParse(err error) bool { return hasKind(err, KindParse) }

func hasKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

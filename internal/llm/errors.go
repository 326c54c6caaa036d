package llm

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey     = errors.New("llm api key is not configured")
	ErrNetwork           = errors.New("llm network failure")
	ErrHTTPStatus        = errors.New("llm http error")
	ErrMalformedEnvelope = errors.New("llm response envelope is malformed")
	ErrEmptyCompletion   = errors.New("llm returned an empty completion")
)

type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindHTTPStatus        ErrorKind = "http_status"
	KindMalformedEnvelope ErrorKind = "malformed_envelope"
	KindEmptyCompletion   ErrorKind = "empty_completion"
)

// Error describes a failed generateContent call after retries are exhausted.
type Error struct {
	Kind       ErrorKind
	Attempts   int
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		if e.Body != "" {
			return fmt.Sprintf("llm http status %d after %d attempt(s): %s", e.StatusCode, e.Attempts, e.Body)
		}
		return fmt.Sprintf("llm http status %d after %d attempt(s)", e.StatusCode, e.Attempts)
	case KindNetwork:
		return fmt.Sprintf("llm network failure after %d attempt(s): %v", e.Attempts, e.Err)
	case KindMalformedEnvelope:
		return fmt.Sprintf("llm response envelope is malformed: %v", e.Err)
	case KindEmptyCompletion:
		return "llm returned an empty completion"
	default:
		return fmt.Sprintf("llm error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrHTTPStatus:
		return e.Kind == KindHTTPStatus
	case ErrMalformedEnvelope:
		return e.Kind == KindMalformedEnvelope
	case ErrEmptyCompletion:
		return e.Kind == KindEmptyCompletion
	}
	return false
}

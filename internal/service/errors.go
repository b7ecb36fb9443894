package service

import "errors"

var (
	ErrMissingFields   = errors.New("missing fields")
	ErrInvalidType     = errors.New("invalid type")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrPendingNotFound = errors.New("pending payment not found")
	ErrGatewayDeclined = errors.New("gateway declined")
	ErrNotConfigured   = errors.New("not configured")
	ErrInternal        = errors.New("internal error")
)

// errAlreadySettled stops a confirmation that lost the race for a pending reference.
var errAlreadySettled = errors.New("pending txn already settled")

// RequestError is a failure reported back to the caller. Message is the client-facing
// text; Kind is one of the sentinel errors above.
type RequestError struct {
	Kind    error
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RequestError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func reject(kind error, message string) error {
	return &RequestError{Kind: kind, Message: message}
}

func internal(message string, err error) error {
	return &RequestError{Kind: ErrInternal, Message: message, Err: err}
}

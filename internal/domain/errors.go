// Package domain holds the error taxonomy shared by handlers and renderers.
// It stays free of HTTP and browser concerns; the HTTP layer maps these
// types to status codes in one place.
package domain

import "errors"

// ClientError is a failure caused by the caller: an invalid payload, or a
// rendered page that answered with a 4xx status.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string { return e.Message }

// ServerError is any failure attributable to the service or its renderer.
type ServerError struct {
	Message string
	Err     error
}

func (e *ServerError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ServerError) Unwrap() error { return e.Err }

// NewClientError returns a ClientError carrying msg.
func NewClientError(msg string) error {
	return &ClientError{Message: msg}
}

// NewServerError returns a ServerError carrying msg and an optional cause.
func NewServerError(msg string, cause error) error {
	return &ServerError{Message: msg, Err: cause}
}

// IsClientError reports whether err or anything it wraps is a ClientError.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsServerError reports whether err or anything it wraps is a ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

package upsrs

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrInvalidUID             = errors.New("ups-rs: invalid DICOM UID")
	ErrInvalidState           = errors.New("ups-rs: invalid procedure step state")
	ErrTransactionUIDRequired = errors.New("ups-rs: transaction UID required")
	ErrAETitleRequired        = errors.New("ups-rs: AE title required for subscription operations")
	ErrMaxRetriesExceeded     = errors.New("ups-rs: max retries exceeded")
	ErrClientClosed           = errors.New("ups-rs: client closed")
)

// ErrorKind classifies why an operation failed
type ErrorKind int

const (
	// KindValidation is a pre-flight failure; no request was sent
	KindValidation ErrorKind = iota + 1
	// KindClientError is a 4xx response other than 408 and 429; never retried
	KindClientError
	// KindServerError is a 5xx response that persisted through every retry
	KindServerError
	// KindTransient is a 408, 429, timeout or connection failure that persisted through every retry
	KindTransient
	// KindDecode is a success status whose body could not be interpreted
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	case KindTransient:
		return "transient"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is the failure side of a Result
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt could succeed
func (e *Error) Retryable() bool {
	return e.Kind == KindServerError || e.Kind == KindTransient
}

func validationError(cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var upsErr *Error
	if errors.As(err, &upsErr) {
		return upsErr.Kind == kind
	}
	return false
}

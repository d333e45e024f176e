package client

import (
	"errors"
)

// ErrorCategory is a stable label for error classification in metrics. It never changes
// how a failure is reported: callers only ever see the FetchError message.
type ErrorCategory string

const (
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryNetwork    ErrorCategory = "network"
	ErrorCategoryHTTPStatus ErrorCategory = "http_status"
	ErrorCategoryParsing    ErrorCategory = "parsing"
	ErrorCategoryUnknown    ErrorCategory = "unknown"
)

// ErrHTTPStatus is wrapped by FetchError for non-2xx responses.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// FetchError is the single failure kind of a fetch: transport failure, non-2xx status,
// and undecodable body all surface as a human-readable Message.
type FetchError struct {
	Message string
	Err     error

	category ErrorCategory
}

func newFetchError(category ErrorCategory, message string, err error) *FetchError {
	return &FetchError{Message: message, Err: err, category: category}
}

func (e *FetchError) Error() string {
	return e.Message
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.category != "" {
		return fe.category
	}
	if errors.Is(err, ErrHTTPStatus) {
		return ErrorCategoryHTTPStatus
	}
	if isTimeout(err) {
		return ErrorCategoryTimeout
	}
	return ErrorCategoryUnknown
}

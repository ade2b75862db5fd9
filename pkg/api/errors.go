package api

import (
	"errors"
	"fmt"
)

// ErrEmptyData is returned when a successful response carries no data.
var ErrEmptyData = errors.New("api: response has no data")

// Error is an API level failure: the HTTP call succeeded but retcode is
// non-zero.
type Error struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s: retcode %d: %s", e.Endpoint, e.Code, e.Message)
}

// HTTPError is returned for responses with an error status code.
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("api: %s: http %s: %s", e.Endpoint, e.Status, e.Body)
}

// IsCode reports whether err is an *Error with the given retcode.
func IsCode(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

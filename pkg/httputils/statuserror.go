// Copyright (c) 2024 Tigera, Inc. All rights reserved.
package httputils

import (
	"errors"
	"fmt"
)

type StatusError struct {
	// Status http status code of the response.
	Status int `json:"status"`

	// StatusLine is the literal status line of the response, e.g. "404 Not Found".
	StatusLine string `json:"statusLine"`

	// Body is the raw response body text.
	Body string `json:"body"`
}

// Error implementation of error type Error function, which returns the status
// line followed by the raw body text.
func (se *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", se.StatusLine, se.Body)
}

func NewStatusError(status int, statusLine, body string) error {
	return &StatusError{
		Status:     status,
		StatusLine: statusLine,
		Body:       body,
	}
}

// GetStatusError extracts a StatusError from err, if there is one.
func GetStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

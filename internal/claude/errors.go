// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package claude

import (
	"errors"
	"fmt"
)

// TransientError is a failure the caller may retry: rate limiting, server
// errors, overload, or network problems.
type TransientError struct {
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transient API error: %s", e.Message)
}

// PermanentError is a failure retrying cannot fix: authentication problems,
// malformed requests, or refused documents.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("permanent API error: %s", e.Message)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

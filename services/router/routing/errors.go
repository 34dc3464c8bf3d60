// Copyright (C) 2025 Praxis Labs (oss@praxislabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import "fmt"

// ErrCode classifies router failures for callers that branch on cause.
//
// "No match" is NOT an error — it is a decision state. These codes cover the
// infrastructure around the decision: storage, index builds, the cache.
type ErrCode string

const (
	// ErrCodeConfig: malformed configuration that survived load-time skipping.
	ErrCodeConfig ErrCode = "config"

	// ErrCodeStorage: history log append/read failure. Non-fatal to routing.
	ErrCodeStorage ErrCode = "storage"

	// ErrCodeIndexBuild: similarity index rebuild failure. The last good
	// index keeps serving.
	ErrCodeIndexBuild ErrCode = "index_build"

	// ErrCodeCache: decision cache load/save failure. Treated as a miss.
	ErrCodeCache ErrCode = "cache"
)

// RouterError is the package error type with a stable code.
type RouterError struct {
	// Code classifies the failure.
	Code ErrCode

	// Message is the human-readable description.
	Message string

	// Err is the wrapped cause, if any.
	Err error
}

// WrapRouterError creates a RouterError wrapping err.
func WrapRouterError(code ErrCode, message string, err error) *RouterError {
	return &RouterError{Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *RouterError) Unwrap() error {
	return e.Err
}

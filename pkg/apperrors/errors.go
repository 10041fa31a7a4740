/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apperrors defines the closed error taxonomy shared by every
// component of the ingestion pipeline. Errors carry a kind, a human-readable
// message, a retryable flag and an optional underlying cause. Mapping kinds
// to HTTP status codes is the server's job, not this package's.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed: new kinds require touching
// every consumer that switches on them.
type Kind string

const (
	// KindValidation marks malformed input rejected at a public boundary
	// before any side effect.
	KindValidation Kind = "validation"

	// KindNotFound marks a referenced entity (user, rule, record) that does
	// not exist.
	KindNotFound Kind = "not_found"

	// KindAuthorization marks an operation on an entity owned by another
	// user.
	KindAuthorization Kind = "authorization"

	// KindBusinessLogic marks a domain rule violation such as an exceeded
	// plan quota.
	KindBusinessLogic Kind = "business_logic"

	// KindStorage marks a database fault. The Retryable flag distinguishes
	// transient connection faults from transaction-aborting ones.
	KindStorage Kind = "storage"

	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// Error is the one error type that crosses package boundaries.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidation creates a Validation error.
func NewValidation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound creates a NotFound error.
func NewNotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewAuthorization creates an Authorization error.
func NewAuthorization(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// NewBusinessLogic creates a BusinessLogic error.
func NewBusinessLogic(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBusinessLogic, Message: fmt.Sprintf(format, args...)}
}

// NewStorage creates a Storage error wrapping the database fault that caused
// it. Retryable should be true only for transient faults that a standalone
// query may retry (connection refused, timeout, admin shutdown,
// serialization failure).
func NewStorage(err error, retryable bool, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      KindStorage,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryable,
		Err:       err,
	}
}

// KindOf walks the wrap chain and returns the kind of the first *Error found,
// or KindUnknown when the chain holds none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is a retryable fault. Errors outside the
// taxonomy are never retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

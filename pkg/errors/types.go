// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the typed errors shared by gateway components.
//
// Components return these (or their own sentinels) and the HTTP layer maps
// them onto the public error taxonomy. None of the messages produced here
// include credential values.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError indicates that caller input failed validation.
type ValidationError struct {
	// Field identifies which input field failed validation.
	Field string

	// Message is the human-readable error description.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ConfigError indicates invalid or missing configuration.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "auth.oidc.issuer").
	Key string

	// Reason explains what's wrong with the configuration.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// UpstreamError describes a failed call to a provider API.
type UpstreamError struct {
	// Provider is the provider name (e.g., "github").
	Provider string

	// Reason is a stable machine-readable code (TIMEOUT, REDIRECT_BLOCKED, ...).
	Reason string

	// StatusCode is the upstream HTTP status, when one was received.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream %s error: %s", e.Provider, e.Reason)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "github graphql request").
	Operation string

	// Duration is the deadline that was exceeded.
	Duration time.Duration

	// Cause is the underlying error, if any.
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Wrap annotates err with message. Returns nil when err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf annotates err with a formatted message. Returns nil when err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(message string) error {
	return errors.New(message)
}

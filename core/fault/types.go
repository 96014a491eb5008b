// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fault holds the error taxonomy shared by the capture and replay
// packages.
package fault

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Const is the type for constant error values.
type Const string

// Error implements error for Const returning the string value of the const.
func (e Const) Error() string { return string(e) }

const (
	// InvalidErrorType is the error returned by From when the type is not an error.
	InvalidErrorType = Const("Invalid type for error")

	// ErrVersionIncompatible is returned when a capture log carries a version
	// tag this build cannot read. It is raised before any device object exists.
	ErrVersionIncompatible = Const("Capture version incompatible")
	// ErrResourceLookupFailure is returned when a chunk references a resource
	// with no live mapping.
	ErrResourceLookupFailure = Const("Resource lookup failure")
	// ErrSubmissionFailure is returned when the driver rejects a submission.
	ErrSubmissionFailure = Const("Submission failure")
	// ErrUnsupportedFeature is returned for known gaps.
	ErrUnsupportedFeature = Const("Unsupported feature")
)

// From converts from any value to an error safely.
// If the value is a nil, an untyped nil is returned.
// If the value is not nil, but does not implement error, InvalidErrorType
// is returned.
func From(value interface{}) error {
	switch err := value.(type) {
	case nil:
		return nil
	case error:
		return err
	default:
		return InvalidErrorType
	}
}

// Is reports whether any error in err's chain matches target.
// Chains built with github.com/pkg/errors are followed through Unwrap.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// VersionError is the detailed form of ErrVersionIncompatible.
type VersionError struct {
	Got  uint64
	Want uint64
}

func (e VersionError) Error() string {
	return fmt.Sprintf("%v: file version 0x%x, supported 0x%x", ErrVersionIncompatible, e.Got, e.Want)
}

// Is matches ErrVersionIncompatible.
func (e VersionError) Is(target error) bool { return target == ErrVersionIncompatible }

// LookupError is the detailed form of ErrResourceLookupFailure.
type LookupError struct {
	ID uint64
}

func (e LookupError) Error() string {
	return fmt.Sprintf("%v: no live resource for ResID::%d", ErrResourceLookupFailure, e.ID)
}

// Is matches ErrResourceLookupFailure.
func (e LookupError) Is(target error) bool { return target == ErrResourceLookupFailure }

// SubmitError is the detailed form of ErrSubmissionFailure.
type SubmitError struct {
	Queue  string
	Result string
}

func (e SubmitError) Error() string {
	return fmt.Sprintf("%v on queue %s: %s", ErrSubmissionFailure, e.Queue, e.Result)
}

// Is matches ErrSubmissionFailure.
func (e SubmitError) Is(target error) bool { return target == ErrSubmissionFailure }

// UnsupportedError is the detailed form of ErrUnsupportedFeature.
type UnsupportedError struct {
	Feature string
}

func (e UnsupportedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnsupportedFeature, e.Feature)
}

// Is matches ErrUnsupportedFeature.
func (e UnsupportedError) Is(target error) bool { return target == ErrUnsupportedFeature }

// List collects the errors of a pass that keeps going after a failure.
type List []error

// Collect adds err to the list. nil errors are ignored.
func (l *List) Collect(err error) {
	if err != nil {
		*l = append(*l, err)
	}
}

// First returns the first error collected, or nil.
func (l List) First() error {
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

// Err returns the list as an error, or nil if it is empty.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// Error joins every collected message.
func (l List) Error() string {
	msgs := make([]string, len(l))
	for i, err := range l {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "\n")
}

// Unwrap lets errors.Is and errors.As see every collected error.
func (l List) Unwrap() []error { return l }

/*
 *     Copyright 2024 The CNAI Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds of an encoding run, match them with errors.Is.
var (
	// ErrMissingInput is returned when no source path is supplied.
	ErrMissingInput = errors.New("missing input")

	// ErrMalformedContainer is returned when the source lacks the layer or
	// weight name collections, or a weight is not a shaped array.
	ErrMalformedContainer = errors.New("malformed container")

	// ErrUnsupportedDtype is returned when a weight cannot be converted to float32.
	ErrUnsupportedDtype = errors.New("unsupported dtype")

	// ErrIO is returned when the source cannot be read or an artifact cannot be written.
	ErrIO = errors.New("i/o error")
)

// Error is an encoding failure bound to the tensor that triggered it.
type Error struct {
	// Kind is one of the Err* kinds of this package.
	Kind error

	// Layer and Weight name the tensor, empty when the failure is not tensor specific.
	Layer  string
	Weight string

	// Detail describes the condition.
	Detail string

	// Err is the underlying cause, may be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())

	switch {
	case e.Layer != "" && e.Weight != "":
		fmt.Fprintf(&sb, ": layer %q weight %q", e.Layer, e.Weight)
	case e.Layer != "":
		fmt.Fprintf(&sb, ": layer %q", e.Layer)
	}

	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}

	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// NewMissingInput returns a missing input error.
func NewMissingInput(detail string) error {
	return &Error{Kind: ErrMissingInput, Detail: detail}
}

// NewMalformed returns a malformed container error for the layer/weight,
// either name may be empty.
func NewMalformed(layer, weight, format string, args ...any) error {
	return &Error{Kind: ErrMalformedContainer, Layer: layer, Weight: weight, Detail: fmt.Sprintf(format, args...)}
}

// NewUnsupportedDtype returns an unsupported dtype error for the weight.
func NewUnsupportedDtype(layer, weight, dtype string) error {
	return &Error{Kind: ErrUnsupportedDtype, Layer: layer, Weight: weight, Detail: fmt.Sprintf("element type %s is not floating point", dtype)}
}

// NewIO wraps err as an i/o error of the operation.
func NewIO(op string, err error) error {
	return &Error{Kind: ErrIO, Detail: op, Err: err}
}

// Kind returns the kind of err, or nil if err is not an encoding failure.
func Kind(err error) error {
	for _, kind := range []error{ErrMissingInput, ErrMalformedContainer, ErrUnsupportedDtype, ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return nil
}

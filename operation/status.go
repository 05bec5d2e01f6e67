// Copyright 2024 The Armored Witness OS authors. All Rights Reserved.
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

package operation

import (
	"errors"
	"fmt"
)

// Status represents a PSA Crypto API status code.
type Status int32

// PSA status codes
// (PSA Cryptography API - 9.1 Status codes).
const (
	Success                  Status = 0
	StatusGenericError       Status = -132
	StatusNotPermitted       Status = -133
	StatusNotSupported       Status = -134
	StatusInvalidArgument    Status = -135
	StatusInvalidHandle      Status = -136
	StatusBadState           Status = -137
	StatusBufferTooSmall     Status = -138
	StatusInsufficientMemory Status = -141
)

var statusText = map[Status]string{
	Success:                  "success",
	StatusGenericError:       "generic error",
	StatusNotPermitted:       "not permitted",
	StatusNotSupported:       "not supported",
	StatusInvalidArgument:    "invalid argument",
	StatusInvalidHandle:      "invalid handle",
	StatusBadState:           "bad state",
	StatusBufferTooSmall:     "buffer too small",
	StatusInsufficientMemory: "insufficient memory",
}

func (s Status) Error() string {
	if t, ok := statusText[s]; ok {
		return t
	}

	return fmt.Sprintf("status %d", int32(s))
}

var (
	// ErrNotPermitted is returned when all operation slots are in use.
	ErrNotPermitted error = StatusNotPermitted
	// ErrInvalidArgument is returned on release of an invalid, out of range
	// or already released handle.
	ErrInvalidArgument error = StatusInvalidArgument
	// ErrBadState is returned on lookup of an invalid, out of range, released
	// or differently typed handle.
	ErrBadState error = StatusBadState
)

// StatusOf returns the PSA status code for an error, errors not carrying a
// Status map to StatusGenericError.
func StatusOf(err error) Status {
	var s Status

	if err == nil {
		return Success
	}

	if errors.As(err, &s) {
		return s
	}

	return StatusGenericError
}

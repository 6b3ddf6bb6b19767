/*
   Copyright 2020 YANDEX LLC

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

package chhttp

import (
	"errors"
	"fmt"
)

// ErrRowNotFound is returned by FetchOne when query returned no rows.
var ErrRowNotFound = errors.New("chhttp: row not found")

// ConfigError reports invalid client configuration: malformed URL, headers etc.
// It is always returned before any network activity.
type ConfigError struct {
	err error
}

// Error implements `error` interface
func (e *ConfigError) Error() string {
	return "chhttp: invalid configuration: " + e.err.Error()
}

// Unwrap returns underlying error
func (e *ConfigError) Unwrap() error {
	return e.err
}

// BindError reports mismatch between query placeholders and bound arguments
// or an argument that cannot be rendered.
type BindError struct {
	Reason string
}

// Error implements `error` interface
func (e *BindError) Error() string {
	return "chhttp: bind: " + e.Reason
}

// IdentifierError reports identifier argument which is not a valid dotted object name.
type IdentifierError struct {
	Identifier string
}

// Error implements `error` interface
func (e *IdentifierError) Error() string {
	return fmt.Sprintf("chhttp: invalid identifier %q", e.Identifier)
}

// BadResponseError is returned when server responded with non-success status.
// Reason holds the literal text sent by server, or standard status text if body was empty.
type BadResponseError struct {
	StatusCode int
	Reason     string
}

// Error implements `error` interface
func (e *BadResponseError) Error() string {
	return "chhttp: bad response: " + e.Reason
}

// DecodeError reports malformed RowBinary data. Cursor which returned DecodeError is unusable,
// though rows it yielded before remain valid.
type DecodeError struct {
	err error
}

// Error implements `error` interface
func (e *DecodeError) Error() string {
	return "chhttp: decode: " + e.err.Error()
}

// Unwrap returns underlying error
func (e *DecodeError) Unwrap() error {
	return e.err
}

// TaskError is returned by FetchAll when background rows materialization failed or was canceled.
type TaskError struct {
	err error
}

// Error implements `error` interface
func (e *TaskError) Error() string {
	return "chhttp: materialization task failed: " + e.err.Error()
}

// Unwrap returns underlying error
func (e *TaskError) Unwrap() error {
	return e.err
}

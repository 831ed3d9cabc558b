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

package client

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a failed call to the agent API.
type APIError struct {
	// Method and Path identify the request.
	Method string
	Path   string

	// StatusCode is the HTTP status, or 0 if no response was received.
	StatusCode int

	// Body is the decoded agent error document. Nil when the response body
	// was not JSON.
	Body *ErrorBody

	// Raw is the response body as received, capped at maxErrorBody bytes.
	Raw []byte

	// Err is the transport error when no response was received.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("agent api %s %s: %v", e.Method, e.Path, e.Err)
	}

	msg := fmt.Sprintf("agent api %s %s returned %d", e.Method, e.Path, e.StatusCode)
	switch {
	case e.Body != nil && e.Body.Details.Err != "":
		msg += ": " + e.Body.Details.Err
	case e.Body != nil && e.Body.Msg != "":
		msg += ": " + e.Body.Msg
	case len(e.Raw) > 0:
		msg += ": " + string(e.Raw)
	}
	return msg
}

// Unwrap returns the transport error, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Detail returns the most specific error text the agent supplied.
func (e *APIError) Detail() string {
	if e.Body != nil {
		if e.Body.Details.Err != "" {
			return e.Body.Details.Err
		}
		if e.Body.Msg != "" {
			return e.Body.Msg
		}
	}
	return string(e.Raw)
}

// IsUserVisible implements errors.UserVisibleError.
func (e *APIError) IsUserVisible() bool { return true }

// UserMessage implements errors.UserVisibleError.
func (e *APIError) UserMessage() string { return e.Error() }

// Suggestion implements errors.UserVisibleError.
func (e *APIError) Suggestion() string {
	switch {
	case e.StatusCode == 0:
		return "Check that the tunnel agent is running: tunnelctl list"
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return "Check your authtoken: tunnelctl authtoken <token>"
	case e.StatusCode == http.StatusBadRequest:
		return "Check the tunnel options; the agent rejected the configuration"
	default:
		return ""
	}
}

// IsNotFound reports whether err is an agent API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

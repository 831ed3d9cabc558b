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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/tunnelctl/internal/client"
	"github.com/tombee/tunnelctl/internal/lifecycle"
	pkgerrors "github.com/tombee/tunnelctl/pkg/errors"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitTunnelFailed    = 1
	ExitInvalidConfig   = 2
	ExitAgentNotRunning = 3
	ExitAgentAPIError   = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewTunnelError creates an error for failed tunnel operations.
func NewTunnelError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitTunnelFailed, Message: msg, Cause: cause}
}

// NewConfigError creates an error for invalid flags or configuration.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidConfig, Message: msg, Cause: cause}
}

// NewAgentNotRunningError creates an error for commands that need a
// running agent.
func NewAgentNotRunningError(cause error) *ExitError {
	return &ExitError{Code: ExitAgentNotRunning, Message: "no running agent found", Cause: cause}
}

// NewAgentAPIError creates an error for failed agent API calls.
func NewAgentAPIError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitAgentAPIError, Message: msg, Cause: cause}
}

// ExitCode returns the process exit code for err. Errors that are not an
// ExitError are classified by type.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var validationErr *pkgerrors.ValidationError
	var configErr *pkgerrors.ConfigError
	var apiErr *client.APIError
	switch {
	case errors.As(err, &validationErr), errors.As(err, &configErr):
		return ExitInvalidConfig
	case errors.Is(err, lifecycle.ErrAgentNotRunning):
		return ExitAgentNotRunning
	case errors.As(err, &apiErr):
		return ExitAgentAPIError
	default:
		return ExitTunnelFailed
	}
}

// PrintError writes err and the first available suggestion to w.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(w, RenderError(err.Error()))
	if s := suggestionFor(err); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
}

// HandleExitError prints err and exits with its exit code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// suggestionFor walks the error chain for a UserVisibleError with a
// suggestion.
func suggestionFor(err error) string {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok && userErr.IsUserVisible() {
			if s := userErr.Suggestion(); s != "" {
				return s
			}
		}
		err = errors.Unwrap(err)
	}
	return ""
}

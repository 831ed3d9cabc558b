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

package tunnel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"

	"github.com/tombee/tunnelctl/internal/client"
)

// Kind is the decoded category of an agent API failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindNotReady
	KindNameCollision
	KindUnauthorized
	KindInvalidConfig
	KindNotFound
)

// String returns the snake_case name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindNotReady:
		return "not_ready"
	case KindNameCollision:
		return "name_collision"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidConfig:
		return "invalid_config"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Signal is the normalized view of an APIError that rules match against.
type Signal struct {
	// StatusCode is the HTTP status, 0 for transport failures.
	StatusCode int

	// Detail is the lower-cased error text. For documented error bodies it
	// is details.err (or msg); otherwise the raw response body.
	Detail string

	// Cause is the transport error when no response was received.
	Cause error

	// Legacy is set when the body did not match the documented error
	// schema and Detail holds the raw body.
	Legacy bool
}

// Rule maps a class of failures to a kind and a retry decision.
type Rule struct {
	Name      string
	Kind      Kind
	Retriable bool
	Match     func(s Signal) bool
}

// Verdict is the outcome of classifying one failure.
type Verdict struct {
	Rule      string
	Kind      Kind
	Retriable bool
	Legacy    bool
}

// Policy is an ordered rule table. The first matching rule wins; failures
// matching no rule are terminal with KindUnknown.
type Policy struct {
	mu     sync.RWMutex
	custom []Rule
	rules  []Rule
}

// NewPolicy returns a policy holding the default rules.
func NewPolicy() *Policy {
	return &Policy{rules: defaultRules()}
}

// Register adds a rule. Registered rules are consulted before the defaults,
// in registration order.
func (p *Policy) Register(r Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.custom = append(p.custom, r)
}

// Classify decodes err and returns the verdict of the first matching rule.
func (p *Policy) Classify(err *client.APIError) Verdict {
	s := NewSignal(err)

	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, set := range [][]Rule{p.custom, p.rules} {
		for _, r := range set {
			if r.Match(s) {
				return Verdict{Rule: r.Name, Kind: r.Kind, Retriable: r.Retriable, Legacy: s.Legacy}
			}
		}
	}
	return Verdict{Rule: "default", Kind: KindUnknown, Legacy: s.Legacy}
}

var defaultPolicy = NewPolicy()

// Decode returns the kind of an agent API failure under the default rules.
// Errors that are not agent API failures decode to KindUnknown.
func Decode(err error) Kind {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return KindUnknown
	}
	return defaultPolicy.Classify(apiErr).Kind
}

// NewSignal normalizes an APIError. Bodies that follow the documented agent
// error schema are decoded from their fields; anything else falls back to
// the raw body text.
func NewSignal(err *client.APIError) Signal {
	if err.StatusCode == 0 {
		return Signal{Cause: err.Err, Detail: strings.ToLower(fmt.Sprint(err.Err))}
	}
	if err.Body.Documented() {
		detail := err.Body.Details.Err
		if detail == "" {
			detail = err.Body.Msg
		}
		return Signal{StatusCode: err.StatusCode, Detail: strings.ToLower(detail)}
	}
	return legacySignal(err)
}

// legacySignal handles error bodies from agents that predate the documented
// schema, or from proxies in front of the agent. Matching falls back to
// substrings of the raw body.
func legacySignal(err *client.APIError) Signal {
	return Signal{
		StatusCode: err.StatusCode,
		Detail:     strings.ToLower(string(err.Raw)),
		Legacy:     true,
	}
}

func status(code int) func(Signal) bool {
	return func(s Signal) bool { return s.StatusCode == code }
}

func statusWith(code int, fragments ...string) func(Signal) bool {
	return func(s Signal) bool {
		if s.StatusCode != code {
			return false
		}
		for _, f := range fragments {
			if strings.Contains(s.Detail, f) {
				return true
			}
		}
		return false
	}
}

func defaultRules() []Rule {
	return []Rule{
		{Name: "network", Kind: KindNetwork, Retriable: true, Match: isNetworkSignal},
		{Name: "session_not_ready", Kind: KindNotReady, Retriable: true, Match: statusWith(http.StatusBadGateway, "tunnel session not ready")},
		{Name: "session_not_established", Kind: KindNotReady, Retriable: true, Match: statusWith(http.StatusServiceUnavailable, "not yet been established")},
		{Name: "agent_panic", Kind: KindNotReady, Retriable: true, Match: statusWith(http.StatusInternalServerError, "panic")},
		{Name: "rate_limited", Kind: KindNotReady, Retriable: true, Match: status(http.StatusTooManyRequests)},
		{Name: "request_timeout", Kind: KindNotReady, Retriable: true, Match: status(http.StatusRequestTimeout)},
		{Name: "unauthorized", Kind: KindUnauthorized, Match: func(s Signal) bool {
			return s.StatusCode == http.StatusUnauthorized ||
				s.StatusCode == http.StatusForbidden ||
				strings.Contains(s.Detail, "authentication failed")
		}},
		{Name: "name_collision", Kind: KindNameCollision, Match: statusWith(http.StatusBadRequest, "already exists")},
		{Name: "not_found", Kind: KindNotFound, Match: status(http.StatusNotFound)},
		{Name: "client_error", Kind: KindInvalidConfig, Match: func(s Signal) bool {
			return s.StatusCode >= 400 && s.StatusCode < 500
		}},
	}
}

func isNetworkSignal(s Signal) bool {
	if s.StatusCode != 0 || s.Cause == nil {
		return false
	}
	if errors.Is(s.Cause, syscall.ECONNREFUSED) ||
		errors.Is(s.Cause, syscall.ECONNRESET) ||
		errors.Is(s.Cause, io.EOF) ||
		errors.Is(s.Cause, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(s.Cause, &netErr) && netErr.Timeout() {
		return true
	}
	for _, f := range []string{"connection refused", "connection reset", "timeout", "eof"} {
		if strings.Contains(s.Detail, f) {
			return true
		}
	}
	return false
}

// Fault is a terminal tunnel creation failure. It carries the decoded kind
// and unwraps to the agent's *client.APIError.
type Fault struct {
	Kind      Kind
	Rule      string
	Retriable bool
	Attempts  int
	Err       *client.APIError
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("create tunnel (%s, %d attempts): %v", f.Kind, f.Attempts, f.Err)
}

// Unwrap returns the underlying agent API error.
func (f *Fault) Unwrap() error {
	return f.Err
}

// ErrorType implements errors.ErrorClassifier.
func (f *Fault) ErrorType() string {
	return f.Kind.String()
}

// IsRetryable implements errors.ErrorClassifier.
func (f *Fault) IsRetryable() bool {
	return f.Retriable
}

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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/tunnelctl/pkg/errors"
	"github.com/tombee/tunnelctl/pkg/httpclient"
)

const (
	tunnelsPath = "/api/tunnels"

	// maxErrorBody caps how much of a failed response is retained.
	maxErrorBody = 64 << 10

	tracerName = "github.com/tombee/tunnelctl/internal/client"
)

// Client is a client for the tunnel agent API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tracer     trace.Tracer
	logger     *slog.Logger
}

// New creates a new agent API client for the given base URL
// (for example "http://127.0.0.1:4040").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &errors.ValidationError{
			Field:   "api_url",
			Message: fmt.Sprintf("invalid agent API URL %q", baseURL),
		}
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		cfg := httpclient.DefaultConfig()
		cfg.Logger = c.logger
		hc, err := httpclient.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
		c.httpClient = hc
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	return c, nil
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithTransport sets a custom transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Transport: transport}
		return nil
	}
}

// WithLogger sets the logger for request logs of the default HTTP client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) error {
		c.tracer = tracer
		return nil
	}
}

// BaseURL returns the agent API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StartTunnel creates a tunnel from the given creation payload.
func (c *Client) StartTunnel(ctx context.Context, payload map[string]any) (*Tunnel, error) {
	var t Tunnel
	if err := c.do(ctx, "start_tunnel", http.MethodPost, tunnelsPath, payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TunnelDetail fetches a tunnel by name.
func (c *Client) TunnelDetail(ctx context.Context, name string) (*Tunnel, error) {
	var t Tunnel
	if err := c.do(ctx, "tunnel_detail", http.MethodGet, tunnelPath(name), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTunnels returns every tunnel the agent currently runs.
func (c *Client) ListTunnels(ctx context.Context) ([]Tunnel, error) {
	var list tunnelList
	if err := c.do(ctx, "list_tunnels", http.MethodGet, tunnelsPath, nil, &list); err != nil {
		return nil, err
	}
	if list.Tunnels == nil {
		return []Tunnel{}, nil
	}
	return list.Tunnels, nil
}

// StopTunnel deletes a tunnel by name.
func (c *Client) StopTunnel(ctx context.Context, name string) error {
	return c.do(ctx, "stop_tunnel", http.MethodDelete, tunnelPath(name), nil, nil)
}

func tunnelPath(name string) string {
	return tunnelsPath + "/" + url.PathEscape(name)
}

// do performs one request/response round trip. A non-nil out is filled from
// a 2xx JSON body.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "agentapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Raw:        bytes.TrimSpace(raw),
		}
		var eb ErrorBody
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Body = &eb
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

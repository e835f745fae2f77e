// Package api is the request pipeline of the client: typed operations on
// the marko backend, dispatched through a transport that attaches the
// current session token.
//
// Reads are served from a query cache governed by a Policy. Mutations
// invalidate the cached reads they affect.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"go.opentelemetry.io/otel"

	"github.com/marko-app/marko/internal/serviceerr"
)

const maxResponseSize = 10 << 20

type Config struct {
	BaseURL string
	// HTTPClient is copied; its transport is wrapped.
	HTTPClient *http.Client
	Tokens     TokenSource
	// Policy defaults to DefaultPolicy.
	Policy *Policy
	// Application labels the emitted telemetry.
	Application commoncfg.Application
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	queries    *queries
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, "api base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, fmt.Sprintf("invalid api base url %q", cfg.BaseURL))
	}

	m, err := newMeters(ctx, cfg.Application)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		*httpClient = *cfg.HTTPClient
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = noTokens{}
	}

	httpClient.Transport = &bearerTransport{
		base:   base,
		tokens: tokens,
		tracer: otel.Tracer(instrumentationName),
		meters: m,
		app:    cfg.Application,
	}

	policy := DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		queries:    newQueries(policy),
	}, nil
}

// Focus revalidates every cached read when the policy asks for it. It is
// called when the user returns to the client.
func (c *Client) Focus(ctx context.Context) error {
	return c.queries.focus(ctx)
}

// Invalidate drops cached reads; the next read fetches again.
func (c *Client) Invalidate(keys ...string) {
	c.queries.invalidate(keys...)
}

// Reset drops every cached read, e.g. after the user signed out.
func (c *Client) Reset() {
	c.queries.reset()
}

// State reports the cached state of a read query.
func (c *Client) State(key string) (QueryState, bool) {
	return c.queries.state(key)
}

func (c *Client) do(ctx context.Context, operation, method, path string, in any) ([]byte, error) {
	ctx = withOperation(ctx, operation)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, serviceerr.Wrap(serviceerr.CodeNetwork, err, operation)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, serviceerr.Wrap(serviceerr.CodeNetwork, err, "reading response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, raw)
	}

	return raw, nil
}

// statusError maps a non-2xx response. The server's message is kept
// verbatim so it can be shown to the user.
func statusError(status int, body []byte) error {
	msg := serverMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("%d %s", status, http.StatusText(status))
	}
	return serviceerr.New(serviceerr.FromStatus(status), msg).WithStatus(status)
}

func serverMessage(body []byte) string {
	var e struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		text := strings.TrimSpace(string(body))
		if len(text) > 200 || strings.HasPrefix(text, "<") {
			return ""
		}
		return text
	}

	var s string
	if json.Unmarshal(e.Error, &s) == nil && s != "" {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Error, &nested) == nil && nested.Message != "" {
		return nested.Message
	}
	return e.Message
}

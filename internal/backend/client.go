// Package backend talks to the remote scoring service: a single JSON
// endpoint whose behavior is selected by an "action" query parameter.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/oauth2"

	"github.com/mind-engage/groundschool/internal/apperrors"
)

const (
	SecretHeader     = "X-Shared-Secret"
	AccessCodeHeader = "X-Access-Code"

	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 4 << 20
)

// authMarkers are whole words (or word runs) in an error message that mean
// the access code was rejected.
var authMarkers = [][]string{{"locked"}, {"bad_code"}, {"bad", "code"}}

type Config struct {
	Endpoint     string
	SharedSecret string
	Timeout      time.Duration // per call; 0 means defaultTimeout
	HTTP         *http.Client  // optional
}

type Client struct {
	endpoint *url.URL
	secret   string
	timeout  time.Duration
	http     *http.Client
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.Endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid endpoint %q", cfg.Endpoint)
	}
	h := cfg.HTTP
	if h == nil {
		h = &http.Client{}
	}
	t := cfg.Timeout
	if t <= 0 {
		t = defaultTimeout
	}
	return &Client{endpoint: u, secret: cfg.SharedSecret, timeout: t, http: h}, nil
}

// WithToken returns a copy of c that sends token as a bearer credential on
// every request.
func (c *Client) WithToken(ctx context.Context, token string) *Client {
	if token == "" {
		return c
	}
	cp := *c
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	cp.http = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	return &cp
}

type envelope struct {
	OK    *bool           `json:"ok"`
	Error json.RawMessage `json:"error"`
}

func (e envelope) failure() (string, bool) {
	if len(e.Error) > 0 && string(e.Error) != "null" {
		var s string
		if err := json.Unmarshal(e.Error, &s); err != nil {
			s = apperrors.Preview(e.Error)
		}
		if s != "" {
			return s, true
		}
	}
	if e.OK != nil && !*e.OK {
		return "backend reported failure", true
	}
	return "", false
}

func isAuthMessage(msg string) bool {
	words := strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, mk := range authMarkers {
		for i := 0; i+len(mk) <= len(words); i++ {
			if slices.Equal(words[i:i+len(mk)], mk) {
				return true
			}
		}
	}
	return false
}

type call struct {
	method string
	action string
	query  url.Values
	header http.Header
	body   any
}

// do runs one action under the client timeout and decodes the body into out.
// Non-2xx statuses and non-JSON bodies are protocol errors and are never
// decoded further; a JSON error field becomes an application or auth error.
func (c *Client) do(ctx context.Context, in call, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.endpoint
	q := u.Query()
	q.Set("action", in.action)
	for k, vs := range in.query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var rdr io.Reader
	if in.body != nil {
		b, err := json.Marshal(in.body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", in.action, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, in.method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", in.action, err)
	}
	req.Header.Set("Accept", "application/json")
	if in.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}
	for k, vs := range in.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportErr(ctx, in.action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportErr(ctx, in.action, err)
	}
	if resp.StatusCode/100 != 2 {
		return apperrors.Protocol(in.action, "backend returned "+resp.Status, raw)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperrors.Protocol(in.action, "response is not a JSON object", raw)
	}
	if msg, failed := env.failure(); failed {
		if isAuthMessage(msg) {
			return apperrors.Auth(in.action, msg)
		}
		return apperrors.Application(in.action, msg)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperrors.Protocol(in.action, "unexpected response shape", raw)
		}
	}
	return nil
}

func transportErr(ctx context.Context, action string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Timeout(action, err)
	}
	return apperrors.Network(action, err)
}

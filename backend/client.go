/*
client.go - REST client for the upstream business API

PURPOSE:
  Implements capacity.Backend against the JSON API that owns allocation
  rules, realized time, contracts and reference data. The engine never
  talks HTTP itself; it only sees the capacity interfaces.

AUTHENTICATION:
  The upstream API authenticates with the browser's session cookie. The
  service forwards the inbound Cookie header unchanged (WithCookie) so
  every upstream call runs with the caller's credentials.

ERRORS:
  401                 -> wraps generic.ErrUnauthorized
  other non-2xx       -> *StatusError
  transport failures  -> wrapped as-is
  Callers (the Batch Loader) turn anything but ErrUnauthorized into
  zero-filled figures.

PAGINATION:
  List endpoints take page/limit and answer {data, total}. getPaged loops
  until a short page, an empty page or the declared total.

SEE ALSO:
  - capacity/upstream.go: the interfaces implemented here
  - endpoints.go: one method per upstream endpoint
  - dto.go: wire formats
*/
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/warp/capacity-engine/capacity"
	"github.com/warp/capacity-engine/generic"
)

const (
	// DefaultTimeout bounds one upstream call.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the page size of list endpoints.
	DefaultPageSize = 200

	// maxQueryLength is the longest encoded query string sent with GET.
	// Longer rule queries go out as POST bodies.
	maxQueryLength = 1800

	// maxPages stops a misbehaving server from paging forever.
	maxPages = 10_000
)

// Compile-time checks
var _ capacity.Backend = (*Client)(nil)

// =============================================================================
// CLIENT
// =============================================================================

type Client struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
	cookie     string
	logger     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client (tests use httptest servers).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		pageSize:   DefaultPageSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "backend"))
	return c
}

// WithCookie returns a copy of the client that sends the given Cookie
// header on every call.
func (c *Client) WithCookie(cookie string) *Client {
	cp := *c
	cp.cookie = cookie
	return &cp
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrMalformedPayload is a 2xx answer whose body is empty or not the
// expected JSON.
var ErrMalformedPayload = errors.New("malformed upstream payload")

// StatusError is a non-2xx answer other than 401.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// =============================================================================
// TRANSPORT
// =============================================================================

// do sends one request and decodes a 2xx JSON answer into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	const op = "backend.do"

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode %s: %w", op, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("upstream call",
		slog.String("op", op),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, generic.ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s %s: %w: empty body", method, path, ErrMalformedPayload)
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrMalformedPayload, err)
	}
	return nil
}

// fetchPage sends one page request. Params (GET) or body (POST) carry the
// filters; page and limit are added here.
type fetchPage[T any] func(ctx context.Context, page, limit int) (envelope[T], error)

// paged loops over pages until the data runs out.
func paged[T any](ctx context.Context, limit int, fetch fetchPage[T]) ([]T, error) {
	var all []T
	for page := 1; page <= maxPages; page++ {
		env, err := fetch(ctx, page, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, env.Data...)
		if len(env.Data) < limit {
			break
		}
		if env.Total > 0 && len(all) >= env.Total {
			break
		}
	}
	return all, nil
}

// getPaged pages through a GET list endpoint.
func getPaged[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	return paged(ctx, c.pageSize, func(ctx context.Context, page, limit int) (envelope[T], error) {
		q := cloneValues(params)
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(limit))
		var env envelope[T]
		err := c.do(ctx, http.MethodGet, path, q, nil, &env)
		return env, err
	})
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

/*
client.go - HTTP transport for a remote ledger host

PURPOSE:
  Implements ledger.Store and ledger.RangeReader against the api package's
  REST endpoints so a tracker.Session can sync with a ledger host over the
  network exactly as it would with an in-process store.

ERROR MAPPING:
  400                      -> ledger.ErrValidation
  401 / 403                -> ledger.ErrWriteRejected (+ ErrUnauthorized)
  404                      -> ledger.ErrNotFound
  5xx on append            -> ledger.ErrWriteRejected
  5xx on read, network     -> ledger.ErrSyncUnavailable

  The client never retries. Callers decide with ledger.IsRetryable.

SEE ALSO:
  - api/dto.go: Wire types
  - tracker/session.go: Main consumer
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/warp/food-ledger/api"
	"github.com/warp/food-ledger/ledger"
)

const defaultTimeout = 15 * time.Second

// Client talks to one ledger host.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token presented on append.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the host at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, &ledger.ValidationError{Field: "server", Message: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ledger.ValidationError{Field: "server", Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	c := &Client{base: u, http: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// =============================================================================
// ledger.Store
// =============================================================================

// Append posts r. The record keeps its content id when set; otherwise the
// host derives one.
func (c *Client) Append(ctx context.Context, r ledger.Record) (uint64, error) {
	body, err := json.Marshal(api.NewAppendRequest(r))
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	var resp api.AppendResponse
	if err := c.do(ctx, http.MethodPost, "/api/transactions", nil, body, true, &resp); err != nil {
		return 0, err
	}
	return resp.Position, nil
}

// Get returns the record at position.
func (c *Client) Get(ctx context.Context, position uint64) (ledger.Record, error) {
	var dto api.TransactionDTO
	path := "/api/transactions/" + strconv.FormatUint(position, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, false, &dto); err != nil {
		return ledger.Record{}, err
	}
	e, err := decodeEntry(dto)
	if err != nil {
		return ledger.Record{}, err
	}
	return e.Record, nil
}

// GetByContentID returns the first entry carrying id.
func (c *Client) GetByContentID(ctx context.Context, id ledger.ContentID) (ledger.Entry, error) {
	var dto api.TransactionDTO
	if err := c.do(ctx, http.MethodGet, "/api/transactions/by-id/"+id.String(), nil, nil, false, &dto); err != nil {
		return ledger.Entry{}, err
	}
	return decodeEntry(dto)
}

// Count returns the number of records on the host.
func (c *Client) Count(ctx context.Context) (uint64, error) {
	var resp api.CountResponse
	if err := c.do(ctx, http.MethodGet, "/api/transactions/count", nil, nil, false, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Range returns entries in [from, to), following the host's page cap until
// the range is covered or the host runs out of records.
func (c *Client) Range(ctx context.Context, from, to uint64) ([]ledger.Entry, error) {
	out := []ledger.Entry{}
	for from < to {
		q := url.Values{}
		q.Set("from", strconv.FormatUint(from, 10))
		q.Set("to", strconv.FormatUint(to, 10))

		var page api.RangeResponse
		if err := c.do(ctx, http.MethodGet, "/api/transactions", q, nil, false, &page); err != nil {
			return nil, err
		}
		if len(page.Transactions) == 0 {
			break
		}
		for _, dto := range page.Transactions {
			e, err := decodeEntry(dto)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		if page.To <= from {
			break
		}
		from = page.To
	}
	return out, nil
}

// Health reports whether the host answers its health check.
func (c *Client) Health(ctx context.Context) error {
	var resp api.HealthResponse
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil, false, &resp)
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends one request and decodes a 2xx JSON body into out. write selects
// the append-side error mapping.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, write bool, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if write && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if write {
			return ledger.WriteRejected(ledger.Unavailable(err))
		}
		return ledger.Unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return ledger.Unavailable(fmt.Errorf("decode %s %s: %w", method, path, err))
		}
		return nil
	}
	return responseError(resp, write)
}

// StatusError is a non-2xx response from the host.
type StatusError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *StatusError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ledger host: %d %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("ledger host: %d %s", e.StatusCode, e.Message)
}

func responseError(resp *http.Response, write bool) error {
	se := &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body api.ErrorResponse
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			se.Message = body.Error
		}
		se.Details = body.Details
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return &ledger.ValidationError{Field: "request", Message: se.Error()}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ledger.WriteRejected(fmt.Errorf("%w: %w", ledger.ErrUnauthorized, se))
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ledger.ErrNotFound, se)
	case write:
		return ledger.WriteRejected(se)
	default:
		return ledger.Unavailable(se)
	}
}

func decodeEntry(dto api.TransactionDTO) (ledger.Entry, error) {
	e, err := dto.Entry()
	if err != nil {
		return ledger.Entry{}, ledger.Unavailable(fmt.Errorf("malformed record at position %d: %w", dto.Position, err))
	}
	return e, nil
}

// IsStatus reports whether err carries a host response with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

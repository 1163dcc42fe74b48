// Package postgrest is a small client for PostgREST endpoints such as the
// Supabase REST API.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	maxResponseBytes  = 8 << 20
	maxErrorBodyBytes = 32 << 10

	codeNoRows          = "PGRST116"
	codeUniqueViolation = "23505"
)

// ErrNoRows is returned by Single when the filter matches no row.
var ErrNoRows = errors.New("postgrest: no rows")

var constraintPattern = regexp.MustCompile(`unique constraint "([^"]+)"`)

// Error is a PostgREST error response.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("postgrest error %d (%s): %s", e.Status, e.Code, e.Message)
}

// IsUniqueViolation reports whether the error is a unique constraint
// violation and, if so, the constraint name.
func (e *Error) IsUniqueViolation() (string, bool) {
	if e.Code != codeUniqueViolation {
		return "", false
	}
	if match := constraintPattern.FindStringSubmatch(e.Message); match != nil {
		return match[1], true
	}
	return "", true
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for projectURL. httpClient may be nil.
func New(projectURL, apiKey string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(projectURL) == "" {
		return nil, fmt.Errorf("project URL is required")
	}
	parsed, err := url.Parse(projectURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid project URL %q", projectURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(projectURL, "/") + "/rest/v1",
		apiKey:     apiKey,
		httpClient: httpClient,
	}, nil
}

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table, params: url.Values{}}
}

type Query struct {
	client *Client
	table  string
	params url.Values
}

func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

func (q *Query) Eq(column string, value any) *Query {
	q.params.Add(column, "eq."+fmt.Sprint(value))
	return q
}

func (q *Query) Gte(column string, value any) *Query {
	q.params.Add(column, "gte."+fmt.Sprint(value))
	return q
}

func (q *Query) Order(column string, ascending bool) *Query {
	direction := "desc"
	if ascending {
		direction = "asc"
	}
	if existing := q.params.Get("order"); existing != "" {
		q.params.Set("order", existing+","+column+"."+direction)
	} else {
		q.params.Set("order", column+"."+direction)
	}
	return q
}

func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// Execute runs a GET and decodes the JSON array into dest.
func (q *Query) Execute(ctx context.Context, dest any) error {
	body, _, err := q.client.do(ctx, http.MethodGet, q.table, q.params, nil, nil)
	if err != nil {
		return err
	}
	return decode(body, dest)
}

// Single runs a GET expecting exactly one row.
func (q *Query) Single(ctx context.Context, dest any) error {
	headers := http.Header{"Accept": []string{"application/vnd.pgrst.object+json"}}
	body, _, err := q.client.do(ctx, http.MethodGet, q.table, q.params, nil, headers)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Code == codeNoRows {
			return ErrNoRows
		}
		return err
	}
	return decode(body, dest)
}

// Count returns the exact number of rows matching the filters.
func (q *Query) Count(ctx context.Context) (int, error) {
	headers := http.Header{"Prefer": []string{"count=exact"}}
	_, respHeaders, err := q.client.do(ctx, http.MethodHead, q.table, q.params, nil, headers)
	if err != nil {
		return 0, err
	}
	contentRange := respHeaders.Get("Content-Range")
	idx := strings.LastIndex(contentRange, "/")
	if idx < 0 {
		return 0, fmt.Errorf("postgrest: missing count in Content-Range %q", contentRange)
	}
	count, err := strconv.Atoi(contentRange[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("postgrest: parse count %q: %w", contentRange, err)
	}
	return count, nil
}

// Insert posts row and decodes the single inserted representation into dest.
func (q *Query) Insert(ctx context.Context, row any, dest any) error {
	headers := http.Header{
		"Prefer": []string{"return=representation"},
		"Accept": []string{"application/vnd.pgrst.object+json"},
	}
	body, _, err := q.client.do(ctx, http.MethodPost, q.table, q.params, row, headers)
	if err != nil {
		return err
	}
	return decode(body, dest)
}

// Update patches the rows matching the filters and decodes the updated rows
// into dest.
func (q *Query) Update(ctx context.Context, patch any, dest any) error {
	headers := http.Header{"Prefer": []string{"return=representation"}}
	body, _, err := q.client.do(ctx, http.MethodPatch, q.table, q.params, patch, headers)
	if err != nil {
		return err
	}
	return decode(body, dest)
}

// Delete removes the rows matching the filters and returns how many went.
func (q *Query) Delete(ctx context.Context) (int, error) {
	headers := http.Header{"Prefer": []string{"return=representation"}}
	body, _, err := q.client.do(ctx, http.MethodDelete, q.table, q.params, nil, headers)
	if err != nil {
		return 0, err
	}
	var rows []json.RawMessage
	if err := decode(body, &rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (c *Client) do(ctx context.Context, method, table string, params url.Values, payload any, headers http.Header) ([]byte, http.Header, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(table)
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for key, values := range headers {
		req.Header[key] = values
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, resp.Header, apiErr
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.Header, nil
}

func decode(body []byte, dest any) error {
	if dest == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

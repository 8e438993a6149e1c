// Package client is a typed HTTP client for the console API.
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

	"municonsole_back/knowledgebase"
	"municonsole_back/municipalities"
	"municonsole_back/notifications"
	"municonsole_back/pagination"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int               `json:"-"`
	Message string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("client: %s (status %d)", e.Message, e.Status)
}

// Client talks to one console deployment.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the bearer token in use.
func (c *Client) Token() string {
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = buf
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// LoginResult is the token issued by /auth/login.
type LoginResult struct {
	Token  string         `json:"token"`
	Expire time.Time      `json:"expire"`
	User   map[string]any `json:"user,omitempty"`
}

// Login signs in and keeps the issued token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &result); err != nil {
		return nil, err
	}
	if result.Token == "" {
		return nil, errors.New("client: login returned no token")
	}
	c.token = result.Token
	return &result, nil
}

// PageQuery selects one page of a listing.
type PageQuery struct {
	Cursor string
	Limit  int
}

func (q PageQuery) values() url.Values {
	values := url.Values{}
	if q.Cursor != "" {
		values.Set("cursor", q.Cursor)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	return values
}

type MunicipalityQuery struct {
	PageQuery
	Search      string
	CountryCode string
}

// Municipalities fetches one page of municipalities.
func (c *Client) Municipalities(ctx context.Context, q MunicipalityQuery) (pagination.Page[municipalities.Municipality], error) {
	values := q.values()
	if q.Search != "" {
		values.Set("q", q.Search)
	}
	if q.CountryCode != "" {
		values.Set("country_code", q.CountryCode)
	}
	var page pagination.Page[municipalities.Municipality]
	err := c.do(ctx, http.MethodGet, "/api/municipalities", values, nil, &page)
	return page, err
}

type KnowledgeQuery struct {
	PageQuery
	MunicipalityID uint64
	AssistantID    uint64
	Status         string
}

// filter identifies the listing a page belongs to, ignoring the cursor.
func (q KnowledgeQuery) filter() string {
	return fmt.Sprintf("%d/%d/%s", q.MunicipalityID, q.AssistantID, q.Status)
}

// Knowledge fetches one page of knowledge items.
func (c *Client) Knowledge(ctx context.Context, q KnowledgeQuery) (pagination.Page[knowledgebase.Item], error) {
	values := q.values()
	if q.MunicipalityID != 0 {
		values.Set("municipality_id", strconv.FormatUint(q.MunicipalityID, 10))
	}
	if q.AssistantID != 0 {
		values.Set("assistant_id", strconv.FormatUint(q.AssistantID, 10))
	}
	if q.Status != "" {
		values.Set("status", q.Status)
	}
	var page pagination.Page[knowledgebase.Item]
	err := c.do(ctx, http.MethodGet, "/api/knowledgebase", values, nil, &page)
	return page, err
}

// LoadMoreKnowledge fetches the page after what acc holds for q and merges
// it. A changed filter restarts the accumulation from the first page.
func (c *Client) LoadMoreKnowledge(ctx context.Context, acc *pagination.Accumulator[knowledgebase.Item], q KnowledgeQuery) ([]knowledgebase.Item, bool, error) {
	q.Cursor = ""
	if acc.Filter() == q.filter() {
		next, more := acc.NextCursor()
		if !more && len(acc.Items()) > 0 {
			return acc.Items(), false, nil
		}
		q.Cursor = next
	}
	page, err := c.Knowledge(ctx, q)
	if err != nil {
		return nil, false, err
	}
	items := acc.Load(q.filter(), q.Cursor, page)
	return items, page.HasMore && page.NextCursor != "", nil
}

// AllKnowledge follows cursors until the listing is exhausted.
func (c *Client) AllKnowledge(ctx context.Context, q KnowledgeQuery) ([]knowledgebase.Item, error) {
	var acc pagination.Accumulator[knowledgebase.Item]
	for {
		items, more, err := c.LoadMoreKnowledge(ctx, &acc, q)
		if err != nil {
			return nil, err
		}
		if !more {
			return items, nil
		}
	}
}

// SendNotification broadcasts a notification. Requires a management role.
func (c *Client) SendNotification(ctx context.Context, in notifications.SendInput) (*notifications.SendResult, error) {
	var result notifications.SendResult
	if err := c.do(ctx, http.MethodPost, "/api/notifications", nil, in, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
